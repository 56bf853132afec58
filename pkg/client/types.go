package client

import "time"

// ServiceStatus is the state of one managed service.
type ServiceStatus struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	PID        int       `json:"pid"`
	Port       int       `json:"port,omitempty"`
	ReadyBy    string    `json:"ready_by,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at"`
	ExitCode   int       `json:"exit_code"`
	LastError  string    `json:"last_error,omitempty"`
	StderrTail []string  `json:"stderr_tail,omitempty"`
}

// SyncState is a snapshot of the sync pipeline.
type SyncState struct {
	InFlight       bool      `json:"in_flight"`
	Paused         bool      `json:"paused"`
	Pending        bool      `json:"pending"`
	Retries        int       `json:"retries"`
	RetryScheduled bool      `json:"retry_scheduled"`
	LastSync       time.Time `json:"last_sync"`
	LastHash       string    `json:"last_hash,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// StatusReport is the body of GET /status without a name.
type StatusReport struct {
	Services []ServiceStatus `json:"services"`
	Sync     SyncState       `json:"sync"`
}

// Change is one classified contract difference.
type Change struct {
	Type        string `json:"type"`
	Path        string `json:"path"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// Run is one recorded sync run.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    string    `json:"outcome"`
	Hash       string    `json:"hash,omitempty"`
	Attempt    int       `json:"attempt"`
	Changes    []Change  `json:"changes,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Sync results a caller may want to branch on.
const (
	SyncBusy      = "busy"
	SyncPaused    = "paused"
	SyncCompleted = "completed"
	SyncFailed    = "failed"
	SyncGaveUp    = "gave-up"
)

// ErrorResponse is the body of a non-200 reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
