// Package history records the outcome of each contract synchronization so
// the status API can show what happened and when.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/loykin/specsync/internal/contract"
)

// Outcome is how a synchronization ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeGaveUp    Outcome = "gave-up"
)

// Run is one synchronization that reached generation.
type Run struct {
	ID         string            `json:"id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Outcome    Outcome           `json:"outcome"`
	Hash       string            `json:"hash"`
	Attempt    int               `json:"attempt"`
	Changes    []contract.Change `json:"changes,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Sink is a destination for runs. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, r Run) error
}

// Reader lists the most recent runs, newest first.
type Reader interface {
	Recent(ctx context.Context, n int) ([]Run, error)
}

// Store is a Sink that can also be read back and closed.
type Store interface {
	Sink
	Reader
	Close() error
}

// Memory keeps the last Max runs in memory. It is used when no database is
// configured.
type Memory struct {
	mu   sync.Mutex
	max  int
	runs []Run
}

func NewMemory(max int) *Memory {
	if max <= 0 {
		max = 100
	}
	return &Memory{max: max}
}

func (m *Memory) Send(_ context.Context, r Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	if over := len(m.runs) - m.max; over > 0 {
		m.runs = append([]Run(nil), m.runs[over:]...)
	}
	return nil
}

func (m *Memory) Recent(_ context.Context, n int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.runs) {
		n = len(m.runs)
	}
	out := make([]Run, 0, n)
	for i := len(m.runs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
