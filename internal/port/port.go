// Package port answers "is this TCP port taken, and by whom" and can free a
// port held by a stale process from an earlier run.
package port

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"
)

const (
	defaultHost   = "127.0.0.1"
	defaultSettle = 500 * time.Millisecond
	dialTimeout   = 250 * time.Millisecond
)

// ConflictError reports a port that is still bound after resolution.
type ConflictError struct {
	Port int
	PIDs []int
	Err  error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("port %d is in use", e.Port)
	if len(e.PIDs) > 0 {
		msg += fmt.Sprintf(" by pid(s) %v", e.PIDs)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg + " and could not be freed"
}

func (e *ConflictError) Unwrap() error { return e.Err }

// OwnerLookup finds the processes listening on a TCP port.
type OwnerLookup interface {
	Owners(ctx context.Context, port int) ([]int, error)
	Describe() string
}

// Inspector probes and frees local TCP ports.
type Inspector struct {
	Host   string
	Lookup OwnerLookup
	// Kill terminates a process; defaults to SIGKILL.
	Kill func(pid int) error
	// Settle is how long Free waits after killing before re-checking.
	Settle time.Duration
}

// NewInspector returns an Inspector using the default owner lookup.
func NewInspector() *Inspector {
	return &Inspector{Host: defaultHost, Lookup: DefaultLookup(), Kill: killPID, Settle: defaultSettle}
}

// IsBound reports whether something is listening on port.
func (in *Inspector) IsBound(port int) bool {
	host := in.Host
	if host == "" {
		host = defaultHost
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if c, err := net.DialTimeout("tcp", addr, dialTimeout); err == nil {
		_ = c.Close()
		return true
	}
	l, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return errors.Is(err, syscall.EADDRINUSE)
	}
	_ = l.Close()
	return false
}

// Owners returns the pids listening on port.
func (in *Inspector) Owners(ctx context.Context, port int) ([]int, error) {
	if in.Lookup == nil {
		return nil, errors.New("no port owner lookup configured")
	}
	return in.Lookup.Owners(ctx, port)
}

// Free makes sure port is not bound. Owners other than the current process
// are killed, then the port is re-verified after Settle. A port that is still
// bound yields a *ConflictError.
func (in *Inspector) Free(ctx context.Context, port int) ([]int, error) {
	if !in.IsBound(port) {
		return nil, nil
	}
	pids, err := in.Owners(ctx, port)
	if err != nil {
		return nil, &ConflictError{Port: port, Err: fmt.Errorf("lookup owners via %s: %w", in.Lookup.Describe(), err)}
	}
	self := os.Getpid()
	kill := in.Kill
	if kill == nil {
		kill = killPID
	}
	var killed []int
	var killErr error
	for _, pid := range pids {
		if pid <= 0 || pid == self {
			continue
		}
		if err := kill(pid); err != nil {
			killErr = errors.Join(killErr, fmt.Errorf("kill %d: %w", pid, err))
			continue
		}
		killed = append(killed, pid)
	}

	settle := in.Settle
	if settle <= 0 {
		settle = defaultSettle
	}
	select {
	case <-ctx.Done():
		return killed, &ConflictError{Port: port, PIDs: pids, Err: ctx.Err()}
	case <-time.After(settle):
	}
	if in.IsBound(port) {
		return killed, &ConflictError{Port: port, PIDs: pids, Err: killErr}
	}
	return killed, nil
}
