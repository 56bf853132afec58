package process

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrReadyTimeout  = errors.New("readiness not observed before timeout")
	ErrExitedEarly   = errors.New("process exited before becoming ready")
	ErrAlreadyActive = errors.New("service already started")
)

// StartFailure is returned by Start when a service never became ready.
type StartFailure struct {
	Service    string
	ExitCode   int // -1 when the process did not exit or was signaled
	StderrTail []string
	Err        error
}

func (e *StartFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "service %s failed to start: %v", e.Service, e.Err)
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " (exit code %d)", e.ExitCode)
	}
	if len(e.StderrTail) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(e.StderrTail, "\n"))
	}
	return b.String()
}

func (e *StartFailure) Unwrap() error { return e.Err }

// RuntimeError describes a service that exited with a non-zero code after it
// had become ready and without a stop request.
type RuntimeError struct {
	Service    string
	ExitCode   int
	StderrTail []string
	Err        error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("service %s crashed with exit code %d: %v", e.Service, e.ExitCode, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }
