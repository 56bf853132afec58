package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/loykin/specsync/internal/process"
)

// Step is one external command of the generation sequence.
type Step struct {
	Name    string
	Command string
	Dir     string
	// Env is the complete child environment; nil inherits ours.
	Env []string
}

// Runner executes a Step to completion.
type Runner interface {
	Run(ctx context.Context, s Step) error
}

// ShellRunner runs steps through the same command builder the services use.
type ShellRunner struct {
	Logger *slog.Logger
}

const outputTailBytes = 4096

func (r ShellRunner) Run(ctx context.Context, s Step) error {
	cmd := process.BuildCommand(ctx, s.Command)
	cmd.Dir = s.Dir
	if s.Env != nil {
		cmd.Env = s.Env
	}
	out, err := cmd.CombinedOutput()
	if r.Logger != nil {
		r.Logger.Debug("step finished", "step", s.Name, "command", s.Command, "dir", s.Dir, "output", tailOf(out))
	}
	if err != nil {
		return &GenerationError{Step: s.Name, Output: tailOf(out), Err: err}
	}
	return nil
}

func tailOf(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > outputTailBytes {
		s = s[len(s)-outputTailBytes:]
	}
	return s
}
