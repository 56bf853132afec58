package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/loykin/specsync/internal/logger"
)

const (
	DefaultStartTimeout = 30 * time.Second
	DefaultStopTimeout  = 5 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// Descriptor is the immutable configuration of one managed service.
type Descriptor struct {
	Name         string            `json:"name"`
	Command      string            `json:"command"`       // command to start the service (shell)
	WorkDir      string            `json:"work_dir"`      // optional working dir
	Env          map[string]string `json:"env"`           // overlay on top of the session env
	Port         int               `json:"port"`          // optional fixed port; enables port-based readiness
	ReadyPattern string            `json:"ready_pattern"` // case-insensitive regexp matched against output lines
	StartTimeout time.Duration     `json:"start_timeout"` // default 30s
	StopTimeout  time.Duration     `json:"stop_timeout"`  // grace before SIGKILL, default 5s
	Log          logger.FileConfig `json:"log"`
}

// Validate checks the descriptor for obvious mistakes.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("service name is required")
	}
	if strings.TrimSpace(d.Command) == "" {
		return fmt.Errorf("service %s: start command is required", d.Name)
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("service %s: port %d out of range", d.Name, d.Port)
	}
	if d.ReadyPattern != "" {
		if _, err := compilePattern(d.ReadyPattern); err != nil {
			return fmt.Errorf("service %s: invalid ready pattern: %w", d.Name, err)
		}
	}
	return nil
}

func (d Descriptor) startTimeout() time.Duration {
	if d.StartTimeout > 0 {
		return d.StartTimeout
	}
	return DefaultStartTimeout
}

func (d Descriptor) stopTimeout() time.Duration {
	if d.StopTimeout > 0 {
		return d.StopTimeout
	}
	return DefaultStopTimeout
}

func compilePattern(p string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + p)
}

// BuildCommand constructs an *exec.Cmd for cmdStr.
// It avoids invoking a shell when not necessary, and it also respects
// an explicit shell invocation already present in the command string
// (e.g., "sh -c 'echo hi'"), avoiding double-wrapping with another shell.
func BuildCommand(ctx context.Context, cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return trueCommand(ctx)
	}
	if afterC, ok := parseExplicitShell(cmdStr); ok {
		return shellCommand(ctx, afterC)
	}
	// Fallback: when metacharacters are present, use the shell
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellCommand(ctx, cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204 -- commands come from the operator's own config file
	return exec.CommandContext(ctx, parts[0], parts[1:]...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr and returns the script after "-c ".
// One pair of wrapping quotes is stripped so the shell parses the script itself.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}
