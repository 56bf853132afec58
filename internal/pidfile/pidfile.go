// Package pidfile guards a project against two sessions at once. The file
// holds the owner's PID on the first line and a JSON meta line with its start
// time, so a PID reused by an unrelated process is not mistaken for a live
// owner.
package pidfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// HeldError reports a pid file owned by a live process.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("another session (pid %d) holds %s", e.PID, e.Path)
}

type meta struct {
	StartUnix int64 `json:"start_unix"`
}

// Lock is an acquired pid file.
type Lock struct {
	path string
	pid  int
}

// Acquire writes the current process into path. A stale file, whose owner
// is gone or whose PID was reused, is replaced.
func Acquire(path string) (*Lock, error) {
	pid, alive, err := Holder(path)
	if err != nil {
		return nil, err
	}
	if alive && pid != os.Getpid() {
		return nil, &HeldError{Path: path, PID: pid}
	}
	self := os.Getpid()
	mb, err := json.Marshal(meta{StartUnix: procStartUnix(self)})
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	content := strconv.Itoa(self) + "\n" + string(mb) + "\n"
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	return &Lock{path: path, pid: self}, nil
}

// Release removes the file if it still names this process.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	pid, _, err := read(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if pid != l.pid {
		return nil
	}
	return os.Remove(l.path)
}

// Holder reads path and reports its PID and whether that process is alive.
// A missing file yields (0, false, nil).
func Holder(path string) (int, bool, error) {
	pid, m, err := read(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if m.StartUnix > 0 {
		if cur := procStartUnix(pid); cur > 0 && cur != m.StartUnix {
			return pid, false, nil // reused
		}
	}
	return pid, pidAlive(pid), nil
}

func read(path string) (int, meta, error) {
	var m meta
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, m, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, m, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if len(lines) >= 2 {
		_ = json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &m)
	}
	return pid, m, nil
}
