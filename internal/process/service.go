package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"sync"
	"time"
)

// State is the lifecycle state of a Service.
//
// State Machine:
// Idle -> Starting -> Running -> {Stopped | Crashed}
// Starting -> Crashed (no readiness before the timeout, or early exit)
// Stopped and Crashed are terminal; a new start needs a new Service.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopped
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time copy of a Service's runtime record.
type Status struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	PID        int       `json:"pid"`
	Port       int       `json:"port,omitempty"`
	ReadyBy    string    `json:"ready_by,omitempty"` // port, pattern or spawn
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at"`
	ExitCode   int       `json:"exit_code"`
	LastError  string    `json:"last_error,omitempty"`
	StderrTail []string  `json:"stderr_tail,omitempty"`
}

// PortProbe reports whether a TCP port is bound.
type PortProbe interface {
	IsBound(port int) bool
}

// Service is the runtime record of one started Descriptor.
type Service struct {
	desc Descriptor
	env  []string

	// PollInterval is how often the port is probed during startup.
	PollInterval time.Duration

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	startedAt time.Time
	stoppedAt time.Time
	readyBy   string
	exited    bool
	exitCode  int
	exitErr   error
	lastErr   error
	stopping  bool
	waitDone  chan struct{}
	onCrash   func(*RuntimeError)
	tail      *tailBuffer
}

// NewService creates an idle Service. env is the fully merged environment of
// the child; nil inherits the current process environment.
func NewService(d Descriptor, env []string) *Service {
	return &Service{
		desc:         d,
		env:          env,
		PollInterval: DefaultPollInterval,
		state:        StateIdle,
		exitCode:     -1,
		tail:         newTailBuffer(tailLines),
	}
}

func (s *Service) Descriptor() Descriptor { return s.desc }

// Start spawns the service and blocks until readiness is observed, the
// process exits, the start timeout elapses or ctx is done. A nil error means
// the service is Running. onCrash is called (from another goroutine) if the
// service later exits non-zero without a stop request.
//
// On timeout the process is left alive; the caller decides whether to Stop it.
func (s *Service) Start(ctx context.Context, probe PortProbe, onCrash func(*RuntimeError)) error {
	d := s.desc
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", d.Name, ErrAlreadyActive)
	}
	s.state = StateStarting
	s.onCrash = onCrash
	s.mu.Unlock()

	var pattern *regexp.Regexp
	if d.Port == 0 && d.ReadyPattern != "" {
		pattern, _ = compilePattern(d.ReadyPattern)
	}

	// The service outlives the start request, so ctx is not bound to the command.
	cmd := BuildCommand(context.Background(), d.Command)
	if d.WorkDir != "" {
		cmd.Dir = d.WorkDir
	}
	if len(s.env) > 0 {
		cmd.Env = s.env
	}
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.failStart(-1, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.failStart(-1, err)
	}
	outW, errW, err := d.Log.Writers(d.Name)
	if err != nil {
		return s.failStart(-1, err)
	}

	if err := cmd.Start(); err != nil {
		closeAll(outW, errW)
		return s.failStart(-1, err)
	}

	ready := make(chan string, 1)
	var readyOnce sync.Once
	markReady := func(by string) {
		readyOnce.Do(func() { ready <- by })
	}

	s.mu.Lock()
	s.cmd = cmd
	s.startedAt = time.Now()
	s.waitDone = make(chan struct{})
	waitDone := s.waitDone
	s.mu.Unlock()

	var readers sync.WaitGroup
	readers.Add(2)
	go s.scan(&readers, stdout, outW, false, pattern, markReady)
	go s.scan(&readers, stderr, errW, true, pattern, markReady)
	go func() {
		// all pipe reads must finish before Wait
		readers.Wait()
		err := cmd.Wait()
		closeAll(outW, errW)
		s.markExited(err)
		close(waitDone)
	}()

	timer := time.NewTimer(d.startTimeout())
	defer timer.Stop()

	var tick <-chan time.Time
	switch {
	case d.Port > 0:
		interval := s.PollInterval
		if interval <= 0 {
			interval = DefaultPollInterval
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	case pattern == nil:
		markReady("spawn")
	}

	for {
		select {
		case by := <-ready:
			return s.becomeRunning(by)
		case <-tick:
			if probe != nil && probe.IsBound(d.Port) {
				return s.becomeRunning("port")
			}
		case <-waitDone:
			return s.exitedBeforeReady()
		case <-timer.C:
			return s.failStart(-1, ErrReadyTimeout)
		case <-ctx.Done():
			return s.failStart(-1, ctx.Err())
		}
	}
}

func (s *Service) scan(wg *sync.WaitGroup, r io.Reader, mirror io.Writer, isErr bool, pattern *regexp.Regexp, markReady func(string)) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if mirror != nil {
			_, _ = io.WriteString(mirror, line+"\n")
		}
		if isErr {
			s.tail.add(line)
		}
		if pattern != nil && pattern.MatchString(line) {
			markReady("pattern")
		}
	}
	// keep draining so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}

func (s *Service) becomeRunning(by string) error {
	s.mu.Lock()
	if s.exited {
		s.mu.Unlock()
		return s.exitedBeforeReady()
	}
	s.state = StateRunning
	s.readyBy = by
	s.mu.Unlock()
	return nil
}

func (s *Service) exitedBeforeReady() error {
	s.mu.Lock()
	code := s.exitCode
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		return s.failStart(code, errors.New("stopped during startup"))
	}
	return s.failStart(code, ErrExitedEarly)
}

func (s *Service) failStart(code int, err error) error {
	s.mu.Lock()
	if s.state == StateStarting {
		s.state = StateCrashed
	}
	s.lastErr = err
	s.mu.Unlock()
	return &StartFailure{Service: s.desc.Name, ExitCode: code, StderrTail: s.tail.snapshot(), Err: err}
}

// markExited records the exit and resolves the state transition that the
// exit implies. Exits while Starting are reported by Start itself.
func (s *Service) markExited(err error) {
	s.mu.Lock()
	s.exited = true
	s.exitErr = err
	s.exitCode = exitCode(err)
	s.stoppedAt = time.Now()

	var crash *RuntimeError
	switch {
	case s.state == StateCrashed:
	case s.stopping:
		s.state = StateStopped
	case s.state == StateRunning && s.exitCode != 0:
		s.state = StateCrashed
		s.lastErr = err
		crash = &RuntimeError{Service: s.desc.Name, ExitCode: s.exitCode, StderrTail: s.tail.snapshot(), Err: err}
	case s.state == StateRunning:
		s.state = StateStopped
	}
	onCrash := s.onCrash
	s.mu.Unlock()

	if crash != nil && onCrash != nil {
		onCrash(crash)
	}
}

// Stop terminates the process group: SIGTERM, then SIGKILL after the
// descriptor's stop timeout. Stopping a service whose process already
// exited (or never started) is a no-op.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.cmd == nil || s.cmd.Process == nil || s.exited {
		if s.state == StateIdle {
			s.state = StateStopped
		}
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	pid := s.cmd.Process.Pid
	wd := s.waitDone
	s.mu.Unlock()

	_ = terminateGroup(pid)
	select {
	case <-wd:
		return nil
	case <-time.After(s.desc.stopTimeout()):
	}
	_ = killGroup(pid)
	select {
	case <-wd:
	case <-time.After(2 * time.Second):
		return fmt.Errorf("service %s: process %d did not exit after SIGKILL", s.desc.Name, pid)
	}
	return nil
}

// Done is closed once the process has exited. It is nil before spawn.
func (s *Service) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitDone
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a copy of the runtime record.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Name:       s.desc.Name,
		State:      s.state.String(),
		Port:       s.desc.Port,
		ReadyBy:    s.readyBy,
		StartedAt:  s.startedAt,
		StoppedAt:  s.stoppedAt,
		ExitCode:   s.exitCode,
		StderrTail: s.tail.snapshot(),
	}
	if s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func closeAll(cs ...io.Closer) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}
