// Package supervisor brings up a named set of services in order and tears
// them down again within a bounded time.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/specsync/internal/env"
	"github.com/loykin/specsync/internal/events"
	"github.com/loykin/specsync/internal/metrics"
	"github.com/loykin/specsync/internal/port"
	"github.com/loykin/specsync/internal/process"
)

var ErrUnknownService = errors.New("unknown service")

// PortResolver probes ports for readiness and frees them before a start.
type PortResolver interface {
	IsBound(port int) bool
	Free(ctx context.Context, port int) ([]int, error)
}

type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option { return func(s *Supervisor) { s.log = l } }
func WithBus(b *events.Bus) Option     { return func(s *Supervisor) { s.bus = b } }
func WithPorts(p PortResolver) Option  { return func(s *Supervisor) { s.ports = p } }
func WithEnv(e *env.Env) Option        { return func(s *Supervisor) { s.env = e } }
func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) { s.pollInterval = d }
}

// Supervisor owns the runtime record of every service it started. It never
// restarts a crashed service; crashes are published as events.
type Supervisor struct {
	mu       sync.Mutex
	services map[string]*process.Service
	order    []string

	ports        PortResolver
	env          *env.Env
	bus          *events.Bus
	log          *slog.Logger
	pollInterval time.Duration
}

func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		services:     make(map[string]*process.Service),
		pollInterval: process.DefaultPollInterval,
	}
	for _, o := range opts {
		o(s)
	}
	if s.ports == nil {
		s.ports = port.NewInspector()
	}
	if s.env == nil {
		s.env = env.New()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Start frees the descriptor's port if needed, launches the service and waits
// for readiness. On failure the process is stopped and the error returned.
func (s *Supervisor) Start(ctx context.Context, d process.Descriptor) (process.Status, error) {
	if err := d.Validate(); err != nil {
		return process.Status{}, err
	}
	log := s.log.With(slog.String("service", d.Name))

	s.mu.Lock()
	if cur, ok := s.services[d.Name]; ok {
		if st := cur.State(); st == process.StateStarting || st == process.StateRunning {
			s.mu.Unlock()
			return cur.Status(), fmt.Errorf("%s: %w", d.Name, process.ErrAlreadyActive)
		}
	}
	s.mu.Unlock()

	if d.Port > 0 {
		if err := s.resolvePort(ctx, log, d); err != nil {
			metrics.IncStart(d.Name, false)
			s.publishError(d.Name, events.ErrorStartFailed, err)
			return process.Status{Name: d.Name, State: process.StateCrashed.String(), Port: d.Port, LastError: err.Error()}, err
		}
	}

	svc := process.NewService(d, s.env.Merge(d.Env))
	svc.PollInterval = s.pollInterval

	s.mu.Lock()
	if _, ok := s.services[d.Name]; !ok {
		s.order = append(s.order, d.Name)
	}
	s.services[d.Name] = svc
	s.mu.Unlock()

	log.Info("starting service", slog.String("command", d.Command), slog.Int("port", d.Port))
	t0 := time.Now()
	if err := svc.Start(ctx, s.ports, s.onCrash); err != nil {
		// a readiness timeout leaves the process alive
		_ = svc.Stop()
		metrics.IncStart(d.Name, false)
		log.Error("service failed to start", slog.Any("error", err))
		s.publishError(d.Name, events.ErrorStartFailed, err)
		return svc.Status(), err
	}

	metrics.IncStart(d.Name, true)
	metrics.ObserveReady(d.Name, time.Since(t0).Seconds())
	st := svc.Status()
	log.Info("service ready", slog.Int("pid", st.PID), slog.String("ready_by", st.ReadyBy), slog.Duration("took", time.Since(t0)))
	s.bus.Publish(events.Event{Type: events.ServiceStarted, Service: d.Name, Port: d.Port})
	return st, nil
}

func (s *Supervisor) resolvePort(ctx context.Context, log *slog.Logger, d process.Descriptor) error {
	if !s.ports.IsBound(d.Port) {
		return nil
	}
	log.Warn("port already in use, freeing it", slog.Int("port", d.Port))
	killed, err := s.ports.Free(ctx, d.Port)
	metrics.IncPortConflict(err == nil)
	if err != nil {
		return err
	}
	log.Info("port freed", slog.Int("port", d.Port), slog.Any("killed", killed))
	return nil
}

// StartAll starts ds sequentially; later services may depend on earlier ones.
// The first failure stops everything started so far and is returned.
func (s *Supervisor) StartAll(ctx context.Context, ds []process.Descriptor) error {
	for _, d := range ds {
		if _, err := s.Start(ctx, d); err != nil {
			if stopErr := s.StopAll(context.Background()); stopErr != nil {
				s.log.Warn("teardown after failed start", slog.Any("error", stopErr))
			}
			return err
		}
	}
	return nil
}

func (s *Supervisor) onCrash(e *process.RuntimeError) {
	metrics.IncCrash(e.Service)
	s.log.Error("service crashed",
		slog.String("service", e.Service),
		slog.Int("exit_code", e.ExitCode),
		slog.Any("stderr_tail", e.StderrTail))
	s.publishError(e.Service, events.ErrorCrashed, e)
}

func (s *Supervisor) publishError(name string, kind events.ErrorKind, err error) {
	s.bus.Publish(events.Event{Type: events.ServiceError, Service: name, Kind: kind, Err: err})
}

// Stop stops one service. Stopping a service that is not running is a no-op.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	svc, ok := s.services[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownService)
	}
	return s.stop(svc)
}

func (s *Supervisor) stop(svc *process.Service) error {
	st := svc.State()
	if st != process.StateStarting && st != process.StateRunning {
		return svc.Stop()
	}
	metrics.IncStop(svc.Descriptor().Name)
	s.log.Info("stopping service", slog.String("service", svc.Descriptor().Name))
	return svc.Stop()
}

// StopAll stops every tracked service concurrently and waits for all of them,
// or for ctx to end.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	svcs := make([]*process.Service, 0, len(s.services))
	for _, name := range s.order {
		svcs = append(svcs, s.services[name])
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, svc := range svcs {
		g.Go(func() error { return s.stop(svc) })
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the runtime record of one service.
func (s *Supervisor) Status(name string) (process.Status, error) {
	s.mu.Lock()
	svc, ok := s.services[name]
	s.mu.Unlock()
	if !ok {
		return process.Status{}, fmt.Errorf("%s: %w", name, ErrUnknownService)
	}
	return svc.Status(), nil
}

// Statuses returns every tracked service in start order.
func (s *Supervisor) Statuses() []process.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]process.Status, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.services[name].Status())
	}
	return out
}
