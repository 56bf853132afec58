// Package session wires the supervisor and the sync pipeline together for
// one configuration: it brings the backend (and frontend) up, keeps the
// generated client in step with the backend's contract and tears everything
// down again when asked. It installs no signal handlers; the host decides
// when to call Stop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/loykin/specsync/internal/config"
	"github.com/loykin/specsync/internal/env"
	"github.com/loykin/specsync/internal/events"
	"github.com/loykin/specsync/internal/history"
	"github.com/loykin/specsync/internal/history/sqlite"
	"github.com/loykin/specsync/internal/pipeline"
	"github.com/loykin/specsync/internal/process"
	"github.com/loykin/specsync/internal/server"
	"github.com/loykin/specsync/internal/supervisor"
)

type Option func(*Coordinator)

func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.log = l } }
func WithBus(b *events.Bus) Option     { return func(c *Coordinator) { c.bus = b } }

// WithRunner replaces the shell runner of the generation steps.
func WithRunner(r pipeline.Runner) Option { return func(c *Coordinator) { c.runner = r } }

// WithPorts replaces the port inspector of the supervisor.
func WithPorts(p supervisor.PortResolver) Option { return func(c *Coordinator) { c.ports = p } }

// WithEnv replaces the OS environment base, mostly for tests.
func WithEnv(e *env.Env) Option { return func(c *Coordinator) { c.env = e } }

// Coordinator is one running development session.
type Coordinator struct {
	cfg    *config.Config
	log    *slog.Logger
	bus    *events.Bus
	env    *env.Env
	runner pipeline.Runner
	ports  supervisor.PortResolver

	sup  *supervisor.Supervisor
	pipe *pipeline.Pipeline
	hist history.Store

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopErr  error
	runCtx   context.Context
	unsub    func()
	srv      *http.Server
	srvAddr  string
	watchers sync.WaitGroup
}

// New builds the session from cfg. Nothing is started yet.
func New(cfg *config.Config, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{cfg: cfg}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.bus == nil {
		c.bus = events.NewBus()
	}
	if c.env == nil {
		c.env = env.New()
		c.env.FromOS()
	}
	vars, err := cfg.SessionEnv()
	if err != nil {
		return nil, fmt.Errorf("load session env: %w", err)
	}
	for k, v := range vars {
		c.env.Set(k, v)
	}

	supOpts := []supervisor.Option{
		supervisor.WithLogger(c.log),
		supervisor.WithBus(c.bus),
		supervisor.WithEnv(c.env),
	}
	if c.ports != nil {
		supOpts = append(supOpts, supervisor.WithPorts(c.ports))
	}
	c.sup = supervisor.New(supOpts...)

	if cfg.History.DSN != "" {
		st, err := sqlite.New(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		c.hist = st
	} else {
		c.hist = history.NewMemory(cfg.History.Max)
	}

	src, mode, wopts, err := ResolveSource(cfg)
	if err != nil {
		_ = c.hist.Close()
		return nil, err
	}
	wopts.Logger = c.log
	generate, build, link := buildSteps(cfg, c.env)
	var touch []string
	if fe := cfg.Services.Frontend; fe != nil {
		touch = fe.Touch
	}
	c.pipe, err = pipeline.New(pipeline.Options{
		Source:            src,
		Strategy:          cfg.Strategy(),
		Mode:              mode,
		Debounce:          time.Duration(cfg.Sync.DebounceMs) * time.Millisecond,
		PollInterval:      time.Duration(cfg.Sync.PollingInterval) * time.Millisecond,
		MaxRetries:        retries(cfg.Sync.RetryAttempts),
		RetryDelay:        time.Duration(cfg.Sync.RetryDelay) * time.Millisecond,
		InitialGeneration: cfg.Sync.RunInitialGeneration,
		Watch:             wopts,
		Generate:          generate,
		Build:             build,
		Link:              link,
		TouchPaths:        touch,
		Runner:            c.runner,
		Bus:               c.bus,
		History:           c.hist,
		Logger:            c.log,
	})
	if err != nil {
		_ = c.hist.Close()
		return nil, err
	}
	return c, nil
}

// retries maps sync.retryAttempts onto pipeline.Options. A configured 0
// disables retrying; pipeline.Options reads 0 as "use the default".
func retries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

// Bus is the session's event bus.
func (c *Coordinator) Bus() *events.Bus { return c.bus }

// History is the session's run store.
func (c *Coordinator) History() history.Reader { return c.hist }

// Start brings up the backend, then the frontend, then the pipeline. Any
// failure stops what was already started and is returned.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("session already started")
	}
	c.started = true
	c.runCtx = context.WithoutCancel(ctx)
	c.mu.Unlock()

	// subscribe before the first start so no crash is missed
	ch, unsub := c.bus.Subscribe(64)
	c.mu.Lock()
	c.unsub = unsub
	c.mu.Unlock()
	c.watchers.Add(1)
	go c.followServices(ch)

	if err := c.sup.StartAll(ctx, c.cfg.Descriptors()); err != nil {
		_ = c.Stop(ctx)
		return err
	}
	if err := c.pipe.Start(c.runCtx); err != nil {
		_ = c.Stop(ctx)
		return fmt.Errorf("start sync pipeline: %w", err)
	}
	if err := c.serveStatus(); err != nil {
		_ = c.Stop(ctx)
		return fmt.Errorf("start status server: %w", err)
	}
	c.log.Info("session started", "services", len(c.cfg.Descriptors()))
	return nil
}

// followServices pauses the pipeline while the backend is down.
func (c *Coordinator) followServices(ch <-chan events.Event) {
	defer c.watchers.Done()
	for e := range ch {
		if e.Service != "backend" {
			continue
		}
		switch e.Type {
		case events.ServiceError:
			if e.Kind == events.ErrorCrashed {
				c.log.Warn("backend crashed, pausing sync", "err", e.Err)
				c.pipe.Pause()
			}
		case events.ServiceStarted:
			c.pipe.Resume(c.context())
		}
	}
}

func (c *Coordinator) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCtx == nil {
		return context.Background()
	}
	return c.runCtx
}

func (c *Coordinator) serveStatus() error {
	addr := c.cfg.Status.Listen
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := server.NewServer(addr, "", c, c.hist)
	c.mu.Lock()
	c.srv = srv
	c.srvAddr = ln.Addr().String()
	c.mu.Unlock()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error("status server stopped", "err", err)
		}
	}()
	c.log.Info("status server listening", "addr", c.srvAddr)
	return nil
}

// StatusAddr is the address the status server listens on, or "".
func (c *Coordinator) StatusAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.srvAddr
}

// Stop stops the pipeline first, then every service, then closes the
// history store and the status server. It is safe to call more than once.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { c.stopErr = c.teardown(ctx) })
	return c.stopErr
}

func (c *Coordinator) teardown(ctx context.Context) error {
	c.pipe.Stop()
	var errs []error
	if err := c.sup.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	unsub, srv := c.unsub, c.srv
	c.unsub, c.srv = nil, nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	c.watchers.Wait()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.hist.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Restart stops the named service and starts it again from its descriptor.
// Restarting the backend resumes a pipeline paused by a crash.
func (c *Coordinator) Restart(ctx context.Context, name string) error {
	var desc *process.Descriptor
	for _, d := range c.cfg.Descriptors() {
		if d.Name == name {
			desc = &d
			break
		}
	}
	if desc == nil {
		return fmt.Errorf("%w: %s", supervisor.ErrUnknownService, name)
	}
	if err := c.sup.Stop(name); err != nil && !errors.Is(err, supervisor.ErrUnknownService) {
		return err
	}
	_, err := c.sup.Start(ctx, *desc)
	return err
}

// TriggerSync runs one synchronization now.
func (c *Coordinator) TriggerSync(ctx context.Context) pipeline.Result {
	return c.pipe.PerformSync(ctx)
}

func (c *Coordinator) Statuses() []process.Status { return c.sup.Statuses() }

func (c *Coordinator) Status(name string) (process.Status, error) { return c.sup.Status(name) }

func (c *Coordinator) SyncState() pipeline.State { return c.pipe.State() }
