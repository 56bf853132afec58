package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/loykin/specsync"
	"github.com/loykin/specsync/internal/env"
	"github.com/loykin/specsync/internal/events"
	"github.com/loykin/specsync/internal/logger"
	"github.com/loykin/specsync/internal/pidfile"
	"github.com/loykin/specsync/internal/pipeline"
	"github.com/loykin/specsync/internal/session"
	"github.com/loykin/specsync/pkg/client"
	"github.com/loykin/specsync/pkg/template"
)

const defaultPIDFile = ".specsync.pid"

type command struct {
	out io.Writer
}

// Init writes a starter configuration.
func (c command) Init(f InitFlags) error {
	data, err := template.NewGenerator().GenerateJSON(template.Options{
		Backend:     template.BackendType(f.Backend),
		Frontend:    template.FrontendType(f.Frontend),
		PackageName: f.PackageName,
	})
	if err != nil {
		return err
	}
	if !f.Force {
		if _, err := os.Stat(f.ConfigPath); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", f.ConfigPath)
		}
	}
	if dir := filepath.Dir(f.ConfigPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	if err := os.WriteFile(f.ConfigPath, data, 0o600); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "wrote %s\n", f.ConfigPath)
	return nil
}

// Start runs a session until ctx is cancelled or a termination signal arrives.
func (c command) Start(ctx context.Context, f StartFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := specsync.LoadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	if f.StatusListen != "" {
		cfg.Status.Listen = f.StatusListen
	}
	if f.Strategy != "" {
		cfg.Sync.Strategy = f.Strategy
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	pidPath := f.PIDFile
	if pidPath == "" {
		pidPath = filepath.Join(cfg.Dir, defaultPIDFile)
	}
	lock, err := pidfile.Acquire(pidPath)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	lg := logger.New(os.Stderr, cfg.LoggerConfig())
	if err := specsync.RegisterMetricsDefault(); err != nil {
		lg.Warn("metrics registration failed", "err", err)
	}

	sess, err := specsync.NewSession(cfg, specsync.WithLogger(lg))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, unsub := sess.Subscribe(64)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for e := range ch {
			_, _ = fmt.Fprintln(c.out, formatEvent(e))
		}
	}()
	finish := func() {
		unsub()
		<-printed
	}

	if err := sess.Start(ctx); err != nil {
		finish()
		return err
	}
	if addr := sess.StatusAddr(); addr != "" {
		lg.Info("status api", "url", "http://"+addr)
	}

	<-ctx.Done()
	lg.Info("shutting down")
	stopTimeout := f.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err = sess.Stop(stopCtx)
	finish()
	return err
}

// Validate loads the configuration and prints a short summary.
func (c command) Validate(path string) error {
	cfg, err := specsync.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	be := cfg.Services.Backend
	_, _ = fmt.Fprintf(c.out, "config OK: %s\n", path)
	_, _ = fmt.Fprintf(c.out, "  backend:  %s (port %d)\n", be.Path, be.Port)
	_, _ = fmt.Fprintf(c.out, "  contract: %s\n", be.APISpec.Path)
	_, _ = fmt.Fprintf(c.out, "  client:   %s\n", cfg.Services.Client.Path)
	if fe := cfg.Services.Frontend; fe != nil {
		_, _ = fmt.Fprintf(c.out, "  frontend: %s (port %d)\n", fe.Path, fe.Port)
	}
	_, _ = fmt.Fprintf(c.out, "  strategy: %s\n", cfg.Strategy())
	return nil
}

type diffReport struct {
	Changes    []specsync.Change `json:"changes"`
	Strategy   string            `json:"strategy"`
	Regenerate bool              `json:"regenerate"`
}

// Diff classifies the changes between two contract files.
func (c command) Diff(f DiffFlags) error {
	prev, err := os.ReadFile(f.Old)
	if err != nil {
		return err
	}
	next, err := os.ReadFile(f.New)
	if err != nil {
		return err
	}
	changes, regen, err := specsync.Compare(prev, next, f.Strategy)
	if err != nil {
		return err
	}
	if f.JSON {
		if changes == nil {
			changes = []specsync.Change{}
		}
		printJSON(c.out, diffReport{Changes: changes, Strategy: f.Strategy, Regenerate: regen})
		return nil
	}
	if len(changes) == 0 {
		_, _ = fmt.Fprintln(c.out, "no changes")
	}
	for _, ch := range changes {
		_, _ = fmt.Fprintln(c.out, ch.String())
	}
	verdict := "no"
	if regen {
		verdict = "yes"
	}
	_, _ = fmt.Fprintf(c.out, "regenerate (%s): %s\n", f.Strategy, verdict)
	return nil
}

// Unlink removes the client package link from the frontend.
func (c command) Unlink(ctx context.Context, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := specsync.LoadConfig(path)
	if err != nil {
		return err
	}
	e := env.New()
	e.FromOS()
	vars, err := cfg.SessionEnv()
	if err != nil {
		return err
	}
	for k, v := range vars {
		e.Set(k, v)
	}
	steps := session.UnlinkSteps(cfg, e)
	if len(steps) == 0 {
		return errors.New("nothing to unlink: a frontend and services.client.packageName are required")
	}
	r := pipeline.ShellRunner{Logger: logger.New(os.Stderr, cfg.LoggerConfig())}
	for _, s := range steps {
		if err := r.Run(ctx, s); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(c.out, "%s: %s\n", s.Name, s.Command)
	}
	return nil
}

func apiClient(f APIFlags) *client.Client {
	return client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
}

// Status prints the services and pipeline state of a running session.
func (c command) Status(ctx context.Context, f APIFlags, name string) error {
	api := apiClient(f)
	if name != "" {
		st, err := api.ServiceStatus(ctx, name)
		if err != nil {
			return err
		}
		printJSON(c.out, st)
		return nil
	}
	rep, err := api.Status(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SERVICE\tSTATE\tPID\tPORT\tSTARTED")
	for _, s := range rep.Services {
		started := "-"
		if !s.StartedAt.IsZero() {
			started = s.StartedAt.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", s.Name, s.State, s.PID, s.Port, started)
	}
	_ = tw.Flush()
	_, _ = fmt.Fprintln(c.out, formatSyncState(rep.Sync))
	return nil
}

// History prints recent sync runs of a running session.
func (c command) History(ctx context.Context, f APIFlags, hf HistoryFlags) error {
	runs, err := apiClient(f).History(ctx, hf.Limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STARTED\tOUTCOME\tATTEMPT\tCHANGES\tERROR")
	for _, r := range runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			r.StartedAt.Format(time.RFC3339), r.Outcome, r.Attempt, len(r.Changes), r.Error)
	}
	return tw.Flush()
}

// Sync triggers one synchronization in a running session.
func (c command) Sync(ctx context.Context, f APIFlags) error {
	res, err := apiClient(f).Sync(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "sync: %s\n", res)
	if res == client.SyncFailed || res == client.SyncGaveUp {
		return fmt.Errorf("sync %s", res)
	}
	return nil
}

// Restart restarts one service of a running session.
func (c command) Restart(ctx context.Context, f APIFlags, name string) error {
	if name == "" {
		return errors.New("service name is required")
	}
	if err := apiClient(f).Restart(ctx, name); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "restarted %s\n", name)
	return nil
}

// formatEvent renders one lifecycle event as a single line.
func formatEvent(e events.Event) string {
	var b strings.Builder
	b.WriteString(e.Time.Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(string(e.Type))
	switch e.Type {
	case events.ServiceStarted:
		fmt.Fprintf(&b, " %s", e.Service)
		if e.Port != 0 {
			fmt.Fprintf(&b, " port=%d", e.Port)
		}
	case events.ServiceError:
		fmt.Fprintf(&b, " %s (%s)", e.Service, e.Kind)
		if e.Err != nil {
			fmt.Fprintf(&b, ": %v", e.Err)
		}
	case events.SpecChanged, events.GenerationCompleted:
		fmt.Fprintf(&b, " %d change(s)", len(e.Changes))
		for _, ch := range e.Changes {
			fmt.Fprintf(&b, "\n  %s", ch)
		}
	case events.GenerationFailed:
		if e.Final {
			b.WriteString(" (giving up)")
		}
		if e.Err != nil {
			fmt.Fprintf(&b, ": %v", e.Err)
		}
	}
	return b.String()
}

func formatSyncState(s client.SyncState) string {
	parts := []string{"sync:"}
	switch {
	case s.Paused:
		parts = append(parts, "paused")
	case s.InFlight:
		parts = append(parts, "running")
	default:
		parts = append(parts, "idle")
	}
	if !s.LastSync.IsZero() {
		parts = append(parts, "last="+s.LastSync.Format(time.RFC3339))
	}
	if s.Pending {
		parts = append(parts, "pending")
	}
	if s.Retries > 0 {
		parts = append(parts, fmt.Sprintf("retries=%d", s.Retries))
	}
	if s.LastError != "" {
		parts = append(parts, "error="+s.LastError)
	}
	return strings.Join(parts, " ")
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}
