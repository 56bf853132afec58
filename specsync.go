package specsync

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/specsync/internal/config"
	"github.com/loykin/specsync/internal/contract"
	"github.com/loykin/specsync/internal/events"
	"github.com/loykin/specsync/internal/history"
	"github.com/loykin/specsync/internal/metrics"
	"github.com/loykin/specsync/internal/pipeline"
	"github.com/loykin/specsync/internal/process"
	"github.com/loykin/specsync/internal/session"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Status = process.Status

type Event = events.Event

type Change = contract.Change

type Strategy = contract.Strategy

type SyncResult = pipeline.Result

type SyncState = pipeline.State

type Run = history.Run

type Option = session.Option

var (
	WithLogger = session.WithLogger
	WithBus    = session.WithBus
)

// Session is a thin facade over internal/session.Coordinator.
// It provides a stable public API for embedding.
type Session struct{ inner *session.Coordinator }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewSession builds a session from c. Nothing is started until Start.
func NewSession(c *Config, opts ...Option) (*Session, error) {
	inner, err := session.New(c, opts...)
	if err != nil {
		return nil, err
	}
	return &Session{inner: inner}, nil
}

func (s *Session) Start(ctx context.Context) error             { return s.inner.Start(ctx) }
func (s *Session) Stop(ctx context.Context) error              { return s.inner.Stop(ctx) }
func (s *Session) Restart(ctx context.Context, n string) error { return s.inner.Restart(ctx, n) }
func (s *Session) TriggerSync(ctx context.Context) SyncResult  { return s.inner.TriggerSync(ctx) }
func (s *Session) Statuses() []Status                          { return s.inner.Statuses() }
func (s *Session) Status(name string) (Status, error)          { return s.inner.Status(name) }
func (s *Session) SyncState() SyncState                        { return s.inner.SyncState() }
func (s *Session) StatusAddr() string                          { return s.inner.StatusAddr() }

// Subscribe registers an event listener; the returned function unsubscribes.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	return s.inner.Bus().Subscribe(buffer)
}

// History returns up to n recent sync runs, newest first.
func (s *Session) History(ctx context.Context, n int) ([]Run, error) {
	return s.inner.History().Recent(ctx, n)
}

// Compare diffs two contract documents and reports whether strategy would
// regenerate the client for them. Identical canonical forms yield no changes.
func Compare(prev, next []byte, strategy string) ([]Change, bool, error) {
	st, err := contract.ParseStrategy(strategy)
	if err != nil {
		return nil, false, err
	}
	a, err := snapshot(prev)
	if err != nil {
		return nil, false, fmt.Errorf("old contract: %w", err)
	}
	b, err := snapshot(next)
	if err != nil {
		return nil, false, fmt.Errorf("new contract: %w", err)
	}
	ha, err := contract.Hash(a)
	if err != nil {
		return nil, false, err
	}
	hb, err := contract.Hash(b)
	if err != nil {
		return nil, false, err
	}
	if ha == hb {
		return nil, false, nil
	}
	changes := contract.Diff(a, b)
	return changes, st.Accepts(changes), nil
}

func snapshot(data []byte) (contract.Snapshot, error) {
	doc, err := contract.Parse(data)
	if err != nil {
		return contract.Snapshot{}, err
	}
	return contract.Normalize(doc), nil
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
