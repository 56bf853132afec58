// Package pipeline keeps a generated client in step with an API contract.
//
// A Pipeline observes one contract source, either by watching files or by
// polling an HTTP endpoint, and runs generate, build and link whenever the
// contract changes in a way its strategy considers significant. At most one
// synchronization runs at a time; triggers that arrive meanwhile are dropped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/loykin/specsync/internal/contract"
	"github.com/loykin/specsync/internal/events"
	"github.com/loykin/specsync/internal/history"
	"github.com/loykin/specsync/internal/metrics"
	"github.com/loykin/specsync/internal/watch"
)

const (
	DefaultDebounce     = 1000 * time.Millisecond
	DefaultPollInterval = 5000 * time.Millisecond
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = time.Second
)

// Mode selects how changes are observed.
type Mode string

const (
	ModeWatch Mode = "watch"
	ModePoll  Mode = "poll"
)

// Result is the outcome of one PerformSync call.
type Result string

const (
	ResultBusy           Result = "busy"
	ResultPaused         Result = "paused"
	ResultStopped        Result = "stopped"
	ResultUnchanged      Result = "unchanged"
	ResultNotSignificant Result = "not-significant"
	ResultCompleted      Result = "completed"
	ResultFailed         Result = "failed"
	ResultGaveUp         Result = "gave-up"
)

// Options configures a Pipeline.
type Options struct {
	Source   Source
	Strategy contract.Strategy
	Mode     Mode

	Debounce     time.Duration
	PollInterval time.Duration
	// MaxRetries bounds consecutive retries; 0 selects the default and a
	// negative value disables retrying.
	MaxRetries int
	// RetryDelay is the first backoff delay; each retry doubles it.
	RetryDelay        time.Duration
	InitialGeneration bool

	// Watch is used in ModeWatch.
	Watch watch.Options

	Generate Step
	Build    Step   // optional
	Link     []Step // optional, run in order
	// TouchPaths get their mtime bumped after a successful run that linked
	// the client, so that a consuming dev server reloads. Failures are ignored.
	TouchPaths []string

	Runner  Runner
	Bus     *events.Bus
	History history.Sink
	Logger  *slog.Logger
}

// State is a snapshot of the sync session.
type State struct {
	InFlight       bool      `json:"in_flight"`
	Paused         bool      `json:"paused"`
	Pending        bool      `json:"pending"`
	Retries        int       `json:"retries"`
	RetryScheduled bool      `json:"retry_scheduled"`
	LastSync       time.Time `json:"last_sync"`
	LastHash       string    `json:"last_hash,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

// Pipeline owns the sync session for one contract source.
type Pipeline struct {
	opts       Options
	classifier *contract.Classifier
	runner     Runner
	log        *slog.Logger

	inFlight atomic.Bool
	paused   atomic.Bool

	mu         sync.Mutex
	started    bool
	stopped    bool
	runCtx     context.Context
	cancel     context.CancelFunc
	retries    int
	backoff    *backoff.ExponentialBackOff
	retryTimer *time.Timer
	pending    bool
	lastSync   time.Time
	lastHash   string
	lastErr    error

	watcher   *watch.Watcher
	debouncer *watch.Debouncer
	wg        sync.WaitGroup // trigger goroutines
	active    sync.WaitGroup // PerformSync bodies
}

// New validates opts and applies defaults.
func New(opts Options) (*Pipeline, error) {
	if opts.Source == nil {
		return nil, errors.New("pipeline: contract source is required")
	}
	if opts.Generate.Command == "" {
		return nil, errors.New("pipeline: generate command is required")
	}
	if opts.Strategy == "" {
		opts.Strategy = contract.StrategySmart
	}
	if _, err := contract.ParseStrategy(string(opts.Strategy)); err != nil {
		return nil, err
	}
	switch opts.Mode {
	case "":
		opts.Mode = ModeWatch
	case ModeWatch, ModePoll:
	default:
		return nil, fmt.Errorf("pipeline: unknown mode %q", opts.Mode)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	} else if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Generate.Name == "" {
		opts.Generate.Name = "generate"
	}
	if opts.Build.Name == "" {
		opts.Build.Name = "build"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	runner := opts.Runner
	if runner == nil {
		runner = ShellRunner{Logger: log}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.RetryDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = opts.RetryDelay << 10
	b.MaxElapsedTime = 0
	b.Reset()

	return &Pipeline{
		opts:       opts,
		classifier: contract.NewClassifier(),
		runner:     runner,
		log:        log.With("component", "pipeline", "source", opts.Source.Describe()),
		backoff:    b,
		runCtx:     context.Background(),
	}, nil
}

// Start runs the initial generation (if configured) and begins observing
// the source. It returns once the triggers are installed.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("pipeline: already started")
	}
	p.started = true
	runCtx, cancel := context.WithCancel(ctx)
	p.runCtx, p.cancel = runCtx, cancel
	p.mu.Unlock()

	switch p.opts.Mode {
	case ModePoll:
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			watch.Poll(runCtx, p.opts.PollInterval, func(c context.Context) { p.PerformSync(c) })
		}()
		p.log.Info("polling contract", "interval", p.opts.PollInterval)
	default:
		deb := watch.NewDebouncer(p.opts.Debounce, func() { p.PerformSync(runCtx) })
		wopts := p.opts.Watch
		if wopts.Logger == nil {
			wopts.Logger = p.log
		}
		w, err := watch.New(wopts, func(path string) {
			p.log.Debug("contract change observed", "path", path)
			deb.Trigger()
		})
		if err != nil {
			cancel()
			return err
		}
		if err := w.Start(runCtx); err != nil {
			w.Stop()
			cancel()
			return err
		}
		p.mu.Lock()
		p.watcher, p.debouncer = w, deb
		p.mu.Unlock()
		p.log.Info("watching contract", "debounce", p.opts.Debounce)
	}

	if p.opts.InitialGeneration {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.PerformSync(runCtx)
		}()
	}
	return nil
}

// Stop removes the triggers, cancels a scheduled retry and waits for a
// running synchronization to finish.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
	cancel, w, deb := p.cancel, p.watcher, p.debouncer
	p.mu.Unlock()

	if deb != nil {
		deb.Stop()
	}
	if w != nil {
		w.Stop()
	}
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.active.Wait()
}

// Pause makes PerformSync return ResultPaused until Resume.
func (p *Pipeline) Pause() {
	if !p.paused.Swap(true) {
		p.log.Info("pipeline paused")
	}
}

// Resume lifts a Pause. A synchronization left pending by a failure or a
// retry that fired while paused is run right away.
func (p *Pipeline) Resume(ctx context.Context) {
	if !p.paused.Swap(false) {
		return
	}
	p.log.Info("pipeline resumed")
	p.mu.Lock()
	pending := p.pending && !p.stopped
	p.mu.Unlock()
	if pending {
		go p.PerformSync(ctx)
	}
}

// State returns a copy of the session.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := State{
		InFlight:       p.inFlight.Load(),
		Paused:         p.paused.Load(),
		Pending:        p.pending,
		Retries:        p.retries,
		RetryScheduled: p.retryTimer != nil,
		LastSync:       p.lastSync,
		LastHash:       p.lastHash,
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	return st
}

// PerformSync runs one synchronization. It never returns an error: failures
// are published as events and retried in the background.
//
// ctx only gates the call: a caller whose context is already done gets
// ResultStopped. The steps and any scheduled retry run on the pipeline's own
// context, so a request that goes away neither kills the generator nor drops
// the retry.
func (p *Pipeline) PerformSync(ctx context.Context) Result {
	if ctx.Err() != nil {
		return ResultStopped
	}
	if p.paused.Load() {
		return ResultPaused
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		return ResultBusy
	}
	defer p.inFlight.Store(false)

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ResultStopped
	}
	runCtx := p.runCtx
	p.active.Add(1)
	p.mu.Unlock()
	defer p.active.Done()

	res := p.sync(runCtx)
	metrics.IncSync(string(res))
	return res
}

func (p *Pipeline) sync(ctx context.Context) Result {
	raw, err := p.opts.Source.Fetch(ctx)
	if err != nil {
		return p.fail(ctx, "", time.Now(), "", nil, &ContractFetchError{Source: p.opts.Source.Describe(), Err: err})
	}
	doc, err := contract.Parse(raw)
	if err != nil {
		return p.fail(ctx, "", time.Now(), "", nil, &ContractFetchError{Source: p.opts.Source.Describe(), Err: err})
	}
	hash, err := contract.Hash(contract.Normalize(doc))
	if err != nil {
		return p.fail(ctx, "", time.Now(), "", nil, &ContractFetchError{Source: p.opts.Source.Describe(), Err: err})
	}

	p.mu.Lock()
	unchanged := hash == p.lastHash
	pending := p.pending
	p.mu.Unlock()
	if unchanged {
		return ResultUnchanged
	}

	cmp, err := p.classifier.Compare(doc)
	if err != nil {
		return p.fail(ctx, "", time.Now(), hash, nil, &ContractFetchError{Source: p.opts.Source.Describe(), Err: err})
	}
	runID := uuid.NewString()
	p.opts.Bus.Publish(events.Event{Type: events.SpecChanged, RunID: runID, Changes: cmp.Changes})

	if !cmp.First && !pending && !p.opts.Strategy.Accepts(cmp.Changes) {
		p.mu.Lock()
		p.lastHash = hash
		p.mu.Unlock()
		p.log.Info("contract change not significant", "strategy", p.opts.Strategy, "changes", len(cmp.Changes))
		return ResultNotSignificant
	}

	p.log.Info("regenerating client", "run_id", runID, "changes", len(cmp.Changes), "first", cmp.First, "pending", pending)
	p.opts.Bus.Publish(events.Event{Type: events.GenerationStarted, RunID: runID, Changes: cmp.Changes})
	started := time.Now()
	if err := p.runSteps(ctx); err != nil {
		metrics.ObserveGeneration(time.Since(started).Seconds())
		return p.fail(ctx, runID, started, hash, cmp.Changes, err)
	}
	metrics.ObserveGeneration(time.Since(started).Seconds())
	if len(p.opts.Link) > 0 {
		p.touch()
	}

	p.mu.Lock()
	attempt := p.retries + 1
	p.lastHash = hash
	p.lastSync = time.Now()
	p.lastErr = nil
	p.pending = false
	p.retries = 0
	p.backoff.Reset()
	p.mu.Unlock()

	p.opts.Bus.Publish(events.Event{Type: events.GenerationCompleted, RunID: runID, Changes: cmp.Changes})
	p.log.Info("client regenerated", "run_id", runID, "duration", time.Since(started))
	p.record(ctx, history.Run{
		ID: runID, StartedAt: started, FinishedAt: time.Now(), Outcome: history.OutcomeCompleted,
		Hash: hash, Attempt: attempt, Changes: cmp.Changes,
	})
	return ResultCompleted
}

func (p *Pipeline) runSteps(ctx context.Context) error {
	steps := append([]Step{p.opts.Generate, p.opts.Build}, p.opts.Link...)
	for _, s := range steps {
		if s.Command == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.runner.Run(ctx, s); err != nil {
			var ge *GenerationError
			if !errors.As(err, &ge) {
				err = &GenerationError{Step: s.Name, Err: err}
			}
			return err
		}
	}
	return nil
}

func (p *Pipeline) touch() {
	now := time.Now()
	for _, path := range p.opts.TouchPaths {
		if err := os.Chtimes(path, now, now); err != nil {
			p.log.Debug("touch failed", "path", path, "err", err)
		}
	}
}

// fail records a failed attempt and either schedules a retry or gives up.
// hash is empty when the contract could not be read.
func (p *Pipeline) fail(ctx context.Context, runID string, started time.Time, hash string, changes []contract.Change, cause error) Result {
	var ge *GenerationError
	generation := errors.As(cause, &ge)

	p.mu.Lock()
	attempt := p.retries + 1
	if generation {
		p.pending = true
	}
	p.lastErr = cause
	final := p.retries >= p.opts.MaxRetries
	var delay time.Duration
	if final {
		p.retries = 0
		p.backoff.Reset()
		if hash != "" {
			p.lastHash = hash
		}
	} else {
		p.retries++
		delay = p.backoff.NextBackOff()
		p.scheduleRetryLocked(ctx, delay)
	}
	p.mu.Unlock()

	err := cause
	outcome, res := history.OutcomeFailed, ResultFailed
	if final {
		err = fmt.Errorf("%w: %w", ErrRetriesExhausted, cause)
		outcome, res = history.OutcomeGaveUp, ResultGaveUp
		p.log.Error("synchronization failed", "run_id", runID, "attempt", attempt, "err", cause, "final", true)
	} else {
		metrics.IncRetry()
		p.log.Warn("synchronization failed, retrying", "run_id", runID, "attempt", attempt, "retry_in", delay, "err", cause)
	}
	p.opts.Bus.Publish(events.Event{Type: events.GenerationFailed, RunID: runID, Err: err, Final: final, Changes: changes})

	if runID != "" {
		p.record(ctx, history.Run{
			ID: runID, StartedAt: started, FinishedAt: time.Now(), Outcome: outcome,
			Hash: hash, Attempt: attempt, Changes: changes, Error: err.Error(),
		})
	}
	return res
}

func (p *Pipeline) scheduleRetryLocked(ctx context.Context, delay time.Duration) {
	if p.stopped {
		return
	}
	if p.retryTimer != nil {
		p.retryTimer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		p.mu.Lock()
		if p.retryTimer == t {
			p.retryTimer = nil
		}
		p.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		p.PerformSync(ctx)
	})
	p.retryTimer = t
}

func (p *Pipeline) record(ctx context.Context, r history.Run) {
	if p.opts.History == nil {
		return
	}
	if err := p.opts.History.Send(context.WithoutCancel(ctx), r); err != nil {
		p.log.Warn("history write failed", "run_id", r.ID, "err", err)
	}
}
