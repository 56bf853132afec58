package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/specsync/internal/config"
	"github.com/loykin/specsync/internal/env"
	"github.com/loykin/specsync/internal/events"
	"github.com/loykin/specsync/internal/pipeline"
	"github.com/loykin/specsync/internal/process"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

type countingRunner struct {
	mu    sync.Mutex
	steps []pipeline.Step
	runs  atomic.Int32
}

func (r *countingRunner) Run(_ context.Context, s pipeline.Step) error {
	r.mu.Lock()
	r.steps = append(r.steps, s)
	r.mu.Unlock()
	if s.Name == "generate" {
		r.runs.Add(1)
	}
	return nil
}

type noPorts struct{}

func (noPorts) IsBound(int) bool                         { return false }
func (noPorts) Free(context.Context, int) ([]int, error) { return nil, nil }

func testConfig(t *testing.T, backendCmd string) *config.Config {
	t.Helper()
	root := t.TempDir()
	backend := filepath.Join(root, "backend")
	client := filepath.Join(root, "client")
	require.NoError(t, os.MkdirAll(backend, 0o750))
	require.NoError(t, os.MkdirAll(client, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(backend, "openapi.json"), []byte(`{"paths":{"/users":{"get":{}}}}`), 0o600))
	return &config.Config{
		Dir: root,
		Services: config.Services{
			Backend: config.Backend{
				Path: backend, StartCommand: backendCmd, ReadyPattern: "ready",
				APISpec: config.APISpec{Path: "openapi.json"},
			},
			Client: config.Client{Path: client, GenerateCommand: "npm run generate"},
		},
		Sync: config.Sync{Strategy: "smart", DebounceMs: 50, RetryAttempts: 3, RetryDelay: 10, RunInitialGeneration: true},
	}
}

func newTestCoordinator(t *testing.T, cfg *config.Config, r pipeline.Runner) *Coordinator {
	t.Helper()
	c, err := New(cfg,
		WithRunner(r),
		WithPorts(noPorts{}),
		WithEnv(env.New().WithBase(env.Var{"PATH": os.Getenv("PATH")})),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func waitEvent(t *testing.T, ch <-chan events.Event, match func(events.Event) bool) events.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-ch:
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatal("event not observed")
			return events.Event{}
		}
	}
}

func TestCoordinator_StartGeneratesAndStops(t *testing.T) {
	requireUnix(t)
	r := &countingRunner{}
	c := newTestCoordinator(t, testConfig(t, "sh -c 'echo ready; sleep 30'"), r)
	ch, cancel := c.Bus().Subscribe(32)
	defer cancel()

	require.NoError(t, c.Start(context.Background()))
	waitEvent(t, ch, func(e events.Event) bool { return e.Type == events.GenerationCompleted })
	assert.Equal(t, int32(1), r.runs.Load())

	sts := c.Statuses()
	require.Len(t, sts, 1)
	assert.Equal(t, "running", sts[0].State)
	assert.False(t, c.SyncState().LastSync.IsZero())

	runs, err := c.History().Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	require.NoError(t, c.Stop(context.Background()))
	st, err := c.Status("backend")
	require.NoError(t, err)
	assert.Equal(t, "stopped", st.State)
	require.NoError(t, c.Stop(context.Background()), "second stop is a no-op")
}

func TestCoordinator_ContractEditRegenerates(t *testing.T) {
	requireUnix(t)
	r := &countingRunner{}
	cfg := testConfig(t, "sh -c 'echo ready; sleep 30'")
	c := newTestCoordinator(t, cfg, r)
	ch, cancel := c.Bus().Subscribe(32)
	defer cancel()

	require.NoError(t, c.Start(context.Background()))
	waitEvent(t, ch, func(e events.Event) bool { return e.Type == events.GenerationCompleted })

	spec := filepath.Join(cfg.Services.Backend.Path, "openapi.json")
	require.NoError(t, os.WriteFile(spec, []byte(`{"paths":{"/users":{"get":{},"post":{}}}}`), 0o600))

	e := waitEvent(t, ch, func(e events.Event) bool { return e.Type == events.GenerationCompleted })
	require.Len(t, e.Changes, 1)
	assert.Equal(t, "paths./users.post", e.Changes[0].Path)
	assert.Equal(t, int32(2), r.runs.Load())
}

func TestCoordinator_BackendStartFailureAborts(t *testing.T) {
	requireUnix(t)
	r := &countingRunner{}
	c := newTestCoordinator(t, testConfig(t, "sh -c 'echo boom >&2; exit 4'"), r)

	err := c.Start(context.Background())
	var sf *process.StartFailure
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, "backend", sf.Service)
	assert.Equal(t, 4, sf.ExitCode)
	assert.Equal(t, []string{"boom"}, sf.StderrTail)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), r.runs.Load(), "pipeline never started")
}

func TestCoordinator_BackendCrashPausesPipelineAndRestartResumes(t *testing.T) {
	requireUnix(t)
	r := &countingRunner{}
	cfg := testConfig(t, "sh -c 'echo ready; sleep 0.3; exit 1'")
	c := newTestCoordinator(t, cfg, r)
	ch, cancel := c.Bus().Subscribe(32)
	defer cancel()

	require.NoError(t, c.Start(context.Background()))
	waitEvent(t, ch, func(e events.Event) bool {
		return e.Type == events.ServiceError && e.Kind == events.ErrorCrashed
	})
	assert.Eventually(t, func() bool { return c.SyncState().Paused }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, pipeline.ResultPaused, c.TriggerSync(context.Background()))

	cfg.Services.Backend.StartCommand = "sh -c 'echo ready; sleep 30'"
	require.NoError(t, c.Restart(context.Background(), "backend"))
	assert.Eventually(t, func() bool { return !c.SyncState().Paused }, 2*time.Second, 10*time.Millisecond)

	assert.Error(t, c.Restart(context.Background(), "worker"))
}

func TestCoordinator_StatusServer(t *testing.T) {
	requireUnix(t)
	cfg := testConfig(t, "sh -c 'echo ready; sleep 30'")
	cfg.Status.Listen = "127.0.0.1:0"
	c := newTestCoordinator(t, cfg, &countingRunner{})
	require.NoError(t, c.Start(context.Background()))

	addr := c.StatusAddr()
	require.NotEmpty(t, addr)
	resp, err := http.Get("http://" + addr + "/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Services []process.Status `json:"services"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Services, 1)
	assert.Equal(t, "backend", body.Services[0].Name)
}

func TestCoordinator_StartTwice(t *testing.T) {
	requireUnix(t)
	c := newTestCoordinator(t, testConfig(t, "sh -c 'echo ready; sleep 30'"), &countingRunner{})
	require.NoError(t, c.Start(context.Background()))
	assert.Error(t, c.Start(context.Background()))
}

func TestNew_RuntimeContractWithoutPort(t *testing.T) {
	cfg := testConfig(t, "true")
	cfg.Services.Backend.APISpec.Path = "runtime:/openapi.json"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNew_SQLiteHistory(t *testing.T) {
	cfg := testConfig(t, "true")
	cfg.History.DSN = "sqlite://" + filepath.Join(cfg.Dir, "history.db")
	c := newTestCoordinator(t, cfg, &countingRunner{})
	runs, err := c.History().Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
