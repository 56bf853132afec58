package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitUntil(timeout, step time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(step)
	}
	return false
}

func TestDebouncer_CollapsesBurst(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(100*time.Millisecond, func() { calls.Add(1) })
	defer d.Stop()

	for i := 0; i < 3; i++ {
		d.Trigger()
		time.Sleep(20 * time.Millisecond)
	}
	assert.True(t, d.Pending())
	assert.Equal(t, int32(0), calls.Load(), "nothing fires inside the quiet period")

	require.True(t, waitUntil(time.Second, 10*time.Millisecond, func() bool { return calls.Load() == 1 }))
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, d.Pending())
}

func TestDebouncer_SupersededFireIsDropped(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(time.Hour, func() { calls.Add(1) })
	defer d.Stop()

	d.Trigger()
	d.mu.Lock()
	stale := d.gen
	d.mu.Unlock()
	d.Trigger()

	// the first timer expired just before the re-arm took the lock
	d.fire(stale)
	assert.Equal(t, int32(0), calls.Load())
	assert.True(t, d.Pending(), "re-armed call still scheduled")

	d.mu.Lock()
	current := d.gen
	d.mu.Unlock()
	d.fire(current)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, d.Pending())
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { calls.Add(1) })
	d.Trigger()
	d.Stop()
	d.Trigger()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestPoll_StopsWithContext(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Poll(ctx, 10*time.Millisecond, func(context.Context) { calls.Add(1) })
		close(done)
	}()
	require.True(t, waitUntil(time.Second, 5*time.Millisecond, func() bool { return calls.Load() >= 3 }))
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poll did not stop")
	}
}

func TestWatcher_ContractFileEvents(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "openapi.json")
	require.NoError(t, os.WriteFile(spec, []byte(`{}`), 0o600))

	changed := make(chan string, 16)
	w, err := New(Options{Root: dir, Files: []string{"openapi.json"}}, func(p string) { changed <- p })
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(spec, []byte(`{"paths":{}}`), 0o600))

	select {
	case p := <-changed:
		resolved, _ := filepath.EvalSymlinks(p)
		want, _ := filepath.EvalSymlinks(spec)
		assert.Equal(t, want, resolved)
	case <-time.After(3 * time.Second):
		t.Fatal("no change observed")
	}
}

func TestWatcher_Relevant(t *testing.T) {
	dir := t.TempDir()
	w, err := New(Options{
		Root:   dir,
		Files:  []string{"api/openapi.json"},
		Globs:  []string{"**/*.py"},
		Ignore: DefaultIgnore,
	}, func(string) {})
	require.NoError(t, err)
	defer w.Stop()

	assert.True(t, w.Relevant(filepath.Join(dir, "api", "openapi.json")))
	assert.True(t, w.Relevant(filepath.Join(dir, "app", "routes", "users.py")))
	assert.False(t, w.Relevant(filepath.Join(dir, "app", "__pycache__", "users.py")))
	assert.False(t, w.Relevant(filepath.Join(dir, "node_modules", "x", "a.py")))
	assert.False(t, w.Relevant(filepath.Join(dir, "README.md")))
	assert.False(t, w.Relevant(filepath.Join(filepath.Dir(dir), "outside.py")))
}

func TestWatcher_InvalidGlob(t *testing.T) {
	_, err := New(Options{Root: t.TempDir(), Globs: []string{"[unclosed"}}, func(string) {})
	assert.Error(t, err)
}

func TestWatcher_DebouncedBurstProducesOneTrigger(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "openapi.json")
	require.NoError(t, os.WriteFile(spec, []byte(`{}`), 0o600))

	var runs atomic.Int32
	d := NewDebouncer(300*time.Millisecond, func() { runs.Add(1) })
	defer d.Stop()
	w, err := New(Options{Root: dir, Files: []string{spec}}, func(string) { d.Trigger() })
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(spec, []byte(`{"v":`+string(rune('0'+i))+`}`), 0o600))
		time.Sleep(30 * time.Millisecond)
	}
	require.True(t, waitUntil(3*time.Second, 20*time.Millisecond, func() bool { return runs.Load() >= 1 }))
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}
