package specsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/specsync/internal/metrics"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func TestCompare(t *testing.T) {
	prev := []byte(`{"paths":{"/users":{"get":{}}}}`)
	added := []byte(`{"paths":{"/users":{"get":{},"post":{}}}}`)

	changes, regen, err := Compare(prev, added, "smart")
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if len(changes) != 1 || changes[0].Path != "paths./users.post" {
		t.Fatalf("unexpected changes: %+v", changes)
	}
	if !regen {
		t.Fatalf("an added endpoint should regenerate under smart")
	}

	_, regen, err = Compare(prev, added, "conservative")
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if regen {
		t.Fatalf("conservative ignores additions")
	}

	reordered := []byte(`{ "paths" : { "/users" : { "get" : { } } } }`)
	changes, regen, err = Compare(prev, reordered, "aggressive")
	if err != nil || regen || len(changes) != 0 {
		t.Fatalf("cosmetic change: changes=%v regen=%v err=%v", changes, regen, err)
	}
}

func TestCompareErrors(t *testing.T) {
	if _, _, err := Compare([]byte(`{}`), []byte(`{}`), "sometimes"); err == nil {
		t.Fatalf("expected unknown strategy error")
	}
	if _, _, err := Compare([]byte(`{`), []byte(`{}`), ""); err == nil || !strings.Contains(err.Error(), "old contract") {
		t.Fatalf("expected old contract error, got %v", err)
	}
	if _, _, err := Compare([]byte(`{}`), []byte(`nope`), ""); err == nil || !strings.Contains(err.Error(), "new contract") {
		t.Fatalf("expected new contract error, got %v", err)
	}
}

func TestSessionFacadeLifecycle(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	backend := filepath.Join(dir, "backend")
	client := filepath.Join(dir, "client")
	for _, d := range []string{backend, client} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(backend, "openapi.json"), []byte(`{"paths":{}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfgJSON := `{
  "services": {
    "backend": {"path": "backend", "startCommand": "sh -c 'echo ready; sleep 30'", "readyPattern": "ready",
                "apiSpec": {"path": "openapi.json"}},
    "client": {"path": "client", "generateCommand": "true"}
  },
  "sync": {"autoLink": false}
}`
	path := filepath.Join(dir, "specsync.json")
	if err := os.WriteFile(path, []byte(cfgJSON), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s, err := NewSession(c)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	ch, cancel := s.Subscribe(32)
	defer cancel()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	deadline := time.After(10 * time.Second)
	for done := false; !done; {
		select {
		case e := <-ch:
			done = e.Type == "generation-completed"
		case <-deadline:
			t.Fatalf("initial generation not observed")
		}
	}
	runs, err := s.History(context.Background(), 5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("history: runs=%v err=%v", runs, err)
	}
	st, err := s.Status("backend")
	if err != nil || st.State != "running" {
		t.Fatalf("status: %+v err=%v", st, err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestMetricsFacade(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("register default: %v", err)
	}
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics handler: %d", rr.Code)
	}
}
