package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/specsync/internal/history"
	"github.com/loykin/specsync/internal/pipeline"
	"github.com/loykin/specsync/internal/process"
)

type fakeSession struct {
	result    pipeline.Result
	restarted []string
}

func (f *fakeSession) Statuses() []process.Status {
	return []process.Status{{Name: "backend", State: "running", PID: 42, Port: 8000}}
}

func (f *fakeSession) Status(name string) (process.Status, error) {
	if name != "backend" {
		return process.Status{}, errors.New("unknown service: " + name)
	}
	return f.Statuses()[0], nil
}

func (f *fakeSession) SyncState() pipeline.State {
	return pipeline.State{LastHash: "abc", Pending: true}
}

func (f *fakeSession) TriggerSync(context.Context) pipeline.Result { return f.result }

func (f *fakeSession) Restart(_ context.Context, name string) error {
	if name != "backend" && name != "frontend" {
		return errors.New("unknown service: " + name)
	}
	f.restarted = append(f.restarted, name)
	return nil
}

func setupRouter(t *testing.T, base string, sess *fakeSession, hist history.Reader) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(sess, hist, base).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusAll(t *testing.T) {
	h := setupRouter(t, "/api", &fakeSession{}, nil)
	rec := doReq(t, h, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp statusResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Services) != 1 || resp.Services[0].Name != "backend" || resp.Services[0].Port != 8000 {
		t.Fatalf("unexpected services: %+v", resp.Services)
	}
	if resp.Sync.LastHash != "abc" || !resp.Sync.Pending {
		t.Fatalf("unexpected sync state: %+v", resp.Sync)
	}
}

func TestStatusByName(t *testing.T) {
	h := setupRouter(t, "", &fakeSession{}, nil)
	if rec := doReq(t, h, http.MethodGet, "/status?name=backend"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/status?name=worker"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/status?name=../etc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	mem := history.NewMemory(10)
	for _, id := range []string{"one", "two", "three"} {
		_ = mem.Send(context.Background(), history.Run{ID: id, Outcome: history.OutcomeCompleted, StartedAt: time.Now()})
	}
	h := setupRouter(t, "", &fakeSession{}, mem)

	rec := doReq(t, h, http.MethodGet, "/history?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var runs []history.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "three" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	if rec := doReq(t, h, http.MethodGet, "/history?limit=x"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	h := setupRouter(t, "", &fakeSession{}, nil)
	rec := doReq(t, h, http.MethodGet, "/history")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestSyncTrigger(t *testing.T) {
	sess := &fakeSession{result: pipeline.ResultCompleted}
	h := setupRouter(t, "", sess, nil)
	rec := doReq(t, h, http.MethodPost, "/sync")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"completed"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}

	sess.result = pipeline.ResultBusy
	if rec := doReq(t, h, http.MethodPost, "/sync"); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestRestart(t *testing.T) {
	sess := &fakeSession{}
	h := setupRouter(t, "", sess, nil)
	if rec := doReq(t, h, http.MethodPost, "/restart"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodPost, "/restart?name=worker"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodPost, "/restart?name=backend"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(sess.restarted) != 1 || sess.restarted[0] != "backend" {
		t.Fatalf("restart not forwarded: %v", sess.restarted)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupRouter(t, "/x", &fakeSession{}, nil)
	rec := doReq(t, h, http.MethodGet, "/x/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestBasePathAndServiceName(t *testing.T) {
	cases := map[string]string{"": "", "/": "", "abc": "/abc", "/abc/": "/abc", " /a/b/ ": "/a/b", "//x//": "/x"}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q)=%q want %q", in, got, want)
		}
	}
	for _, ok := range []string{"backend", "front-end_1.x"} {
		if !validServiceName(ok) {
			t.Fatalf("%q should be safe", ok)
		}
	}
	for _, bad := range []string{"", "..", "a/b", `a\b`, "a b", strings.Repeat("x", 65)} {
		if validServiceName(bad) {
			t.Fatalf("%q should be unsafe", bad)
		}
	}
}
