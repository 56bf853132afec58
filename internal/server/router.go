package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/specsync/internal/history"
	"github.com/loykin/specsync/internal/metrics"
	"github.com/loykin/specsync/internal/pipeline"
	"github.com/loykin/specsync/internal/process"
)

// Session is what the router needs from a running session.
type Session interface {
	Statuses() []process.Status
	Status(name string) (process.Status, error)
	SyncState() pipeline.State
	TriggerSync(ctx context.Context) pipeline.Result
	Restart(ctx context.Context, name string) error
}

// Router provides embeddable HTTP handlers for inspecting a session.
// Endpoints:
//
//	GET  {basePath}/status    query: name=... (optional)
//	GET  {basePath}/history   query: limit=N (default 20)
//	GET  {basePath}/metrics   Prometheus exposition
//	POST {basePath}/sync      runs one synchronization now
//	POST {basePath}/restart   query: name=...
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sess     Session
	hist     history.Reader
	basePath string
}

// NewRouter mounts the endpoints under basePath. A nil hist serves an
// empty history.
func NewRouter(sess Session, hist history.Reader, basePath string) *Router {
	return &Router{sess: sess, hist: hist, basePath: normalizeBasePath(basePath)}
}

// Handler builds the gin engine. It can be served directly or mounted in
// another mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/history", r.handleHistory)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	group.POST("/sync", r.handleSync)
	group.POST("/restart", r.handleRestart)
	return g
}

// NewServer returns an http.Server for addr serving this router. The caller
// runs Serve or ListenAndServe and owns shutdown.
func NewServer(addr, basePath string, sess Session, hist history.Reader) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(sess, hist, basePath).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

const errInvalidName = "invalid service name: use [A-Za-z0-9._-]"

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	Services []process.Status `json:"services"`
	Sync     pipeline.State   `json:"sync"`
}

type syncResp struct {
	Result pipeline.Result `json:"result"`
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusOK, statusResp{Services: r.sess.Statuses(), Sync: r.sess.SyncState()})
		return
	}
	if !validServiceName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: errInvalidName})
		return
	}
	st, err := r.sess.Status(name)
	if err != nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := 20
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	if r.hist == nil {
		writeJSON(c, http.StatusOK, []history.Run{})
		return
	}
	runs, err := r.hist.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(c, http.StatusOK, runs)
}

func (r *Router) handleSync(c *gin.Context) {
	res := r.sess.TriggerSync(c.Request.Context())
	code := http.StatusOK
	if res == pipeline.ResultBusy || res == pipeline.ResultPaused {
		code = http.StatusConflict
	}
	writeJSON(c, code, syncResp{Result: res})
}

func (r *Router) handleRestart(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	if !validServiceName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: errInvalidName})
		return
	}
	if err := r.sess.Restart(c.Request.Context(), name); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
