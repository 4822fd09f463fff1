// Package monitor serves the state of a running core over HTTP.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/rs/xid"

	"github.com/sarchlab/o3sim/timing/core"
	"github.com/sarchlab/o3sim/timing/pipeline"
)

// Target is the core a monitor observes and controls. *core.Core
// implements it.
type Target interface {
	Name() string
	NumThreads() int
	Threads() []core.ThreadState
	Stats() pipeline.Statistics
	PostInterrupt(tid int)
	HaltThread(tid int)
	ActivateThread(tid int)
}

var _ Target = (*core.Core)(nil)

// Monitor exposes a Target through a JSON API.
type Monitor struct {
	target Target
	runID  string
	log    logr.Logger
	router *mux.Router
	server *http.Server
}

// New creates a monitor for target.
func New(target Target, log logr.Logger) *Monitor {
	m := &Monitor{
		target: target,
		runID:  xid.New().String(),
		log:    log.WithName("monitor"),
	}

	// Routes sit on the root router so that a method mismatch is answered
	// with 405 rather than 404.
	r := mux.NewRouter()
	r.HandleFunc("/api/run", m.handleRun).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", m.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/threads", m.handleThreads).Methods(http.MethodGet)
	r.HandleFunc("/api/threads/{tid:[0-9]+}", m.handleThread).Methods(http.MethodGet)
	r.HandleFunc("/api/threads/{tid:[0-9]+}/{action:interrupt|halt|activate}",
		m.handleThreadAction).Methods(http.MethodPost)
	m.router = r

	return m
}

// RunID identifies this simulation run.
func (m *Monitor) RunID() string {
	return m.runID
}

// Handler returns the HTTP handler of the API.
func (m *Monitor) Handler() http.Handler {
	return m.router
}

// StartServer listens on addr and serves the API in the background. It
// returns the address actually bound, which differs from addr when addr
// asks for any port.
func (m *Monitor) StartServer(addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	m.server = &http.Server{
		Handler:           m.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error(err, "monitor stopped")
		}
	}()

	bound := listener.Addr().String()
	m.log.Info("monitoring", "addr", bound, "run", m.runID)

	return bound, nil
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

type runInfo struct {
	ID      string `json:"id"`
	Core    string `json:"core"`
	Threads int    `json:"threads"`
}

type statsResponse struct {
	pipeline.Statistics
	IPC float64 `json:"ipc"`
	CPI float64 `json:"cpi"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (m *Monitor) handleRun(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, http.StatusOK, runInfo{
		ID:      m.runID,
		Core:    m.target.Name(),
		Threads: m.target.NumThreads(),
	})
}

func (m *Monitor) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := m.target.Stats()
	m.writeJSON(w, http.StatusOK, statsResponse{
		Statistics: stats,
		IPC:        stats.IPC(),
		CPI:        stats.CPI(),
	})
}

func (m *Monitor) handleThreads(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, http.StatusOK, m.target.Threads())
}

func (m *Monitor) handleThread(w http.ResponseWriter, r *http.Request) {
	tid, ok := m.threadID(w, r)
	if !ok {
		return
	}

	m.writeJSON(w, http.StatusOK, m.target.Threads()[tid])
}

func (m *Monitor) handleThreadAction(w http.ResponseWriter, r *http.Request) {
	tid, ok := m.threadID(w, r)
	if !ok {
		return
	}

	action := mux.Vars(r)["action"]
	switch action {
	case "interrupt":
		m.target.PostInterrupt(tid)
	case "halt":
		m.target.HaltThread(tid)
	case "activate":
		m.target.ActivateThread(tid)
	}

	m.log.V(1).Info("thread request", "tid", tid, "action", action)
	w.WriteHeader(http.StatusAccepted)
}

func (m *Monitor) threadID(w http.ResponseWriter, r *http.Request) (int, bool) {
	tid, err := strconv.Atoi(mux.Vars(r)["tid"])
	if err != nil || tid >= m.target.NumThreads() {
		m.writeJSON(w, http.StatusNotFound,
			errorResponse{Error: "no such thread " + mux.Vars(r)["tid"]})
		return 0, false
	}
	return tid, true
}

func (m *Monitor) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.log.Error(err, "failed to write response")
	}
}
