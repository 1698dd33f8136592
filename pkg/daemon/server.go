package daemon

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Ready          bool      `json:"ready"`
	Revision       string    `json:"revision"`
	LastSync       time.Time `json:"lastSync"`
	LastError      string    `json:"lastError,omitempty"`
	PendingRetries int       `json:"pendingRetries"`
	LastChanged    int       `json:"lastChangedPaths"`
	LastTriggered  int       `json:"lastTriggered"`
}

// NewHandler returns the agent's ops surface: health, status, an
// early-sync nudge, and prometheus metrics.
func NewHandler(d *Daemon) http.Handler {
	r := mux.NewRouter()
	r.Methods("GET").Path("/healthz").HandlerFunc(d.handleHealthz)
	r.Methods("GET").Path("/api/v1/status").HandlerFunc(d.handleStatus)
	r.Methods("POST").Path("/api/v1/notify").HandlerFunc(d.handleNotify)
	r.Path("/metrics").Handler(promhttp.Handler())
	return r
}

// handleHealthz reports 200 once a first sync attempt has completed,
// 503 before that. Liveness, not correctness: a failing git remote
// still counts as alive (the status endpoint carries the error).
func (d *Daemon) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	d.status.mu.Lock()
	ready := d.status.ready
	d.status.mu.Unlock()
	if !ready {
		http.Error(w, "no sync completed yet", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (d *Daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	d.status.mu.Lock()
	resp := StatusResponse{
		Ready:          d.status.ready,
		Revision:       d.status.revision,
		LastSync:       d.status.lastSync,
		LastError:      d.status.lastError,
		PendingRetries: d.status.pendingCount,
		LastChanged:    d.status.lastChanged,
		LastTriggered:  d.status.lastTriggered,
	}
	d.status.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleNotify asks for a sync ahead of the poll timer, e.g. from a
// push webhook relay.
func (d *Daemon) handleNotify(w http.ResponseWriter, _ *http.Request) {
	d.AskForSync()
	w.WriteHeader(http.StatusAccepted)
}
