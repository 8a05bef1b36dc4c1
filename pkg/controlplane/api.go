package controlplane

import (
	"encoding/json"
	"net/http"
	"time"
)

// Handler serves the Control API (status, getCounters, getLogs,
// clearLogs, stop) as JSON over HTTP, so cmd/raiconnectd's
// status/logs/stop subcommands and an external UI can drive a running
// Plane out-of-process. The routes are deliberately a thin
// net/http.ServeMux: a surface this shallow doesn't need a third-party
// router.
func (p *Plane) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.Status())
	})

	mux.HandleFunc("/counters", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.GetCounters())
	})

	mux.HandleFunc("/logs", func(w http.ResponseWriter, r *http.Request) {
		since := time.Time{}
		if raw := r.URL.Query().Get("since"); raw != "" {
			if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				since = t
			}
		}
		writeJSON(w, http.StatusOK, p.GetLogs(since))
	})

	mux.HandleFunc("/logs/clear", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.ClearLogs()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := p.Stop(); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
