package health

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// statusResponse is the JSON body served at /status (spec.md §6).
type statusResponse struct {
	Status Status  `json:"status"`
	Checks []Check `json:"checks"`
}

// Handler returns an http.Handler serving the registry's aggregate
// status as JSON. Intended to be mounted at /status by the owning
// component (the child agent process or the supervisor).
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		overall, checks := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		if overall == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(statusResponse{Status: overall, Checks: checks})
	})
}

// MetricsHandler exposes the process's prometheus metrics in the
// standard exposition format at /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
