package supervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// Router builds the operator control API (spec.md §6, §4.10).
func (s *Supervisor) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleRoot)
	r.Get("/status", s.handleStatus)
	r.Post("/control/start", s.handleControlStart)
	r.Post("/control/stop", s.handleControlStop)
	r.Get("/config/classes", s.handleGetClasses)
	r.Put("/config/classes", s.handlePutClasses)
	r.Get("/config/classes/catalog", s.handleGetCatalog)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Supervisor) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"info":     "edge agent supervisor",
		"snapshot": s.GetSnapshot(),
	})
}

func (s *Supervisor) handleStatus(w http.ResponseWriter, r *http.Request) {
	agentStatus, _ := s.GetAgentStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"manager": s.GetSnapshot(),
		"agent":   agentStatus,
	})
}

func (s *Supervisor) handleControlStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.Start(ctx); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	wait := r.URL.Query().Get("wait")
	if wait == "" {
		writeJSON(w, http.StatusAccepted, map[string]bool{"ready": false})
		return
	}

	timeoutMs := parseIntDefault(r.URL.Query().Get("timeoutMs"), 10000)
	ready := s.waitFor(ctx, wait, time.Duration(timeoutMs)*time.Millisecond)
	if ready {
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
	} else {
		writeJSON(w, http.StatusAccepted, map[string]bool{"ready": false})
	}
}

func (s *Supervisor) handleControlStop(w http.ResponseWriter, r *http.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.stopTimeout()+time.Second)
		defer cancel()
		if err := s.Stop(ctx); err != nil {
			log.Error("supervisor stop failed", "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Supervisor) handleGetClasses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"overrides": s.Overrides().ClassesFilter,
		"effective": s.effectiveClasses(),
		"defaults":  s.cfg.ClassCatalog,
	})
}

func (s *Supervisor) handlePutClasses(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Classes []string `json:"classes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if err := s.UpdateOverrides(body.Classes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"classes": body.Classes})
}

func (s *Supervisor) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"classes": s.cfg.ClassCatalog})
}

func (s *Supervisor) effectiveClasses() []string {
	o := s.Overrides()
	if len(o.ClassesFilter) > 0 {
		return o.ClassesFilter
	}
	return s.cfg.ClassCatalog
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// waitFor polls the named readiness predicate at 250ms cadence until it
// is satisfied or timeout elapses (spec.md §4.10 Readiness API).
func (s *Supervisor) waitFor(ctx context.Context, predicate string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	check := func() bool {
		switch predicate {
		case "child":
			return s.GetSnapshot().ChildPid != 0
		case "heartbeat":
			agent, ok := s.GetAgentStatus()
			if !ok {
				return false
			}
			_, hasHeartbeat := agent["heartbeatTs"]
			return hasHeartbeat
		case "detection":
			agent, ok := s.GetAgentStatus()
			if !ok {
				return false
			}
			if dets, ok := agent["detections"].(map[string]interface{}); ok {
				if total, ok := dets["total"].(float64); ok {
					return total > 0
				}
			}
			return false
		case "session":
			agent, ok := s.GetAgentStatus()
			if !ok {
				return false
			}
			if sess, ok := agent["session"].(map[string]interface{}); ok {
				if active, ok := sess["active"].(bool); ok {
					return active
				}
			}
			return false
		default:
			return true
		}
	}

	if check() {
		return true
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if check() {
				return true
			}
			if time.Now().After(deadline) {
				return false
			}
		}
	}
}
