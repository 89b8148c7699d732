package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"

	"worker-host/src/shim"
)

const maxEnqueueBody = 1 << 20

// fetchHandler hands every non-admin request to the module.
func (s *server) fetchHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := s.shim.Fetch(r.Context(), r)
	if err != nil {
		respondJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
		return
	}
	if resp == nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "module returned no response"})
		return
	}
	if err := resp.Write(w); err != nil {
		log.Printf("write fetch response: %v", err)
	}
}

// errorStatus maps shim errors to HTTP status codes.
func errorStatus(err error) int {
	var initErr *shim.InitError
	switch {
	case errors.Is(err, shim.ErrMissingCapability):
		return http.StatusNotImplemented
	case errors.As(err, &initErr):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) statusHandler(w http.ResponseWriter, r *http.Request) {
	queues := make(map[string]map[string]int64, len(s.cfg.Queues))
	for _, name := range s.cfg.Queues {
		pending, dead, err := s.queues.Len(r.Context(), name)
		if err != nil {
			continue
		}
		queues[name] = map[string]int64{"pending": pending, "dead_lettered": dead}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"module":         s.cfg.Module,
		"failure_policy": s.cfg.InitFailurePolicy,
		"status":         s.shim.Status(),
		"bindings":       s.shim.Env().BindingNames(),
		"crons":          s.cfg.Crons,
		"queues":         queues,
		"tail_clients":   s.hub.Len(),
	})
}

// scheduledHandler fires the scheduled entrypoint on demand:
// POST /__scheduled?cron=<expr>[&time=<RFC3339>]
func (s *server) scheduledHandler(w http.ResponseWriter, r *http.Request) {
	ev := &shim.ScheduledEvent{
		Cron:          r.URL.Query().Get("cron"),
		ScheduledTime: time.Now().UTC(),
	}
	if ev.Cron == "" && len(s.cfg.Crons) > 0 {
		ev.Cron = s.cfg.Crons[0]
	}
	if ts := r.URL.Query().Get("time"); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "time must be RFC3339"})
			return
		}
		ev.ScheduledTime = t
	}

	if err := s.shim.Scheduled(r.Context(), ev); err != nil {
		respondJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"outcome": "ok", "event": ev})
}

// enqueueHandler pushes the request body onto a configured queue.
func (s *server) enqueueHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !slices.Contains(s.cfg.Queues, name) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "unknown queue"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEnqueueBody))
	if err != nil || len(body) == 0 {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "message body required"})
		return
	}

	id, err := s.queues.Send(r.Context(), name, body)
	if err != nil {
		log.Printf("enqueue to %s failed: %v", name, err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "enqueue failed"})
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "queue": name})
}
