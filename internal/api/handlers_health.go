package api

import (
	"net/http"
	"time"

	"github.com/brightdesk/crm-engine/internal/pkg/httputil"
)

// handleHealth reports process, database, queue, and scheduler health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}

	if err := s.db.PingContext(r.Context()); err != nil {
		resp["status"] = "degraded"
		resp["database"] = "unreachable"
	} else {
		resp["database"] = "ok"
		if counts, err := s.events.CountByStatus(r.Context()); err == nil {
			resp["queue"] = counts
		}
	}

	if s.scheduler != nil {
		h := s.scheduler.Health()
		resp["scheduler"] = h
		if h.Running && !h.Healthy {
			resp["status"] = "degraded"
		}
	}

	status := http.StatusOK
	if resp["status"] != "ok" {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, resp)
}
