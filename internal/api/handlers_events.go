package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brightdesk/crm-engine/internal/domain"
	"github.com/brightdesk/crm-engine/internal/pkg/httputil"
)

// handleListEvents is the operator queue view: events filtered by status.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	page := httputil.ParsePage(r, s.cfg.Audit.DefaultPageSize, s.cfg.Audit.MaxPageSize)
	status := domain.EventStatus(r.URL.Query().Get("status"))

	events, err := s.ingest.Queue(r.Context(), status, page.Limit, page.Offset)
	if err != nil {
		if domain.IsValidation(err) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"events": events,
		"count":  len(events),
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := s.events.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	httputil.OK(w, event)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.ingest.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	httputil.NoContent(w)
}

func (s *Server) handleProcessEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.ingest.Process(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"success": true, "event_id": id})
}

// handleRetryEvent resets a failed event to pending and clears its error.
func (s *Server) handleRetryEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.ingest.Retry(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"success": true, "event_id": id})
}

// handleReprocessEvent cascade-clears the event's links and tags, then
// re-queues it.
func (s *Server) handleReprocessEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.ingest.Reprocess(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"success": true, "event_id": id})
}

// handleForceRouteEvent assigns the entity table as a human override
// (confidence 1.0).
func (s *Server) handleForceRouteEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityTable string `json:"entity_table"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.ingest.ForceRoute(r.Context(), id, domain.EntityTable(req.EntityTable)); err != nil {
		if domain.IsValidation(err) {
			httputil.BadRequest(w, err.Error())
			return
		}
		s.writeStoreError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"success": true, "event_id": id, "entity_table": req.EntityTable})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		httputil.NotFound(w, "not found")
		return
	}
	httputil.InternalError(w, err)
}
