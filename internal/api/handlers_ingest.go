package api

import (
	"io"
	"log"
	"net/http"

	"github.com/brightdesk/crm-engine/internal/domain"
	"github.com/brightdesk/crm-engine/internal/pkg/httputil"
)

func (s *Server) handleIngestWebhook(w http.ResponseWriter, r *http.Request) {
	s.acceptEvent(w, r, domain.SourceWebhook)
}

func (s *Server) handleIngestEmail(w http.ResponseWriter, r *http.Request) {
	s.acceptEvent(w, r, domain.SourceEmail)
}

func (s *Server) handleIngestChat(w http.ResponseWriter, r *http.Request) {
	s.acceptEvent(w, r, domain.SourceChat)
}

// acceptEvent stores the payload and, when auto-routing is on, processes it
// inline so the caller's 201 means the pipeline already ran.
func (s *Server) acceptEvent(w http.ResponseWriter, r *http.Request, source domain.EventSource) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httputil.BadRequest(w, "failed to read request body")
		return
	}

	event, err := s.ingest.Ingest(r.Context(), source, body)
	if err != nil {
		if domain.IsValidation(err) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}

	if s.cfg.Ingest.AutoRoute {
		if err := s.ingest.Process(r.Context(), event.ID); err != nil {
			// The event row exists and is retryable; acceptance stands.
			log.Printf("[API] Inline processing of event %s failed: %v", event.ID, err)
		}
	}

	httputil.Created(w, map[string]any{
		"success":  true,
		"event_id": event.ID,
	})
}
