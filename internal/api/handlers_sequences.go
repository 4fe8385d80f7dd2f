package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brightdesk/crm-engine/internal/domain"
	"github.com/brightdesk/crm-engine/internal/pkg/httputil"
)

func (s *Server) handleListSequences(w http.ResponseWriter, r *http.Request) {
	out, err := s.sequences.ListSequences(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"sequences": out, "count": len(out)})
}

func (s *Server) handleGetSequence(w http.ResponseWriter, r *http.Request) {
	def, err := s.sequences.GetSequence(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	httputil.OK(w, def)
}

func (s *Server) handleCreateSequence(w http.ResponseWriter, r *http.Request) {
	var def domain.SequenceDefinition
	if !httputil.Decode(w, r, &def) {
		return
	}
	if msg := validateSequence(&def); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}
	if err := s.sequences.CreateSequence(r.Context(), &def); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, def)
}

func (s *Server) handleUpdateSequence(w http.ResponseWriter, r *http.Request) {
	var def domain.SequenceDefinition
	if !httputil.Decode(w, r, &def) {
		return
	}
	def.ID = chi.URLParam(r, "id")
	if msg := validateSequence(&def); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}
	if err := s.sequences.UpdateSequence(r.Context(), &def); err != nil {
		s.writeStoreError(w, err)
		return
	}
	httputil.OK(w, def)
}

func (s *Server) handleDeleteSequence(w http.ResponseWriter, r *http.Request) {
	if err := s.sequences.DeleteSequence(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	httputil.NoContent(w)
}

// handleEnroll adds a contact to a sequence. Re-enrolling an already-active
// contact is a no-op reported through "created": false.
func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactType string `json:"contact_type"`
		ContactID   string `json:"contact_id"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.ContactType == "" || req.ContactID == "" {
		httputil.BadRequest(w, "contact_type and contact_id are required")
		return
	}

	created, err := s.sequences.Enroll(r.Context(), chi.URLParam(r, "id"),
		domain.EntityTable(req.ContactType), req.ContactID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"success": true, "created": created})
}

func (s *Server) handleListEnrollments(w http.ResponseWriter, r *http.Request) {
	page := httputil.ParsePage(r, s.cfg.Audit.DefaultPageSize, s.cfg.Audit.MaxPageSize)
	status := domain.EnrollmentStatus(r.URL.Query().Get("status"))

	out, err := s.sequences.ListEnrollments(r.Context(), chi.URLParam(r, "id"), status, page.Limit, page.Offset)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"enrollments": out, "count": len(out)})
}

func (s *Server) handleCancelEnrollment(w http.ResponseWriter, r *http.Request) {
	if err := s.sequences.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"success": true})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var t domain.EmailTemplate
	if !httputil.Decode(w, r, &t) {
		return
	}
	if t.Name == "" || t.Subject == "" || t.BodyHTML == "" {
		httputil.BadRequest(w, "name, subject, and body_html are required")
		return
	}
	if err := s.sequences.CreateTemplate(r.Context(), &t); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, t)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.sequences.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	httputil.OK(w, t)
}

func validateSequence(def *domain.SequenceDefinition) string {
	if def.Name == "" {
		return "sequence name is required"
	}
	seen := make(map[int]bool)
	for _, st := range def.Steps {
		if st.StepOrder < 1 {
			return "step_order must be >= 1"
		}
		if seen[st.StepOrder] {
			return "duplicate step_order"
		}
		seen[st.StepOrder] = true
		if st.DelayDays < 0 || st.DelayHours < 0 {
			return "step delays must be non-negative"
		}
		if st.TemplateID == "" {
			return "each step requires a template_id"
		}
	}
	return ""
}
