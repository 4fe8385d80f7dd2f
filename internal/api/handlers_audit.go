package api

import (
	"net/http"

	"github.com/brightdesk/crm-engine/internal/audit"
	"github.com/brightdesk/crm-engine/internal/domain"
	"github.com/brightdesk/crm-engine/internal/pkg/httputil"
)

// handleQueryAudit serves the audit log, filtered by automation_type,
// automation_id, and status. Page size defaults to the configured value and
// is hard-capped to protect the datastore.
func (s *Server) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	page := httputil.ParsePage(r, s.cfg.Audit.DefaultPageSize, s.cfg.Audit.MaxPageSize)
	q := r.URL.Query()

	entries, err := s.audit.Query(r.Context(), audit.Filter{
		AutomationType: domain.AutomationType(q.Get("automation_type")),
		AutomationID:   q.Get("automation_id"),
		Status:         domain.SendStatus(q.Get("status")),
		Limit:          page.Limit,
		Offset:         page.Offset,
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"entries": entries,
		"count":   len(entries),
		"limit":   page.Limit,
		"offset":  page.Offset,
	})
}
