package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brightdesk/crm-engine/internal/domain"
	"github.com/brightdesk/crm-engine/internal/pkg/httputil"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	out, err := s.rules.List(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"rules": out, "count": len(out)})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.rules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	httputil.OK(w, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.Rule
	if !httputil.Decode(w, r, &rule) {
		return
	}
	if msg := validateRule(&rule); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}
	if err := s.rules.Create(r.Context(), &rule); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.Rule
	if !httputil.Decode(w, r, &rule) {
		return
	}
	rule.ID = chi.URLParam(r, "id")
	if msg := validateRule(&rule); msg != "" {
		httputil.BadRequest(w, msg)
		return
	}
	if err := s.rules.Update(r.Context(), &rule); err != nil {
		s.writeStoreError(w, err)
		return
	}
	httputil.OK(w, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.rules.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	httputil.NoContent(w)
}

func validateRule(rule *domain.Rule) string {
	if rule.Name == "" {
		return "rule name is required"
	}
	if rule.TargetTable == "" {
		return "target_entity_table is required"
	}
	for _, c := range rule.Conditions {
		switch c.Operator {
		case domain.OpEquals, domain.OpNotEquals, domain.OpContains,
			domain.OpMatches, domain.OpGTE, domain.OpLTE:
		default:
			return "unknown operator: " + string(c.Operator)
		}
		if c.Field == "" {
			return "condition field is required"
		}
	}
	for _, a := range rule.Actions {
		switch a.Type {
		case domain.ActionTag, domain.ActionLinkEntity, domain.ActionCreateTicket,
			domain.ActionEnrollSequence, domain.ActionResetProcessing:
		default:
			return "unknown action type: " + string(a.Type)
		}
	}
	return ""
}
