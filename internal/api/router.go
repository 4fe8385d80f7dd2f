// Package api exposes the HTTP surface: ingestion endpoints, operator
// actions on the event queue, admin CRUD for rules and sequences, and the
// audit query interface.
package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/brightdesk/crm-engine/internal/audit"
	"github.com/brightdesk/crm-engine/internal/config"
	"github.com/brightdesk/crm-engine/internal/ingest"
	"github.com/brightdesk/crm-engine/internal/rules"
	"github.com/brightdesk/crm-engine/internal/sequence"
)

// Server bundles the handlers' dependencies.
type Server struct {
	cfg       *config.Config
	db        *sql.DB
	ingest    *ingest.Service
	rules     *rules.Store
	sequences *sequence.Store
	audit     *audit.Store
	events    *ingest.Store
	scheduler *sequence.Scheduler
	startedAt time.Time
}

func NewServer(cfg *config.Config, db *sql.DB, ingestSvc *ingest.Service, ruleStore *rules.Store, seqStore *sequence.Store, auditStore *audit.Store, eventStore *ingest.Store, sched *sequence.Scheduler) *Server {
	return &Server{
		cfg:       cfg,
		db:        db,
		ingest:    ingestSvc,
		rules:     ruleStore,
		sequences: seqStore,
		audit:     auditStore,
		events:    eventStore,
		scheduler: sched,
		startedAt: time.Now(),
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		// Ingestion: per-source shared-secret auth
		r.Route("/ingest", func(r chi.Router) {
			r.Post("/webhook", s.withSourceSecret(s.cfg.Ingest.WebhookSecret, s.handleIngestWebhook))
			r.Post("/email", s.withSourceSecret(s.cfg.Ingest.EmailSecret, s.handleIngestEmail))
			r.Post("/chat", s.withSourceSecret(s.cfg.Ingest.ChatSecret, s.handleIngestChat))
			r.Post("/ses-notifications", s.withSourceSecret(s.cfg.Ingest.SESNotificationSecret, s.handleSESNotification))
		})

		// Operator and admin surface: API-key auth
		r.Group(func(r chi.Router) {
			r.Use(s.requireAPIKey)

			r.Route("/events", func(r chi.Router) {
				r.Get("/", s.handleListEvents)
				r.Get("/{id}", s.handleGetEvent)
				r.Delete("/{id}", s.handleDeleteEvent)
				r.Post("/{id}/process", s.handleProcessEvent)
				r.Post("/{id}/retry", s.handleRetryEvent)
				r.Post("/{id}/reprocess", s.handleReprocessEvent)
				r.Post("/{id}/force-route", s.handleForceRouteEvent)
			})

			r.Route("/rules", func(r chi.Router) {
				r.Get("/", s.handleListRules)
				r.Post("/", s.handleCreateRule)
				r.Get("/{id}", s.handleGetRule)
				r.Put("/{id}", s.handleUpdateRule)
				r.Delete("/{id}", s.handleDeleteRule)
			})

			r.Route("/sequences", func(r chi.Router) {
				r.Get("/", s.handleListSequences)
				r.Post("/", s.handleCreateSequence)
				r.Get("/{id}", s.handleGetSequence)
				r.Put("/{id}", s.handleUpdateSequence)
				r.Delete("/{id}", s.handleDeleteSequence)
				r.Post("/{id}/enroll", s.handleEnroll)
				r.Get("/{id}/enrollments", s.handleListEnrollments)
			})
			r.Post("/enrollments/{id}/cancel", s.handleCancelEnrollment)

			r.Post("/templates", s.handleCreateTemplate)
			r.Get("/templates/{id}", s.handleGetTemplate)

			r.Get("/audit", s.handleQueryAudit)
		})
	})

	return r
}
