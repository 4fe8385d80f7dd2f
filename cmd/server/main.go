package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/brightdesk/crm-engine/internal/actions"
	"github.com/brightdesk/crm-engine/internal/api"
	"github.com/brightdesk/crm-engine/internal/audit"
	"github.com/brightdesk/crm-engine/internal/classify"
	"github.com/brightdesk/crm-engine/internal/config"
	"github.com/brightdesk/crm-engine/internal/domain"
	"github.com/brightdesk/crm-engine/internal/ingest"
	"github.com/brightdesk/crm-engine/internal/mailer"
	"github.com/brightdesk/crm-engine/internal/pkg/distlock"
	"github.com/brightdesk/crm-engine/internal/resolver"
	"github.com/brightdesk/crm-engine/internal/rules"
	"github.com/brightdesk/crm-engine/internal/sequence"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("Starting BrightDesk CRM automation engine...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("[redis] Unreachable (%v), falling back to PG advisory locks", err)
			redisClient = nil
		}
	}

	registry := domain.NewRegistry(
		domain.TableStrategy{Table: "product_suppliers", AutoCreate: true},
		domain.TableStrategy{Table: "affiliates", AutoCreate: true},
	)

	// Stores
	eventStore := ingest.NewStore(db)
	ruleStore := rules.NewStore(db)
	seqStore := sequence.NewStore(db, registry)
	auditStore := audit.NewStore(db)
	actionStore := actions.NewStore(db)
	res := resolver.New(db, registry)

	// Classification adapter (optional)
	var classifier ingest.Classifier = unavailableClassifier{}
	if cfg.Classifier.Enabled {
		c, err := classify.New(context.Background(), cfg.Classifier, registry)
		if err != nil {
			log.Printf("[Classifier] Disabled: %v", err)
		} else {
			classifier = c
		}
	}

	engine := rules.NewEngine(ruleStore)
	executor := actions.NewExecutor(actionStore, res, seqStore, eventStore, auditStore)
	svc := ingest.NewService(eventStore, res, classifier, engine, executor, actionStore, registry)
	svc.MinConfidence = cfg.Classifier.MinConfidence

	// Scheduler (inline unless a dedicated worker runs it)
	var sched *sequence.Scheduler
	if cfg.Scheduler.Enabled {
		var sender sequence.SendCollaborator
		if cfg.SES.Enabled {
			m, err := mailer.New(cfg.SES)
			if err != nil {
				log.Fatalf("Failed to initialize SES mailer: %v", err)
			}
			sender = m
		} else {
			log.Println("[Mailer] SES disabled; sequence sends will fail until configured")
			sender = mailer.NewWithClient(nil, cfg.SES.FromName, cfg.SES.FromEmail, cfg.SES.Timeout())
		}
		lock := distlock.NewLock(redisClient, db, "sequence-scheduler-tick", 2*cfg.Scheduler.Interval())
		sched = sequence.NewScheduler(seqStore, sender, auditStore, lock,
			cfg.Scheduler.Interval(), cfg.Scheduler.BatchSize, cfg.Scheduler.MaxSendAttempts)
		sched.Start()
		defer sched.Stop()
	}

	server := api.NewServer(cfg, db, svc, ruleStore, seqStore, auditStore, eventStore, sched)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s:%d", host, port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	log.Println("Goodbye")
}

// unavailableClassifier stands in when Bedrock is disabled: every event
// stays unrouted until an operator force-routes it.
type unavailableClassifier struct{}

func (unavailableClassifier) Classify(context.Context, *domain.RawEvent) (domain.EntityTable, float64, error) {
	return "", 0, &domain.CollaboratorError{Collaborator: "bedrock", Err: fmt.Errorf("classifier disabled")}
}
