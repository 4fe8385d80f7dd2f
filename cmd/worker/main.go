// The worker binary runs the sequence scheduler on its own, for deployments
// that keep email dispatch out of the API process. The distributed tick lock
// makes it safe to run alongside a server with an inline scheduler.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/brightdesk/crm-engine/internal/audit"
	"github.com/brightdesk/crm-engine/internal/config"
	"github.com/brightdesk/crm-engine/internal/domain"
	"github.com/brightdesk/crm-engine/internal/mailer"
	"github.com/brightdesk/crm-engine/internal/pkg/distlock"
	"github.com/brightdesk/crm-engine/internal/sequence"
)

func main() {
	log.Println("Starting BrightDesk sequence worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
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
	seqStore := sequence.NewStore(db, registry)
	auditStore := audit.NewStore(db)

	m, err := mailer.New(cfg.SES)
	if err != nil {
		log.Fatalf("Failed to initialize SES mailer: %v", err)
	}

	lock := distlock.NewLock(redisClient, db, "sequence-scheduler-tick", 2*cfg.Scheduler.Interval())
	sched := sequence.NewScheduler(seqStore, m, auditStore, lock,
		cfg.Scheduler.Interval(), cfg.Scheduler.BatchSize, cfg.Scheduler.MaxSendAttempts)
	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")
	sched.Stop()
}
