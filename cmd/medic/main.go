// Command medic runs the heartbeat monitor HTTP API and its background
// sweep loop as a single process, wiring every internal/ package against a
// Postgres-backed store.Store (spec.md §1, SPEC_FULL.md §1/§6).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/medicops/medic/infrastructure/logging"
	"github.com/medicops/medic/infrastructure/metrics"
	"github.com/medicops/medic/infrastructure/middleware"
	"github.com/medicops/medic/internal/alertrouter"
	"github.com/medicops/medic/internal/api"
	"github.com/medicops/medic/internal/apikey"
	"github.com/medicops/medic/internal/circuitbreaker"
	"github.com/medicops/medic/internal/clock"
	"github.com/medicops/medic/internal/config"
	"github.com/medicops/medic/internal/jobrun"
	"github.com/medicops/medic/internal/monitor"
	"github.com/medicops/medic/internal/notify"
	"github.com/medicops/medic/internal/platform/database"
	"github.com/medicops/medic/internal/platform/migrations"
	"github.com/medicops/medic/internal/playbook"
	"github.com/medicops/medic/internal/playbook/executors"
	"github.com/medicops/medic/internal/ratelimit"
	"github.com/medicops/medic/internal/secrets"
	"github.com/medicops/medic/internal/snapshot"
	"github.com/medicops/medic/internal/store"
	"github.com/medicops/medic/internal/trigger"
	"github.com/medicops/medic/internal/urlvalidator"
	"github.com/medicops/medic/internal/webhookdelivery"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := logging.New("medic", cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	dsn := fmt.Sprintf("host=%s dbname=%s user=%s password=%s sslmode=disable",
		cfg.DBHost, cfg.DBName, cfg.PGUser, cfg.PGPass)
	db, err := database.Open(ctx, dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxConnections)
	db.SetConnMaxIdleTime(cfg.DBIdleTimeout)
	defer db.Close()

	if err := migrations.Apply(ctx, db); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	st := store.NewPostgres(db)
	realClock := clock.Real{}

	secretsManager, err := secrets.NewManager(cfg.SecretsKey, st)
	if err != nil {
		log.Fatalf("init secrets manager: %v", err)
	}
	secretsCache := secrets.NewCache(secretsManager)

	allowedWebhookHostsCSV := ""
	for i, h := range cfg.AllowedWebhookHosts {
		if i > 0 {
			allowedWebhookHostsCSV += ","
		}
		allowedWebhookHostsCSV += h
	}
	validator := urlvalidator.New(allowedWebhookHostsCSV)

	sender := notify.NewDefaultSender(validator, 5)
	workingHours := alertrouter.NewBusinessHours(time.Local)
	router := alertrouter.New(st, sender.Send, workingHours, cfg.SlackChannelID).
		WithResolver(sender.Resolve)

	breaker := circuitbreaker.New(st, realClock)
	playbookDeps := executors.NewDeps(st, validator, secretsManager, secretsCache)
	engine := playbook.New(st, realClock, secretsManager, playbookDeps)
	triggers := trigger.New(st, breaker, engine)

	jobs := jobrun.New(st, realClock)
	snapshots := snapshot.New(st, realClock)
	webhooks := webhookdelivery.New(st, validator)

	var metricsCollector *metrics.Metrics
	if cfg.MetricsEnabled {
		metricsCollector = metrics.New("medic")
	}

	apiKeys := apikey.New(st)

	rateLimiter := ratelimit.New(
		ratelimit.WithWindow(cfg.RateLimitWindow),
		ratelimit.WithClassLimit(ratelimit.ClassManagement, cfg.RateLimitRequests),
	)

	deps := &api.Deps{
		Store:       st,
		Clock:       realClock,
		Logger:      logger,
		Metrics:     metricsCollector,
		APIKeys:     apiKeys,
		RateLimiter: rateLimiter,
		Snapshots:   snapshots,
		Jobs:        jobs,
		Playbooks:   engine,
		Webhooks:    webhooks,
		AlertRouter: router,
		Triggers:    triggers,
		Secrets:     secretsManager,
		Version:     "dev",
	}

	monitorLoop := monitor.New(st, realClock, router, triggers, jobs, logger, cfg.MonitorWorkers, cfg.HeartbeatTickInterval).
		WithWebhooks(webhooks)

	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	go monitorLoop.Run(monitorCtx)

	handler := api.NewRouter(deps)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	shutdown := middleware.NewGracefulShutdown(server, 30*time.Second)
	shutdown.OnShutdown(cancelMonitor)
	shutdown.ListenForSignals()

	logger.WithContext(ctx).Infof("medic listening on %s (env=%s)", cfg.ListenAddr, cfg.Env)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}

	shutdown.Wait()
	os.Exit(0)
}
