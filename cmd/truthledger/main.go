package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/truthledger/ledger/internal/config"
	"github.com/truthledger/ledger/internal/derive"
	"github.com/truthledger/ledger/internal/extract"
	"github.com/truthledger/ledger/internal/fetch"
	"github.com/truthledger/ledger/internal/ingest"
	"github.com/truthledger/ledger/internal/integrity"
	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/orchestrator"
	"github.com/truthledger/ledger/internal/ratelimit"
	"github.com/truthledger/ledger/internal/registry"
	"github.com/truthledger/ledger/internal/scoring"
	"github.com/truthledger/ledger/internal/server"
	"github.com/truthledger/ledger/internal/storage"
	"github.com/truthledger/ledger/internal/telemetry"
	"github.com/truthledger/ledger/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := parseLogLevel(os.Getenv("TRUTHLEDGER_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("truthledger starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// Build the entity/attribute registry from whatever is in the database.
	// A fresh install starts with an empty registry. No HTTP endpoint adds
	// entities or attributes, and the registry is loaded only here, at
	// startup.
	entities, err := db.ListEntities(ctx)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	attributes, err := db.ListAttributes(ctx)
	if err != nil {
		return fmt.Errorf("load attributes: %w", err)
	}
	reg, err := registry.Load(entities, attributes)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	logger.Info("registry loaded", "entities", len(entities), "attributes", len(attributes))

	targets, err := parseIngestTargets(cfg.IngestTargetsJSON)
	if err != nil {
		return fmt.Errorf("parse ingest targets: %w", err)
	}
	logger.Info("ingest targets configured", "count", len(targets))

	fetcher := fetch.NewHTTPFetcher()
	ingestor := ingest.NewIngestor(db, fetcher, fetch.PlainTextReadability{})
	deriver := derive.New(db, reg, derive.DefaultPolicies())
	scorer := scoring.New(db)
	checker := integrity.New(db)

	orch := orchestrator.New(db, logger)
	orch.SetRetryPolicy(cfg.RetryMaxAttempts, cfg.RetryBaseDelay)
	orch.Register(ingest.NewJobSpec(ingestor, targets, cfg.IngestWorkers))
	orch.Register(extract.NewJobSpec(db, reg, extract.DefaultPatterns(), cfg.ExtractWorkers))
	orch.Register(derive.NewJobSpec(db, deriver, cfg.DeriveWorkers))
	orch.Register(scoring.NewJobSpec(db, scorer, cfg.ScoreWorkers))
	orch.Register(integrity.NewJobSpec(db, checker, logger))

	limiter := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer func() { _ = limiter.Close() }()

	srv := server.New(server.ServerConfig{
		DB:                  db,
		Orch:                orch,
		Logger:              logger,
		RateLimiter:         limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	})

	go integrityScheduleLoop(ctx, orch, logger, cfg.IntegrityCheckInterval)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("truthledger shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), cfg.ShutdownHTTPTimeout)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	logger.Info("truthledger stopped")
	return nil
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ingestTargetConfig is the wire shape of one entry in
// TRUTHLEDGER_INGEST_TARGETS (spec.md §1: feed discovery is out of scope,
// so the poll list is supplied by configuration).
type ingestTargetConfig struct {
	SourceID string `json:"source_id"`
	URL      string `json:"url"`
	DocType  string `json:"doc_type"`
}

func parseIngestTargets(raw string) ([]ingest.Target, error) {
	var entries []ingestTargetConfig
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode TRUTHLEDGER_INGEST_TARGETS: %w", err)
	}

	targets := make([]ingest.Target, 0, len(entries))
	for _, e := range entries {
		sourceID, err := uuid.Parse(e.SourceID)
		if err != nil {
			return nil, fmt.Errorf("ingest target %q: invalid source_id: %w", e.URL, err)
		}
		targets = append(targets, ingest.Target{
			SourceID: sourceID,
			URL:      e.URL,
			DocType:  model.DocType(e.DocType),
		})
	}
	return targets, nil
}

// integrityScheduleLoop runs the integrity stage on a fixed interval
// (spec.md §4.10) so violations surface without an operator having to
// trigger every run through the run-control API.
func integrityScheduleLoop(ctx context.Context, orch *orchestrator.Orchestrator, logger *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := orch.Start(ctx, model.JobIntegrity, "scheduled"); err != nil {
				logger.Warn("scheduled integrity run failed to start", "error", err)
			}
		}
	}
}
