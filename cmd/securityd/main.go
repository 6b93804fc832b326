package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coverbridge/platform-security/internal/domain/incident"
	"github.com/coverbridge/platform-security/internal/domain/rbac"
	"github.com/coverbridge/platform-security/internal/domain/threat"
	"github.com/coverbridge/platform-security/internal/infrastructure/audit"
	"github.com/coverbridge/platform-security/internal/infrastructure/cache"
	"github.com/coverbridge/platform-security/internal/infrastructure/config"
	"github.com/coverbridge/platform-security/internal/infrastructure/repository"
	"github.com/coverbridge/platform-security/internal/infrastructure/scheduler"
	"github.com/coverbridge/platform-security/internal/infrastructure/telemetry"
	"github.com/coverbridge/platform-security/internal/service/authz"
	"github.com/coverbridge/platform-security/internal/service/response"
	svcvalidation "github.com/coverbridge/platform-security/internal/service/validation"
)

// application bundles the wired services. A host process embeds these; this
// binary only drives the periodic maintenance tasks.
type application struct {
	validator *svcvalidation.Service
	incidents *response.Service
	detector  *response.Detector
	authz     *authz.Service
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	signatures := threat.DefaultSignatures()
	if cfg.Validation.SignatureFile != "" {
		signatures, err = threat.LoadSignatures(cfg.Validation.SignatureFile)
		if err != nil {
			logger.Fatal("failed to load threat signatures", zap.Error(err))
		}
	}

	playbookDefs := incident.DefaultPlaybooks()
	if cfg.Incident.PlaybookFile != "" {
		playbookDefs, err = incident.LoadPlaybooks(cfg.Incident.PlaybookFile)
		if err != nil {
			logger.Fatal("failed to load playbooks", zap.Error(err))
		}
	}
	playbooks, err := incident.NewPlaybookTable(playbookDefs)
	if err != nil {
		logger.Fatal("invalid playbook table", zap.Error(err))
	}

	roles, err := rbac.NewRoleGraph(rbac.DefaultRoleDefinitions())
	if err != nil {
		logger.Fatal("invalid role hierarchy", zap.Error(err))
	}

	var store repository.IncidentStore
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		store = repository.NewRedisIncidentStore(client, logger)
		logger.Info("using redis incident store", zap.String("addr", cfg.Redis.Addr))
	} else {
		store = repository.NewMemoryIncidentStore()
		logger.Info("using in-memory incident store")
	}

	sink := audit.NewZapSink(logger, cfg.Audit.AlertsPerMinute)

	incidents := response.NewService(store, playbooks, sink, sha256Hasher{},
		metrics, logger, response.Config{
			EscalationUserCount: cfg.Incident.EscalationUserCount,
			EscalationAge:       cfg.Incident.EscalationAge,
			RegulatoryDeadline:  cfg.Incident.RegulatoryDeadline,
			PatternWindowCount:  cfg.Incident.PatternWindowCount,
			OverdueAge:          cfg.Incident.OverdueAge,
		})

	resultCache, err := cache.NewValidationCache(cfg.Validation.CacheSizeMB, cfg.Validation.CacheEntryLifetime)
	if err != nil {
		logger.Fatal("failed to initialize validation cache", zap.Error(err))
	}
	defer resultCache.Close()

	app := &application{
		validator: svcvalidation.NewService(threat.NewScanner(signatures), resultCache,
			sink, incidents, metrics, logger, cfg.Validation.FieldRiskThreshold),
		incidents: incidents,
		detector: response.NewDetector(incidents, response.DetectorConfig{
			FailedLoginThreshold: cfg.Incident.FailedLoginThreshold,
			FailedLoginWindow:    cfg.Incident.FailedLoginWindow,
			ExportSizeThreshold:  cfg.Incident.ExportSizeThreshold,
		}),
		authz: authz.NewService(roles, sink, metrics, logger, authz.Config{
			MaxGrantDuration: cfg.Authz.MaxGrantDuration,
		}),
	}

	sched := scheduler.New(logger)
	if err := sched.Add("attack-pattern-check", cfg.Incident.PatternCheckInterval, app.incidents.CheckAttackPatterns); err != nil {
		logger.Fatal("failed to register task", zap.Error(err))
	}
	if err := sched.Add("daily-incident-review", cfg.Incident.DailyReviewInterval, app.incidents.DailyReview); err != nil {
		logger.Fatal("failed to register task", zap.Error(err))
	}
	if err := sched.Add("grant-sweep", cfg.Authz.GrantSweepInterval, app.authz.SweepExpiredGrants); err != nil {
		logger.Fatal("failed to register task", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	logger.Info("platform-security core started",
		zap.String("environment", cfg.Environment))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("shutting down", zap.String("signal", sig.String()))
	cancel()
	sched.Stop()
}

// sha256Hasher is the default evidence-integrity collaborator: a digest over
// the evidence location. Real deployments substitute a content hashing call.
type sha256Hasher struct{}

func (sha256Hasher) HashEvidence(location string) (string, error) {
	sum := sha256.Sum256([]byte(location))
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
