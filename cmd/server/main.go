package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appadmission "github.com/hotline/admissions/internal/application/admission"
	"github.com/hotline/admissions/internal/domain/admission"
	"github.com/hotline/admissions/internal/domain/shared"
	"github.com/hotline/admissions/internal/infrastructure/auth"
	"github.com/hotline/admissions/internal/infrastructure/cache"
	"github.com/hotline/admissions/internal/infrastructure/config"
	"github.com/hotline/admissions/internal/infrastructure/discord"
	"github.com/hotline/admissions/internal/infrastructure/event"
	"github.com/hotline/admissions/internal/infrastructure/logger"
	"github.com/hotline/admissions/internal/infrastructure/migration"
	"github.com/hotline/admissions/internal/infrastructure/persistence"
	"github.com/hotline/admissions/internal/infrastructure/scheduler"
	"github.com/hotline/admissions/internal/infrastructure/telemetry"
	"github.com/hotline/admissions/internal/interfaces/http/handler"
	"github.com/hotline/admissions/internal/interfaces/http/router"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	telemetryCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}

	// The log pipeline has to exist before the logger so entries can be teed to it
	logsCfg := telemetryCfg
	logsCfg.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.LogExportEnabled
	logProvider, err := telemetry.NewLoggerProvider(ctx, logsCfg, zap.NewNop())
	if err != nil {
		panic("Failed to initialize log exporter: " + err.Error())
	}
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}, logProvider.ZapCore(level))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()
	// persistence models log row-level decode problems through zap.L()
	restoreGlobals := zap.ReplaceGlobals(log)
	defer restoreGlobals()

	log.Info("Starting Hotline Admissions",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	if err := cfg.Discord.Validate(); err != nil {
		log.Fatal("Discord configuration incomplete", zap.Error(err))
	}

	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetryCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{Config: telemetryCfg}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	meter := meterProvider.Meter(telemetry.TracerName)

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), 200*time.Millisecond)
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if cfg.Database.Driver == "postgres" {
		sqlDB, err := db.DB.DB()
		if err != nil {
			log.Fatal("Failed to get sql.DB", zap.Error(err))
		}
		if err := migration.ApplyEmbedded(sqlDB, log); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	dbTracing := telemetry.DefaultDBTracingConfig()
	dbTracing.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled
	dbTracing.LogFullSQL = cfg.Telemetry.DBLogFullSQL
	if cfg.Database.Driver == "sqlite" {
		dbTracing.DBSystem = "sqlite"
	}
	if err := telemetry.RegisterDBTracing(db.DB, dbTracing, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully", zap.String("driver", cfg.Database.Driver))

	applicationRepo := persistence.NewGormApplicationRepository(db.DB)
	inviteRepo := persistence.NewGormInviteRepository(db.DB)

	// Idempotency store for notifications and event handlers
	store, err := cache.NewIdempotencyStoreFactory(cfg.Redis, cfg.Idempotency,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).CreateStore(ctx)
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}()

	// Chat platform
	session, selfID, err := discord.Open(cfg.Discord.Token, log)
	if err != nil {
		log.Fatal("Failed to connect to Discord", zap.Error(err))
	}
	platform := discord.NewClient(session, discord.ClientConfig{
		SelfID:               selfID,
		GuildID:              cfg.Discord.GuildID,
		DiscussionCategoryID: cfg.Discord.DiscussionCategoryID,
		ServerOwnerRoleID:    cfg.Discord.ServerOwnerRoleID,
		CallTimeout:          cfg.Reconcile.CallTimeout,
	}, log)

	engine := admission.NewDecisionEngine(admission.Thresholds{
		ApprovalThreshold:      cfg.Review.ApprovalThreshold,
		DenyFloor:              cfg.Review.DenyFloor,
		ContestMinApprovals:    cfg.Review.ContestMinApprovals,
		ContestMinDenies:       cfg.Review.ContestMinDenies,
		SupermajorityRatio:     cfg.Review.SupermajorityRatio,
		Quorum:                 cfg.Review.Quorum,
		EarlyApprovalThreshold: cfg.Review.EarlyApprovalThreshold,
		ReviewWindow:           cfg.Review.ReviewWindow,
	}, nil)

	reviewMetrics, err := telemetry.NewReviewMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create review metrics", zap.Error(err))
	}

	// Event bus
	bus := event.NewInMemoryEventBus(log)
	serializer := event.NewEventSerializer()
	event.RegisterAdmissionEvents(serializer)

	reviewService, err := appadmission.NewReviewService(
		applicationRepo,
		inviteRepo,
		platform,
		engine,
		bus,
		store,
		appadmission.ServiceConfig{
			ApprovalChannelID: cfg.Discord.ApprovalChannelID,
			VoteChannelID:     cfg.Discord.VoteChannelID,
			InviteBaseURL:     cfg.Discord.InviteBaseURL,
			InviteMaxUses:     cfg.Review.InviteMaxUses,
			RetryWindow:       cfg.Reconcile.RetryWindow,
			NotificationTTL:   cfg.Idempotency.TTL,
		},
		log,
		appadmission.WithReviewMetrics(reviewMetrics),
	)
	if err != nil {
		log.Fatal("Failed to create review service", zap.Error(err))
	}

	eventRouter := appadmission.NewRouter(discord.NewGateway(session), reviewService, applicationRepo, appadmission.RouterConfig{
		ApprovalChannelID: cfg.Discord.ApprovalChannelID,
		VoteChannelID:     cfg.Discord.VoteChannelID,
		SelfID:            selfID,
		Debounce:          cfg.Router.Debounce,
		HandlerTimeout:    cfg.Router.HandlerTimeout,
	}, log)

	bus.Subscribe(appadmission.NewTrackingHandler(eventRouter, log))
	bus.Subscribe(event.NewIdempotentHandler("audit",
		appadmission.NewAuditLogHandler(serializer, log),
		store,
		log,
		event.WithIdempotencyConfig(shared.IdempotencyConfig{TTL: cfg.Idempotency.TTL, Enabled: true}),
	))

	reconcileScheduler, err := scheduler.NewReconcileScheduler(reviewService.Reconciler().Reconcile, log,
		scheduler.ReconcileSchedulerConfig{
			Enabled:     cfg.Reconcile.Enabled,
			Interval:    cfg.Reconcile.Interval,
			RunOnStart:  cfg.Reconcile.RunOnStart,
			PassTimeout: cfg.Reconcile.PassTimeout,
		})
	if err != nil {
		log.Fatal("Failed to create reconcile scheduler", zap.Error(err))
	}
	if cfg.Reconcile.Enabled {
		reviewService.SetPassRunner(reconcileScheduler)
	}

	if err := bus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	if err := eventRouter.Start(ctx); err != nil {
		log.Fatal("Failed to start event router", zap.Error(err))
	}
	if err := reconcileScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start reconcile scheduler", zap.Error(err))
	}

	// Admin API
	systemHandler := handler.NewSystemHandler(cfg.App.Name, version, cfg.App.Env).
		WithCheck("database", db.Ping).
		WithCheck("discord", func() error {
			if !session.DataReady {
				return errors.New("gateway not ready")
			}
			return nil
		})
	httpEngine, err := router.NewEngine(router.Deps{
		Config:      cfg,
		Logger:      log,
		JWT:         auth.NewJWTService(cfg.JWT),
		Meter:       meter,
		Application: handler.NewApplicationHandler(reviewService, reconcileScheduler, log),
		System:      systemHandler,
	})
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        httpEngine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := reconcileScheduler.Stop(shutdownCtx); err != nil {
		log.Error("Reconcile scheduler did not stop cleanly", zap.Error(err))
	}
	if err := eventRouter.Stop(shutdownCtx); err != nil {
		log.Error("Event router did not stop cleanly", zap.Error(err))
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Error("Event bus did not stop cleanly", zap.Error(err))
	}
	if err := session.Close(); err != nil {
		log.Error("Error closing Discord session", zap.Error(err))
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer provider", zap.Error(err))
	}

	log.Info("Server exited gracefully")
	_ = logger.Sync(log)
	if err := logProvider.Shutdown(shutdownCtx); err != nil {
		// the OTLP log core is gone, this only reaches stdout
		log.Error("Error shutting down log provider", zap.Error(err))
	}
}
