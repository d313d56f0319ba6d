package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cmlabs-hris/productivity-engine/internal/config"
	"github.com/cmlabs-hris/productivity-engine/internal/domain/productivity"
	appHTTP "github.com/cmlabs-hris/productivity-engine/internal/handler/http"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/cron"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/database"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/eventbus"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/jwt"
	"github.com/cmlabs-hris/productivity-engine/internal/pkg/sse"
	"github.com/cmlabs-hris/productivity-engine/internal/repository/memory"
	"github.com/cmlabs-hris/productivity-engine/internal/repository/postgresql"
	idleService "github.com/cmlabs-hris/productivity-engine/internal/service/idle"
	recalcService "github.com/cmlabs-hris/productivity-engine/internal/service/recalc"
	scoreService "github.com/cmlabs-hris/productivity-engine/internal/service/score"
)

const version = "v1.0.0"

type repositories struct {
	source  productivity.SourceRepository
	score   productivity.ScoreRepository
	alert   productivity.AlertRepository
	derived productivity.DerivedRepository
	close   func()
}

func main() {
	if err := run(); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.App.LogLevel),
	})).With(
		slog.String("app", "productivity-engine"),
		slog.String("version", version),
		slog.String("env", cfg.App.Env),
	))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	defer repos.close()

	publisher, err := eventbus.New(eventbus.Config{Brokers: cfg.Kafka.Brokers, WriteTimeout: cfg.Kafka.WriteTimeout})
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Error("Failed to close event publisher", "error", err)
		}
	}()

	JWTService, err := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiration)
	if err != nil {
		return err
	}

	hub := sse.NewHub()
	scoreSvc := scoreService.NewScoreService(repos.source, repos.score, cfg.Engine.DefaultTimezone)
	monitor := idleService.NewIdleMonitor(repos.source, repos.score, repos.alert, cfg.Engine.DefaultTimezone,
		idleService.WithPublisher(publisher, cfg.Kafka.AlertTopic))
	orchestrator := recalcService.NewOrchestrator(scoreSvc, monitor, repos.source, repos.alert, repos.derived, hub,
		recalcService.Config{
			Workers:       cfg.Engine.RecalcWorkers,
			Retention:     cfg.Engine.JobRetention,
			ProgressTopic: cfg.Kafka.ProgressTopic,
		},
		recalcService.WithPublisher(publisher),
	)

	scheduler := cron.NewScheduler()
	cron.NewProductivityJobs(monitor, orchestrator, cron.ProductivityJobsConfig{
		IdleCheckInterval: cfg.Engine.IdleCheckInterval,
		NightlyHour:       cfg.Engine.NightlyRecalcHour,
		DefaultTimezone:   cfg.Engine.DefaultTimezone,
	}).RegisterJobs(scheduler)

	scoreHandler := appHTTP.NewScoreHandler(scoreSvc)
	idleHandler := appHTTP.NewIdleHandler(monitor)
	recalculationHandler := appHTTP.NewRecalculationHandler(orchestrator, JWTService)

	router := appHTTP.NewRouter(
		appHTTP.RouterConfig{
			AllowedOrigins: cfg.App.AllowedOrigins,
			Env:            cfg.App.Env,
			Version:        version,
		},
		JWTService,
		scoreHandler,
		idleHandler,
		recalculationHandler,
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	scheduler.Start()

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Server running", "addr", server.Addr, "store", cfg.Engine.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			scheduler.Stop()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scheduler.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		slog.Error("Recalculation workers did not stop in time", "error", err)
	}

	slog.Info("Server stopped")
	return nil
}

func openRepositories(ctx context.Context, cfg *config.Config) (*repositories, error) {
	if cfg.Engine.Store == config.StoreMemory {
		slog.Warn("Using in-memory store, data is lost on restart")
		store := memory.NewStore()
		return &repositories{source: store, score: store, alert: store, derived: store, close: func() {}}, nil
	}

	db, err := database.NewPostgreSQLDB(ctx, database.PoolConfig{
		DSN:      cfg.DatabaseURL(),
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := postgresql.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &repositories{
		source:  postgresql.NewSourceRepository(db),
		score:   postgresql.NewScoreRepository(db),
		alert:   postgresql.NewAlertRepository(db),
		derived: postgresql.NewDerivedRepository(db),
		close:   db.Close,
	}, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
