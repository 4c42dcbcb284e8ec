// Package main is the entry point for the activity tracker API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"activity-tracker/internal/config"
	"activity-tracker/internal/handler"
	"activity-tracker/internal/pkg/db"
	"activity-tracker/internal/pkg/guard"
	"activity-tracker/internal/repository"
	"activity-tracker/internal/service"
	"activity-tracker/internal/worker"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := repository.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	activityRepo := repository.NewActivityRepository(dbPool.Pool)
	ratingRepo := repository.NewRatingRepository(dbPool.Pool)
	processingRepo := repository.NewProcessingRepository(dbPool.Pool)
	changeLogRepo := repository.NewChangeLogRepository(dbPool.Pool)
	cursorRepo := repository.NewCursorRepository(dbPool.Pool)

	// Initialize services
	changeWriter := service.NewChangeWriter(changeLogRepo)
	inflightGuard := guard.NewInflightGuard()

	completionService := service.NewCompletionService(
		activityRepo,
		ratingRepo,
		processingRepo,
		inflightGuard,
		changeWriter,
		service.CompletionConfig{
			LockStaleness:   cfg.Coordinator.LockStaleness,
			MaxRetries:      cfg.Coordinator.MaxRetries,
			StartingScore:   cfg.Rating.StartingScore,
			VolatilityStart: cfg.Rating.VolatilityStart,
			VolatilityStep:  cfg.Rating.VolatilityStep,
			VolatilityFloor: cfg.Rating.VolatilityFloor,
		},
	)

	syncService := service.NewSyncService(changeLogRepo, cursorRepo, service.SyncConfig{
		DefaultLimit:  cfg.Sync.DefaultLimit,
		MaxLimit:      cfg.Sync.MaxLimit,
		RetentionDays: cfg.Sync.RetentionDays,
	})

	// Start the background maintenance worker
	maintainer := worker.NewMaintainer(processingRepo, completionService, syncService, worker.Config{
		SweepInterval:   cfg.Coordinator.SweepInterval,
		CompactInterval: cfg.Sync.CompactInterval,
		LockStaleness:   cfg.Coordinator.LockStaleness,
		RetryBackoff:    cfg.Coordinator.RetryBackoff,
	})
	maintainer.Start(ctx)

	// Initialize HTTP handlers and routes
	activityHandler := handler.NewActivityHandler(completionService)
	syncHandler := handler.NewSyncHandler(syncService)

	app := fiber.New(fiber.Config{
		AppName:      "activity-tracker",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})
	app.Use(recover.New())
	app.Use(requestLogger())

	handler.Register(app, activityHandler, syncHandler, dbPool.Pool)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.Info().Str("addr", addr).Msg("Server is starting...")
		if err := app.Listen(addr); err != nil {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shut down")
	}

	maintainer.Stop()
	log.Info().Msg("Server stopped gracefully")
}

// requestLogger logs each request through zerolog so HTTP traffic shares
// the application log stream.
func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
		return err
	}
}
