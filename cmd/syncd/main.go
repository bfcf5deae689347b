package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"weelo/internal/api"
	"weelo/internal/config"
	"weelo/internal/connectivity"
	"weelo/internal/database"
	"weelo/internal/domain"
	"weelo/internal/events"
	"weelo/internal/logging"
	"weelo/internal/metrics"
	"weelo/internal/remote"
	"weelo/internal/repository"
	syncengine "weelo/internal/sync"

	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}
	logger := baseLogger.With().Str("component", "syncd-main").Logger()

	metrics.Register()

	storeLogger := baseLogger.With().Str("component", "store").Logger()
	store, err := database.NewStore(cfg.Database.Path, &storeLogger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventBus := events.NewEventBus()
	subscribeLifecycleEvents(eventBus, &logger)

	reports := initReports(cfg, baseLogger)

	monitorLogger := baseLogger.With().Str("component", "connectivity").Logger()
	monitor := connectivity.NewMonitor(
		cfg.Remote.BaseURL+cfg.Remote.HealthPath,
		cfg.Sync.ProbeInterval,
		cfg.Sync.ProbeFailures,
		&monitorLogger,
	)
	go monitor.Start(ctx)

	remoteLogger := baseLogger.With().Str("component", "remote").Logger()
	invoker := remote.NewInvoker(
		cfg.Remote.RPS,
		cfg.Remote.Burst,
		remote.RetryPolicy{
			MaxAttempts:   cfg.Remote.MaxAttempts,
			InitialDelay:  cfg.Remote.InitialDelay,
			MaxDelay:      cfg.Remote.MaxDelay,
			BackoffFactor: cfg.Remote.BackoffFactor,
		},
		cfg.Remote.Timeout,
		&remoteLogger,
	)
	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, invoker, &remoteLogger)

	engineLogger := baseLogger.With().Str("component", "sync-engine").Logger()
	dispatcher := syncengine.NewDispatcher(client, &engineLogger)
	tracker := syncengine.NewStatusTracker(eventBus)
	engine := syncengine.NewEngine(store, dispatcher, monitor, tracker, reports, eventBus, cfg.Sync, &engineLogger)

	engine.StartAutoSync(ctx)
	defer engine.StopAutoSync()

	if cfg.API.Enabled {
		apiLogger := baseLogger.With().Str("component", "api").Logger()
		apiServer := api.NewHTTPServer(cfg.API, store, engine, reports, &apiLogger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("admin API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().Msg("syncd started")
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	return nil
}

func initReports(cfg *config.Config, baseLogger *zerolog.Logger) domain.ReportRepository {
	fallback := repository.NewMemoryReportRepository(0)
	if !cfg.Redis.Enabled {
		return fallback
	}

	repoLogger := baseLogger.With().Str("component", "reports").Logger()
	redisClient := repository.NewRedisClient(cfg.Redis)
	primary := repository.NewRedisReportRepository(redisClient)
	return repository.NewFailoverReportRepository(primary, fallback, &repoLogger)
}

func subscribeLifecycleEvents(bus *events.EventBus, logger *zerolog.Logger) {
	bus.Subscribe(events.EventStatusChanged, func(event *events.Event) error {
		logger.Debug().RawJSON("payload", event.Payload).Msg("sync status changed")
		return nil
	})
	bus.Subscribe(events.EventOperationFailed, func(event *events.Event) error {
		logger.Debug().RawJSON("payload", event.Payload).Msg("operation attempt failed")
		return nil
	})
}
