package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transfit/internal/api"
	"transfit/internal/config"
	"transfit/internal/database"
	"transfit/internal/domain"
	"transfit/internal/events"
	"transfit/internal/logging"
	"transfit/internal/metrics"
	"transfit/internal/models"
	"transfit/internal/notify"
	"transfit/internal/remote"
	"transfit/internal/report"
	"transfit/internal/repository"
	"transfit/internal/service"
	"transfit/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	queueRepo, redisClient, err := initQueueRepository(cfg, db, &logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	queue := service.NewRetryQueueStore(queueRepo, &logger)
	sessions := service.NewSessionProvider(db, staticSession(cfg.Remote.Session), &logger)
	client := remote.NewClient(cfg.Remote, sessions, &logger)

	bus := events.NewEventBus()
	lifecycle := events.NewLifecycleSource(bus)

	engine := worker.NewSyncService(worker.Deps{
		Queue: queue,
		Syncers: worker.Syncers{
			Profiles: service.NewEntitySyncer[*models.Profile](models.EntityProfile, db.Profiles(), client, queue, &logger),
			Sessions: service.NewEntitySyncer[*models.Session](models.EntitySession, db.Sessions(), client, queue, &logger),
			Plans:    service.NewEntitySyncer[*models.Plan](models.EntityPlan, db.Plans(), client, queue, &logger),
			Feedback: service.NewFeedbackSyncer(db.Feedback(), client, queue, &logger),
		},
		Auth:        sessions,
		Notifier:    initNotifier(cfg, &logger),
		DeadLetters: db,
		Events:      events.NewRecorder(bus, &logger),
		Logger:      &logger,
	}, worker.OptionsFromConfig(cfg.Sync))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine.Start(ctx)

	trigger := worker.NewForegroundTrigger(lifecycle, engine, &logger)
	if cfg.Sync.DisableStartupPass {
		trigger.SkipStartupPass()
	}
	trigger.Start(ctx)

	go watchLifecycleSignals(ctx, lifecycle, &logger)

	backup := database.NewBackupService(db, cfg.Backup, &logger)
	go backup.Start(ctx)

	var httpServer *api.HTTPServer
	if cfg.API.Enabled && cfg.API.HTTP.Enabled {
		exporter := report.NewExporter(engine, queue, db, cfg.Exports.Path, cfg.Sync.DeadLetterReportN, &logger)
		httpServer = api.NewHTTPServer(cfg.API, cfg.Monitoring, engine, lifecycle, exporter, &logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().
		Str("queue_backend", cfg.Sync.QueueBackend).
		Str("remote", cfg.Remote.URL).
		Bool("api", httpServer != nil).
		Msg("sync daemon started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	trigger.Stop()
	engine.Stop()

	logger.Info().Int("pending", engine.Status().PendingSyncCount).Msg("sync daemon stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, *logging.Component(baseLogger, "syncd-main"), closer, nil
}

// initQueueRepository picks where the retry queue slot lives. The returned redis client,
// if any, is owned by the caller.
func initQueueRepository(cfg *config.Config, db *database.DB, logger *zerolog.Logger) (domain.RetryQueueRepository, *redis.Client, error) {
	local := repository.NewKVQueueRepository(db, models.RetryQueueSlot)

	switch cfg.Sync.QueueBackend {
	case config.QueueBackendRedis:
		client := repository.NewRedisClient(cfg.Redis)
		if err := client.Ping(context.Background()).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis queue backend unreachable: %w", err)
		}
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
		return repository.NewRedisQueueRepository(client, cfg.Sync.RedisQueueKey), client, nil

	case config.QueueBackendFailover:
		client := repository.NewRedisClient(cfg.Redis)
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis connection failed, queue starts on sqlite fallback")
		}
		primary := repository.NewRedisQueueRepository(client, cfg.Sync.RedisQueueKey)
		return repository.NewFailoverQueueRepository(primary, local, logger), client, nil

	case config.QueueBackendMemory:
		logger.Warn().Msg("retry queue is kept in memory and is lost on restart")
		return repository.NewMemoryQueueRepository(), nil, nil

	default:
		return local, nil, nil
	}
}

func initNotifier(cfg *config.Config, logger *zerolog.Logger) domain.Notifier {
	var notifiers notify.Multi
	for _, ch := range cfg.Notify.Channels {
		switch ch {
		case config.NotifyChannelLog:
			notifiers = append(notifiers, notify.NewLogNotifier(logger))
		case config.NotifyChannelTelegram:
			bot, err := notify.NewTelegramBot(cfg.Notify.Telegram)
			if err != nil {
				logger.Warn().Err(err).Msg("telegram bot init failed, continuing without telegram notifications")
				continue
			}
			logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifications enabled")
			notifiers = append(notifiers, notify.NewTelegramNotifier(bot, cfg.Notify.Telegram.ChatID))
		}
	}
	if len(notifiers) == 0 {
		return notify.NewLogNotifier(logger)
	}
	return notifiers
}

func staticSession(cfg config.SessionConfig) *models.AuthSession {
	if cfg.UserID == "" || cfg.AccessToken == "" {
		return nil
	}
	return &models.AuthSession{UserID: cfg.UserID, AccessToken: cfg.AccessToken}
}

// watchLifecycleSignals maps SIGUSR1 to foreground and SIGUSR2 to background.
func watchLifecycleSignals(ctx context.Context, lifecycle *events.LifecycleSource, logger *zerolog.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			state := models.AppStateBackground
			if sig == syscall.SIGUSR1 {
				state = models.AppStateActive
			}
			if err := lifecycle.Emit(state); err != nil {
				logger.Error().Err(err).Str("state", string(state)).Msg("failed to emit lifecycle change")
			}
		}
	}
}
