package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"bridgesync/internal/analytics"
	"bridgesync/internal/api"
	"bridgesync/internal/bridge"
	"bridgesync/internal/bridgesync"
	"bridgesync/internal/config"
	"bridgesync/internal/database"
	"bridgesync/internal/domain"
	"bridgesync/internal/events"
	"bridgesync/internal/logging"
	"bridgesync/internal/metrics"
	"bridgesync/internal/models"
	"bridgesync/internal/notify"
	"bridgesync/internal/report"
	"bridgesync/internal/repository"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"
)

const (
	stateTTL        = 7 * 24 * time.Hour
	preloadTTL      = 24 * time.Hour
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, seed, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()
	db, err := initDatabase(ctx, cfg, seed, bus, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, &logger)
	defer func() { _ = repository.Close(redisClient) }()
	mirror, throttle, preloads := initRepositories(redisClient, &logger)

	explorer := bridge.NewExplorer(bridge.NewClient(cfg.Bridge, &logger), preloads)
	resolver := bridge.NewExplorerResolver(explorer, cfg.Bridge.Families)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	syncer := bridgesync.New(db, db, resolver,
		bridgesync.WithLogger(&logger),
		bridgesync.WithMaxConcurrent(cfg.Sync.MaxConcurrent),
		bridgesync.WithIntervals(cfg.Sync.BootDelay, cfg.Sync.AllInterval, cfg.Sync.PendingInterval),
		bridgesync.WithOutdatedDelay(cfg.Sync.OutdatedDelay),
		bridgesync.WithBlacklistedTokenIDs(cfg.Sync.BlacklistedTokenIDs),
		bridgesync.WithPaginationConfig(cfg.Sync.PaginationConfig),
		bridgesync.WithStateMirror(mirror),
		bridgesync.WithThrottleStore(throttle),
		bridgesync.WithEventBus(bus),
		bridgesync.WithTracker(initTrackers(cfg, redisClient, &logger)),
		bridgesync.WithHydrator(resolver),
	)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Telegram.Enabled {
		notifier, err := initNotifier(cfg, &logger)
		if err != nil {
			return err
		}
		syncer.Subscribe(notifier.Observe)
		g.Go(func() error {
			notifier.Run(gctx)
			return nil
		})
	}

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(db, cfg.Backup, &logger)
		g.Go(func() error {
			backupService.Run(gctx)
			return nil
		})
	}

	var grpcServer *api.GRPCServer
	if cfg.API.Enabled {
		exporter := report.NewExporter(db, syncer, cfg.Exports.Path, cfg.Sync.OutdatedDelay)
		if grpcServer, err = startAPI(gctx, g, cfg, syncer, db, exporter, &logger); err != nil {
			return err
		}
	}

	if err := syncer.Start(gctx); err != nil {
		return err
	}
	if grpcServer != nil {
		grpcServer.SetServing(true)
	}
	logger.Info().Int("max_concurrent", cfg.Sync.MaxConcurrent).Msg("Sync scheduler started")

	g.Go(func() error {
		<-gctx.Done()
		if grpcServer != nil {
			grpcServer.SetServing(false)
		}
		syncer.Stop()
		logger.Info().Msg("Sync scheduler stopped")
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("Shutdown complete.")
	return err
}

type accountsFile struct {
	Accounts []models.Account `yaml:"accounts"`
}

func loadConfigAndLogger() (*config.Config, []models.Account, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "syncd").Logger()

	seed, err := loadAccounts(cfg.AccountsPath)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.AccountsPath).Msg("Failed to read accounts file")
		return nil, nil, zerolog.Logger{}, closer, err
	}
	return cfg, seed, logger, closer, nil
}

// loadAccounts reads the seed file. A missing file seeds nothing.
func loadAccounts(path string) ([]models.Account, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var file accountsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, a := range file.Accounts {
		if a.ID == "" || a.Currency.ID == "" {
			return nil, fmt.Errorf("account #%d: id and currency.id are required", i+1)
		}
	}
	return file.Accounts, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("Failed to create database directory")
		return err
	}
	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("Failed to create export directory")
		return err
	}
	return nil
}

// initDatabase opens the account store and adds seed accounts it does not know yet.
func initDatabase(
	ctx context.Context,
	cfg *config.Config,
	seed []models.Account,
	bus *events.EventBus,
	logger *zerolog.Logger,
) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open database")
		return nil, err
	}
	db.SetPublisher(bus)

	var fresh []models.Account
	for _, a := range seed {
		_, err := db.GetAccount(ctx, a.ID)
		if errors.Is(err, models.ErrAccountNotFound) {
			fresh = append(fresh, a)
			continue
		}
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := db.UpsertAccounts(ctx, fresh); err != nil {
		logger.Error().Err(err).Msg("Failed to seed accounts")
	} else if len(fresh) > 0 {
		logger.Info().Int("count", len(fresh)).Msg("Seeded accounts")
	}
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if !cfg.Redis.Enabled() {
		return nil
	}
	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, falling back to memory until it recovers")
	}
	return client
}

func initRepositories(
	client *redis.Client,
	logger *zerolog.Logger,
) (domain.StateRepository, domain.ThrottleStore, bridge.PreloadStore) {
	memoryStates := repository.NewMemoryStateRepository()
	memoryThrottle := bridgesync.NewMemoryThrottle()
	if client == nil {
		return memoryStates, memoryThrottle, nil
	}

	states := repository.NewFailoverStateRepository(
		repository.NewRedisStateRepository(client, repository.DefaultStatesKey, stateTTL),
		memoryStates,
		logger,
	)
	throttle := repository.NewFailoverThrottleStore(
		repository.NewRedisThrottleStore(client, repository.DefaultThrottlePrefix),
		memoryThrottle,
		logger,
	)
	preloads := repository.NewRedisPreloadStore(client, repository.DefaultPreloadPrefix, preloadTTL)
	return states, throttle, preloads
}

func initTrackers(cfg *config.Config, client *redis.Client, logger *zerolog.Logger) domain.AnalyticsTracker {
	var trackers []domain.AnalyticsTracker
	if cfg.Analytics.LogEvents {
		trackers = append(trackers, analytics.NewLogTracker(logger))
	}
	if client != nil {
		trackers = append(trackers, analytics.NewRedisTracker(client, cfg.Analytics.RedisList, logger))
	}
	if len(trackers) == 0 {
		return nil
	}
	return analytics.NewMulti(trackers...)
}

func initNotifier(cfg *config.Config, logger *zerolog.Logger) (*notify.TelegramNotifier, error) {
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create Telegram BotAPI")
		return nil, err
	}
	botAPI.Debug = cfg.Telegram.Debug
	logger.Info().Str("bot", botAPI.Self.UserName).Int64("chat_id", cfg.Telegram.ChatID).Msg("Telegram alerts enabled")
	return notify.NewTelegramNotifier(botAPI, cfg.Telegram.ChatID, logger), nil
}

func startAPI(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	syncer *bridgesync.BridgeSync,
	db *database.DB,
	exporter *report.Exporter,
	logger *zerolog.Logger,
) (*api.GRPCServer, error) {
	if cfg.API.HTTP.Enabled {
		httpServer := api.NewHTTPServer(cfg.API, syncer, db, exporter, cfg.Monitoring.PrometheusEnabled, logger)
		g.Go(httpServer.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if !cfg.API.GRPC.Enabled {
		return nil, nil
	}
	grpcServer, err := api.NewGRPCServer(cfg.API, logger)
	if err != nil {
		return nil, err
	}
	g.Go(grpcServer.Serve)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcServer.Shutdown(shutdownCtx)
		return nil
	})
	return grpcServer, nil
}
