package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"

	"studioflow/internal/api"
	"studioflow/internal/config"
	"studioflow/internal/database"
	"studioflow/internal/domain"
	"studioflow/internal/events"
	"studioflow/internal/google"
	"studioflow/internal/logging"
	"studioflow/internal/metrics"
	"studioflow/internal/models"
	"studioflow/internal/notify"
	"studioflow/internal/repository"
	"studioflow/internal/service"
	"studioflow/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, base, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := *logging.Component(base, "api-main")

	rooms, err := loadRooms(cfg, &logger)
	if err != nil {
		return err
	}

	db, err := initDatabase(cfg, rooms, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}
	store := initStore(redisClient, &logger)

	eventBus := events.NewEventBus()

	sheetsService := initGoogleSheets(ctx, cfg, &logger)
	var syncWorker domain.SyncWorker
	if sheetsService != nil {
		w := worker.NewSyncWorker(db, sheetsService, redisClient, worker.RetryPolicy{}, logging.Component(base, "sync_worker"))
		go w.Start(ctx)
		syncWorker = w
	}

	subscriptions := service.NewSubscriptionService(db, store, eventBus, cfg.Subscription, cfg.Webhook, logging.Component(base, "subscriptions"))
	users := service.NewUserService(db, subscriptions, logging.Component(base, "users"))
	bookings := service.NewBookingService(db, db, eventBus, syncWorker, cfg.Booking, logging.Component(base, "bookings")).
		WithRateLimiter(store)
	if cfg.Subscription.RequireActive {
		bookings.WithSubscriptionGate(subscriptions)
	}

	if cfg.Backup.Enabled {
		go database.NewBackupService(db, cfg.Backup, logging.Component(base, "backup")).Start(ctx)
	}

	startNotifier(ctx, cfg, eventBus, &logger)
	startMetrics(ctx, cfg, &logger)

	svc := api.Services{
		Bookings:      bookings,
		Rooms:         service.NewRoomService(db, logging.Component(base, "rooms")),
		Users:         users,
		Subscriptions: subscriptions,
		Health: map[string]func(context.Context) error{
			"database": db.PingContext,
		},
		Location:  cfg.Location(),
		ExportDir: cfg.Exports.Path,
	}
	if sheetsService != nil {
		svc.Mirror = sheetsService
	}
	if redisClient != nil {
		svc.Health["redis"] = func(ctx context.Context) error { return repository.Ping(ctx, redisClient) }
	}

	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		grpcServer, err = api.NewGRPCServer(&cfg.API, api.NewBookingRPC(bookings, users), base)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
	}

	httpServer := api.NewHTTPServer(cfg.API, cfg.Webhook, svc, base)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, closer, nil
}

// loadRooms reads the catalog from ROOMS_PATH when set, otherwise from the
// rooms section of the main config.
func loadRooms(cfg *config.Config, logger *zerolog.Logger) ([]models.Room, error) {
	seeds := cfg.Rooms
	if roomsPath := os.Getenv("ROOMS_PATH"); roomsPath != "" {
		data, err := os.ReadFile(roomsPath)
		if err != nil {
			logger.Error().Err(err).Str("rooms_path", roomsPath).Msg("read rooms")
			return nil, err
		}

		var roomsConfig struct {
			Rooms []config.RoomSeed `yaml:"rooms"`
		}
		if err := yaml.Unmarshal(data, &roomsConfig); err != nil {
			logger.Error().Err(err).Str("rooms_path", roomsPath).Msg("parse rooms")
			return nil, err
		}
		seeds = roomsConfig.Rooms
	}

	rooms, err := config.BuildRooms(seeds)
	if err != nil {
		return nil, fmt.Errorf("room catalog: %w", err)
	}
	if len(rooms) == 0 {
		logger.Warn().Msg("room catalog is empty, bookings cannot be created")
	}
	return rooms, nil
}

func initDatabase(cfg *config.Config, rooms []models.Room, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if err := db.SyncRooms(context.Background(), rooms); err != nil {
		db.Close()
		logger.Error().Err(err).Msg("sync room catalog")
		return nil, err
	}

	failed, err := db.GetFailedSyncTasks(context.Background())
	if err == nil && len(failed) > 0 {
		logger.Warn().Int("count", len(failed)).Msg("sheet sync tasks in failed state")
	}
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = repository.Close(redisClient)
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initStore backs webhook dedup and create rate limiting. Without Redis the
// process keeps the state in memory.
func initStore(redisClient *redis.Client, logger *zerolog.Logger) repository.Store {
	memory := repository.NewMemoryStore()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverStore(repository.NewRedisStore(redisClient), memory, logger)
}

func initGoogleSheets(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *google.SheetsService {
	if cfg.Google.GoogleCredentialsFile == "" || cfg.Google.BookingSpreadSheetID == "" {
		return nil
	}

	if email, err := google.ServiceAccountEmail(cfg.Google.GoogleCredentialsFile); err == nil {
		logger.Info().Str("service_account", email).Msg("share the bookings spreadsheet with this account")
	}

	sheetsService, err := google.NewSheetsService(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.BookingSpreadSheetID, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		return nil
	}
	if err := sheetsService.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("google sheets connection test failed, continuing without sheets")
		return nil
	}

	go sheetsService.RefreshCache(ctx, time.Duration(models.SheetsCacheTTL)*time.Second)

	logger.Info().Msg("google sheets connected")
	return sheetsService
}

func startNotifier(ctx context.Context, cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) {
	if cfg.Telegram.BotToken == "" {
		return
	}
	if len(cfg.Telegram.NotifyChatIDs) == 0 {
		logger.Warn().Msg("telegram bot token set without notify_chat_ids, notifications disabled")
		return
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without notifications")
		return
	}
	botAPI.Debug = cfg.Telegram.Debug
	logger.Info().Str("bot", botAPI.Self.UserName).Msg("telegram notifications enabled")

	notifier := notify.NewTelegramNotifier(botAPI, cfg.Telegram.NotifyChatIDs, cfg.Location(), logger)
	notifier.Attach(bus)
	go notifier.Run(ctx)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if grpcServer != nil {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	event := logger.Info().Int("http_port", cfg.API.HTTP.Port).Bool("http_enabled", cfg.API.HTTP.Enabled)
	if grpcServer != nil {
		event = event.Str("grpc_addr", grpcServer.Addr())
	}
	event.Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
