package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beautybot/internal/api"
	"beautybot/internal/booking"
	"beautybot/internal/bot"
	"beautybot/internal/cache"
	"beautybot/internal/config"
	"beautybot/internal/db"
	"beautybot/internal/llm"
	"beautybot/internal/metrics"
	"beautybot/internal/notify"
	"beautybot/internal/slots"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("BOT_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		logger = logger.Level(level)
	}
	loc := cfg.Location()

	database, err := db.NewDB(cfg.Database.URL, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if created, err := database.EnsureManager(ctx, cfg.ManagerChatID, ""); err != nil {
		logger.Fatal().Err(err).Msg("register manager")
	} else if created {
		logger.Info().Int64("chat_id", cfg.ManagerChatID).Msg("Default manager registered")
	}

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}
	guard := cache.NewGuard(rdb, cfg.UpdateTTL(), cfg.Redis.RateLimitPerMinute)

	completer, err := newCompleter(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("llm client")
	}
	assistant := llm.NewAssistant(completer, database, llm.AssistantConfig{
		HistoryMessages: cfg.LLM.HistoryMessages,
		HistoryLimit:    cfg.LLM.HistoryLimit,
		Location:        loc,
	}, &logger)

	tg, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram login")
	}
	tg.Debug = cfg.Telegram.Debug
	logger.Info().Str("username", tg.Self.UserName).Msg("Bot authorized")

	notifier := notify.New(tg, database, notify.Config{
		RatePerSecond: cfg.Notifications.RatePerSecond,
		Burst:         cfg.Notifications.Burst,
	}, &logger)

	engine := booking.NewEngine(booking.Config{
		Store:     database,
		Assistant: assistant,
		Fallback:  assistant,
		Notifier:  notifier,
		Location:  loc,
	})

	b, err := bot.New(tg, bot.Deps{
		DB:       database,
		Engine:   engine,
		FreeTime: assistant,
		Reminder: notifier,
		Guard:    guard,
		Admins:   cfg.Admins,
		Logger:   &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create bot error")
	}

	publisher := slots.NewPublisher(database, loc, &logger)
	if err := config.WatchCatalog(ctx, cfg.CatalogPath, 30*time.Second, &logger, func(cat *config.Catalog) {
		if err := database.SyncCatalog(ctx, cat); err != nil {
			logger.Error().Err(err).Msg("failed to apply catalog")
			return
		}
		step := time.Duration(cat.Slots.StepMinutes) * time.Minute
		if _, err := publisher.Publish(ctx, time.Now(), cat.Slots.DaysAhead, step, cat.Slots.DaysOff); err != nil {
			logger.Error().Err(err).Msg("failed to publish slots")
		}
		logger.Info().Int("services", len(cat.Services)).Int("specialists", len(cat.Specialists)).Msg("catalog applied")
	}); err != nil {
		logger.Warn().Err(err).Str("path", cfg.CatalogPath).Msg("catalog watch disabled")
	}

	go db.NewJanitor(database, cfg.HistoryTTL(), cfg.StateTTL(), time.Hour, &logger).Start(ctx)

	if cfg.Backup.Enabled {
		backups := db.NewBackupService(database, cfg.Backup.Path,
			time.Duration(cfg.Backup.IntervalHours)*time.Hour,
			time.Duration(cfg.Backup.RetentionDays)*24*time.Hour, &logger)
		go backups.Start(ctx)
	}

	if cfg.Reminders.Enabled {
		go b.StartReminders(ctx, cfg.Reminders.Hour)
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	setupCtx := logger.WithContext(ctx)
	if err := b.SetupWebhook(setupCtx, cfg.WebhookURL(), cfg.Telegram.WebhookSecret); err != nil {
		logger.Fatal().Err(err).Msg("webhook registration failed")
	}
	if err := b.SetupCommands(); err != nil {
		logger.Warn().Err(err).Msg("command menu not updated")
	}

	if !cfg.Telegram.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Config{
		Token:         cfg.Telegram.Token,
		WebhookSecret: cfg.Telegram.WebhookSecret,
		Metrics:       cfg.Monitoring.PrometheusEnabled,
		Checks: map[string]api.Check{
			"db":    func(ctx context.Context) error { return database.PingContext(ctx) },
			"redis": guard.Ping,
		},
	}, b, &logger)

	serve(ctx, cfg.Server.Port, router, &logger)
}

func newCompleter(cfg *config.Config) (llm.Completer, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLMTimeout(),
		}), nil
	case "yandex":
		if cfg.LLM.FolderID == "" {
			return nil, fmt.Errorf("yandex provider needs llm.folder_id (YANDEX_FOLDER_ID)")
		}
		return llm.NewYandexClient(cfg.LLM.APIKey, cfg.LLM.FolderID, cfg.LLM.Temperature, cfg.LLM.MaxTokens), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func serve(ctx context.Context, port int, handler http.Handler, logger *zerolog.Logger) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Int("port", port).Msg("Webhook server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("http server error")
	}
	logger.Info().Msg("Bot stopped")
}
