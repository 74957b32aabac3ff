package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"shop-order-bridge/internal/bot"
	"shop-order-bridge/internal/config"
	"shop-order-bridge/internal/events"
	"shop-order-bridge/internal/jobs"
	"shop-order-bridge/internal/logger"
	"shop-order-bridge/internal/notifier"
	"shop-order-bridge/internal/registry"
	"shop-order-bridge/internal/router"
	"shop-order-bridge/internal/store"
	"shop-order-bridge/internal/telegram"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Ошибка чтения .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка конфигурации: %v", err)
	}
	if err := logger.Initialize(cfg.LogLevel, cfg.Env); err != nil {
		log.Fatalf("Ошибка инициализации логгера: %v", err)
	}
	defer logger.Log.Sync()

	if missing := cfg.Missing(); len(missing) > 0 {
		logger.Log.Warn("не заданы переменные окружения", zap.String("vars", strings.Join(missing, ", ")))
	}

	if err := run(cfg, logger.Log); err != nil {
		logger.Log.Fatal("сервер остановлен с ошибкой", zap.Error(err))
	}
}

func run(cfg config.AppConfig, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()
	if cfg.AutoMigrate {
		if err := st.Migrate(); err != nil {
			return err
		}
	}

	reg, closeReg := newRegistry(ctx, cfg, lg)
	defer closeReg()

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.DialAMQP(cfg.AMQPURL)
		if err != nil {
			lg.Warn("RabbitMQ недоступен, события не публикуются", zap.Error(err))
		} else {
			defer amqpPub.Close()
			publisher = amqpPub
		}
	}

	var (
		api       *tgbotapi.BotAPI
		transport notifier.Transport = telegram.Disabled{}
	)
	if api, err = telegram.NewClient(cfg.BotToken, cfg.TransportTimeout); err != nil {
		lg.Error("бот не запущен, уведомления отключены", zap.Error(err))
	} else {
		transport = api
		lg.Info("бот авторизован", zap.String("username", api.Self.UserName))
	}

	queue := jobs.New(ctx, cfg.BroadcastQueue, cfg.BroadcastWorkers)
	defer queue.Shutdown()

	orderBot := bot.New(bot.Config{
		OperatorID:     cfg.OperatorID,
		ShopURL:        cfg.ClientAppURL,
		AdminURL:       cfg.AdminAppURL,
		ContactURL:     cfg.ContactURL,
		BroadcastDelay: cfg.BroadcastDelay,
	}, st, reg, notifier.New(transport, cfg.OperatorID, lg.Named("notifier")),
		bot.WithEvents(publisher),
		bot.WithRunner(queue.Enqueue),
		bot.WithLogger(lg.Named("bot")),
	)

	if api != nil {
		startUpdates(ctx, cfg, api, orderBot, lg)
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinLogger(lg.Named("http")))
	router.Setup(r, orderBot, st, router.Config{
		BotToken:    cfg.BotToken,
		OperatorID:  cfg.OperatorID,
		PublicURL:   cfg.PublicURL,
		SupabaseURL: cfg.SupabaseURL,
		SupabaseKey: cfg.SupabaseKey,
	}, lg)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		lg.Info("сервер запущен", zap.String("addr", cfg.HTTPAddr), zap.String("bot_mode", cfg.BotMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	lg.Info("остановка сервера")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRegistry выбирает Redis, если он задан, иначе хранит ожидания в памяти процесса.
func newRegistry(ctx context.Context, cfg config.AppConfig, lg *zap.Logger) (*registry.Registry, func()) {
	if cfg.RedisAddr == "" {
		return registry.New(registry.NewMemory()), func() {}
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		lg.Warn("Redis недоступен, ожидания хранятся в памяти", zap.Error(err))
		_ = rdb.Close()
		return registry.New(registry.NewMemory()), func() {}
	}
	return registry.New(registry.NewRedis(rdb, registry.DefaultRedisPrefix)), func() { _ = rdb.Close() }
}

// startUpdates подключает бота к Telegram в выбранном режиме.
func startUpdates(ctx context.Context, cfg config.AppConfig, api *tgbotapi.BotAPI, b *bot.OrderBot, lg *zap.Logger) {
	if cfg.BotMode == config.ModePolling {
		if err := telegram.DeleteWebhook(api); err != nil {
			lg.Warn("не удалось снять webhook", zap.Error(err))
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = int(cfg.TransportTimeout.Seconds() / 2)
		updates := api.GetUpdatesChan(u)
		go func() {
			<-ctx.Done()
			api.StopReceivingUpdates()
		}()
		go b.Poll(ctx, updates)
		return
	}

	url := cfg.WebhookURL()
	if url == "" {
		lg.Warn("PUBLIC_URL не задан, webhook настраивается через /api/setup-webhook")
		return
	}
	changed, err := telegram.EnsureWebhook(api, url)
	if err != nil {
		lg.Error("ошибка установки webhook", zap.Error(err))
		return
	}
	lg.Info("webhook", zap.String("url", url), zap.Bool("changed", changed))
}
