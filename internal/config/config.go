package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ModeWebhook = "webhook"
	ModePolling = "polling"
)

// AppConfig собирает настройки из переменных окружения.
type AppConfig struct {
	HTTPAddr string
	Env      string
	LogLevel string

	BotToken   string
	OperatorID int64
	BotMode    string
	PublicURL  string

	ClientAppURL string
	AdminAppURL  string
	ContactURL   string

	DatabaseURL string
	AutoMigrate bool
	SupabaseURL string
	SupabaseKey string

	// Пустой адрес - реестр диалогов в памяти процесса.
	RedisAddr string
	RedisDB   int

	// Пустой URL - события заказов не публикуются.
	AMQPURL string

	TransportTimeout time.Duration
	BroadcastDelay   time.Duration
	BroadcastWorkers int
	BroadcastQueue   int
}

// Load читает конфигурацию. Отсутствие обязательных значений не ошибка (см. Missing),
// ошибка - только некорректные числа и режим.
func Load() (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddr:     httpAddr(),
		Env:          getEnv("ENV", "production"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		BotToken:     getEnv("BOT_TOKEN", ""),
		BotMode:      strings.ToLower(getEnv("BOT_MODE", ModeWebhook)),
		PublicURL:    strings.TrimRight(getEnv("PUBLIC_URL", ""), "/"),
		ClientAppURL: getEnv("CLIENT_APP_URL", ""),
		AdminAppURL:  getEnv("ADMIN_APP_URL", ""),
		DatabaseURL:  getEnv("DATABASE_URL", "shop.db"),
		SupabaseURL:  getEnv("SUPABASE_URL", ""),
		SupabaseKey:  getEnv("SUPABASE_KEY", ""),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		AMQPURL:      getEnv("AMQP_URL", ""),
	}

	if cfg.BotMode != ModeWebhook && cfg.BotMode != ModePolling {
		return AppConfig{}, fmt.Errorf("BOT_MODE must be %q or %q", ModeWebhook, ModePolling)
	}

	if v := getEnv("ADMIN_ID", ""); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return AppConfig{}, fmt.Errorf("invalid ADMIN_ID: %w", err)
		}
		cfg.OperatorID = id
	}
	cfg.ContactURL = getEnv("CONTACT_URL", "")
	if cfg.ContactURL == "" && cfg.OperatorID != 0 {
		cfg.ContactURL = fmt.Sprintf("tg://user?id=%d", cfg.OperatorID)
	}

	autoMigrate, err := strconv.ParseBool(getEnv("DB_AUTO_MIGRATE", "true"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid DB_AUTO_MIGRATE: %w", err)
	}
	cfg.AutoMigrate = autoMigrate

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.RedisDB = redisDB

	timeoutSec, err := getEnvInt("TRANSPORT_TIMEOUT_SEC", 10)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid TRANSPORT_TIMEOUT_SEC: %w", err)
	}
	if timeoutSec <= 0 {
		return AppConfig{}, fmt.Errorf("TRANSPORT_TIMEOUT_SEC must be > 0")
	}
	cfg.TransportTimeout = time.Duration(timeoutSec) * time.Second

	delayMS, err := getEnvInt("BROADCAST_DELAY_MS", 50)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BROADCAST_DELAY_MS: %w", err)
	}
	if delayMS < 0 {
		return AppConfig{}, fmt.Errorf("BROADCAST_DELAY_MS must be >= 0")
	}
	cfg.BroadcastDelay = time.Duration(delayMS) * time.Millisecond

	workers, err := getEnvInt("BROADCAST_WORKERS", 1)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BROADCAST_WORKERS: %w", err)
	}
	if workers <= 0 {
		return AppConfig{}, fmt.Errorf("BROADCAST_WORKERS must be > 0")
	}
	cfg.BroadcastWorkers = workers

	queue, err := getEnvInt("BROADCAST_QUEUE", 16)
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid BROADCAST_QUEUE: %w", err)
	}
	if queue <= 0 {
		return AppConfig{}, fmt.Errorf("BROADCAST_QUEUE must be > 0")
	}
	cfg.BroadcastQueue = queue

	return cfg, nil
}

// Missing возвращает имена обязательных переменных, которые не заданы.
func (c AppConfig) Missing() []string {
	var out []string
	if c.BotToken == "" {
		out = append(out, "BOT_TOKEN")
	}
	if c.OperatorID == 0 {
		out = append(out, "ADMIN_ID")
	}
	if c.ClientAppURL == "" {
		out = append(out, "CLIENT_APP_URL")
	}
	if c.SupabaseURL == "" {
		out = append(out, "SUPABASE_URL")
	}
	if c.SupabaseKey == "" {
		out = append(out, "SUPABASE_KEY")
	}
	return out
}

// WebhookURL - адрес для регистрации webhook, пустой без PUBLIC_URL.
func (c AppConfig) WebhookURL() string {
	if c.PublicURL == "" {
		return ""
	}
	return c.PublicURL + "/webhook"
}

// httpAddr: PORT (как на хостингах) важнее HTTP_ADDR.
func httpAddr() string {
	if port := getEnv("PORT", ""); port != "" {
		return ":" + strings.TrimPrefix(port, ":")
	}
	return getEnv("HTTP_ADDR", ":3000")
}

// getEnv читает строковую переменную окружения, для пустой возвращает значение по умолчанию.
func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

// getEnvInt читает целочисленную переменную окружения.
func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
