package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig enables the Telegram channel.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"TELEGRAM_ENABLED"`
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies the Telegram webhook listener.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// WhatsAppConfig holds WhatsApp Cloud API credentials and the webhook listener.
type WhatsAppConfig struct {
	Enabled       bool   `yaml:"enabled" envconfig:"WHATSAPP_ENABLED"`
	PhoneNumberID string `yaml:"phone_number_id" envconfig:"META_WA_PHONE_NUMBER_ID"`
	AccessToken   string `yaml:"access_token" envconfig:"META_WA_ACCESS_TOKEN"`
	VerifyToken   string `yaml:"verify_token" envconfig:"META_WA_VERIFY_TOKEN"`
	// AppSecret enables X-Hub-Signature-256 verification when set.
	AppSecret      string `yaml:"app_secret" envconfig:"META_WA_APP_SECRET"`
	APIBaseURL     string `yaml:"api_base_url" envconfig:"META_WA_API_BASE_URL"`
	APIVersion     string `yaml:"api_version" envconfig:"META_WA_API_VERSION"`
	Listen         string `yaml:"listen" envconfig:"WHATSAPP_LISTEN"`
	WebhookPath    string `yaml:"webhook_path" envconfig:"WHATSAPP_WEBHOOK_PATH"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"WHATSAPP_TIMEOUT_SECONDS"`
}

// BookingConfig points at the agenda booking API.
type BookingConfig struct {
	BaseURL        string `yaml:"base_url" envconfig:"DJANGO_API_BASE_URL"`
	DefaultAgenda  string `yaml:"default_agenda" envconfig:"BOT_DEFAULT_AGENDA"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"BOOKING_TIMEOUT_SECONDS"`
	Notes          string `yaml:"notes" envconfig:"BOOKING_NOTES"`
}

// FlowConfig tunes the conversation state machine.
type FlowConfig struct {
	PromptTTLSeconds     int    `yaml:"prompt_ttl_seconds" envconfig:"FLOW_PROMPT_TTL_SECONDS"`
	MenuTTLSeconds       int    `yaml:"menu_ttl_seconds" envconfig:"FLOW_MENU_TTL_SECONDS"`
	HorizonHours         int    `yaml:"horizon_hours" envconfig:"FLOW_HORIZON_HOURS"`
	MaxSlots             int    `yaml:"max_slots" envconfig:"FLOW_MAX_SLOTS"`
	SearchMaxResults     int    `yaml:"search_max_results" envconfig:"FLOW_SEARCH_MAX_RESULTS"`
	Timezone             string `yaml:"timezone" envconfig:"FLOW_TIMEZONE"`
	ContentPath          string `yaml:"content_path" envconfig:"FLOW_CONTENT_PATH"`
	ShutdownGraceSeconds int    `yaml:"shutdown_grace_seconds" envconfig:"FLOW_SHUTDOWN_GRACE_SECONDS"`
}

// PromptTTL returns how long an ordinary prompt token stays valid.
func (f FlowConfig) PromptTTL() time.Duration {
	return time.Duration(f.PromptTTLSeconds) * time.Second
}

// MenuTTL returns how long the post-confirmation menu token stays valid.
func (f FlowConfig) MenuTTL() time.Duration {
	return time.Duration(f.MenuTTLSeconds) * time.Second
}

// Horizon returns the age after which an open conversation is replaced.
func (f FlowConfig) Horizon() time.Duration {
	return time.Duration(f.HorizonHours) * time.Hour
}

// StoreConfig selects the conversation state backend.
type StoreConfig struct {
	Backend string `yaml:"backend" envconfig:"STORE_BACKEND"`
}

// RedisConfig configures the Redis state backend.
type RedisConfig struct {
	Addr       string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password   string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB         int    `yaml:"db" envconfig:"REDIS_DB"`
	Prefix     string `yaml:"prefix" envconfig:"REDIS_PREFIX"`
	TTLSeconds int    `yaml:"ttl_seconds" envconfig:"REDIS_TTL_SECONDS"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsPath string `yaml:"migrations_path" envconfig:"DB_MIGRATIONS_PATH"`
}

// AuditConfig enables conversation transcripts.
type AuditConfig struct {
	YAMLDir  string `yaml:"yaml_dir" envconfig:"AUDIT_YAML_DIR"`
	Database bool   `yaml:"database" envconfig:"AUDIT_DATABASE"`
	Workers  int    `yaml:"workers" envconfig:"AUDIT_WORKERS"`
	Queue    int    `yaml:"queue" envconfig:"AUDIT_QUEUE"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// RateLimitConfig throttles inbound events per user key.
// Burst 0 means 1.
type RateLimitConfig struct {
	IntervalMS int `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	Burst      int `yaml:"burst" envconfig:"RATE_LIMIT_BURST"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config aggregates the whole application configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Booking   BookingConfig   `yaml:"booking"`
	Flow      FlowConfig      `yaml:"flow"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills defaults and validates the configuration.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if !cfg.Telegram.Enabled && !cfg.WhatsApp.Enabled {
		return fmt.Errorf("no channel enabled; set whatsapp.enabled or telegram.enabled")
	}
	if err := normalizeTelegram(cfg); err != nil {
		return err
	}
	if err := normalizeWhatsApp(&cfg.WhatsApp); err != nil {
		return err
	}
	if err := normalizeBooking(&cfg.Booking); err != nil {
		return err
	}
	if err := normalizeFlow(&cfg.Flow); err != nil {
		return err
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if backend == "" {
		backend = StoreMemory
	}
	switch backend {
	case StoreMemory:
	case StoreRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required when store.backend is 'redis'")
		}
		if cfg.Redis.Prefix == "" {
			cfg.Redis.Prefix = "agendabot:conv:"
		}
		if cfg.Redis.TTLSeconds < 0 {
			return fmt.Errorf("redis.ttl_seconds must be >= 0")
		}
	case StorePostgres:
		if strings.TrimSpace(cfg.Database.Host) == "" {
			return fmt.Errorf("database.host is required when store.backend is 'postgres'")
		}
	default:
		return fmt.Errorf("invalid store.backend %q; allowed: memory, redis, postgres", cfg.Store.Backend)
	}
	cfg.Store.Backend = backend

	if cfg.Audit.Database && backend != StorePostgres && strings.TrimSpace(cfg.Database.Host) == "" {
		return fmt.Errorf("audit.database requires database.host")
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = "5432"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConnections <= 0 {
		cfg.Database.MaxConnections = 10
	}
	if cfg.Database.MigrationsPath == "" {
		cfg.Database.MigrationsPath = "migrations"
	}

	if cfg.RateLimit.IntervalMS < 0 {
		return fmt.Errorf("rate_limit.interval_ms must be >= 0")
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 1
	}
	return nil
}

func normalizeTelegram(cfg *Config) error {
	if !cfg.Telegram.Enabled {
		return nil
	}
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required when telegram.enabled is true")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" || rm == "polling" {
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm
	return nil
}

func normalizeWhatsApp(wa *WhatsAppConfig) error {
	if !wa.Enabled {
		return nil
	}
	if strings.TrimSpace(wa.PhoneNumberID) == "" {
		return fmt.Errorf("whatsapp.phone_number_id is required when whatsapp.enabled is true")
	}
	if strings.TrimSpace(wa.AccessToken) == "" {
		return fmt.Errorf("whatsapp.access_token is required when whatsapp.enabled is true")
	}
	if strings.TrimSpace(wa.VerifyToken) == "" {
		return fmt.Errorf("whatsapp.verify_token is required when whatsapp.enabled is true")
	}
	if wa.APIBaseURL == "" {
		wa.APIBaseURL = "https://graph.facebook.com"
	}
	wa.APIBaseURL = strings.TrimRight(wa.APIBaseURL, "/")
	if wa.APIVersion == "" {
		wa.APIVersion = "v20.0"
	}
	if wa.Listen == "" {
		wa.Listen = ":3000"
	}
	if wa.WebhookPath == "" {
		wa.WebhookPath = "/webhook"
	}
	if !strings.HasPrefix(wa.WebhookPath, "/") {
		wa.WebhookPath = "/" + wa.WebhookPath
	}
	if wa.TimeoutSeconds <= 0 {
		wa.TimeoutSeconds = 15
	}
	return nil
}

func normalizeBooking(b *BookingConfig) error {
	if strings.TrimSpace(b.BaseURL) == "" {
		b.BaseURL = "http://127.0.0.1:8000"
	}
	b.BaseURL = strings.TrimRight(strings.TrimSpace(b.BaseURL), "/")
	u, err := url.Parse(b.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid booking.base_url %q", b.BaseURL)
	}
	b.DefaultAgenda = strings.TrimSpace(b.DefaultAgenda)
	if b.DefaultAgenda == "" {
		b.DefaultAgenda = "agenda1"
	}
	if b.TimeoutSeconds <= 0 {
		b.TimeoutSeconds = 15
	}
	if b.Notes == "" {
		b.Notes = "Reserva desde WhatsApp"
	}
	return nil
}

func normalizeFlow(f *FlowConfig) error {
	if f.PromptTTLSeconds == 0 {
		f.PromptTTLSeconds = 120
	}
	if f.MenuTTLSeconds == 0 {
		f.MenuTTLSeconds = 180
	}
	if f.HorizonHours == 0 {
		f.HorizonHours = 24
	}
	if f.PromptTTLSeconds < 0 || f.MenuTTLSeconds < 0 || f.HorizonHours < 0 {
		return fmt.Errorf("flow ttl and horizon values must be positive")
	}
	if f.MaxSlots <= 0 {
		f.MaxSlots = 12
	}
	if f.SearchMaxResults <= 0 {
		f.SearchMaxResults = 100
	}
	if f.Timezone == "" {
		f.Timezone = "America/Argentina/Buenos_Aires"
	}
	if _, err := time.LoadLocation(f.Timezone); err != nil {
		return fmt.Errorf("invalid flow.timezone %q: %w", f.Timezone, err)
	}
	if f.ShutdownGraceSeconds <= 0 {
		f.ShutdownGraceSeconds = 10
	}
	return nil
}
