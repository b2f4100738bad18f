package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const EnvPrefix = "PAYMENTS_"

type Config struct {
	Env     string `env:"ENV" envDefault:"dev" json:"env"`
	Port    int    `env:"PORT" envDefault:"5000" json:"port"`
	LogJSON bool   `env:"LOG_JSON" envDefault:"true" json:"logJson"`

	// Transaction log. Empty keeps transactions in memory only.
	DatabaseURL          string        `env:"DATABASE_URL" json:"-"`
	ListenerMinReconnect time.Duration `env:"LISTENER_MIN_RECONNECT" envDefault:"10s" json:"listenerMinReconnect"`
	ListenerMaxReconnect time.Duration `env:"LISTENER_MAX_RECONNECT" envDefault:"1m" json:"listenerMaxReconnect"`
	LookupTimeout        time.Duration `env:"LOOKUP_TIMEOUT" envDefault:"10s" json:"lookupTimeout"`

	// Telegram notifications
	TelegramBotToken string        `env:"TELEGRAM_BOT_TOKEN" json:"-"`
	TelegramChatID   int64         `env:"TELEGRAM_CHAT_ID" json:"telegramChatId"`
	NotifyTimeout    time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s" json:"notifyTimeout"`

	// Webhook verification; all empty accepts unsigned webhooks.
	WebhookAPIKey     string `env:"WEBHOOK_API_KEY" json:"-"`
	WebhookHMACSecret string `env:"WEBHOOK_HMAC_SECRET" json:"-"`
	WebhookJWTSecret  string `env:"WEBHOOK_JWT_SECRET" json:"-"`

	CodeAttempts    int           `env:"CODE_ATTEMPTS" envDefault:"8" json:"codeAttempts"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s" json:"shutdownTimeout"`
}

// Load reads PAYMENTS_* variables over the defaults.
func Load() (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ListenerMinReconnect <= 0 || c.ListenerMaxReconnect < c.ListenerMinReconnect {
		return fmt.Errorf("invalid listener reconnect window %s..%s", c.ListenerMinReconnect, c.ListenerMaxReconnect)
	}
	if c.CodeAttempts <= 0 {
		return fmt.Errorf("code attempts must be positive, got %d", c.CodeAttempts)
	}
	return nil
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}

func (c Config) WebhookVerified() bool {
	return c.WebhookAPIKey != "" || c.WebhookHMACSecret != "" || c.WebhookJWTSecret != ""
}
