// Package config loads service settings from config.yaml and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppPort           string `mapstructure:"APP_PORT"`
	Env               string `mapstructure:"ENV"`
	LogLevel          string `mapstructure:"LOG_LEVEL"`
	MaxRequestsPerMin int    `mapstructure:"MAX_REQUESTS_PER_MIN"`
	CORSOrigins       string `mapstructure:"CORS_ORIGINS"`

	// Storage. STORE_DRIVER is "postgres" or "memory".
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// Auth.
	JWTSecret    string `mapstructure:"JWT_HMAC_SECRET"`
	StaticTokens string `mapstructure:"STATIC_TOKENS"`

	// Payments. An empty key selects the sandbox processor.
	StripeKey      string        `mapstructure:"STRIPE_KEY"`
	StripeCurrency string        `mapstructure:"STRIPE_CURRENCY"`
	PaymentTimeout time.Duration `mapstructure:"PAYMENT_TIMEOUT"`

	// Google Calendar.
	GoogleClientID     string        `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string        `mapstructure:"GOOGLE_REDIRECT_URL"`
	ProvisionTimeout   time.Duration `mapstructure:"PROVISION_TIMEOUT"`

	// Redis backs the provisioning queue. Empty means in-process dispatch.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisQueueDB  int    `mapstructure:"REDIS_QUEUE_DB"`

	// RabbitMQ domain events. Empty means events are dropped.
	RabbitURL      string `mapstructure:"RABBIT_URL"`
	EventsExchange string `mapstructure:"EVENTS_EXCHANGE"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	PromotionSchedule string `mapstructure:"PROMOTION_SCHEDULE"`
	RetentionSchedule string `mapstructure:"RETENTION_SCHEDULE"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MAX_REQUESTS_PER_MIN", 200)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_HMAC_SECRET", "")
	v.SetDefault("STATIC_TOKENS", "")
	v.SetDefault("STRIPE_KEY", "")
	v.SetDefault("STRIPE_CURRENCY", "usd")
	v.SetDefault("PAYMENT_TIMEOUT", "30s")
	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GOOGLE_REDIRECT_URL", "")
	v.SetDefault("PROVISION_TIMEOUT", "20s")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_QUEUE_DB", 0)
	v.SetDefault("RABBIT_URL", "")
	v.SetDefault("EVENTS_EXCHANGE", "consultation.events")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("PROMOTION_SCHEDULE", "*/5 * * * *")
	v.SetDefault("RETENTION_SCHEDULE", "30 3 * * *")
}

// Load reads config.yaml from the working directory or ./config if present,
// then lets environment variables override it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL required for the postgres store")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.JWTSecret == "" && c.StaticTokens == "" {
		return errors.New("config: set JWT_HMAC_SECRET or STATIC_TOKENS")
	}
	if c.MaxRequestsPerMin <= 0 {
		return errors.New("config: MAX_REQUESTS_PER_MIN must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Origins splits CORS_ORIGINS on commas.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
