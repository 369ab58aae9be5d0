package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// History backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gt=0"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	DatabasePath   string `mapstructure:"database_path" yaml:"database_path" validate:"required"`
	HistoryBackend string `mapstructure:"history_backend" yaml:"history_backend" validate:"oneof=sqlite badger"`
	BadgerPath     string `mapstructure:"badger_path" yaml:"badger_path" validate:"required_if=HistoryBackend badger"`
	HistoryLimit   int    `mapstructure:"history_limit" yaml:"history_limit" validate:"gte=0"`

	MaxMessageBytes    int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes" validate:"gt=0"`
	SendQueueSize      int   `mapstructure:"send_queue_size" yaml:"send_queue_size" validate:"gt=0"`
	RateLimitPerMinute int   `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute" validate:"gte=0"`

	JWTSecret    string `mapstructure:"jwt_secret" yaml:"jwt_secret" validate:"required,min=16"`
	JWTIssuer    string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience  string `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	AuthRequired bool   `mapstructure:"auth_required" yaml:"auth_required"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		WriteTimeout:       10 * time.Second,
		LogLevel:           "info",
		DatabasePath:       "groupchat.db",
		HistoryBackend:     BackendSQLite,
		BadgerPath:         "groupchat-history",
		HistoryLimit:       0,
		MaxMessageBytes:    32 << 10,
		SendQueueSize:      64,
		RateLimitPerMinute: 120,
		JWTSecret:          "change-me-in-production-please",
		JWTIssuer:          "groupchat",
		JWTAudience:        "groupchat-clients",
		AuthRequired:       false,
	}
}

var validate = validator.New()

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
