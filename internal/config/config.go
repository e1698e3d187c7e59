// Package config loads the accountd daemon settings from the environment and
// an optional .env file using Viper.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/spf13/viper"
)

// Config holds daemon settings. Engine tunables not listed here keep the
// goAccount.DefaultConfig values.
type Config struct {
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	Env      string `mapstructure:"APP_ENV"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// DatabaseURL selects the Postgres account store when set; otherwise
	// accounts live in Redis.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// JWTPrivateKey and JWTPublicKey are base64 raw ed25519 keys or PEM text.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	JWTPublicKey  string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	JWTAudience   string `mapstructure:"JWT_AUDIENCE"`
	SessionTTL    string `mapstructure:"SESSION_TTL"`

	CodeTTL     string `mapstructure:"CODE_TTL"`
	CodeDigits  int    `mapstructure:"CODE_DIGITS"`
	CodeRetries int    `mapstructure:"CODE_MAX_ATTEMPTS"`

	// DevMailer logs codes instead of discarding them. Refused in
	// production.
	DevMailer bool `mapstructure:"DEV_MAILER"`

	AuditEnabled   bool `mapstructure:"AUDIT_ENABLED"`
	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "goaccount")
	v.SetDefault("JWT_AUDIENCE", "goaccount-api")
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("CODE_TTL", "15m")
	v.SetDefault("CODE_DIGITS", 6)
	v.SetDefault("CODE_MAX_ATTEMPTS", 5)
	v.SetDefault("DEV_MAILER", false)
	v.SetDefault("AUDIT_ENABLED", true)
	v.SetDefault("METRICS_ENABLED", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.RedisAddr == "" {
		return nil, errors.New("config: REDIS_ADDR must be set")
	}
	if cfg.DevMailer && cfg.Env == "production" {
		return nil, errors.New("config: DEV_MAILER must not be true when APP_ENV=production")
	}
	if _, err := parseDuration("SESSION_TTL", cfg.SessionTTL); err != nil {
		return nil, err
	}
	if _, err := parseDuration("CODE_TTL", cfg.CodeTTL); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Engine maps the daemon settings onto an engine configuration.
func (c *Config) Engine() (goAccount.Config, error) {
	out := goAccount.DefaultConfig()

	priv, err := decodeKey(c.JWTPrivateKey)
	if err != nil {
		return out, fmt.Errorf("config: JWT_PRIVATE_KEY: %w", err)
	}
	pub, err := decodeKey(c.JWTPublicKey)
	if err != nil {
		return out, fmt.Errorf("config: JWT_PUBLIC_KEY: %w", err)
	}
	out.JWT.PrivateKey = priv
	out.JWT.PublicKey = pub
	out.JWT.Issuer = c.JWTIssuer
	out.JWT.Audience = c.JWTAudience
	out.JWT.TokenTTL, _ = parseDuration("SESSION_TTL", c.SessionTTL)

	out.Codes.TTL, _ = parseDuration("CODE_TTL", c.CodeTTL)
	out.Codes.Digits = c.CodeDigits
	out.Codes.MaxAttempts = c.CodeRetries

	out.Audit.Enabled = c.AuditEnabled
	out.Metrics.Enabled = c.MetricsEnabled
	out.Metrics.EnableLatencyHistograms = c.MetricsEnabled

	return out, out.Validate()
}

func parseDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive duration", name)
	}
	return d, nil
}

// decodeKey accepts PEM text as is and base64 for raw key bytes.
func decodeKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	if len(raw) > 10 && raw[:10] == "-----BEGIN" {
		return []byte(raw), nil
	}
	return base64.StdEncoding.DecodeString(raw)
}
