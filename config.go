package goAccount

import (
	"errors"
	"math"
	"time"
)

// Config holds every tunable of the Engine. The Builder clones it, so later
// changes by the caller have no effect on a built Engine.
type Config struct {
	Codes      CodesConfig
	ResetToken ResetTokenConfig
	Password   PasswordConfig
	Session    SessionConfig
	JWT        JWTConfig
	Store      StoreConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
CODES CONFIG
====================================
*/

// CodesConfig controls verification codes for secondary emails and password
// reset.
type CodesConfig struct {
	RedisPrefix string
	TTL         time.Duration
	Digits      int
	MaxAttempts int
}

// ResetTokenConfig controls the single-use token returned by VerifyResetCode.
type ResetTokenConfig struct {
	RedisPrefix string
	TTL         time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig sets Argon2id costs and the accepted password length.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	MaxLength      int
	UpgradeOnLogin bool
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	RedisPrefix             string
	SlidingExpiration       bool
	AbsoluteSessionLifetime time.Duration
	JitterEnabled           bool
	JitterRange             time.Duration
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the signed session token handed to clients.
type JWTConfig struct {
	TokenTTL      time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

// StoreConfig applies to the default Redis-backed account store.
type StoreConfig struct {
	RedisPrefix string
	MaxRetries  int
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a production-leaning configuration. JWT keys are
// empty and must be supplied before Build.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Codes: CodesConfig{
			RedisPrefix: "avc",
			TTL:         15 * time.Minute,
			Digits:      6,
			MaxAttempts: 5,
		},
		ResetToken: ResetTokenConfig{
			RedisPrefix: "art",
			TTL:         10 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			MaxLength:      1024,
			UpgradeOnLogin: true,
		},
		Session: SessionConfig{
			RedisPrefix:             "as",
			SlidingExpiration:       true,
			AbsoluteSessionLifetime: 7 * 24 * time.Hour,
			JitterEnabled:           true,
			JitterRange:             30 * time.Second,
		},
		JWT: JWTConfig{
			TokenTTL:      24 * time.Hour,
			SigningMethod: "ed25519",
		},
		Store: StoreConfig{
			RedisPrefix: "acs",
			MaxRetries:  16,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Codes
	if c.Codes.TTL <= 0 {
		return errors.New("Codes TTL must be > 0")
	}
	if c.Codes.Digits < 6 || c.Codes.Digits > 10 {
		return errors.New("Codes Digits must be between 6 and 10")
	}
	if c.Codes.MaxAttempts <= 0 {
		return errors.New("Codes MaxAttempts must be > 0")
	}
	if c.Codes.MaxAttempts > math.MaxUint16 {
		return errors.New("Codes MaxAttempts is too large")
	}

	if c.ResetToken.TTL <= 0 {
		return errors.New("ResetToken TTL must be > 0")
	}

	// Password
	if c.Password.Memory < 8192 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Session
	if c.Session.AbsoluteSessionLifetime <= 0 {
		return errors.New("Session AbsoluteSessionLifetime must be > 0")
	}
	if c.Session.JitterRange < 0 {
		return errors.New("Session JitterRange must be >= 0")
	}
	if c.Session.JitterRange > time.Duration((math.MaxInt64-1)/2) {
		return errors.New("Session JitterRange is too large")
	}
	if c.Session.JitterEnabled && c.Session.JitterRange <= 0 {
		return errors.New("Session JitterRange must be > 0 when JitterEnabled is true")
	}

	// JWT
	if c.JWT.TokenTTL <= 0 {
		return errors.New("JWT TokenTTL must be > 0")
	}
	if c.JWT.TokenTTL > c.Session.AbsoluteSessionLifetime {
		return errors.New("JWT TokenTTL must be <= Session AbsoluteSessionLifetime")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	if c.Store.MaxRetries < 1 {
		return errors.New("Store MaxRetries must be >= 1")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
