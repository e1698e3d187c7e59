package goAccount

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"runtime"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func ed25519Config(t *testing.T) Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	return cfg
}

func TestDefaultConfigNeedsKeys(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected default config without keys to be invalid")
	}

	cfg = ed25519Config(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config with keys to be valid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "hs256 test config",
			mutate:    func(c *Config) { *c = testConfig() },
			wantValid: true,
		},
		{
			name:      "code ttl zero",
			mutate:    func(c *Config) { c.Codes.TTL = 0 },
			wantValid: false,
		},
		{
			name:      "code digits too few",
			mutate:    func(c *Config) { c.Codes.Digits = 4 },
			wantValid: false,
		},
		{
			name:      "code digits max",
			mutate:    func(c *Config) { c.Codes.Digits = 10 },
			wantValid: true,
		},
		{
			name:      "code attempts zero",
			mutate:    func(c *Config) { c.Codes.MaxAttempts = 0 },
			wantValid: false,
		},
		{
			name:      "reset token ttl zero",
			mutate:    func(c *Config) { c.ResetToken.TTL = 0 },
			wantValid: false,
		},
		{
			name:      "argon2 memory too low",
			mutate:    func(c *Config) { c.Password.Memory = 1024 },
			wantValid: false,
		},
		{
			name:      "password max below min",
			mutate:    func(c *Config) { c.Password.MaxLength = 4 },
			wantValid: false,
		},
		{
			name:      "password min zero",
			mutate:    func(c *Config) { c.Password.MinLength = 0 },
			wantValid: false,
		},
		{
			name:      "token ttl beyond session lifetime",
			mutate:    func(c *Config) { c.JWT.TokenTTL = 8 * 24 * time.Hour },
			wantValid: false,
		},
		{
			name:      "jwt leeway too large",
			mutate:    func(c *Config) { c.JWT.Leeway = 3 * time.Minute },
			wantValid: false,
		},
		{
			name:      "unknown signing method",
			mutate:    func(c *Config) { c.JWT.SigningMethod = "rs256" },
			wantValid: false,
		},
		{
			name:      "hs256 without secret",
			mutate:    func(c *Config) { c.JWT.SigningMethod = "hs256"; c.JWT.PrivateKey = nil },
			wantValid: false,
		},
		{
			name:      "store retries zero",
			mutate:    func(c *Config) { c.Store.MaxRetries = 0 },
			wantValid: false,
		},
		{
			name:      "audit enabled without buffer",
			mutate:    func(c *Config) { c.Audit.Enabled = true; c.Audit.BufferSize = 0 },
			wantValid: false,
		},
		{
			name:      "jitter enabled without range",
			mutate:    func(c *Config) { c.Session.JitterEnabled = true; c.Session.JitterRange = 0 },
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ed25519Config(t)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected invalid config")
			}
		})
	}
}

func TestBuildRequiresRedis(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected build without redis to fail")
	}
}

func TestFailedBuildStartsNoAuditWorker(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := ed25519Config(t)
	cfg.JWT.PrivateKey = []byte("short")
	cfg.Audit.Enabled = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("malformed key should pass Validate, got %v", err)
	}

	const builds = 20
	before := runtime.NumGoroutine()
	for i := 0; i < builds; i++ {
		engine, err := New().WithConfig(cfg).WithRedis(rdb).WithAuditSink(NewChannelSink(1)).Build()
		if err == nil {
			engine.Close()
			t.Fatal("expected build with malformed ed25519 key to fail")
		}
	}
	if grown := runtime.NumGoroutine() - before; grown >= builds/2 {
		t.Fatalf("failed builds left %d goroutines running", grown)
	}
}

func TestBuilderSingleUse(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	b := New().WithConfig(testConfig()).WithRedis(rdb)
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second build to fail")
	}
}

func TestBuildConfigImmutabilityAgainstExternalMutation(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := testConfig()
	original := append([]byte(nil), cfg.JWT.PrivateKey...)

	engine, err := New().WithConfig(cfg).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer engine.Close()

	for i := range cfg.JWT.PrivateKey {
		cfg.JWT.PrivateKey[i] = 'x'
	}
	cfg.Codes.TTL = time.Nanosecond

	if string(engine.config.JWT.PrivateKey) != string(original) {
		t.Fatal("engine config changed after external key mutation")
	}
	if engine.config.Codes.TTL != testConfig().Codes.TTL {
		t.Fatal("engine config changed after external mutation")
	}
}

func TestUnbuiltEngineNotReady(t *testing.T) {
	var e Engine
	if _, err := e.Login(context.Background(), LoginRequest{}); err != ErrEngineNotReady {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}
