package goAccount

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-horse-battery"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	engine *Engine
	mailer *MemoryMailer
	redis  *redis.Client
	mr     *miniredis.Miniredis
	clock  *testClock
	audit  *ChannelSink
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("01234567890123456789012345678901")
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Session.JitterEnabled = false
	cfg.Session.JitterRange = 0
	return cfg
}

func newTestEnv(t testing.TB) *testEnv {
	return newTestEnvWithConfig(t, testConfig())
}

func newTestEnvWithConfig(t testing.TB, cfg Config) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	mailer := NewMemoryMailer()
	clock := newTestClock()
	sink := NewChannelSink(1024)
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 1024
	cfg.Audit.DropIfFull = true

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithMailer(mailer).
		WithAuditSink(sink).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})

	return &testEnv{engine: engine, mailer: mailer, redis: rdb, mr: mr, clock: clock, audit: sink}
}

func (env *testEnv) createAccount(t testing.TB, email string) string {
	t.Helper()
	res, err := env.engine.CreateAccount(context.Background(), CreateAccountRequest{Email: email, Password: testPassword})
	if err != nil {
		t.Fatalf("create account %s: %v", email, err)
	}
	return res.AccountID
}

func (env *testEnv) addVerifiedEmail(t *testing.T, accountID, email string) {
	t.Helper()
	ctx := context.Background()
	if _, err := env.engine.CreateEmail(ctx, accountID, email); err != nil {
		t.Fatalf("create email %s: %v", email, err)
	}
	code, err := env.mailer.Last(email, PurposeSecondaryEmailVerify)
	if err != nil {
		t.Fatalf("no verification code for %s: %v", email, err)
	}
	if err := env.engine.VerifyEmail(ctx, accountID, email, code); err != nil {
		t.Fatalf("verify email %s: %v", email, err)
	}
}

func (env *testEnv) login(t testing.TB, email, password string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), LoginRequest{Email: email, Password: password})
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return res
}

// drainAudit collects event types delivered so far.
func (env *testEnv) drainAudit() []AuditEvent {
	env.engine.Close()
	var out []AuditEvent
	for {
		select {
		case ev := <-env.audit.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
