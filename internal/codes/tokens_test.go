package codes

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goAccount/internal"
)

func TestTokenIssueAndConsumeOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	tokens := NewTokenStore(rdb, "", 15*time.Minute)
	ctx := context.Background()

	token, expiresAt, err := tokens.Issue(ctx, "acc-1", 42)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expiresAt.After(time.Now()) {
		t.Fatal("expiry should be in the future")
	}

	record, err := tokens.Consume(ctx, token)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if record.AccountID != "acc-1" || record.CredentialVersion != 42 {
		t.Fatalf("unexpected record: %+v", record)
	}

	if _, err := tokens.Consume(ctx, token); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound on reuse, got %v", err)
	}
}

func TestTokenMalformedAndMismatch(t *testing.T) {
	_, rdb := newTestRedis(t)
	tokens := NewTokenStore(rdb, "", 15*time.Minute)
	ctx := context.Background()

	if _, err := tokens.Consume(ctx, "not-a-token"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}

	token, _, err := tokens.Issue(ctx, "acc-1", 1)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	id, _, err := internal.DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	forged := internal.EncodeToken(id, [32]byte{1, 2, 3})
	if _, err := tokens.Consume(ctx, forged); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("expected ErrTokenMismatch, got %v", err)
	}
	if _, err := tokens.Consume(ctx, token); err != nil {
		t.Fatalf("genuine token should still be valid: %v", err)
	}
}

func TestTokenExpiredByClock(t *testing.T) {
	_, rdb := newTestRedis(t)
	tokens := NewTokenStore(rdb, "", 15*time.Minute)
	ctx := context.Background()

	base := time.Now()
	tokens.SetClock(func() time.Time { return base })
	token, _, err := tokens.Issue(ctx, "acc-1", 1)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tokens.SetClock(func() time.Time { return base.Add(16 * time.Minute) })
	if _, err := tokens.Consume(ctx, token); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestTokenConcurrentConsumeSingleWinner(t *testing.T) {
	_, rdb := newTestRedis(t)
	tokens := NewTokenStore(rdb, "", 15*time.Minute)
	ctx := context.Background()

	token, _, err := tokens.Issue(ctx, "acc-1", 1)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tokens.Consume(ctx, token); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one consume, got %d", wins.Load())
	}
}
