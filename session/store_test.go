package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T) (*Store, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewStore(rdb, "as", true, false, 0), rdb, mr
}

func testSession(id string) *Session {
	now := time.Now()
	return &Session{
		SessionID:         id,
		AccountID:         "acc-1",
		LoginEmail:        "a@x.com",
		CredentialVersion: 1700000000123456000,
		IPHash:            [32]byte{1},
		CreatedAt:         now.Unix(),
		ExpiresAt:         now.Add(time.Hour).Unix(),
	}
}

func TestSaveAndGet(t *testing.T) {
	store, _, _ := newSessionStoreTest(t)
	ctx := context.Background()
	sess := testSession("sid-1")

	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save session: %v", err)
	}

	got, err := store.Get(ctx, "sid-1", time.Hour)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.AccountID != sess.AccountID || got.LoginEmail != sess.LoginEmail || got.CredentialVersion != sess.CredentialVersion {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.SessionID != "sid-1" {
		t.Fatalf("expected session id to be set, got %q", got.SessionID)
	}

	count, err := store.SessionCount(ctx)
	if err != nil {
		t.Fatalf("session count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func TestGetMissingSession(t *testing.T) {
	store, _, _ := newSessionStoreTest(t)

	if _, err := store.Get(context.Background(), "missing", time.Hour); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := store.GetReadOnly(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestGetPastAbsoluteLifetimeDeletes(t *testing.T) {
	store, rdb, _ := newSessionStoreTest(t)
	ctx := context.Background()
	sess := testSession("sid-old")

	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save session: %v", err)
	}
	store.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

	if _, err := store.Get(ctx, "sid-old", time.Hour); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	exists, err := rdb.Exists(ctx, store.key("sid-old")).Result()
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if exists != 0 {
		t.Fatal("expired session should be deleted")
	}
}

func TestSlidingTTLNeverExceedsAbsolute(t *testing.T) {
	store, _, mr := newSessionStoreTest(t)
	ctx := context.Background()
	sess := testSession("sid-slide")

	if err := store.Save(ctx, sess, 10*time.Minute); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if _, err := store.Get(ctx, "sid-slide", 30*time.Minute); err != nil {
		t.Fatalf("get session: %v", err)
	}

	ttl := mr.TTL(store.key("sid-slide"))
	if ttl <= 0 || ttl > 30*time.Minute {
		t.Fatalf("unexpected ttl after slide: %v", ttl)
	}
}

func TestDeleteSessionIdempotentCounterAndIndex(t *testing.T) {
	store, rdb, _ := newSessionStoreTest(t)
	ctx := context.Background()
	sess := testSession("sid-1")

	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := store.Delete(ctx, sess.SessionID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.Delete(ctx, sess.SessionID); err != nil {
		t.Fatalf("second delete: %v", err)
	}

	count, err := store.SessionCount(ctx)
	if err != nil {
		t.Fatalf("session count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected count 0, got %d", count)
	}

	members, err := rdb.SMembers(ctx, store.accountKey(sess.AccountID)).Result()
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected no account index members, got %v", members)
	}
}

func TestDeleteAllForAccount(t *testing.T) {
	store, _, _ := newSessionStoreTest(t)
	ctx := context.Background()

	for _, id := range []string{"sid-1", "sid-2", "sid-3"} {
		if err := store.Save(ctx, testSession(id), time.Hour); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	other := testSession("sid-other")
	other.AccountID = "acc-2"
	if err := store.Save(ctx, other, time.Hour); err != nil {
		t.Fatalf("save other: %v", err)
	}

	removed, err := store.DeleteAllForAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}

	for _, id := range []string{"sid-1", "sid-2", "sid-3"} {
		if _, err := store.GetReadOnly(ctx, id); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("%s should be gone, got %v", id, err)
		}
	}
	if _, err := store.GetReadOnly(ctx, "sid-other"); err != nil {
		t.Fatalf("other account session should survive: %v", err)
	}

	count, err := store.SessionCount(ctx)
	if err != nil {
		t.Fatalf("session count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}

	removed, err = store.DeleteAllForAccount(ctx, "acc-1")
	if err != nil || removed != 0 {
		t.Fatalf("second delete all: removed=%d err=%v", removed, err)
	}
}

func TestDecodeRejectsUnsupportedSchemaVersion(t *testing.T) {
	_, err := Decode([]byte{99})
	if err == nil || !strings.Contains(err.Error(), "unsupported session schema version") {
		t.Fatalf("expected unsupported schema version error, got %v", err)
	}
}

func TestEncodeRejectsLongFields(t *testing.T) {
	sess := testSession("sid")
	sess.LoginEmail = strings.Repeat("a", 256)
	if _, err := Encode(sess); err == nil {
		t.Fatal("expected error for oversized login email")
	}
}

func TestRandomJitterBounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		j, err := randomJitter(time.Second)
		if err != nil {
			t.Fatalf("randomJitter: %v", err)
		}
		if j < -time.Second || j > time.Second {
			t.Fatalf("jitter out of range: %v", j)
		}
	}
}
