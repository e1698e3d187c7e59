package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAccount/store"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix     = "acs"
	defaultMaxRetries = 16
	docVersionV1      = 1
)

type emailDoc struct {
	Email      string    `json:"email"`
	Normalized string    `json:"normalized"`
	IsPrimary  bool      `json:"primary"`
	IsVerified bool      `json:"verified"`
	CreatedAt  time.Time `json:"created_at"`
}

type accountDoc struct {
	Version     int        `json:"v"`
	ID          string     `json:"id"`
	SignupEmail string     `json:"signup_email"`
	Revision    int64      `json:"rev"`
	CreatedAt   time.Time  `json:"created_at"`
	Emails      []emailDoc `json:"emails"`
	Verifier    string     `json:"verifier"`
	ChangedAt   time.Time  `json:"changed_at"`
}

// Store is a Redis implementation of store.Store. An account lives in one
// JSON document; every owned address has an index key pointing at it.
// Writers use WATCH/MULTI on the account key plus every index key they
// claim, so concurrent mutations of one account never interleave.
type Store struct {
	redis      redis.UniversalClient
	prefix     string
	maxRetries int
}

// New creates a Store. Empty prefix and non-positive maxRetries select
// defaults.
func New(client redis.UniversalClient, prefix string, maxRetries int) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Store{redis: client, prefix: prefix, maxRetries: maxRetries}
}

func (s *Store) accountKey(accountID string) string {
	return s.prefix + ":acct:" + accountID
}

func (s *Store) emailKey(normalized string) string {
	return s.prefix + ":email:" + normalized
}

// CreateAccount inserts the account document and claims every index key.
func (s *Store) CreateAccount(ctx context.Context, snapshot *store.Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}
	data, err := encodeAccount(snapshot)
	if err != nil {
		return err
	}

	acctKey := s.accountKey(snapshot.Account.ID)
	keys := []string{acctKey}
	for _, e := range snapshot.Emails {
		keys = append(keys, s.emailKey(e.Normalized))
	}

	for i := 0; i < s.maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, keys[1:]...).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return store.ErrEmailTaken
			}
			exists, err := tx.Exists(ctx, acctKey).Result()
			if err != nil {
				return err
			}
			if exists > 0 {
				return errors.New("account id collision")
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, acctKey, data, 0)
				for _, e := range snapshot.Emails {
					pipe.Set(ctx, s.emailKey(e.Normalized), snapshot.Account.ID, 0)
				}
				return nil
			})
			return err
		}, keys...)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, store.ErrEmailTaken) {
				return err
			}
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		return nil
	}

	return store.ErrConflict
}

// LookupEmail resolves an address through its index key.
func (s *Store) LookupEmail(ctx context.Context, normalized string) (store.Email, error) {
	accountID, err := s.redis.Get(ctx, s.emailKey(normalized)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.Email{}, store.ErrNotFound
		}
		return store.Email{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	snap, err := s.LoadAccount(ctx, accountID)
	if err != nil {
		return store.Email{}, err
	}
	e, ok := snap.Find(normalized)
	if !ok {
		return store.Email{}, store.ErrNotFound
	}
	return e, nil
}

// LoadAccount reads the account document.
func (s *Store) LoadAccount(ctx context.Context, accountID string) (*store.Snapshot, error) {
	data, err := s.redis.Get(ctx, s.accountKey(accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return decodeAccount(data)
}

// WithinAccount runs fn under an optimistic transaction. fn may run more
// than once when another writer commits first, so it must only stage
// changes on the Tx.
func (s *Store) WithinAccount(ctx context.Context, accountID string, fn func(tx *store.Tx) error) error {
	acctKey := s.accountKey(accountID)

	for i := 0; i < s.maxRetries; i++ {
		var fnErr error

		err := s.redis.Watch(ctx, func(rtx *redis.Tx) error {
			data, err := rtx.Get(ctx, acctKey).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return store.ErrNotFound
				}
				return err
			}
			snap, err := decodeAccount(data)
			if err != nil {
				return err
			}

			tx := store.NewTx(snap)
			if err := fn(tx); err != nil {
				fnErr = err
				return err
			}
			if !tx.Dirty() {
				return nil
			}
			if err := tx.Snapshot().Validate(); err != nil {
				return err
			}

			inserted := tx.Inserted()
			if len(inserted) > 0 {
				claimKeys := make([]string, 0, len(inserted))
				for _, e := range inserted {
					claimKeys = append(claimKeys, s.emailKey(e.Normalized))
				}
				if err := rtx.Watch(ctx, claimKeys...).Err(); err != nil {
					return err
				}
				for _, key := range claimKeys {
					owner, err := rtx.Get(ctx, key).Result()
					if errors.Is(err, redis.Nil) {
						continue
					}
					if err != nil {
						return err
					}
					if owner != accountID {
						return store.ErrEmailTaken
					}
				}
			}

			next := tx.Snapshot().Clone()
			next.Account.Revision++
			encoded, err := encodeAccount(next)
			if err != nil {
				return err
			}

			_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, acctKey, encoded, 0)
				for _, e := range inserted {
					pipe.Set(ctx, s.emailKey(e.Normalized), accountID, 0)
				}
				for _, n := range tx.Deleted() {
					pipe.Del(ctx, s.emailKey(n))
				}
				return nil
			})
			return err
		}, acctKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if fnErr != nil {
			return fnErr
		}
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound),
				errors.Is(err, store.ErrEmailTaken),
				errors.Is(err, store.ErrInvariant):
				return err
			default:
				return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
			}
		}
		return nil
	}

	return store.ErrConflict
}

// Ping checks Redis availability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func encodeAccount(snap *store.Snapshot) ([]byte, error) {
	doc := accountDoc{
		Version:     docVersionV1,
		ID:          snap.Account.ID,
		SignupEmail: snap.Account.SignupEmail,
		Revision:    snap.Account.Revision,
		CreatedAt:   snap.Account.CreatedAt.UTC(),
		Emails:      make([]emailDoc, 0, len(snap.Emails)),
		Verifier:    snap.Credential.Verifier,
		ChangedAt:   snap.Credential.ChangedAt.UTC(),
	}
	for _, e := range snap.Emails {
		doc.Emails = append(doc.Emails, emailDoc{
			Email:      e.Email,
			Normalized: e.Normalized,
			IsPrimary:  e.IsPrimary,
			IsVerified: e.IsVerified,
			CreatedAt:  e.CreatedAt.UTC(),
		})
	}
	return json.Marshal(doc)
}

func decodeAccount(data []byte) (*store.Snapshot, error) {
	var doc accountDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if doc.Version != docVersionV1 {
		return nil, fmt.Errorf("decode account: unsupported version %d", doc.Version)
	}

	snap := &store.Snapshot{
		Account: store.Account{
			ID:          doc.ID,
			SignupEmail: doc.SignupEmail,
			Revision:    doc.Revision,
			CreatedAt:   doc.CreatedAt,
		},
		Emails: make([]store.Email, 0, len(doc.Emails)),
		Credential: store.Credential{
			AccountID: doc.ID,
			Verifier:  doc.Verifier,
			ChangedAt: doc.ChangedAt,
		},
	}
	for _, e := range doc.Emails {
		snap.Emails = append(snap.Emails, store.Email{
			Email:      e.Email,
			Normalized: e.Normalized,
			AccountID:  doc.ID,
			IsPrimary:  e.IsPrimary,
			IsVerified: e.IsVerified,
			CreatedAt:  e.CreatedAt,
		})
	}
	return snap, nil
}
