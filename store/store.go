package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned when an account or email record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrEmailTaken is returned when a normalized address is already owned.
	ErrEmailTaken = errors.New("store: email already owned")
	// ErrConflict is returned when optimistic concurrency retries are exhausted.
	ErrConflict = errors.New("store: concurrent modification")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("store: backend unavailable")
	// ErrInvariant is returned when a staged change would break account invariants.
	ErrInvariant = errors.New("store: account invariant violated")
)

// Account is the root identity record.
type Account struct {
	ID          string
	SignupEmail string
	Revision    int64
	CreatedAt   time.Time
}

// Email is one address attached to an account. Normalized is the identity key.
type Email struct {
	Email      string
	Normalized string
	AccountID  string
	IsPrimary  bool
	IsVerified bool
	CreatedAt  time.Time
}

// Credential holds the password verifier of an account.
type Credential struct {
	AccountID string
	Verifier  string
	ChangedAt time.Time
}

// Version identifies the credential generation. Reset tokens bind to it.
func (c Credential) Version() int64 {
	return c.ChangedAt.UnixNano()
}

// Snapshot is the complete state of one account.
type Snapshot struct {
	Account    Account
	Emails     []Email
	Credential Credential
}

// Primary returns the primary email of the account.
func (s *Snapshot) Primary() (Email, bool) {
	for _, e := range s.Emails {
		if e.IsPrimary {
			return e, true
		}
	}
	return Email{}, false
}

// Find returns the email with the given normalized address.
func (s *Snapshot) Find(normalized string) (Email, bool) {
	for _, e := range s.Emails {
		if e.Normalized == normalized {
			return e, true
		}
	}
	return Email{}, false
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Account:    s.Account,
		Credential: s.Credential,
		Emails:     make([]Email, len(s.Emails)),
	}
	copy(out.Emails, s.Emails)
	return out
}

// SortEmails orders emails primary first, then by creation time.
func (s *Snapshot) SortEmails() {
	sort.SliceStable(s.Emails, func(i, j int) bool {
		a, b := s.Emails[i], s.Emails[j]
		if a.IsPrimary != b.IsPrimary {
			return a.IsPrimary
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Normalized < b.Normalized
	})
}

// Validate checks the structural invariants of an account: at least one
// email, exactly one primary, and a verified primary.
func (s *Snapshot) Validate() error {
	if len(s.Emails) == 0 {
		return errors.Join(ErrInvariant, errors.New("account has no email"))
	}
	primaries := 0
	seen := make(map[string]struct{}, len(s.Emails))
	for _, e := range s.Emails {
		if _, dup := seen[e.Normalized]; dup {
			return errors.Join(ErrInvariant, errors.New("duplicate email on account"))
		}
		seen[e.Normalized] = struct{}{}
		if e.AccountID != s.Account.ID {
			return errors.Join(ErrInvariant, errors.New("email owned by another account"))
		}
		if e.IsPrimary {
			primaries++
			if !e.IsVerified {
				return errors.Join(ErrInvariant, errors.New("primary email is not verified"))
			}
		}
	}
	if primaries != 1 {
		return errors.Join(ErrInvariant, errors.New("account must have exactly one primary email"))
	}
	return nil
}

// Store persists accounts, their emails and credentials.
//
// Every mutation of an existing account runs inside WithinAccount, which
// serializes writers of the same account and applies the staged changes of
// the callback atomically.
type Store interface {
	// CreateAccount inserts a new account together with its emails and
	// credential. Returns ErrEmailTaken when any address is owned.
	CreateAccount(ctx context.Context, snapshot *Snapshot) error
	// LookupEmail resolves a normalized address to its record.
	LookupEmail(ctx context.Context, normalized string) (Email, error)
	// LoadAccount returns the current state of an account.
	LoadAccount(ctx context.Context, accountID string) (*Snapshot, error)
	// WithinAccount runs fn against a staged view of the account and commits
	// the staged changes when fn returns nil. Returns fn's error unchanged.
	WithinAccount(ctx context.Context, accountID string, fn func(tx *Tx) error) error
}
