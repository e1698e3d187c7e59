package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/MrEthical07/goAccount/store"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// Store is a Postgres implementation of store.Store. Mutations of one
// account serialize on a row lock of the accounts row.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateAccount inserts the account, its credential and its emails in one
// transaction.
func (s *Store) CreateAccount(ctx context.Context, snapshot *store.Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}

	err := withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO accounts (id, signup_email, revision, created_at)
			 VALUES ($1, $2, $3, $4)`,
			snapshot.Account.ID, snapshot.Account.SignupEmail, snapshot.Account.Revision, snapshot.Account.CreatedAt)
		if err != nil {
			return err
		}
		if err := upsertCredential(ctx, tx, snapshot.Account.ID, snapshot.Credential); err != nil {
			return err
		}
		for _, e := range snapshot.Emails {
			if err := insertEmail(ctx, tx, snapshot.Account.ID, e); err != nil {
				return err
			}
		}
		return nil
	})
	return mapError(err)
}

// LookupEmail resolves an address to its record.
func (s *Store) LookupEmail(ctx context.Context, normalized string) (store.Email, error) {
	var e store.Email
	err := s.db.QueryRowContext(ctx,
		`SELECT email, normalized, account_id, is_primary, is_verified, created_at
		 FROM account_emails
		 WHERE normalized = $1`,
		normalized).Scan(&e.Email, &e.Normalized, &e.AccountID, &e.IsPrimary, &e.IsVerified, &e.CreatedAt)
	if err != nil {
		return store.Email{}, mapError(err)
	}
	return e, nil
}

// LoadAccount reads the current state of an account without locking.
func (s *Store) LoadAccount(ctx context.Context, accountID string) (*store.Snapshot, error) {
	snap, err := loadAccount(ctx, s.db, accountID, false)
	if err != nil {
		return nil, mapError(err)
	}
	return snap, nil
}

// WithinAccount locks the account row, runs fn and writes the staged
// changes in the same transaction.
func (s *Store) WithinAccount(ctx context.Context, accountID string, fn func(tx *store.Tx) error) error {
	var fnErr error

	err := withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		snap, err := loadAccount(ctx, tx, accountID, true)
		if err != nil {
			return err
		}

		stx := store.NewTx(snap)
		if err := fn(stx); err != nil {
			fnErr = err
			return err
		}
		if !stx.Dirty() {
			return nil
		}
		if err := stx.Snapshot().Validate(); err != nil {
			return err
		}
		return applyChanges(ctx, tx, accountID, stx)
	})
	if fnErr != nil {
		return fnErr
	}
	return mapError(err)
}

// Ping checks database availability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func loadAccount(ctx context.Context, db DBTX, accountID string, lock bool) (*store.Snapshot, error) {
	query := `SELECT a.id, a.signup_email, a.revision, a.created_at, c.verifier, c.changed_at
		 FROM accounts a
		 JOIN account_credentials c ON c.account_id = a.id
		 WHERE a.id = $1`
	if lock {
		query += ` FOR UPDATE OF a`
	}

	snap := &store.Snapshot{}
	err := db.QueryRowContext(ctx, query, accountID).Scan(
		&snap.Account.ID,
		&snap.Account.SignupEmail,
		&snap.Account.Revision,
		&snap.Account.CreatedAt,
		&snap.Credential.Verifier,
		&snap.Credential.ChangedAt,
	)
	if err != nil {
		return nil, err
	}
	snap.Credential.AccountID = snap.Account.ID

	rows, err := db.QueryContext(ctx,
		`SELECT email, normalized, is_primary, is_verified, created_at
		 FROM account_emails
		 WHERE account_id = $1
		 ORDER BY created_at`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		e := store.Email{AccountID: snap.Account.ID}
		if err := rows.Scan(&e.Email, &e.Normalized, &e.IsPrimary, &e.IsVerified, &e.CreatedAt); err != nil {
			return nil, err
		}
		snap.Emails = append(snap.Emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

func applyChanges(ctx context.Context, tx DBTX, accountID string, stx *store.Tx) error {
	for _, n := range stx.Deleted() {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM account_emails WHERE normalized = $1 AND account_id = $2`,
			n, accountID); err != nil {
			return err
		}
	}

	// Demotions run before promotions so the one-primary index holds after
	// every statement.
	updated := stx.Updated()
	sort.SliceStable(updated, func(i, j int) bool {
		return !updated[i].IsPrimary && updated[j].IsPrimary
	})
	for _, e := range updated {
		if _, err := tx.ExecContext(ctx,
			`UPDATE account_emails SET email = $1, is_primary = $2, is_verified = $3
			 WHERE normalized = $4 AND account_id = $5`,
			e.Email, e.IsPrimary, e.IsVerified, e.Normalized, accountID); err != nil {
			return err
		}
	}

	for _, e := range stx.Inserted() {
		if err := insertEmail(ctx, tx, accountID, e); err != nil {
			return err
		}
	}

	if c, ok := stx.Credential(); ok {
		if err := upsertCredential(ctx, tx, accountID, c); err != nil {
			return err
		}
	}

	_, err := tx.ExecContext(ctx,
		`UPDATE accounts SET revision = revision + 1 WHERE id = $1`,
		accountID)
	return err
}

func insertEmail(ctx context.Context, tx DBTX, accountID string, e store.Email) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO account_emails (normalized, email, account_id, is_primary, is_verified, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.Normalized, e.Email, accountID, e.IsPrimary, e.IsVerified, e.CreatedAt)
	return err
}

func upsertCredential(ctx context.Context, tx DBTX, accountID string, c store.Credential) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO account_credentials (account_id, verifier, changed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (account_id) DO UPDATE SET verifier = EXCLUDED.verifier, changed_at = EXCLUDED.changed_at`,
		accountID, c.Verifier, c.ChangedAt)
	return err
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if errors.Is(err, store.ErrInvariant) || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrEmailTaken) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName != "accounts_pkey" {
		return store.ErrEmailTaken
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
