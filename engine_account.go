package goAccount

import (
	"context"
	"errors"

	"github.com/MrEthical07/goAccount/password"
	"github.com/MrEthical07/goAccount/store"
)

// CreateAccount registers an account whose address becomes its verified
// primary email. Fails with AccountExists when any account owns the address,
// including as an unverified secondary.
func (e *Engine) CreateAccount(ctx context.Context, req CreateAccountRequest) (*CreateAccountResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email, normalized, err := NormalizeEmail(req.Email)
	if err != nil {
		e.emitAudit(ctx, auditEventAccountCreateFailure, false, "", "", err, nil)
		return nil, err
	}
	if err := e.checkPasswordPolicy(req.Password); err != nil {
		e.emitAudit(ctx, auditEventAccountCreateFailure, false, "", "", err, emailMeta(normalized))
		return nil, err
	}

	if _, err := e.store.LookupEmail(ctx, normalized); err == nil {
		e.metricInc(MetricAccountCreateDuplicate)
		e.emitAudit(ctx, auditEventAccountCreateFailure, false, "", "", ErrAccountExists, emailMeta(normalized))
		return nil, ErrAccountExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, storeError(err)
	}

	verifier, err := e.passwordHash.Hash(req.Password)
	if err != nil {
		return nil, ErrUnexpected.Wrap(err)
	}

	now := e.now()
	accountID := e.newID()
	snapshot := &store.Snapshot{
		Account: store.Account{
			ID:          accountID,
			SignupEmail: normalized,
			CreatedAt:   now,
		},
		Emails: []store.Email{{
			Email:      email,
			Normalized: normalized,
			AccountID:  accountID,
			IsPrimary:  true,
			IsVerified: true,
			CreatedAt:  now,
		}},
		Credential: store.Credential{
			AccountID: accountID,
			Verifier:  verifier,
			ChangedAt: now,
		},
	}

	if err := e.store.CreateAccount(ctx, snapshot); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			e.metricInc(MetricAccountCreateDuplicate)
			e.emitAudit(ctx, auditEventAccountCreateFailure, false, "", "", ErrAccountExists, emailMeta(normalized))
			return nil, ErrAccountExists
		}
		err = storeError(err)
		e.emitAudit(ctx, auditEventAccountCreateFailure, false, accountID, "", err, emailMeta(normalized))
		return nil, err
	}

	e.metricInc(MetricAccountCreated)
	e.emitAudit(ctx, auditEventAccountCreated, true, accountID, "", nil, emailMeta(normalized))

	return &CreateAccountResult{
		AccountID: accountID,
		Email:     email,
		CreatedAt: now,
	}, nil
}

// checkPasswordPolicy maps password length violations to InvalidParameter.
func (e *Engine) checkPasswordPolicy(pw string) error {
	if err := e.passwordHash.CheckPolicy(pw); err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort), errors.Is(err, password.ErrPasswordTooLong):
			return ErrInvalidParameter.Wrap(err)
		default:
			return ErrUnexpected.Wrap(err)
		}
	}
	return nil
}
