package goAccount

import (
	"context"
	"errors"

	"github.com/MrEthical07/goAccount/internal/codes"
	"github.com/MrEthical07/goAccount/store"
	"go.uber.org/zap"
)

// ListEmails returns the account's addresses, primary first and then in
// creation order.
func (e *Engine) ListEmails(ctx context.Context, accountID string) ([]EmailIdentity, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	snapshot, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return toEmailIdentities(snapshot), nil
}

// CreateEmail attaches an unverified secondary address to the account and
// mails it a verification code. Fails with EmailExists when any account,
// including this one, already holds the address.
//
// The address stays attached when mail delivery fails; the client can ask
// for a resend.
func (e *Engine) CreateEmail(ctx context.Context, accountID, rawEmail string) ([]EmailIdentity, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	email, normalized, err := NormalizeEmail(rawEmail)
	if err != nil {
		return nil, err
	}

	if _, err := e.store.LookupEmail(ctx, normalized); err == nil {
		e.emitAudit(ctx, auditEventEmailAdded, false, accountID, "", ErrEmailExists, emailMeta(normalized))
		return nil, ErrEmailExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, storeError(err)
	}

	var (
		added    store.Email
		snapshot *store.Snapshot
	)
	err = e.withinAccount(ctx, accountID, func(tx *store.Tx) error {
		added = store.Email{
			Email:      email,
			Normalized: normalized,
			AccountID:  accountID,
			CreatedAt:  e.now(),
		}
		if err := tx.InsertEmail(added); err != nil {
			return err
		}
		snapshot = tx.Snapshot().Clone()
		return nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventEmailAdded, false, accountID, "", err, emailMeta(normalized))
		return nil, err
	}

	e.metricInc(MetricEmailAdded)
	e.emitAudit(ctx, auditEventEmailAdded, true, accountID, "", nil, emailMeta(normalized))

	if _, err := e.issueAndSend(ctx, accountID, codes.PurposeSecondaryEmailVerify, added); err != nil {
		// The record is committed; a missing code is recoverable through
		// ResendEmailCode.
		e.logger.Warn("verification code issue failed", zap.String("account_id", accountID), zap.Error(err))
	}

	return toEmailIdentities(snapshot), nil
}

// ResendEmailCode issues a new verification code for an unverified secondary
// address, replacing the previous one.
func (e *Engine) ResendEmailCode(ctx context.Context, accountID, rawEmail string) error {
	if err := e.ready(); err != nil {
		return err
	}
	_, normalized, err := NormalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	snapshot, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	record, ok := snapshot.Find(normalized)
	if !ok {
		return ErrEmailNotOwnedByAccount
	}
	if record.IsVerified {
		return ErrInvalidParameter.Wrapf("email already verified")
	}
	_, err = e.issueAndSend(ctx, accountID, codes.PurposeSecondaryEmailVerify, record)
	return err
}

// VerifyEmail marks a secondary address verified when code matches the live
// verification code issued to this account for that address. Redemption
// consumes the code.
//
// Once the address is verified there is no live code left to compare, so
// code is not checked and the call succeeds. A client retrying a verify
// whose response it lost gets success rather than InvalidOrExpiredCode.
func (e *Engine) VerifyEmail(ctx context.Context, accountID, rawEmail, code string) error {
	if err := e.ready(); err != nil {
		return err
	}
	_, normalized, err := NormalizeEmail(rawEmail)
	if err != nil {
		return err
	}
	if code == "" {
		return ErrInvalidParameter.Wrapf("missing code")
	}

	snapshot, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	record, ok := snapshot.Find(normalized)
	if !ok {
		e.metricInc(MetricEmailVerifyFailure)
		e.emitAudit(ctx, auditEventEmailVerifyFailure, false, accountID, "", ErrEmailNotOwnedByAccount, emailMeta(normalized))
		return ErrEmailNotOwnedByAccount
	}
	if record.IsVerified {
		// Already verified; the code was consumed by the verify that did it.
		return nil
	}

	redeemed, err := e.codes.Redeem(ctx, codes.PurposeSecondaryEmailVerify, normalized, code)
	if err == nil && redeemed.AccountID != accountID {
		err = codes.ErrCodeNotFound
	}
	if err != nil {
		err = codeError(err)
		e.metricInc(MetricEmailVerifyFailure)
		e.emitAudit(ctx, auditEventEmailVerifyFailure, false, accountID, "", err, emailMeta(normalized))
		return err
	}

	err = e.withinAccount(ctx, accountID, func(tx *store.Tx) error {
		current, ok := tx.Snapshot().Find(normalized)
		if !ok {
			return ErrEmailNotOwnedByAccount
		}
		if current.IsVerified {
			return nil
		}
		current.IsVerified = true
		return tx.UpdateEmail(current)
	})
	if err != nil {
		e.metricInc(MetricEmailVerifyFailure)
		e.emitAudit(ctx, auditEventEmailVerifyFailure, false, accountID, "", err, emailMeta(normalized))
		return err
	}

	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, auditEventEmailVerified, true, accountID, "", nil, emailMeta(normalized))
	return nil
}

// SetPrimaryEmail makes a verified secondary address the account's primary.
// The swap is atomic: concurrent callers always leave exactly one primary.
// On success, reset codes scoped to the old primary are revoked and every
// session of the account is invalidated.
func (e *Engine) SetPrimaryEmail(ctx context.Context, accountID, rawEmail string) error {
	if err := e.ready(); err != nil {
		return err
	}
	_, normalized, err := NormalizeEmail(rawEmail)
	if err != nil {
		return err
	}

	var (
		oldPrimary store.Email
		changed    bool
	)
	err = e.withinAccount(ctx, accountID, func(tx *store.Tx) error {
		changed = false
		snap := tx.Snapshot()
		target, ok := snap.Find(normalized)
		if !ok {
			return ErrEmailNotOwnedByAccount
		}
		if !target.IsVerified {
			return ErrEmailNotVerified
		}
		if target.IsPrimary {
			return nil
		}

		current, ok := snap.Primary()
		if !ok {
			return ErrUnexpected.Wrapf("account %s has no primary email", accountID)
		}
		oldPrimary = current
		current.IsPrimary = false
		if err := tx.UpdateEmail(current); err != nil {
			return err
		}
		target.IsPrimary = true
		if err := tx.UpdateEmail(target); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventPrimaryChangeFailure, false, accountID, "", err, emailMeta(normalized))
		return err
	}
	if !changed {
		return nil
	}

	e.metricInc(MetricPrimaryChanged)
	e.emitAudit(ctx, auditEventPrimaryChanged, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"email": normalized, "previous": oldPrimary.Normalized}
	})

	e.revokeCodes(ctx, accountID, []codes.Purpose{codes.PurposePasswordReset}, oldPrimary.Normalized)
	e.invalidateSessions(ctx, accountID, "primary_email_changed")
	return nil
}

// DeleteEmail removes a secondary address and every outstanding code for it.
// The checks run in order: ownership, last remaining email, primary.
func (e *Engine) DeleteEmail(ctx context.Context, accountID, rawEmail string) error {
	if err := e.ready(); err != nil {
		return err
	}
	_, normalized, err := NormalizeEmail(rawEmail)
	if err != nil {
		return err
	}

	err = e.withinAccount(ctx, accountID, func(tx *store.Tx) error {
		snap := tx.Snapshot()
		target, ok := snap.Find(normalized)
		if !ok {
			return ErrEmailNotOwnedByAccount
		}
		if len(snap.Emails) == 1 {
			return ErrCannotDeleteLastEmail
		}
		if target.IsPrimary {
			return ErrCannotDeletePrimary
		}
		return tx.DeleteEmail(normalized)
	})
	if err != nil {
		e.emitAudit(ctx, auditEventEmailDeleteFailure, false, accountID, "", err, emailMeta(normalized))
		return err
	}

	e.metricInc(MetricEmailDeleted)
	e.emitAudit(ctx, auditEventEmailDeleted, true, accountID, "", nil, emailMeta(normalized))
	e.revokeCodes(ctx, accountID, codes.AllPurposes, normalized)
	return nil
}

// ResolveLoginIdentity maps a submitted address to its account and canonical
// (primary) email.
//
// A verified secondary, or the primary typed with different letter case,
// yields *IncorrectEmailCaseError carrying the canonical address. Unknown
// addresses and unverified secondaries yield AccountUnknown.
func (e *Engine) ResolveLoginIdentity(ctx context.Context, submitted string) (*LoginIdentity, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	snapshot, _, err := e.resolveCanonical(ctx, submitted)
	if err != nil {
		return nil, err
	}
	primary, _ := snapshot.Primary()
	return &LoginIdentity{
		AccountID:      snapshot.Account.ID,
		CanonicalEmail: primary.Email,
		SignupEmail:    snapshot.Account.SignupEmail,
	}, nil
}

func (e *Engine) resolveCanonical(ctx context.Context, submitted string) (*store.Snapshot, store.Email, error) {
	email, normalized, err := NormalizeEmail(submitted)
	if err != nil {
		return nil, store.Email{}, err
	}
	snapshot, record, err := e.lookupVerified(ctx, normalized)
	if err != nil {
		return nil, store.Email{}, err
	}
	primary, ok := snapshot.Primary()
	if !ok {
		return nil, store.Email{}, ErrUnexpected.Wrapf("account %s has no primary email", snapshot.Account.ID)
	}
	if !record.IsPrimary || record.Email != email {
		return snapshot, record, &IncorrectEmailCaseError{Email: primary.Email}
	}
	return snapshot, record, nil
}

// lookupVerified loads the account owning a verified address. Unknown and
// unverified addresses are both AccountUnknown.
func (e *Engine) lookupVerified(ctx context.Context, normalized string) (*store.Snapshot, store.Email, error) {
	owner, err := e.store.LookupEmail(ctx, normalized)
	if err != nil {
		return nil, store.Email{}, storeError(err)
	}
	snapshot, err := e.store.LoadAccount(ctx, owner.AccountID)
	if err != nil {
		return nil, store.Email{}, storeError(err)
	}
	record, ok := snapshot.Find(normalized)
	if !ok || !record.IsVerified {
		return nil, store.Email{}, ErrAccountUnknown
	}
	return snapshot, record, nil
}

// codeError maps code issuer failures to client errors.
func codeError(err error) error {
	switch {
	case errors.Is(err, codes.ErrCodeNotFound),
		errors.Is(err, codes.ErrCodeMismatch),
		errors.Is(err, codes.ErrCodeAttemptsExceeded):
		return ErrInvalidOrExpiredCode.Wrap(err)
	default:
		return ErrServiceUnavailable.Wrap(err)
	}
}
