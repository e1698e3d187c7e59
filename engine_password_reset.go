package goAccount

import (
	"context"
	"errors"

	"github.com/MrEthical07/goAccount/internal/codes"
	"github.com/MrEthical07/goAccount/store"
)

// RequestPasswordReset issues a password reset code for the account owning
// loginEmail. Any verified address of the account is accepted, but the code
// is always scoped to, and mailed to, the current primary address, which is
// returned.
func (e *Engine) RequestPasswordReset(ctx context.Context, loginEmail string) (*PasswordResetRequestResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	_, normalized, err := NormalizeEmail(loginEmail)
	if err != nil {
		return nil, err
	}

	snapshot, _, err := e.lookupVerified(ctx, normalized)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", "", err, emailMeta(normalized))
		return nil, err
	}
	primary, ok := snapshot.Primary()
	if !ok {
		return nil, ErrUnexpected.Wrapf("account %s has no primary email", snapshot.Account.ID)
	}

	expiresAt, err := e.issueAndSend(ctx, snapshot.Account.ID, codes.PurposePasswordReset, primary)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, snapshot.Account.ID, "", err, emailMeta(normalized))
		return nil, err
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, snapshot.Account.ID, "", nil, func() map[string]string {
		return map[string]string{"email": normalized, "primary": primary.Normalized}
	})

	return &PasswordResetRequestResult{Email: primary.Email, ExpiresAt: expiresAt}, nil
}

// VerifyResetCode redeems the reset code of the account owning loginEmail
// and returns a single-use reset token bound to the current credential.
func (e *Engine) VerifyResetCode(ctx context.Context, loginEmail, code string) (*ResetTokenResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	_, normalized, err := NormalizeEmail(loginEmail)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, ErrInvalidParameter.Wrapf("missing code")
	}

	snapshot, _, err := e.lookupVerified(ctx, normalized)
	if err != nil {
		e.metricInc(MetricPasswordResetCodeFailure)
		e.emitAudit(ctx, auditEventPasswordResetCode, false, "", "", err, emailMeta(normalized))
		return nil, err
	}
	accountID := snapshot.Account.ID
	primary, ok := snapshot.Primary()
	if !ok {
		return nil, ErrUnexpected.Wrapf("account %s has no primary email", accountID)
	}

	record, err := e.codes.Redeem(ctx, codes.PurposePasswordReset, primary.Normalized, code)
	if err == nil && record.AccountID != accountID {
		err = codes.ErrCodeNotFound
	}
	if err != nil {
		err = codeError(err)
		e.metricInc(MetricPasswordResetCodeFailure)
		e.emitAudit(ctx, auditEventPasswordResetCode, false, accountID, "", err, emailMeta(normalized))
		return nil, err
	}

	token, expiresAt, err := e.resetTokens.Issue(ctx, accountID, snapshot.Credential.Version())
	if err != nil {
		return nil, ErrServiceUnavailable.Wrap(err)
	}

	e.emitAudit(ctx, auditEventPasswordResetCode, true, accountID, "", nil, emailMeta(normalized))
	return &ResetTokenResult{Token: token, Email: primary.Email, ExpiresAt: expiresAt}, nil
}

// ResetPassword replaces the credential using a reset token. The token is
// consumed even when the reset is refused. Fails with InvalidToken when the
// token is unknown, expired, already used, or was issued against a
// credential that has since changed.
//
// On success every code of every address of the account is revoked and all
// sessions are invalidated.
func (e *Engine) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return err
	}

	record, err := e.resetTokens.Consume(ctx, resetToken)
	if err != nil {
		switch {
		case errors.Is(err, codes.ErrTokenMalformed),
			errors.Is(err, codes.ErrTokenNotFound),
			errors.Is(err, codes.ErrTokenMismatch):
			err = ErrInvalidToken.Wrap(err)
		default:
			err = ErrServiceUnavailable.Wrap(err)
		}
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, "", "", err, nil)
		return err
	}
	accountID := record.AccountID

	verifier, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return ErrUnexpected.Wrap(err)
	}

	var emails []store.Email
	err = e.withinAccount(ctx, accountID, func(tx *store.Tx) error {
		snap := tx.Snapshot()
		if snap.Credential.Version() != record.CredentialVersion {
			return ErrInvalidToken.Wrapf("credential changed since token issue")
		}
		tx.ReplaceCredential(store.Credential{
			Verifier:  verifier,
			ChangedAt: e.nextCredentialTime(snap.Credential),
		})
		emails = append(emails[:0], snap.Emails...)
		return nil
	})
	if errors.Is(err, ErrAccountUnknown) {
		err = ErrInvalidToken.Wrap(err)
	}
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, accountID, "", err, nil)
		return err
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, accountID, "", nil, nil)

	e.revokeCodes(ctx, accountID, codes.AllPurposes, emailAddresses(emails)...)
	e.invalidateSessions(ctx, accountID, "password_reset")
	return nil
}
