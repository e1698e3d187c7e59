package goAccount

import (
	"context"
	"time"

	"github.com/MrEthical07/goAccount/internal/codes"
	"github.com/MrEthical07/goAccount/store"
)

// ChangePassword replaces the account credential after verifying the
// current password. Reusing the current password fails with PasswordReuse.
// On success, outstanding reset codes are revoked and every session of the
// account is invalidated.
func (e *Engine) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if currentPassword == "" {
		e.metricInc(MetricPasswordChangeFailure)
		return ErrInvalidParameter.Wrapf("missing current password")
	}
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", err, nil)
		return err
	}

	snapshot, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}

	if ok, err := e.passwordHash.Verify(currentPassword, snapshot.Credential.Verifier); err != nil || !ok {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", ErrIncorrectPassword, nil)
		return ErrIncorrectPassword
	}
	if same, err := e.passwordHash.Verify(newPassword, snapshot.Credential.Verifier); err == nil && same {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	verifier, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return ErrUnexpected.Wrap(err)
	}

	verifiedAgainst := snapshot.Credential.Verifier
	var emails []store.Email
	err = e.withinAccount(ctx, accountID, func(tx *store.Tx) error {
		snap := tx.Snapshot()
		// Another change committed between the check above and this
		// transaction; the proof no longer applies.
		if snap.Credential.Verifier != verifiedAgainst {
			return ErrIncorrectPassword
		}
		tx.ReplaceCredential(store.Credential{
			Verifier:  verifier,
			ChangedAt: e.nextCredentialTime(snap.Credential),
		})
		emails = append(emails[:0], snap.Emails...)
		return nil
	})
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, accountID, "", err, nil)
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChanged, true, accountID, "", nil, nil)

	e.revokeCodes(ctx, accountID, []codes.Purpose{codes.PurposePasswordReset}, emailAddresses(emails)...)
	e.invalidateSessions(ctx, accountID, "password_changed")
	return nil
}

// nextCredentialTime returns the ChangedAt of a replacement credential. It
// always moves forward so the credential version changes even when the
// clock does not.
func (e *Engine) nextCredentialTime(current store.Credential) time.Time {
	now := e.now()
	if !now.After(current.ChangedAt) {
		now = current.ChangedAt.Add(time.Microsecond)
	}
	return now
}
