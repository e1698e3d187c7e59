package goAccount

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goAccount/internal"
	"github.com/MrEthical07/goAccount/session"
	"github.com/MrEthical07/goAccount/store"
	"go.uber.org/zap"
)

// Login authenticates an email and password and creates a session.
//
// The password is checked before the address form, so a caller without the
// password learns nothing about the canonical address. With the right
// password, a secondary address or a differently cased primary fails with
// *IncorrectEmailCaseError naming the canonical address; the client retries
// with that address and passes the original one as OriginalLoginEmail.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer e.observe(MetricLoginLatency, start)

	if req.Password == "" {
		e.metricInc(MetricLoginFailure)
		return nil, ErrInvalidParameter.Wrapf("missing password")
	}

	snapshot, record, resolveErr := e.resolveCanonical(ctx, req.Email)
	var caseErr *IncorrectEmailCaseError
	if resolveErr != nil && !errors.As(resolveErr, &caseErr) {
		if errors.Is(resolveErr, ErrAccountUnknown) {
			e.passwordHash.VerifyDummy(req.Password)
		}
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", "", resolveErr, emailMeta(req.Email))
		return nil, resolveErr
	}
	accountID := snapshot.Account.ID

	if ok, err := e.passwordHash.Verify(req.Password, snapshot.Credential.Verifier); err != nil || !ok {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, accountID, "", ErrIncorrectPassword, emailMeta(record.Normalized))
		return nil, ErrIncorrectPassword
	}

	if caseErr != nil {
		e.metricInc(MetricLoginIncorrectEmailCase)
		e.emitAudit(ctx, auditEventLoginFailure, false, accountID, "", caseErr, emailMeta(record.Normalized))
		return nil, caseErr
	}

	loginEmail := record.Email
	if req.OriginalLoginEmail != "" {
		_, originalNormalized, err := NormalizeEmail(req.OriginalLoginEmail)
		if err != nil {
			e.metricInc(MetricLoginFailure)
			return nil, err
		}
		original, ok := snapshot.Find(originalNormalized)
		if !ok {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, accountID, "", ErrInvalidParameter, emailMeta(originalNormalized))
			return nil, ErrInvalidParameter.Wrapf("original login email does not belong to account")
		}
		loginEmail = original.Email
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradeVerifier(ctx, snapshot.Credential, req.Password)
	}

	result, err := e.createSession(ctx, snapshot, loginEmail)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, accountID, "", err, emailMeta(record.Normalized))
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventLoginSuccess, true, accountID, result.SessionID, nil, emailMeta(record.Normalized))
	return result, nil
}

func (e *Engine) createSession(ctx context.Context, snapshot *store.Snapshot, loginEmail string) (*LoginResult, error) {
	id, err := internal.NewID()
	if err != nil {
		return nil, ErrUnexpected.Wrap(err)
	}
	sessionID := id.String()
	accountID := snapshot.Account.ID
	credentialVersion := snapshot.Credential.Version()
	primary, _ := snapshot.Primary()

	now := e.now()
	lifetime := e.config.Session.AbsoluteSessionLifetime
	sess := &session.Session{
		SchemaVersion:     session.CurrentSchemaVersion,
		SessionID:         sessionID,
		AccountID:         accountID,
		LoginEmail:        loginEmail,
		CredentialVersion: credentialVersion,
		IPHash:            internal.HashBytes([]byte(clientIPFromContext(ctx))),
		UserAgentHash:     internal.HashBytes([]byte(userAgentFromContext(ctx))),
		CreatedAt:         now.Unix(),
		ExpiresAt:         now.Add(lifetime).Unix(),
	}
	if err := e.sessions.Save(ctx, sess, lifetime); err != nil {
		if errors.Is(err, session.ErrRedisUnavailable) {
			return nil, ErrServiceUnavailable.Wrap(err)
		}
		return nil, ErrUnexpected.Wrap(err)
	}

	token, expiresAt, err := e.jwtManager.CreateSessionToken(accountID, sessionID, credentialVersion)
	if err != nil {
		if delErr := e.sessions.Delete(ctx, sessionID); delErr != nil {
			e.logger.Warn("orphan session cleanup failed", zap.String("account_id", accountID), zap.Error(delErr))
		}
		return nil, ErrUnexpected.Wrap(err)
	}

	return &LoginResult{
		AccountID:    accountID,
		Email:        primary.Email,
		LoginEmail:   loginEmail,
		SessionID:    sessionID,
		SessionToken: token,
		ExpiresAt:    expiresAt,
	}, nil
}

// upgradeVerifier rehashes the password under the current Argon2 parameters.
// ChangedAt is kept so outstanding sessions and reset tokens stay valid.
// Best-effort: failures never block the login.
func (e *Engine) upgradeVerifier(ctx context.Context, current store.Credential, password string) {
	needsUpgrade, err := e.passwordHash.NeedsUpgrade(current.Verifier)
	if err != nil || !needsUpgrade {
		return
	}
	upgraded, err := e.passwordHash.Hash(password)
	if err != nil {
		e.logger.Warn("password hash upgrade generation failed", zap.String("account_id", current.AccountID), zap.Error(err))
		return
	}
	err = e.store.WithinAccount(ctx, current.AccountID, func(tx *store.Tx) error {
		if tx.Snapshot().Credential.Verifier != current.Verifier {
			return nil
		}
		tx.ReplaceCredential(store.Credential{Verifier: upgraded, ChangedAt: current.ChangedAt})
		return nil
	})
	if err != nil {
		e.logger.Warn("password hash upgrade update failed", zap.String("account_id", current.AccountID), zap.Error(err))
	}
}

// ValidateSession resolves a session token to its live session. Sessions of
// a credential that has since changed are deleted and rejected.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer e.observe(MetricValidateLatency, start)

	claims, err := e.jwtManager.ParseSessionToken(token)
	if err != nil {
		return nil, ErrInvalidToken.Wrap(err)
	}

	sess, err := e.sessions.Get(ctx, claims.SID, e.config.Session.AbsoluteSessionLifetime)
	if err != nil {
		if errors.Is(err, session.ErrRedisUnavailable) {
			return nil, ErrServiceUnavailable.Wrap(err)
		}
		return nil, ErrInvalidToken.Wrap(err)
	}
	if sess.AccountID != claims.AID {
		return nil, ErrInvalidToken.Wrapf("session account mismatch")
	}

	snapshot, err := e.store.LoadAccount(ctx, sess.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.dropSession(ctx, sess)
			return nil, ErrInvalidToken.Wrap(err)
		}
		return nil, storeError(err)
	}
	if snapshot.Credential.Version() != sess.CredentialVersion {
		e.dropSession(ctx, sess)
		return nil, ErrInvalidToken.Wrapf("credential changed")
	}

	return &SessionInfo{
		AccountID:  sess.AccountID,
		SessionID:  sess.SessionID,
		LoginEmail: sess.LoginEmail,
		CreatedAt:  time.Unix(sess.CreatedAt, 0).UTC(),
		ExpiresAt:  time.Unix(sess.ExpiresAt, 0).UTC(),
	}, nil
}

func (e *Engine) dropSession(ctx context.Context, sess *session.Session) {
	if err := e.sessions.Delete(ctx, sess.SessionID); err != nil {
		e.logger.Warn("stale session delete failed", zap.String("account_id", sess.AccountID), zap.Error(err))
		return
	}
	e.metricInc(MetricSessionInvalidated)
}

// Logout deletes the session named by token. Logging out an already deleted
// session succeeds.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if err := e.ready(); err != nil {
		return err
	}
	claims, err := e.jwtManager.ParseSessionToken(token)
	if err != nil {
		return ErrInvalidToken.Wrap(err)
	}
	if err := e.sessions.Delete(ctx, claims.SID); err != nil {
		if errors.Is(err, session.ErrRedisUnavailable) {
			return ErrServiceUnavailable.Wrap(err)
		}
		return ErrUnexpected.Wrap(err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, claims.AID, claims.SID, nil, nil)
	return nil
}

// LogoutAll deletes every session of the account.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if accountID == "" {
		return ErrInvalidParameter.Wrapf("missing account id")
	}
	removed, err := e.sessions.DeleteAllForAccount(ctx, accountID)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutAll, false, accountID, "", ErrServiceUnavailable, nil)
		return ErrServiceUnavailable.Wrap(err)
	}
	for i := 0; i < removed; i++ {
		e.metricInc(MetricSessionInvalidated)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutAll, true, accountID, "", nil, nil)
	return nil
}
