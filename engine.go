package goAccount

import (
	"context"
	"errors"
	"fmt"
	"time"

	internalaudit "github.com/MrEthical07/goAccount/internal/audit"
	"github.com/MrEthical07/goAccount/internal/codes"
	"github.com/MrEthical07/goAccount/jwt"
	"github.com/MrEthical07/goAccount/password"
	"github.com/MrEthical07/goAccount/session"
	"github.com/MrEthical07/goAccount/store"
	"go.uber.org/zap"
)

// Engine owns the identity and credential state of accounts.
//
// Every mutation of an existing account validates its preconditions inside
// store.Store.WithinAccount and commits before any side effect (code
// issuance, mail, session invalidation) runs. Engine is safe for concurrent
// use once built.
type Engine struct {
	config       Config
	store        store.Store
	sessions     *session.Store
	codes        *codes.Issuer
	resetTokens  *codes.TokenStore
	passwordHash *password.Argon2
	jwtManager   *jwt.Manager
	mailer       Mailer
	logger       *zap.Logger
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	clock        func() time.Time
	newID        func() string
}

// Close flushes pending audit events. The Engine must not be used after.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

// AuditDropped returns how many audit events the dispatcher could not
// queue.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByType breaks AuditDropped down by audit event type.
func (e *Engine) AuditDroppedByType() map[string]uint64 {
	if e == nil || e.audit == nil {
		return map[string]uint64{}
	}
	return e.audit.DroppedByType()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Health pings Redis and, when it supports it, the account store.
func (e *Engine) Health(ctx context.Context) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if _, err := e.sessions.Ping(ctx); err != nil {
		return ErrServiceUnavailable.Wrap(err)
	}
	if p, ok := e.store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return ErrServiceUnavailable.Wrap(err)
		}
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, time.Since(start))
}

// now returns UTC time truncated to microseconds so timestamps survive a
// Postgres round trip unchanged. Credential versions depend on it.
func (e *Engine) now() time.Time {
	return e.clock().UTC().Truncate(time.Microsecond)
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.sessions == nil || e.codes == nil || e.passwordHash == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}
	return nil
}

// storeError maps a store failure to the client error taxonomy. Errors that
// already carry an errno pass through unchanged.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return err
	}
	var caseErr *IncorrectEmailCaseError
	if errors.As(err, &caseErr) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrAccountUnknown.Wrap(err)
	case errors.Is(err, store.ErrEmailTaken):
		return ErrEmailExists.Wrap(err)
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrUnavailable):
		return ErrServiceUnavailable.Wrap(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrServiceUnavailable.Wrap(err)
	default:
		return ErrUnexpected.Wrap(err)
	}
}

// withinAccount runs fn in the account's transaction boundary and maps the
// outcome. fn may run more than once.
func (e *Engine) withinAccount(ctx context.Context, accountID string, fn func(tx *store.Tx) error) error {
	err := e.store.WithinAccount(ctx, accountID, fn)
	if errors.Is(err, store.ErrConflict) {
		e.metricInc(MetricStoreConflict)
		e.logger.Warn("account transaction retries exhausted", zap.String("account_id", accountID))
	}
	return storeError(err)
}

func (e *Engine) loadAccount(ctx context.Context, accountID string) (*store.Snapshot, error) {
	if accountID == "" {
		return nil, ErrInvalidParameter.Wrapf("missing account id")
	}
	snapshot, err := e.store.LoadAccount(ctx, accountID)
	if err != nil {
		return nil, storeError(err)
	}
	return snapshot, nil
}

// issueAndSend issues a fresh code and hands it to the mailer. Mail failures
// are logged, counted and audited; they never fail the caller.
func (e *Engine) issueAndSend(ctx context.Context, accountID string, purpose codes.Purpose, email store.Email) (time.Time, error) {
	code, expiresAt, err := e.codes.Issue(ctx, purpose, email.Normalized, accountID)
	if err != nil {
		return time.Time{}, ErrServiceUnavailable.Wrap(err)
	}
	e.metricInc(MetricCodeIssued)

	if err := e.mailer.SendVerificationCode(ctx, email.Email, purpose, code); err != nil {
		e.metricInc(MetricMailFailure)
		e.logger.Warn("verification code delivery failed",
			zap.String("account_id", accountID),
			zap.Stringer("purpose", purpose),
			zap.Error(err),
		)
		e.emitAudit(ctx, auditEventMailDeliveryFailure, false, accountID, "", fmt.Errorf("%w: %v", errMailDelivery, err), func() map[string]string {
			return map[string]string{"email": email.Normalized, "purpose": purpose.String()}
		})
		return expiresAt, nil
	}

	e.emitAudit(ctx, auditEventEmailCodeSent, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"email": email.Normalized, "purpose": purpose.String()}
	})
	return expiresAt, nil
}

// revokeCodes is best-effort; codes also expire on their own.
func (e *Engine) revokeCodes(ctx context.Context, accountID string, purposes []codes.Purpose, normalized ...string) {
	if err := e.codes.Revoke(ctx, purposes, normalized...); err != nil {
		e.logger.Warn("code revocation failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

// invalidateSessions removes every session of the account. Sessions that
// escape the purge still fail validation once the credential version moved;
// a failure here is therefore logged and audited, not returned.
func (e *Engine) invalidateSessions(ctx context.Context, accountID, reason string) {
	removed, err := e.sessions.DeleteAllForAccount(ctx, accountID)
	if err != nil {
		e.logger.Error("session invalidation failed",
			zap.String("account_id", accountID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		e.emitAudit(ctx, auditEventSessionsInvalidated, false, accountID, "", fmt.Errorf("%w: %v", errSessionInvalidation, err), func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return
	}
	for i := 0; i < removed; i++ {
		e.metricInc(MetricSessionInvalidated)
	}
	e.emitAudit(ctx, auditEventSessionsInvalidated, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"reason": reason, "removed": fmt.Sprint(removed)}
	})
}

func emailAddresses(emails []store.Email) []string {
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		out = append(out, e.Normalized)
	}
	return out
}
