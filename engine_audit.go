package goAccount

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventAccountCreated        = "account_created"
	auditEventAccountCreateFailure  = "account_create_failure"
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventEmailAdded            = "email_added"
	auditEventEmailCodeSent         = "email_code_sent"
	auditEventEmailVerified         = "email_verified"
	auditEventEmailVerifyFailure    = "email_verify_failure"
	auditEventPrimaryChanged        = "primary_email_changed"
	auditEventPrimaryChangeFailure  = "primary_email_change_failure"
	auditEventEmailDeleted          = "email_deleted"
	auditEventEmailDeleteFailure    = "email_delete_failure"
	auditEventMailDeliveryFailure   = "mail_delivery_failure"
	auditEventPasswordChanged       = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetCode     = "password_reset_code"
	auditEventPasswordResetConfirm  = "password_reset_confirm"
	auditEventSessionsInvalidated   = "sessions_invalidated"
	auditEventLogoutSession         = "logout_session"
	auditEventLogoutAll             = "logout_all"
)

// AuditErrorCode is the stable error label written into audit events.
type AuditErrorCode string

const (
	auditErrAccountExists       AuditErrorCode = "account_exists"
	auditErrAccountUnknown      AuditErrorCode = "account_unknown"
	auditErrIncorrectPassword   AuditErrorCode = "incorrect_password"
	auditErrInvalidCode         AuditErrorCode = "invalid_or_expired_code"
	auditErrInvalidParameter    AuditErrorCode = "invalid_parameter"
	auditErrInvalidToken        AuditErrorCode = "invalid_token"
	auditErrIncorrectEmailCase  AuditErrorCode = "incorrect_email_case"
	auditErrCannotDeletePrimary AuditErrorCode = "cannot_delete_primary"
	auditErrCannotDeleteLast    AuditErrorCode = "cannot_delete_last_email"
	auditErrEmailNotVerified    AuditErrorCode = "email_not_verified"
	auditErrEmailExists         AuditErrorCode = "email_exists"
	auditErrEmailNotOwned       AuditErrorCode = "email_not_owned_by_account"
	auditErrPasswordReuse       AuditErrorCode = "password_reuse"
	auditErrUnavailable         AuditErrorCode = "backend_unavailable"
	auditErrMailDelivery        AuditErrorCode = "mail_delivery_failed"
	auditErrSessionInvalidation AuditErrorCode = "session_invalidation_failed"
	auditErrInternal            AuditErrorCode = "internal_error"
)

// errMailDelivery marks audit events for failed sends.
var errMailDelivery = errors.New("mail delivery failed")

// errSessionInvalidation marks audit events for failed session purges.
var errSessionInvalidation = errors.New("session invalidation failed")

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func emailMeta(email string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"email": email}
	}
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, errMailDelivery):
		return auditErrMailDelivery
	case errors.Is(err, errSessionInvalidation):
		return auditErrSessionInvalidation
	}

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		if errors.Is(err, ErrIncorrectEmailCase) {
			return auditErrIncorrectEmailCase
		}
		return auditErrInternal
	}

	switch apiErr.Errno {
	case ErrnoAccountExists:
		return auditErrAccountExists
	case ErrnoAccountUnknown:
		return auditErrAccountUnknown
	case ErrnoIncorrectPassword:
		return auditErrIncorrectPassword
	case ErrnoInvalidOrExpiredCode:
		return auditErrInvalidCode
	case ErrnoInvalidParameter:
		return auditErrInvalidParameter
	case ErrnoInvalidToken:
		return auditErrInvalidToken
	case ErrnoIncorrectEmailCase:
		return auditErrIncorrectEmailCase
	case ErrnoCannotDeletePrimary:
		return auditErrCannotDeletePrimary
	case ErrnoCannotDeleteLastEmail:
		return auditErrCannotDeleteLast
	case ErrnoEmailNotVerified:
		return auditErrEmailNotVerified
	case ErrnoEmailExists:
		return auditErrEmailExists
	case ErrnoEmailNotOwnedByAccount:
		return auditErrEmailNotOwned
	case ErrnoPasswordReuse:
		return auditErrPasswordReuse
	case ErrnoServiceUnavailable:
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
