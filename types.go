package goAccount

import (
	"io"
	"time"

	internalaudit "github.com/MrEthical07/goAccount/internal/audit"
	"github.com/MrEthical07/goAccount/store"
	"go.uber.org/zap"
)

// EmailIdentity is the client view of one address on an account.
type EmailIdentity struct {
	Email      string `json:"email"`
	IsPrimary  bool   `json:"isPrimary"`
	IsVerified bool   `json:"verified"`
}

func toEmailIdentities(snapshot *store.Snapshot) []EmailIdentity {
	snapshot.SortEmails()
	out := make([]EmailIdentity, 0, len(snapshot.Emails))
	for _, e := range snapshot.Emails {
		out = append(out, EmailIdentity{
			Email:      e.Email,
			IsPrimary:  e.IsPrimary,
			IsVerified: e.IsVerified,
		})
	}
	return out
}

// CreateAccountRequest registers a new account whose first email becomes its
// verified primary.
type CreateAccountRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreateAccountResult struct {
	AccountID string    `json:"uid"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// LoginRequest authenticates with an email and password.
//
// OriginalLoginEmail is set when the client retries after an
// IncorrectEmailCase rejection: Email carries the canonical address and
// OriginalLoginEmail the address the user first typed. It must belong to the
// same account.
type LoginRequest struct {
	Email              string `json:"email"`
	Password           string `json:"authPW"`
	OriginalLoginEmail string `json:"originalLoginEmail,omitempty"`
}

type LoginResult struct {
	AccountID    string    `json:"uid"`
	Email        string    `json:"email"`
	LoginEmail   string    `json:"loginEmail"`
	SessionID    string    `json:"sessionId"`
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// SessionInfo describes a validated session.
type SessionInfo struct {
	AccountID  string
	SessionID  string
	LoginEmail string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// LoginIdentity is the result of resolving a submitted login address.
// SignupEmail is the normalized address the account was created with. It
// does not follow primary changes.
type LoginIdentity struct {
	AccountID      string
	CanonicalEmail string
	SignupEmail    string
}

// PasswordResetRequestResult names the address the reset code was sent to.
type PasswordResetRequestResult struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ResetTokenResult is returned by VerifyResetCode. Token authorizes exactly
// one ResetPassword call.
type ResetTokenResult struct {
	Token     string    `json:"accountResetToken"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

type NoOpSink = internalaudit.NoOpSink

type ChannelSink = internalaudit.ChannelSink

type JSONWriterSink = internalaudit.JSONWriterSink

type ZapSink = internalaudit.ZapSink

type MultiSink = internalaudit.MultiSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}
