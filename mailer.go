package goAccount

import (
	"context"
	"errors"
	"sync"

	"github.com/MrEthical07/goAccount/internal/codes"
	"go.uber.org/zap"
)

// CodePurpose scopes a verification code.
type CodePurpose = codes.Purpose

const (
	PurposeSecondaryEmailVerify = codes.PurposeSecondaryEmailVerify
	PurposePasswordReset        = codes.PurposePasswordReset
)

// Mailer delivers verification codes. The engine calls it after the
// mutation that issued the code has committed; a delivery error is logged
// and audited but never rolls the mutation back.
type Mailer interface {
	SendVerificationCode(ctx context.Context, email string, purpose CodePurpose, code string) error
}

// NoOpMailer discards every message.
type NoOpMailer struct{}

func (NoOpMailer) SendVerificationCode(context.Context, string, CodePurpose, string) error {
	return nil
}

// LogMailer writes codes to a zap logger. Development only: the plain code
// ends up in the log.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger.Named("mailer")}
}

func (m *LogMailer) SendVerificationCode(_ context.Context, email string, purpose CodePurpose, code string) error {
	m.logger.Info("verification code",
		zap.String("email", email),
		zap.Stringer("purpose", purpose),
		zap.String("code", code),
	)
	return nil
}

// ErrNoMessage is returned by MemoryMailer.Last when nothing was sent.
var ErrNoMessage = errors.New("no message for address")

// MemoryMailer keeps the last code sent to each (purpose, address) pair.
// Used by tests and the dev HTTP surface.
type MemoryMailer struct {
	mu   sync.Mutex
	last map[memoryMailKey]string
	sent int
	fail error
}

type memoryMailKey struct {
	purpose CodePurpose
	email   string
}

func NewMemoryMailer() *MemoryMailer {
	return &MemoryMailer{last: make(map[memoryMailKey]string)}
}

func (m *MemoryMailer) SendVerificationCode(_ context.Context, email string, purpose CodePurpose, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.last[memoryMailKey{purpose: purpose, email: email}] = code
	m.sent++
	return nil
}

// Last returns the most recent code sent to email for purpose.
func (m *MemoryMailer) Last(email string, purpose CodePurpose) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.last[memoryMailKey{purpose: purpose, email: email}]
	if !ok {
		return "", ErrNoMessage
	}
	return code, nil
}

// Sent returns how many messages were delivered.
func (m *MemoryMailer) Sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

// FailWith makes every later send return err. A nil err restores delivery.
func (m *MemoryMailer) FailWith(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}
