package goAccount

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const newPassword = "a-brand-new-password"

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.createAccount(t, "a@example.com")
	res := env.login(t, "a@example.com", testPassword)

	if err := env.engine.ChangePassword(ctx, uid, testPassword, newPassword); err != nil {
		t.Fatalf("change password failed: %v", err)
	}

	if _, err := env.engine.ValidateSession(ctx, res.SessionToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected old session to be invalid, got %v", err)
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Email: "a@example.com", Password: testPassword}); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("expected old password to fail, got %v", err)
	}
	env.login(t, "a@example.com", newPassword)

	if got := env.engine.MetricsSnapshot().Counters[MetricPasswordChangeSuccess]; got != 1 {
		t.Fatalf("expected 1 password change, got %d", got)
	}
}

func TestChangePasswordFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.createAccount(t, "a@example.com")

	cases := []struct {
		name    string
		account string
		current string
		next    string
		want    error
	}{
		{"missing current", uid, "", newPassword, ErrInvalidParameter},
		{"wrong current", uid, "wrong-password", newPassword, ErrIncorrectPassword},
		{"reuse", uid, testPassword, testPassword, ErrPasswordReuse},
		{"too short", uid, testPassword, "short", ErrInvalidParameter},
		{"unknown account", "missing", testPassword, newPassword, ErrAccountUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := env.engine.ChangePassword(ctx, tc.account, tc.current, tc.next)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	env.login(t, "a@example.com", testPassword)
}

func TestPasswordResetViaSecondary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.createAccount(t, "a@example.com")
	env.addVerifiedEmail(t, uid, "b@example.com")
	session := env.login(t, "a@example.com", testPassword)

	req, err := env.engine.RequestPasswordReset(ctx, "b@example.com")
	if err != nil {
		t.Fatalf("request reset failed: %v", err)
	}
	if req.Email != "a@example.com" {
		t.Fatalf("reset scoped to %s, expected primary", req.Email)
	}
	if _, err := env.mailer.Last("b@example.com", PurposePasswordReset); !errors.Is(err, ErrNoMessage) {
		t.Fatal("reset code mailed to secondary")
	}
	code, err := env.mailer.Last("a@example.com", PurposePasswordReset)
	if err != nil {
		t.Fatalf("reset code not mailed to primary: %v", err)
	}

	tok, err := env.engine.VerifyResetCode(ctx, "b@example.com", code)
	if err != nil {
		t.Fatalf("verify reset code failed: %v", err)
	}
	if tok.Email != "a@example.com" || tok.Token == "" {
		t.Fatalf("unexpected reset token result %+v", tok)
	}

	if err := env.engine.ResetPassword(ctx, tok.Token, newPassword); err != nil {
		t.Fatalf("reset password failed: %v", err)
	}
	if err := env.engine.ResetPassword(ctx, tok.Token, "yet-another-password"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected InvalidToken on reuse, got %v", err)
	}

	if _, err := env.engine.ValidateSession(ctx, session.SessionToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected session invalidated by reset, got %v", err)
	}

	// The credential is shared: the new password works through the
	// canonical address, and the secondary still points there.
	env.login(t, "a@example.com", newPassword)
	_, err = env.engine.Login(ctx, LoginRequest{Email: "b@example.com", Password: newPassword})
	var caseErr *IncorrectEmailCaseError
	if !errors.As(err, &caseErr) || caseErr.Email != "a@example.com" {
		t.Fatalf("expected case error naming primary, got %v", err)
	}
}

func TestPasswordResetCodeSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAccount(t, "a@example.com")

	if _, err := env.engine.RequestPasswordReset(ctx, "a@example.com"); err != nil {
		t.Fatalf("request reset failed: %v", err)
	}
	code, _ := env.mailer.Last("a@example.com", PurposePasswordReset)

	if _, err := env.engine.VerifyResetCode(ctx, "a@example.com", wrongCode(code)); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected InvalidOrExpiredCode, got %v", err)
	}
	if _, err := env.engine.VerifyResetCode(ctx, "a@example.com", code); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if _, err := env.engine.VerifyResetCode(ctx, "a@example.com", code); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected consumed code to fail, got %v", err)
	}
}

func TestConcurrentVerifyResetCodeSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAccount(t, "a@example.com")

	if _, err := env.engine.RequestPasswordReset(ctx, "a@example.com"); err != nil {
		t.Fatalf("request reset failed: %v", err)
	}
	code, _ := env.mailer.Last("a@example.com", PurposePasswordReset)

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.VerifyResetCode(ctx, "a@example.com", code)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInvalidOrExpiredCode) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestResetTokenRejectedAfterPasswordChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.createAccount(t, "a@example.com")

	if _, err := env.engine.RequestPasswordReset(ctx, "a@example.com"); err != nil {
		t.Fatalf("request reset failed: %v", err)
	}
	code, _ := env.mailer.Last("a@example.com", PurposePasswordReset)
	tok, err := env.engine.VerifyResetCode(ctx, "a@example.com", code)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	if err := env.engine.ChangePassword(ctx, uid, testPassword, newPassword); err != nil {
		t.Fatalf("change password failed: %v", err)
	}
	if err := env.engine.ResetPassword(ctx, tok.Token, "yet-another-password"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected InvalidToken, got %v", err)
	}
	env.login(t, "a@example.com", newPassword)
}

func TestPasswordChangeRevokesResetCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.createAccount(t, "a@example.com")

	if _, err := env.engine.RequestPasswordReset(ctx, "a@example.com"); err != nil {
		t.Fatalf("request reset failed: %v", err)
	}
	code, _ := env.mailer.Last("a@example.com", PurposePasswordReset)

	if err := env.engine.ChangePassword(ctx, uid, testPassword, newPassword); err != nil {
		t.Fatalf("change password failed: %v", err)
	}
	if _, err := env.engine.VerifyResetCode(ctx, "a@example.com", code); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected revoked code, got %v", err)
	}
}

func TestPrimaryChangeRevokesResetCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	uid := env.createAccount(t, "a@example.com")
	env.addVerifiedEmail(t, uid, "b@example.com")

	if _, err := env.engine.RequestPasswordReset(ctx, "a@example.com"); err != nil {
		t.Fatalf("request reset failed: %v", err)
	}
	code, _ := env.mailer.Last("a@example.com", PurposePasswordReset)

	if err := env.engine.SetPrimaryEmail(ctx, uid, "b@example.com"); err != nil {
		t.Fatalf("set primary failed: %v", err)
	}
	// Codes are scoped to the primary; the old one died with the swap.
	if _, err := env.engine.VerifyResetCode(ctx, "b@example.com", code); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected InvalidOrExpiredCode, got %v", err)
	}
}

func TestResetCodeExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAccount(t, "a@example.com")

	if _, err := env.engine.RequestPasswordReset(ctx, "a@example.com"); err != nil {
		t.Fatalf("request reset failed: %v", err)
	}
	code, _ := env.mailer.Last("a@example.com", PurposePasswordReset)

	env.clock.Advance(testConfig().Codes.TTL + time.Second)
	if _, err := env.engine.VerifyResetCode(ctx, "a@example.com", code); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected InvalidOrExpiredCode, got %v", err)
	}
}

func TestResetPasswordValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.RequestPasswordReset(ctx, "nobody@example.com"); !errors.Is(err, ErrAccountUnknown) {
		t.Fatalf("expected AccountUnknown, got %v", err)
	}
	if err := env.engine.ResetPassword(ctx, "not-a-token", newPassword); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected InvalidToken, got %v", err)
	}
	if err := env.engine.ResetPassword(ctx, "not-a-token", "short"); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected InvalidParameter, got %v", err)
	}
	if _, err := env.engine.VerifyResetCode(ctx, "a@example.com", ""); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected InvalidParameter, got %v", err)
	}
}
