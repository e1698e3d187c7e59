// Package httpapi exposes the account engine as JSON over HTTP.
//
// Errors are always written as goAccount.ErrorResponse. Routes under the
// session guard take the account from the validated bearer token, never
// from the request body.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

// Accounts is the engine surface the handlers need. *goAccount.Engine
// satisfies it.
type Accounts interface {
	middleware.SessionValidator

	CreateAccount(ctx context.Context, req goAccount.CreateAccountRequest) (*goAccount.CreateAccountResult, error)
	Login(ctx context.Context, req goAccount.LoginRequest) (*goAccount.LoginResult, error)
	Logout(ctx context.Context, token string) error
	LogoutAll(ctx context.Context, accountID string) error

	ListEmails(ctx context.Context, accountID string) ([]goAccount.EmailIdentity, error)
	CreateEmail(ctx context.Context, accountID, email string) ([]goAccount.EmailIdentity, error)
	ResendEmailCode(ctx context.Context, accountID, email string) error
	VerifyEmail(ctx context.Context, accountID, email, code string) error
	SetPrimaryEmail(ctx context.Context, accountID, email string) error
	DeleteEmail(ctx context.Context, accountID, email string) error

	ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error
	RequestPasswordReset(ctx context.Context, email string) (*goAccount.PasswordResetRequestResult, error)
	VerifyResetCode(ctx context.Context, email, code string) (*goAccount.ResetTokenResult, error)
	ResetPassword(ctx context.Context, resetToken, newPassword string) error

	Health(ctx context.Context) error
}

// Handler routes account requests to an Accounts implementation.
type Handler struct {
	accounts Accounts
	logger   *zap.Logger
	mux      *http.ServeMux
}

// New builds the route table. A nil logger discards handler logs.
func New(accounts Accounts, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{accounts: accounts, logger: logger, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/account/create", h.createAccount)
	h.mux.HandleFunc("POST /v1/account/login", h.login)
	h.mux.HandleFunc("POST /v1/password/forgot/send_code", h.requestReset)
	h.mux.HandleFunc("POST /v1/password/forgot/verify_code", h.verifyResetCode)
	h.mux.HandleFunc("POST /v1/account/reset", h.resetPassword)
	h.mux.HandleFunc("GET /__heartbeat__", h.health)

	guard := middleware.Guard(accounts)
	authed := func(pattern string, fn http.HandlerFunc) {
		h.mux.Handle(pattern, guard(fn))
	}
	authed("POST /v1/session/destroy", h.logout)
	authed("POST /v1/session/destroy_all", h.logoutAll)
	authed("GET /v1/recovery_emails", h.listEmails)
	authed("POST /v1/recovery_email", h.createEmail)
	authed("POST /v1/recovery_email/resend_code", h.resendCode)
	authed("POST /v1/recovery_email/verify_code", h.verifyEmail)
	authed("POST /v1/recovery_email/set_primary", h.setPrimary)
	authed("POST /v1/recovery_email/destroy", h.deleteEmail)
	authed("POST /v1/password/change", h.changePassword)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type emailBody struct {
	Email string `json:"email"`
}

type verifyEmailBody struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type changePasswordBody struct {
	OldPassword string `json:"oldAuthPW"`
	NewPassword string `json:"authPW"`
}

type resetBody struct {
	Token    string `json:"accountResetToken"`
	Password string `json:"authPW"`
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var body goAccount.CreateAccountRequest
	if !h.decode(w, r, &body) {
		return
	}
	res, err := h.accounts.CreateAccount(requestContext(r), body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var body goAccount.LoginRequest
	if !h.decode(w, r, &body) {
		return
	}
	res, err := h.accounts.Login(requestContext(r), body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if err := h.accounts.Logout(requestContext(r), token); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	if err := h.accounts.LogoutAll(requestContext(r), info.AccountID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) listEmails(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	emails, err := h.accounts.ListEmails(requestContext(r), info.AccountID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emails)
}

func (h *Handler) createEmail(w http.ResponseWriter, r *http.Request) {
	var body emailBody
	if !h.decode(w, r, &body) {
		return
	}
	info, _ := middleware.SessionFromContext(r.Context())
	emails, err := h.accounts.CreateEmail(requestContext(r), info.AccountID, body.Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, emails)
}

func (h *Handler) resendCode(w http.ResponseWriter, r *http.Request) {
	h.emailAction(w, r, h.accounts.ResendEmailCode)
}

func (h *Handler) setPrimary(w http.ResponseWriter, r *http.Request) {
	h.emailAction(w, r, h.accounts.SetPrimaryEmail)
}

func (h *Handler) deleteEmail(w http.ResponseWriter, r *http.Request) {
	h.emailAction(w, r, h.accounts.DeleteEmail)
}

func (h *Handler) emailAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, string) error) {
	var body emailBody
	if !h.decode(w, r, &body) {
		return
	}
	info, _ := middleware.SessionFromContext(r.Context())
	if err := fn(requestContext(r), info.AccountID, body.Email); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var body verifyEmailBody
	if !h.decode(w, r, &body) {
		return
	}
	info, _ := middleware.SessionFromContext(r.Context())
	if err := h.accounts.VerifyEmail(requestContext(r), info.AccountID, body.Email, body.Code); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var body changePasswordBody
	if !h.decode(w, r, &body) {
		return
	}
	info, _ := middleware.SessionFromContext(r.Context())
	if err := h.accounts.ChangePassword(requestContext(r), info.AccountID, body.OldPassword, body.NewPassword); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) requestReset(w http.ResponseWriter, r *http.Request) {
	var body emailBody
	if !h.decode(w, r, &body) {
		return
	}
	res, err := h.accounts.RequestPasswordReset(requestContext(r), body.Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) verifyResetCode(w http.ResponseWriter, r *http.Request) {
	var body verifyEmailBody
	if !h.decode(w, r, &body) {
		return
	}
	res, err := h.accounts.VerifyResetCode(requestContext(r), body.Email, body.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetBody
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.accounts.ResetPassword(requestContext(r), body.Token, body.Password); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Health(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, goAccount.ErrInvalidParameter.Wrap(err))
		return false
	}
	return true
}

// fail writes err and logs anything that is not a client error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	resp := goAccount.ToErrorResponse(err)
	if resp.Code >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("errno", int(resp.Errno)),
			zap.Error(err),
		)
	}
	writeJSON(w, resp.Code, resp)
}

func writeError(w http.ResponseWriter, err error) {
	resp := goAccount.ToErrorResponse(err)
	writeJSON(w, resp.Code, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestContext(r *http.Request) context.Context {
	ctx := r.Context()

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ctx = goAccount.WithClientIP(ctx, host)
	ctx = goAccount.WithUserAgent(ctx, r.UserAgent())

	return ctx
}
