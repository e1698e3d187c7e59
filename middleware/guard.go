package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	goAccount "github.com/MrEthical07/goAccount"
)

// SessionValidator resolves a bearer token to a live session.
// *goAccount.Engine satisfies it.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*goAccount.SessionInfo, error)
}

type sessionContextKey struct{}

// SessionFromContext returns the session attached by Guard.
func SessionFromContext(ctx context.Context) (*goAccount.SessionInfo, bool) {
	res, ok := ctx.Value(sessionContextKey{}).(*goAccount.SessionInfo)
	return res, ok
}

// WithSession attaches info the way Guard does. Useful for handler tests.
func WithSession(ctx context.Context, info *goAccount.SessionInfo) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, info)
}

// Guard rejects requests without a valid "Authorization: Bearer" session
// token. Failures are written as a goAccount.ErrorResponse.
func Guard(validator SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if validator == nil {
				writeError(w, goAccount.ErrInvalidToken)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, goAccount.ErrInvalidToken)
				return
			}

			info, err := validator.ValidateSession(r.Context(), token)
			if err != nil {
				writeError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), info)))
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := goAccount.ToErrorResponse(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Code)
	_ = json.NewEncoder(w).Encode(resp)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
