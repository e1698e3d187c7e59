package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeValidator struct {
	info *goAccount.SessionInfo
	err  error
	got  string
}

func (f *fakeValidator) ValidateSession(_ context.Context, token string) (*goAccount.SessionInfo, error) {
	f.got = token
	return f.info, f.err
}

func serve(t *testing.T, v SessionValidator, authorization string) (*httptest.ResponseRecorder, *goAccount.SessionInfo) {
	t.Helper()
	var seen *goAccount.SessionInfo
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SessionFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/account/emails", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	Guard(v)(next).ServeHTTP(rec, req)
	return rec, seen
}

func TestGuardAttachesSession(t *testing.T) {
	v := &fakeValidator{info: &goAccount.SessionInfo{AccountID: "acct-1", SessionID: "sess-1"}}

	rec, seen := serve(t, v, "Bearer tok")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "tok", v.got)
	require.NotNil(t, seen)
	assert.Equal(t, "acct-1", seen.AccountID)
}

func TestGuardRejectsMissingToken(t *testing.T) {
	for _, header := range []string{"", "Bearer ", "Basic abc"} {
		v := &fakeValidator{}
		rec, seen := serve(t, v, header)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
		assert.Nil(t, seen)
		assert.Empty(t, v.got, "validator must not be called for %q", header)
	}
}

func TestGuardMapsValidationErrors(t *testing.T) {
	cases := []struct {
		err   error
		code  int
		errno goAccount.Errno
	}{
		{goAccount.ErrInvalidToken.Wrap(errors.New("expired")), http.StatusUnauthorized, goAccount.ErrnoInvalidToken},
		{goAccount.ErrServiceUnavailable, http.StatusServiceUnavailable, goAccount.ErrnoServiceUnavailable},
	}
	for _, tc := range cases {
		rec, _ := serve(t, &fakeValidator{err: tc.err}, "Bearer tok")

		require.Equal(t, tc.code, rec.Code)
		var body goAccount.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.errno, body.Errno)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}

func TestGuardNilValidator(t *testing.T) {
	rec, _ := serve(t, nil, "Bearer tok")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
