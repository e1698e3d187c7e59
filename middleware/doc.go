// Package middleware adapts goAccount session validation to net/http.
//
// [Guard] reads the Authorization header, calls ValidateSession, and puts
// the resulting [goAccount.SessionInfo] into the request context, where
// [SessionFromContext] finds it. Rejections use the same JSON error body as
// every other endpoint: 401 for bad tokens, 503 when the session store is
// unreachable.
package middleware
