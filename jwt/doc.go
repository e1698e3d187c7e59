// Package jwt signs and verifies the session tokens handed out at login.
// A token names an account and a session; it never carries authority on its
// own, the session store does.
package jwt
