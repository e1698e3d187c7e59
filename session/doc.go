// Package session provides Redis-backed session persistence and compact binary session
// encoding for the login and session validation paths.
//
// # Binary encoding
//
// Sessions are stored as a versioned binary blob. Decode rejects unknown
// versions and trailing bytes rather than guessing.
//
// # Key layout
//
//	<prefix>:<sessionID>        encoded session, TTL = remaining lifetime
//	<prefix>:acct:<accountID>   set of session IDs owned by the account
//	<prefix>:count              tracked number of live sessions
//
// # What this package must NOT do
//
//   - Import goAccount or jwt (no upward imports).
//   - Decide whether a session is still authorized for an account. The
//     engine compares CredentialVersion against the stored credential.
//   - Store plaintext secrets in [Session] fields.
package session
