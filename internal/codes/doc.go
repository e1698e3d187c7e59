// Package codes implements the Redis-backed verification code issuer and the
// single-use reset token store.
//
// # Codes
//
// A code is scoped to (purpose, normalized email). Issuing overwrites the
// previous live code for the same scope. Redemption runs in one Lua script
// (GET, expiry check against the caller's clock, hash compare, DEL), so a
// code is consumed at most once even under concurrent redemption. Wrong
// guesses bump an attempt counter; reaching MaxAttempts destroys the code.
//
// # Reset tokens
//
// A token is base64url(id || secret). Only sha256(secret) is stored. Consume
// runs a WATCH/MULTI loop and deletes the record on the first valid use.
//
// # What this package must NOT do
//
//   - Deliver codes. The engine hands them to a Mailer.
//   - Import goAccount.
package codes
