// Package password implements password hashing and verification with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] returns true when a stored hash was produced with
// weaker parameters, so the caller can re-hash on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing, verification and the length policy. Reuse
// checks against the current credential are done by the engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other goAccount package.
//   - Log plaintext passwords.
package password
