// Package goAccount manages the email identities and password credential of
// accounts: adding, verifying, promoting and deleting addresses, login
// canonicalization, password change and password reset.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Invariants
//
//   - Every account has exactly one primary email, and it is verified.
//   - A normalized address belongs to at most one account.
//   - Only verified addresses can become primary.
//   - The primary and the last remaining address cannot be deleted.
//
// Mutations of one account run inside [store.Store.WithinAccount]: the
// preconditions are checked against a staged copy, the invariants are
// revalidated, and only then is the change committed. Side effects such as
// issuing codes, sending mail and invalidating sessions follow the commit.
//
// # Errors
//
// Client-facing failures are *[Error] values with a stable [Errno] and an
// HTTP status, matched with errors.Is against the exported sentinels.
// A login through a non-canonical address fails with
// *[IncorrectEmailCaseError], which carries the address to retry with.
// [ToErrorResponse] renders either into the JSON error body.
package goAccount
