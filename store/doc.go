// Package store defines the persistence contract for accounts, their email
// identities and password credentials.
//
// # Transaction model
//
// Mutations of an existing account go through [Store.WithinAccount]. The
// callback receives a [Tx] holding a working copy of the account; it checks
// preconditions against that copy and stages changes. Backends validate the
// resulting snapshot ([Snapshot.Validate]) and apply the staged changes in
// one atomic step:
//
//   - redisstore uses WATCH/MULTI on the account key and every claimed email
//     index key, retrying on contention.
//   - postgres locks the account row with SELECT ... FOR UPDATE.
//
// # What this package must NOT do
//
//   - Decide business rules (primary swaps, delete guards). The engine does.
//   - Import goAccount.
package store
