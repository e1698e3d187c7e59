// Package internal contains helper utilities that are intentionally private to goAccount,
// including secure random generation and opaque token encoding.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - codes: Redis-backed verification codes and single-use reset tokens
//   - config: environment configuration for the accountd daemon
//   - httpapi: JSON HTTP adapter over the Engine
//   - logging: zap logger construction
//
// # What this package must NOT do
//
//   - Export types that appear in the public goAccount API.
//   - Be imported by any package outside the goAccount module.
package internal
