// Package session provides the Redis-backed session registry.
//
// Each session is a Redis hash keyed by its id with a TTL equal to the refresh
// token lifetime. A per-identity sorted set scored by last use orders sessions
// for listing. Consumed refresh token ids live in a per-session set so refresh
// rotation can detect reuse.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does NOT parse
// tokens or decide authentication policy; the Engine does.
//
// # What this package must NOT do
//
//   - Import waanauth or jwt (no upward imports).
//   - Cache session state in process. Revocation must be visible to the very
//     next read.
package session
