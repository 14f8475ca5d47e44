// Package stores provides Redis-backed, short-lived record stores for the
// verification code manager and for MFA login challenges.
//
// # Design
//
// Every record carries an explicit expiry timestamp and a Redis TTL longer
// than that expiry, so an expired record is still observed (and deleted) by
// the next read and reported as expired rather than missing. Read-check-write
// mutations run as single Lua scripts or WATCH/MULTI transactions with retry
// on contention. Codes are stored as SHA-256 digests only.
//
// # What this package must NOT do
//
//   - Import waanauth or any sibling internal package other than internal.
//   - Log or expose plaintext codes.
//   - Make authentication decisions; the flows do.
package stores
