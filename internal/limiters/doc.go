// Package limiters provides domain-specific throttles built on top of the
// internal/rate primitives.
//
// # Limiters
//
//   - [LoginLimiter]: failed-login window per identifier and per identifier+IP.
//   - [SignupLimiter]: signup attempts per client IP.
//   - [CooldownLimiter]: one action per key per cooldown (password reset
//     initiation, verification resends).
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
// A limited call returns a [*Throttled] error carrying the retry-after.
//
// # What this package must NOT do
//
//   - Import waanauth or any sibling internal package except internal/rate.
//   - Make policy decisions beyond counting. Flow functions decide consequences.
package limiters
