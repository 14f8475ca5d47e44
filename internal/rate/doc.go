// Package rate provides the Redis counter primitives behind every throttle in
// waanauth.
//
// # Window semantics
//
// Fixed-window counters: INCR + PEXPIRE on the first hit of a window, so a
// window never slides forward on later hits. Cooldowns are single SET NX PX
// keys whose remaining PTTL is reported as the retry-after.
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
//   - Be imported outside the waanauth module.
package rate
