// Package waanauth is an authentication engine for identities owned by a
// host application. It verifies passwords and passwordless login codes,
// gates logins behind TOTP when enabled, issues asymmetric access and
// refresh tokens bound to revocable Redis sessions, and manages the code
// lifecycles of signup verification and password reset.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// waanauth is the public surface. It exposes [Engine], [Builder], [Config]
// and value types. Flow orchestration, Redis key layout, rate limiting and
// audit dispatch live under internal/ and are never exported. Durable data
// (identities, MFA records, reset tokens, devices) is reached only through
// the store interfaces in this package; implementations live in
// store/memory and store/postgres.
//
// # Transport
//
// transport/httpapi mounts the engine on a gin router and owns cookies and
// client metadata. Other transports attach request metadata to the context
// with [WithClientIP], [WithUserAgent], [WithPlatform] and [WithDeviceID].
package waanauth
