// Package flows contains the orchestration of the multi-step engine
// operations: first-factor login with MFA gating, MFA challenge redemption,
// refresh rotation, per-request authentication and password reset.
//
// Each Run function takes a dependency struct of function fields and owns no
// state between calls. Stores, token managers and limiters stay owned by the
// engine.
//
// This package must not import the root waanauth package; host sentinel
// errors, metric IDs and audit event names are passed in through the
// Errors, Metrics and Events sub-structs.
package flows
