// Package internal contains helpers private to waanauth: secure random
// identifiers, verification codes, code digests and device fingerprints.
//
// # Sub-packages
//
//   - flows: flow orchestrators for the Engine operations
//   - limiters: Redis fixed-window throttles
//   - secretbox: authenticated encryption of MFA secrets at rest
//   - stores: Redis stores for verification codes and MFA login challenges
package internal
