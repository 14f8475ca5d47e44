// Package mfa implements the time-based one-time password and recovery code
// primitives used by the waanauth MFA handler.
//
// TOTP generation and verification use github.com/pquerna/otp. Enrollment QR
// codes are rendered as PNG with github.com/boombuler/barcode. Recovery codes
// are short numeric strings that are only ever persisted as SHA-256 digests.
//
// # What this package must NOT do
//
//   - Persist anything. Callers own storage, encryption and replay state.
//   - Import waanauth or any internal package.
package mfa
