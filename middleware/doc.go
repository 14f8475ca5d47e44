// Package middleware adapts a waanauth Engine to net/http handlers.
//
//   - [Guard] verifies the access token and checks its session on every
//     request, so revocation is immediate.
//   - [RequireTokenOnly] verifies the token alone; revocation takes effect
//     when the token expires.
//
// Both read the Authorization bearer header, optionally fall back to a
// cookie, and store a [waanauth.Principal] in the request context.
package middleware
