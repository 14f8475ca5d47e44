// Package jwt issues and verifies the asymmetrically signed access and refresh
// tokens of the engine. Tokens carry the identity id (sub), the session id
// (sid), the token type (typ) and a unique token id (jti).
//
// The package never checks session liveness. Callers pair [Manager.Parse]
// with a session registry lookup.
package jwt
