// Package security summarises the security posture of an engine
// configuration for operators.
package security
