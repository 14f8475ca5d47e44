package middleware

import (
	"context"
	"net/http"

	"github.com/waanverse/waanauth"
	"github.com/waanverse/waanauth/jwt"
)

// TokenVerifier is the engine surface the stateless guard needs.
type TokenVerifier interface {
	VerifyToken(token string) (*jwt.Claims, error)
}

// RequireTokenOnly checks signature, expiry and type of the access token
// without consulting the session registry. A revoked session keeps passing
// until the token expires. The principal it stores has no Session.
func RequireTokenOnly(verifier TokenVerifier, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				unauthorized(w, nil)
				return
			}
			token, ok := extractToken(r, opts)
			if !ok {
				unauthorized(w, nil)
				return
			}
			claims, err := verifier.VerifyToken(token)
			if err != nil {
				unauthorized(w, err)
				return
			}

			principal := &waanauth.Principal{
				IdentityID: claims.Subject,
				SessionID:  claims.SID,
				Claims:     claims,
			}
			ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
