package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/waanverse/waanauth"
)

// Authenticator is the engine surface the strict guard needs.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*waanauth.Principal, error)
}

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by a guard.
func PrincipalFromContext(ctx context.Context) (*waanauth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*waanauth.Principal)
	return p, ok
}

// Options tunes token extraction.
type Options struct {
	// CookieName is read when no Authorization header is sent. Empty
	// disables cookie lookup.
	CookieName string
}

// Guard rejects requests whose access token fails Authenticate: bad
// signature, expiry, or a missing or revoked session.
func Guard(auth Authenticator, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				unauthorized(w, nil)
				return
			}
			token, ok := extractToken(r, opts)
			if !ok {
				unauthorized(w, nil)
				return
			}

			principal, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, waanauth.ErrUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				unauthorized(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, err error) {
	if errors.Is(err, waanauth.ErrTokenExpired) {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="expired"`)
	} else {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func extractToken(r *http.Request, opts Options) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if opts.CookieName == "" {
		return "", false
	}
	c, err := r.Cookie(opts.CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
