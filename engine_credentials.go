package waanauth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waanverse/waanauth/dispatch"
	"github.com/waanverse/waanauth/password"
)

const (
	purposeEmail = "email"
	purposePhone = "phone"
	purposeLogin = "login"
)

// classifyIdentifier decides how a login field is looked up: email syntax
// first, then phone, then username.
func (e *Engine) classifyIdentifier(identifier string) (LoginMethod, string) {
	identifier = strings.TrimSpace(identifier)
	if e.validate.Var(identifier, "required,email") == nil {
		return LoginMethodEmail, strings.ToLower(identifier)
	}
	if phone := normalizePhone(identifier); phone != "" {
		return LoginMethodPhone, phone
	}
	return LoginMethodUsername, identifier
}

// normalizePhone strips separators and returns "" unless the result is all
// digits with an optional leading '+'.
func normalizePhone(v string) string {
	v = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(v))

	digits := strings.TrimPrefix(v, "+")
	if len(digits) < 6 || len(digits) > 15 {
		return ""
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return v
}

// lookupIdentity resolves identifier to an identity. A missing identity is
// reported as [ErrIdentityNotFound]; backend failures as [ErrUnavailable].
func (e *Engine) lookupIdentity(ctx context.Context, identifier string) (*Identity, LoginMethod, error) {
	method, key := e.classifyIdentifier(identifier)
	if key == "" {
		return nil, method, ErrIdentityNotFound
	}

	var (
		identity *Identity
		err      error
	)
	switch method {
	case LoginMethodEmail:
		identity, err = e.identities.GetByEmail(ctx, key)
	case LoginMethodPhone:
		identity, err = e.identities.GetByPhone(ctx, key)
		if errors.Is(err, ErrIdentityNotFound) {
			// Numeric usernames are allowed.
			identity, err = e.identities.GetByUsername(ctx, key)
			if err == nil {
				method = LoginMethodUsername
			}
		}
	default:
		identity, err = e.identities.GetByUsername(ctx, key)
	}
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, method, ErrIdentityNotFound
		}
		return nil, method, unavailable(err)
	}
	if identity == nil {
		return nil, method, ErrIdentityNotFound
	}
	return identity, method, nil
}

// VerifyPassword checks a password for a login field (email, phone or
// username). It has no session or token side effects. Unknown identifiers
// still spend one hash verification.
func (e *Engine) VerifyPassword(ctx context.Context, identifier, pw string) (*Identity, LoginMethod, error) {
	identity, method, err := e.lookupIdentity(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.hasher.Dummy(pw)
			return nil, method, ErrInvalidCredentials
		}
		return nil, method, err
	}
	if identity.PasswordHash == "" {
		e.hasher.Dummy(pw)
		return nil, method, ErrInvalidCredentials
	}

	ok, needsRehash, err := e.hasher.Verify(pw, identity.PasswordHash)
	if err != nil {
		if !errors.Is(err, password.ErrPasswordTooLong) && !errors.Is(err, password.ErrEmptyPassword) {
			e.logger.Error("password verification failed",
				zap.String("identity_id", identity.ID),
				zap.Error(err),
			)
		}
		return nil, method, ErrInvalidCredentials
	}
	if !ok {
		return nil, method, ErrInvalidCredentials
	}
	if !identity.IsActive {
		return identity, method, ErrInactiveAccount
	}

	if needsRehash && e.config.Password.UpgradeOnLogin {
		e.rehash(ctx, identity, pw)
	}
	return identity, method, nil
}

func (e *Engine) rehash(ctx context.Context, identity *Identity, pw string) {
	hash, err := e.hasher.Hash(pw)
	if err != nil {
		e.warn("password rehash failed", err)
		return
	}
	if err := e.identities.UpdatePasswordHash(ctx, identity.ID, hash); err != nil {
		e.warn("password rehash not stored", err)
		return
	}
	identity.PasswordHash = hash
	e.metricInc(MetricPasswordRehashed)
}

// codeDestination picks where codes for identity go given how it was
// identified: the matching address for email and phone, else email when
// present.
func codeDestination(identity *Identity, method LoginMethod) (string, dispatch.Channel) {
	switch {
	case method == LoginMethodPhone && identity.Phone != "":
		return identity.Phone, dispatch.ChannelSMS
	case identity.Email != "":
		return identity.Email, dispatch.ChannelEmail
	default:
		return identity.Phone, dispatch.ChannelSMS
	}
}

// VerifyLoginCode redeems a passwordless login code. Unknown identifiers and
// missing codes both return [ErrCodeInvalid].
func (e *Engine) VerifyLoginCode(ctx context.Context, identifier, code string) (*Identity, error) {
	identity, method, err := e.lookupIdentity(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrCodeInvalid
		}
		return nil, err
	}
	target, _ := codeDestination(identity, method)
	if target == "" {
		return nil, ErrCodeInvalid
	}

	identityID, err := e.verifyCode(ctx, purposeLogin, target, code)
	if err != nil {
		return nil, err
	}
	if identityID != identity.ID {
		return nil, ErrCodeInvalid
	}
	if !identity.IsActive {
		return identity, ErrInactiveAccount
	}
	return identity, nil
}

func newID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
