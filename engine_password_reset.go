package waanauth

import (
	"context"
	"fmt"

	"github.com/waanverse/waanauth/internal/flows"
)

// RequestPasswordReset sends a reset code to the identity behind identifier.
// Unknown identifiers succeed silently. Repeat requests within
// PasswordReset.Cooldown return a [*ThrottleError].
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) error {
	if !e.config.PasswordReset.Enabled {
		return ErrEngineNotReady
	}
	return flows.RunRequestPasswordReset(ctx, identifier, e.flows.PasswordReset)
}

// ConfirmPasswordReset consumes a reset code and sets newPassword. With
// PasswordReset.RevokeSessions every session of the identity is revoked.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, identifier, code, newPassword string) error {
	if !e.config.PasswordReset.Enabled {
		return ErrEngineNotReady
	}
	return flows.RunConfirmPasswordReset(ctx, identifier, code, newPassword, e.flows.PasswordReset)
}

func (e *Engine) resetTarget(ctx context.Context, identifier string) (*flows.ResetTarget, error) {
	identity, method, err := e.lookupIdentity(ctx, identifier)
	if err != nil {
		return nil, err
	}
	to, channel := codeDestination(identity, method)
	if to == "" {
		return nil, ErrIdentityNotFound
	}
	return &flows.ResetTarget{
		IdentityID: identity.ID,
		To:         to,
		Channel:    string(channel),
		Inputs:     []string{identity.Username, identity.Email, identity.Phone},
	}, nil
}

// checkPolicy applies the password policy, penalising inputs such as the
// username.
func (e *Engine) checkPolicy(pw string, inputs ...string) error {
	if err := e.policy.Validate(pw, inputs...); err != nil {
		return fmt.Errorf("%w: %w", ErrPasswordPolicy, err)
	}
	return nil
}
