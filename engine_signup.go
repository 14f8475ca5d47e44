package waanauth

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/waanverse/waanauth/dispatch"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Signup creates an inactive identity and sends an activation code to its
// email or phone. The identity becomes active with [Engine.VerifyEmail] or
// [Engine.VerifyPhone].
func (e *Engine) Signup(ctx context.Context, req SignupRequest) (*SignupResult, error) {
	if !e.config.Signup.Enabled {
		return nil, ErrSignupDisabled
	}
	if err := mapLimiterError(e.signupLimiter.Enforce(ctx, clientIPFromContext(ctx))); err != nil {
		e.metricInc(MetricSignupRateLimited)
		return nil, err
	}

	identity, target, channel, err := e.prepareSignup(req)
	if err != nil {
		e.metricInc(MetricSignupRejected)
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	identity.ID = id
	identity.PasswordHash = hash
	identity.CreatedAt = e.now().UTC()

	if err := e.identities.Create(ctx, identity); err != nil {
		if errors.Is(err, ErrIdentifierTaken) {
			e.metricInc(MetricSignupRejected)
			return nil, ErrIdentifierTaken
		}
		return nil, unavailable(err)
	}
	e.metricInc(MetricSignupSuccess)
	e.emitAudit(ctx, auditEventSignup, true, identity.ID, nil, map[string]string{"channel": string(channel)})

	result := &SignupResult{Identity: identity, Channel: string(channel)}
	purpose, kind := CodePurposeEmail, dispatch.KindEmailVerification
	if channel == dispatch.ChannelSMS {
		purpose, kind = CodePurposePhone, dispatch.KindPhoneVerification
	}
	issued, err := e.issueAndSend(ctx, purpose, kind, channel, target, identity.ID)
	if err != nil {
		// The identity exists; the code can be re-requested.
		e.logger.Warn("signup code not issued",
			zap.String("identity_id", identity.ID),
			zap.Error(err),
		)
		return result, nil
	}
	result.CodeExpires = issued.ExpiresAt
	return result, nil
}

// prepareSignup validates req and returns the identity to create together
// with the activation code destination.
func (e *Engine) prepareSignup(req SignupRequest) (*Identity, string, dispatch.Channel, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	phone := strings.TrimSpace(req.Phone)

	if len(username) < e.config.Signup.UsernameMinLength || !usernamePattern.MatchString(username) {
		return nil, "", "", ErrInvalidRequest
	}
	for _, reserved := range e.config.Signup.ReservedUsernames {
		if strings.EqualFold(username, reserved) {
			return nil, "", "", ErrIdentifierReserved
		}
	}

	identity := &Identity{Username: username}
	var (
		target  string
		channel dispatch.Channel
	)
	switch {
	case email != "" && phone != "":
		return nil, "", "", ErrInvalidRequest
	case email != "":
		if e.validate.Var(email, "required,email") != nil {
			return nil, "", "", ErrInvalidRequest
		}
		identity.Email = email
		target, channel = email, dispatch.ChannelEmail
	case phone != "":
		if !e.config.Signup.AllowPhone {
			return nil, "", "", ErrInvalidRequest
		}
		phone = normalizePhone(phone)
		if e.validate.Var(phone, "required,e164") != nil {
			return nil, "", "", ErrInvalidRequest
		}
		identity.Phone = phone
		target, channel = phone, dispatch.ChannelSMS
	default:
		return nil, "", "", ErrInvalidRequest
	}

	if err := e.checkPolicy(req.Password, username, email, phone); err != nil {
		return nil, "", "", err
	}
	return identity, target, channel, nil
}

// VerifyEmail redeems an email verification code, marking the address
// verified and activating the identity.
func (e *Engine) VerifyEmail(ctx context.Context, email, code string) (*Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	identityID, err := e.verifyCode(ctx, purposeEmail, email, code)
	if err != nil {
		return nil, err
	}
	if err := e.identities.MarkEmailVerified(ctx, identityID, true); err != nil {
		return nil, e.identityWriteError(err)
	}
	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, auditEventEmailVerified, true, identityID, nil, nil)
	return e.GetIdentity(ctx, identityID)
}

// VerifyPhone redeems a phone verification code. Phone signups are
// activated by it as well.
func (e *Engine) VerifyPhone(ctx context.Context, phone, code string) (*Identity, error) {
	phone = normalizePhone(phone)
	identityID, err := e.verifyCode(ctx, purposePhone, phone, code)
	if err != nil {
		return nil, err
	}
	if err := e.identities.MarkPhoneVerified(ctx, identityID, true); err != nil {
		return nil, e.identityWriteError(err)
	}
	e.metricInc(MetricPhoneVerified)
	e.emitAudit(ctx, auditEventPhoneVerified, true, identityID, nil, nil)
	return e.GetIdentity(ctx, identityID)
}

// ResendEmailVerification issues a fresh signup code for email. Unknown or
// already verified addresses succeed silently; the resend cooldown applies.
func (e *Engine) ResendEmailVerification(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ErrInvalidRequest
	}
	identity, err := e.identities.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil
		}
		return unavailable(err)
	}
	if identity.EmailVerified {
		return nil
	}
	_, err = e.issueAndSend(ctx, CodePurposeEmail, dispatch.KindEmailVerification,
		dispatch.ChannelEmail, email, identity.ID)
	return err
}

func (e *Engine) identityWriteError(err error) error {
	if errors.Is(err, ErrIdentityNotFound) {
		return ErrCodeInvalid
	}
	return unavailable(err)
}
