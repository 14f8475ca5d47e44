package waanauth

import (
	"context"
	"strings"
	"time"

	"github.com/waanverse/waanauth/dispatch"
	"github.com/waanverse/waanauth/internal"
)

// CodePurpose scopes a verification code. One live code exists per target
// and purpose.
type CodePurpose string

const (
	CodePurposeEmail CodePurpose = purposeEmail
	CodePurposePhone CodePurpose = purposePhone
	CodePurposeLogin CodePurpose = purposeLogin
)

// IssuedCode is a freshly generated verification code. Code is plaintext
// and must only be handed to the delivery channel.
type IssuedCode struct {
	Code      string
	ExpiresAt time.Time
}

// IssueCode generates and stores a code for (target, purpose), replacing
// any earlier one. Within the resend cooldown of the previous code it
// returns a [*ThrottleError] and the previous code stays live.
func (e *Engine) IssueCode(ctx context.Context, purpose CodePurpose, target, identityID string) (*IssuedCode, error) {
	if !validPurpose(purpose) || strings.TrimSpace(target) == "" {
		return nil, ErrInvalidRequest
	}

	code, err := internal.NewCode(e.config.Codes.Length, e.config.Codes.Alphabet)
	if err != nil {
		return nil, err
	}
	now := e.now()
	wait, err := e.codes.Issue(ctx, target, string(purpose), identityID, internal.HashCode(code),
		e.config.Codes.Expiry, e.config.Codes.ResendCooldown)
	if err != nil {
		return nil, unavailable(err)
	}
	if wait > 0 {
		e.metricInc(MetricCodeThrottled)
		return nil, &ThrottleError{RetryAfter: wait}
	}

	e.metricInc(MetricCodeIssued)
	return &IssuedCode{Code: code, ExpiresAt: now.Add(e.config.Codes.Expiry)}, nil
}

// VerifyCode consumes the code for (target, purpose) and returns the
// identity it was issued for. A wrong code counts an attempt; the code is
// discarded after Codes.MaxAttempts wrong guesses.
func (e *Engine) VerifyCode(ctx context.Context, purpose CodePurpose, target, code string) (string, error) {
	if !validPurpose(purpose) {
		return "", ErrInvalidRequest
	}
	return e.verifyCode(ctx, string(purpose), target, code)
}

func (e *Engine) verifyCode(ctx context.Context, purpose, target, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" || strings.TrimSpace(target) == "" {
		e.metricInc(MetricCodeInvalid)
		return "", ErrCodeInvalid
	}

	identityID, err := e.codes.Verify(ctx, target, purpose, internal.HashCode(code), e.config.Codes.MaxAttempts)
	if err != nil {
		mapped := mapCodeError(err)
		switch mapped {
		case ErrCodeExpired:
			e.metricInc(MetricCodeExpired)
		case ErrCodeInvalid:
			e.metricInc(MetricCodeInvalid)
		}
		return "", mapped
	}
	e.metricInc(MetricCodeVerified)
	return identityID, nil
}

// issueAndSend issues a code and queues it for delivery.
func (e *Engine) issueAndSend(
	ctx context.Context,
	purpose CodePurpose,
	kind dispatch.Kind,
	channel dispatch.Channel,
	target, identityID string,
) (*IssuedCode, error) {
	issued, err := e.IssueCode(ctx, purpose, target, identityID)
	if err != nil {
		return nil, err
	}
	e.send(ctx, dispatch.Message{
		Kind:       kind,
		Channel:    channel,
		To:         target,
		IdentityID: identityID,
		Code:       issued.Code,
		ExpiresAt:  issued.ExpiresAt,
	})
	return issued, nil
}

func validPurpose(p CodePurpose) bool {
	switch p {
	case CodePurposeEmail, CodePurposePhone, CodePurposeLogin:
		return true
	}
	return false
}
