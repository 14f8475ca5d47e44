package dispatch

import (
	"context"
	"time"
)

// Kind names the template a downstream delivery service renders.
type Kind string

const (
	KindEmailVerification Kind = "email_verification"
	KindPhoneVerification Kind = "phone_verification"
	KindLoginCode         Kind = "login_code"
	KindPasswordReset     Kind = "password_reset"
	KindPasswordChanged   Kind = "password_changed"
	KindLoginAlert        Kind = "login_alert"
)

// Channel is the delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is one outbound notification. Code is only set for messages that
// carry a one-time secret.
type Message struct {
	Kind       Kind              `json:"kind"`
	Channel    Channel           `json:"channel"`
	To         string            `json:"to"`
	IdentityID string            `json:"identity_id,omitempty"`
	Code       string            `json:"code,omitempty"`
	ExpiresAt  time.Time         `json:"expires_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to [Sender].
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
