package dispatch

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// LogSender writes messages to a zap logger. It is meant for development:
// codes are logged at debug level only.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	fields := []zap.Field{
		zap.String("kind", string(msg.Kind)),
		zap.String("channel", string(msg.Channel)),
		zap.String("to", Mask(msg.To)),
		zap.String("identity_id", msg.IdentityID),
	}
	if !msg.ExpiresAt.IsZero() {
		fields = append(fields, zap.Time("expires_at", msg.ExpiresAt))
	}
	s.logger.Info("outbound message", fields...)
	if msg.Code != "" {
		s.logger.Debug("outbound message code",
			zap.String("kind", string(msg.Kind)),
			zap.String("to", msg.To),
			zap.String("code", msg.Code),
		)
	}
	return nil
}

// ChannelSender writes messages into a buffered channel.
type ChannelSender struct {
	messages chan Message
}

func NewChannelSender(buffer int) *ChannelSender {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSender{
		messages: make(chan Message, buffer),
	}
}

func (s *ChannelSender) Send(ctx context.Context, msg Message) error {
	select {
	case s.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSender) Messages() <-chan Message {
	return s.messages
}

// Mask hides most of an address for logs: "alice@example.com" becomes
// "a***@example.com" and "+15550100" becomes "***0100".
func Mask(to string) string {
	if at := strings.IndexByte(to, '@'); at > 0 {
		return to[:1] + "***" + to[at:]
	}
	if len(to) > 4 {
		return "***" + to[len(to)-4:]
	}
	return "***"
}
