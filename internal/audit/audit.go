package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Event is one security-relevant engine outcome.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	Type       string            `json:"type"`
	IdentityID string            `json:"identity_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// MarshalLogObject renders the event for zap, omitting empty fields.
func (e Event) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("type", e.Type)
	enc.AddBool("success", e.Success)
	enc.AddTime("timestamp", e.Timestamp)
	for _, f := range [...]struct{ k, v string }{
		{"identity_id", e.IdentityID},
		{"session_id", e.SessionID},
		{"ip", e.IP},
		{"user_agent", e.UserAgent},
		{"error", e.Error},
	} {
		if f.v != "" {
			enc.AddString(f.k, f.v)
		}
	}
	if len(e.Metadata) > 0 {
		return enc.AddObject("metadata", zapcore.ObjectMarshalerFunc(func(m zapcore.ObjectEncoder) error {
			for k, v := range e.Metadata {
				m.AddString(k, v)
			}
			return nil
		}))
	}
	return nil
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return nil
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}

// ZapSink logs events at info level, failures at warn.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, event Event) {
	level := zapcore.InfoLevel
	if !event.Success {
		level = zapcore.WarnLevel
	}
	s.logger.Log(level, "audit event", zap.Object("event", event))
}
