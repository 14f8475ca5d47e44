package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/waanverse/waanauth/internal/relay"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	BufferSize int
	// DropIfFull drops messages when the buffer is full instead of blocking
	// the caller until space frees up or its context ends.
	DropIfFull bool
	// SendTimeout bounds each Sender call. Zero means no timeout.
	SendTimeout time.Duration
}

// Dispatcher hands messages to a [Sender] on a background goroutine.
type Dispatcher struct {
	sender  Sender
	logger  *zap.Logger
	timeout time.Duration
	queue   *relay.Relay[Message]
	failed  atomic.Uint64
}

// NewDispatcher starts the delivery goroutine. A nil logger is replaced by a
// no-op logger.
func NewDispatcher(cfg Config, sender Sender, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = SenderFunc(func(context.Context, Message) error { return nil })
	}
	d := &Dispatcher{sender: sender, logger: logger, timeout: cfg.SendTimeout}
	d.queue = relay.New(cfg.BufferSize, cfg.DropIfFull, d.deliver)
	return d
}

func (d *Dispatcher) deliver(msg Message) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	err := d.sender.Send(ctx, msg)
	if err == nil {
		return
	}
	d.failed.Add(1)
	d.logger.Warn("message delivery failed",
		zap.String("kind", string(msg.Kind)),
		zap.String("channel", string(msg.Channel)),
		zap.String("identity_id", msg.IdentityID),
		zap.Error(err),
	)
}

// Dispatch enqueues msg. It reports false when the message was dropped or
// the dispatcher is closed.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) bool {
	if d == nil {
		return false
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	before := d.queue.Dropped()
	if d.queue.Push(ctx, msg) {
		return true
	}
	if d.queue.Dropped() > before {
		d.logger.Warn("dispatch buffer full, dropping message", zap.String("kind", string(msg.Kind)))
	}
	return false
}

// Close stops accepting messages and drains the buffer.
func (d *Dispatcher) Close() {
	if d != nil {
		d.queue.Close()
	}
}

// Dropped returns how many messages were dropped because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.queue.Dropped()
}

// Failed returns how many deliveries returned an error.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
