package audit

import (
	"context"
	"time"

	"github.com/waanverse/waanauth/internal/relay"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher forwards events to a Sink off the request path.
type Dispatcher struct {
	queue *relay.Relay[Event]
}

// NewDispatcher returns nil when auditing is disabled; a nil Dispatcher
// accepts and discards events.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	return &Dispatcher{
		queue: relay.New(cfg.BufferSize, cfg.DropIfFull, func(e Event) {
			sink.Emit(context.Background(), e)
		}),
	}
}

// Emit enqueues event, stamping its timestamp when unset.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	d.queue.Push(ctx, event)
}

func (d *Dispatcher) Close() {
	if d != nil {
		d.queue.Close()
	}
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.queue.Dropped()
}
