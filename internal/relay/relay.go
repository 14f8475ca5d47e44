// Package relay is a bounded asynchronous queue with a single consumer. It
// backs outbound message delivery and the audit stream.
package relay

import (
	"context"
	"sync"
	"sync/atomic"
)

// Relay hands values to a handler on its own goroutine. Close drains what is
// already queued before returning.
type Relay[T any] struct {
	handle     func(T)
	dropIfFull bool

	ch        chan T
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// New starts the consumer. With dropIfFull a full buffer drops values
// instead of blocking producers.
func New[T any](buffer int, dropIfFull bool, handle func(T)) *Relay[T] {
	if buffer <= 0 {
		buffer = 1
	}
	r := &Relay[T]{
		handle:     handle,
		dropIfFull: dropIfFull,
		ch:         make(chan T, buffer),
		done:       make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Relay[T]) run() {
	defer r.wg.Done()
	for {
		select {
		case v := <-r.ch:
			r.handle(v)
		case <-r.done:
			for {
				select {
				case v := <-r.ch:
					r.handle(v)
				default:
					return
				}
			}
		}
	}
}

// Push enqueues v and reports whether it was accepted. A blocking relay
// waits until there is room, ctx ends, or the relay closes.
func (r *Relay[T]) Push(ctx context.Context, v T) bool {
	if r == nil || r.closed.Load() {
		return false
	}
	if r.dropIfFull {
		select {
		case r.ch <- v:
			return true
		case <-r.done:
			return false
		default:
			r.dropped.Add(1)
			return false
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case r.ch <- v:
		return true
	case <-ctx.Done():
		return false
	case <-r.done:
		return false
	}
}

func (r *Relay[T]) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		r.wg.Wait()
	})
}

// Dropped counts values rejected because the buffer was full.
func (r *Relay[T]) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}
