package relay

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRelayDrainsOnClose(t *testing.T) {
	var (
		mu  sync.Mutex
		got []int
	)
	r := New(8, false, func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	for i := 0; i < 5; i++ {
		if !r.Push(context.Background(), i) {
			t.Fatalf("push %d rejected", i)
		}
	}
	r.Close()

	if len(got) != 5 {
		t.Fatalf("expected 5 handled values, got %v", got)
	}
	if r.Push(context.Background(), 9) {
		t.Fatal("push after close must be rejected")
	}
}

func TestRelayDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	r := New(1, true, func(int) {
		started <- struct{}{}
		<-release
	})
	defer r.Close()

	r.Push(context.Background(), 1)
	<-started
	r.Push(context.Background(), 2)
	if r.Push(context.Background(), 3) {
		t.Fatal("expected push into a full buffer to be dropped")
	}
	if r.Dropped() != 1 {
		t.Fatalf("expected one drop, got %d", r.Dropped())
	}
	close(release)
}

func TestBlockingRelayHonoursContext(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	r := New(1, false, func(int) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})
	defer r.Close()

	r.Push(context.Background(), 1)
	<-started
	r.Push(context.Background(), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if r.Push(ctx, 3) {
		t.Fatal("expected push to give up when ctx ends")
	}
	close(release)
}

func TestNilRelayIsSafe(t *testing.T) {
	var r *Relay[string]
	if r.Push(context.Background(), "x") || r.Dropped() != 0 {
		t.Fatal("nil relay must reject and report no drops")
	}
	r.Close()
}
