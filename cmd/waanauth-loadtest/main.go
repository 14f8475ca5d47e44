// Command waanauth-loadtest drives the Redis session store with concurrent
// lookups, touches and refresh consumptions and reports latency percentiles.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/waanverse/waanauth/session"
)

type seeded struct {
	sessionID  string
	identityID string
}

// op runs one operation against a randomly chosen seeded session.
type op func(ctx context.Context, s seeded) error

type result struct {
	name     string
	elapsed  time.Duration
	samples  []time.Duration
	failures int64
}

func main() {
	var (
		count       = flag.Int("sessions", 100000, "sessions to seed")
		identities  = flag.Int("identities", 1000, "identities the sessions are spread over")
		concurrency = flag.Int("concurrency", 256, "concurrent workers per phase")
		ops         = flag.Int("ops", 200000, "operations per phase")
		addr        = flag.String("redis-addr", os.Getenv("WAANAUTH_REDIS_ADDR"), "redis address; miniredis when empty")
		prefix      = flag.String("prefix", "was", "session key prefix")
	)
	flag.Parse()

	if *count <= 0 || *identities <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, identities, concurrency and ops must all be positive")
		os.Exit(2)
	}

	client, stop, err := connect(*addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer stop()

	ctx := context.Background()
	store := session.NewStore(client, *prefix, 24*time.Hour)

	began := time.Now()
	pool, err := seed(ctx, store, *count, *identities)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("seeded %d sessions in %s\n", len(pool), time.Since(began).Round(time.Millisecond))

	phases := []struct {
		name string
		run  op
	}{
		{"lookup", func(ctx context.Context, s seeded) error {
			sess, err := store.Get(ctx, s.sessionID)
			if err == nil && !sess.IsActive {
				return session.ErrNotFound
			}
			return err
		}},
		{"touch", func(ctx context.Context, s seeded) error {
			return store.Touch(ctx, s.identityID, s.sessionID)
		}},
		// Each consumption presents a fresh jti, so errors are backend
		// failures and never reuse detection.
		{"refresh", func(ctx context.Context, s seeded) error {
			return store.ConsumeRefresh(ctx, s.identityID, s.sessionID, uuid.NewString())
		}},
	}

	results := make([]result, 0, len(phases))
	for _, p := range phases {
		results = append(results, runPhase(ctx, p.name, pool, *ops, *concurrency, p.run))
	}
	fmt.Println("---- results ----")
	for _, r := range results {
		r.print()
	}
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func seed(ctx context.Context, store *session.Store, count, identities int) ([]seeded, error) {
	pool := make([]seeded, count)
	for i := range pool {
		identityID := fmt.Sprintf("identity-%d", i%identities)
		sess, err := store.Create(ctx, identityID, session.Metadata{
			UserAgent:   "waanauth-loadtest",
			IPAddress:   "127.0.0.1",
			LoginMethod: "username",
		})
		if err != nil {
			return nil, fmt.Errorf("seed session %d: %w", i, err)
		}
		pool[i] = seeded{sessionID: sess.ID, identityID: identityID}
	}
	return pool, nil
}

// runPhase spreads ops operations over workers. Each worker keeps its own
// samples; they are merged once the phase ends.
func runPhase(ctx context.Context, name string, pool []seeded, ops, workers int, run op) result {
	var (
		next     atomic.Int64
		failures atomic.Int64
		wg       sync.WaitGroup
	)
	perWorker := make([][]time.Duration, workers)

	began := time.Now()
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for next.Add(1) <= int64(ops) {
				s := pool[rand.IntN(len(pool))]
				t0 := time.Now()
				if err := run(ctx, s); err != nil {
					failures.Add(1)
				}
				perWorker[w] = append(perWorker[w], time.Since(t0))
			}
		}()
	}
	wg.Wait()

	return result{
		name:     name,
		elapsed:  time.Since(began),
		samples:  slices.Concat(perWorker...),
		failures: failures.Load(),
	}
}

// quantile expects sorted samples.
func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(q * float64(len(sorted)-1))
	return sorted[min(max(i, 0), len(sorted)-1)]
}

func (r result) print() {
	slices.Sort(r.samples)
	rate := 0.0
	if r.elapsed > 0 {
		rate = float64(len(r.samples)) / r.elapsed.Seconds()
	}
	fmt.Printf("%-8s ops=%d failures=%d elapsed=%s rate=%.0f/s p50=%s p95=%s p99=%s\n",
		r.name, len(r.samples), r.failures, r.elapsed.Round(time.Millisecond), rate,
		quantile(r.samples, 0.50).Round(time.Microsecond),
		quantile(r.samples, 0.95).Round(time.Microsecond),
		quantile(r.samples, 0.99).Round(time.Microsecond),
	)
}
