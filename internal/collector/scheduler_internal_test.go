package collector

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tripwire/agent/internal/probes"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestTickQueueDropInvariant exercises the §8 "queue drop invariant": for a
// sequence of sends to a full bounded queue, the count of successful sends
// plus the drop counter equals the total number of ticks.
func TestTickQueueDropInvariant(t *testing.T) {
	s := New(discardLogger(), WithQueueCapacity(2))
	probe := registeredProbe{
		name:    "fake",
		period:  time.Millisecond,
		timeout: time.Second,
		fn: func(ctx context.Context) (probes.Sample, error) {
			return probes.Sample{Kind: probes.KindMetrics, Timestamp: time.Now()}, nil
		},
	}
	s.dropCounters.Store(probe.name, new(atomic.Int64))

	const totalTicks = 5
	for i := 0; i < totalTicks; i++ {
		s.tick(context.Background(), probe)
	}

	received := len(s.queue)
	dropped := s.Drops(probe.name)
	if int64(received)+dropped != totalTicks {
		t.Fatalf("received(%d) + dropped(%d) != totalTicks(%d)", received, dropped, totalTicks)
	}
	if received != 2 {
		t.Fatalf("received = %d, want queue capacity 2", received)
	}
	if dropped != 3 {
		t.Fatalf("dropped = %d, want 3", dropped)
	}
}

// TestTickTimeoutSkipsCycle verifies a probe that never returns within its
// per-tick timeout is skipped (no sample enqueued) rather than blocking.
func TestTickTimeoutSkipsCycle(t *testing.T) {
	s := New(discardLogger(), WithQueueCapacity(1))
	probe := registeredProbe{
		name:    "slow",
		period:  time.Millisecond,
		timeout: 10 * time.Millisecond,
		fn: func(ctx context.Context) (probes.Sample, error) {
			<-ctx.Done()
			return probes.Sample{}, ctx.Err()
		},
	}
	s.dropCounters.Store(probe.name, new(atomic.Int64))

	s.tick(context.Background(), probe)

	if len(s.queue) != 0 {
		t.Fatalf("expected no sample enqueued after timeout, got %d", len(s.queue))
	}
}
