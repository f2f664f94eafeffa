package queue_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tripwire/agent/internal/probes"
	"github.com/tripwire/agent/internal/queue"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// makeSample returns a minimal metrics Sample for use in tests.
func makeSample(cpu float64) probes.Sample {
	return probes.Sample{
		Kind:      probes.KindMetrics,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Metrics:   &probes.Metrics{CPUUsagePercent: cpu},
	}
}

// openMemQueue opens an in-memory SQLiteQueue and registers t.Cleanup to
// close it, ensuring the database is closed even when tests fail.
func openMemQueue(t *testing.T) *queue.SQLiteQueue {
	t.Helper()
	q, err := queue.New(":memory:")
	if err != nil {
		t.Fatalf("queue.New(:memory:): %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew_InMemory_EmptyDepth(t *testing.T) {
	q := openMemQueue(t)
	if d := q.Depth(); d != 0 {
		t.Errorf("Depth = %d after open, want 0", d)
	}
}

func TestNew_FileDB_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.db")

	q, err := queue.New(path)
	if err != nil {
		t.Fatalf("queue.New(%q): %v", path, err)
	}
	_ = q.Close()

	q2, err := queue.New(path)
	if err != nil {
		t.Fatalf("re-open queue.New(%q): %v", path, err)
	}
	defer q2.Close()
}

// ---------------------------------------------------------------------------
// Enqueue / Dequeue / Ack
// ---------------------------------------------------------------------------

func TestEnqueueIncrementsDepth(t *testing.T) {
	q := openMemQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, makeSample(50)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if d := q.Depth(); d != 1 {
		t.Errorf("Depth = %d, want 1", d)
	}
}

func TestDequeueFIFOOrder(t *testing.T) {
	q := openMemQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, makeSample(float64(i))); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}

	pending, err := q.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("len(pending) = %d, want 3", len(pending))
	}
	for i, ps := range pending {
		if ps.Sample.Metrics.CPUUsagePercent != float64(i) {
			t.Errorf("pending[%d].CPUUsagePercent = %v, want %v", i, ps.Sample.Metrics.CPUUsagePercent, i)
		}
	}
}

func TestDequeueDoesNotMarkDelivered(t *testing.T) {
	q := openMemQueue(t)
	ctx := context.Background()
	_ = q.Enqueue(ctx, makeSample(1))

	if _, err := q.Dequeue(ctx, 10); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if _, err := q.Dequeue(ctx, 10); err != nil {
		t.Fatalf("second Dequeue: %v", err)
	}
	if d := q.Depth(); d != 1 {
		t.Errorf("Depth after two Dequeue calls = %d, want 1 (Dequeue must not mark delivered)", d)
	}
}

func TestAckRemovesFromPending(t *testing.T) {
	q := openMemQueue(t)
	ctx := context.Background()
	_ = q.Enqueue(ctx, makeSample(1))
	_ = q.Enqueue(ctx, makeSample(2))

	pending, _ := q.Dequeue(ctx, 10)
	if err := q.Ack(ctx, []int64{pending[0].ID}); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	if d := q.Depth(); d != 1 {
		t.Errorf("Depth after Ack = %d, want 1", d)
	}

	remaining, _ := q.Dequeue(ctx, 10)
	if len(remaining) != 1 || remaining[0].ID != pending[1].ID {
		t.Errorf("remaining = %+v, want only id %d", remaining, pending[1].ID)
	}
}

func TestAckIsIdempotent(t *testing.T) {
	q := openMemQueue(t)
	ctx := context.Background()
	_ = q.Enqueue(ctx, makeSample(1))
	pending, _ := q.Dequeue(ctx, 10)

	if err := q.Ack(ctx, []int64{pending[0].ID}); err != nil {
		t.Fatalf("first Ack: %v", err)
	}
	if err := q.Ack(ctx, []int64{pending[0].ID}); err != nil {
		t.Fatalf("second Ack: %v", err)
	}
	if d := q.Depth(); d != 0 {
		t.Errorf("Depth = %d, want 0", d)
	}
}

func TestAckEmptyIDsIsNoop(t *testing.T) {
	q := openMemQueue(t)
	if err := q.Ack(context.Background(), nil); err != nil {
		t.Errorf("Ack(nil): %v", err)
	}
}

// TestDepthSurvivesReopen is the crash-recovery scenario: depth is reseeded
// from undelivered rows on New, not reset to zero.
func TestDepthSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.db")

	q, err := queue.New(path)
	if err != nil {
		t.Fatalf("queue.New: %v", err)
	}
	ctx := context.Background()
	_ = q.Enqueue(ctx, makeSample(1))
	_ = q.Enqueue(ctx, makeSample(2))
	_ = q.Close()

	q2, err := queue.New(path)
	if err != nil {
		t.Fatalf("re-open queue.New: %v", err)
	}
	defer q2.Close()

	if d := q2.Depth(); d != 2 {
		t.Errorf("Depth after reopen = %d, want 2", d)
	}
}

func TestDequeueNonPositiveN(t *testing.T) {
	q := openMemQueue(t)
	pending, err := q.Dequeue(context.Background(), 0)
	if err != nil {
		t.Fatalf("Dequeue(0): %v", err)
	}
	if pending != nil {
		t.Errorf("Dequeue(0) = %v, want nil", pending)
	}
}
