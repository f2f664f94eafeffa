// Package queue provides a WAL-mode SQLite-backed mirror queue for the
// TripWire agent's TransportClient (C3). It adds Dequeue and Ack operations
// to support at-least-once delivery semantics: samples are persisted on
// Enqueue and are not removed until the caller calls Ack.
//
// # WAL mode
//
// The database is opened with PRAGMA journal_mode = WAL so that concurrent
// readers and a single writer can proceed without blocking each other. This
// is important because the collector's sample-processing goroutine calls
// Enqueue while a separate delivery goroutine calls Dequeue and Ack.
//
// # At-least-once delivery
//
// The delivered column is set to 1 only when Ack is called. If the process
// crashes between Enqueue and Ack, the sample is returned again by the next
// Dequeue call after restart, ensuring every sample reaches the hub even
// when the transport is temporarily unavailable (§8 scenario 6).
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tripwire/agent/internal/probes"
	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// SQLiteQueue is a WAL-mode SQLite-backed local mirror of samples pending
// delivery to the hub. It is safe for concurrent use.
type SQLiteQueue struct {
	db    *sql.DB
	depth atomic.Int64
}

// New opens (or creates) the SQLite database at path, enables WAL journal
// mode, and applies the schema. If path is ":memory:", an in-memory database
// is used; this is suitable for tests but loses all data when closed.
//
// New seeds the internal depth counter from the number of rows currently
// marked as pending (delivered = 0), so Depth() is accurate immediately
// after a crash-recovery restart.
func New(path string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("queue: open %q: %w", path, err)
	}

	// SQLite allows only one writer at a time. Limiting the pool to a single
	// connection avoids "database is locked" errors when multiple goroutines
	// call Enqueue concurrently; each call serialises through this connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: set WAL mode: %w", err)
	}

	// NORMAL synchronous: durable across application crashes; not OS crashes.
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: set synchronous = NORMAL: %w", err)
	}

	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: apply schema: %w", err)
	}

	q := &SQLiteQueue{db: db}

	var count int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM sample_queue WHERE delivered = 0`).Scan(&count); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("queue: count pending rows: %w", err)
	}
	q.depth.Store(count)

	return q, nil
}

// ddl is the schema DDL, kept here to keep the package self-contained.
const ddl = `
CREATE TABLE IF NOT EXISTS sample_queue (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    kind        TEXT    NOT NULL,
    ts          TEXT    NOT NULL,
    payload     TEXT    NOT NULL DEFAULT '{}',
    enqueued_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    delivered   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sample_queue_pending
    ON sample_queue (delivered, id);
`

// Enqueue persists s to the SQLite database. The sample is stored with
// delivered = 0 and is included in subsequent Dequeue results until Ack is
// called for its ID.
func (q *SQLiteQueue) Enqueue(ctx context.Context, s probes.Sample) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("queue: marshal sample: %w", err)
	}

	_, err = q.db.ExecContext(ctx,
		`INSERT INTO sample_queue (kind, ts, payload) VALUES (?, ?, ?)`,
		string(s.Kind),
		s.Timestamp.UTC().Format(time.RFC3339Nano),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}

	q.depth.Add(1)
	return nil
}

// PendingSample is an unacknowledged sample returned by Dequeue. ID is the
// database primary key used to acknowledge the sample via Ack.
type PendingSample struct {
	ID     int64
	Sample probes.Sample
}

// Dequeue returns up to n unacknowledged samples in insertion order (oldest
// first). It does not mark samples as delivered; call Ack with the returned
// IDs to do that. If n ≤ 0, Dequeue returns nil without querying the database.
func (q *SQLiteQueue) Dequeue(ctx context.Context, n int) ([]PendingSample, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := q.db.QueryContext(ctx,
		`SELECT id, payload
		 FROM   sample_queue
		 WHERE  delivered = 0
		 ORDER  BY id
		 LIMIT  ?`, n)
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue query: %w", err)
	}
	defer rows.Close()

	var pending []PendingSample
	for rows.Next() {
		var (
			ps         PendingSample
			payloadStr string
		)
		if err := rows.Scan(&ps.ID, &payloadStr); err != nil {
			return nil, fmt.Errorf("queue: dequeue scan: %w", err)
		}

		if err := json.Unmarshal([]byte(payloadStr), &ps.Sample); err != nil {
			// A malformed row is skipped rather than aborting the whole
			// batch. It is not logged or returned to the caller; it
			// remains undelivered, is skipped again on every later
			// Dequeue, and still counts toward Depth.
			continue
		}

		pending = append(pending, ps)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: dequeue rows: %w", err)
	}
	return pending, nil
}

// Ack marks the samples identified by ids as delivered. Acknowledged samples
// are excluded from subsequent Dequeue results. Ack is idempotent: calling
// it multiple times with the same IDs is safe.
func (q *SQLiteQueue) Ack(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1] // trim trailing comma

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	result, err := q.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE sample_queue SET delivered = 1 WHERE id IN (%s) AND delivered = 0`, placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}

	n, _ := result.RowsAffected()
	q.depth.Add(-n)
	return nil
}

// Depth returns the number of pending (unacknowledged) samples. It reads
// from an atomic counter that is updated by Enqueue and Ack, so it never
// blocks.
func (q *SQLiteQueue) Depth() int {
	return int(q.depth.Load())
}

// Close closes the underlying database connection. Subsequent calls to any
// method are undefined; callers must not use the queue after Close returns.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}
