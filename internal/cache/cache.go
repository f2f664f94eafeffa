// Package cache implements the Hub's ServiceCache (C6): a concurrent
// unit-service table plus bounded log and config-change rings, with
// crash-safe snapshot/restore. Ported from
// original_source/lynx-core/src/cache.rs, generalized from Rust's DashMap +
// RwLock<Vec<T>> to Go's sync.Map + sync.RWMutex-guarded slices.
package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tripwire/agent/internal/probes"
)

// defaultMaxLogs and defaultMaxConfigChanges match the teacher convention of
// small, explicit defaults rather than unbounded growth.
const (
	defaultMaxLogs          = 1000
	defaultMaxConfigChanges = 1000
)

// LogEntry is one record in the rolling log ring.
type LogEntry struct {
	Level   string
	Message string
	At      time.Time
}

// ConfigChange is one record in the rolling config-change ring.
type ConfigChange struct {
	Key      string
	OldValue *string
	NewValue string
	At       time.Time
}

// snapshot is the single self-describing binary blob persisted by
// SnapshotToFile and restored by LoadFromFile. encoding/gob is used because
// it is the standard, self-describing Go binary encoding and no third-party
// binary-serialization dependency exists anywhere in the retrieved example
// pack (see DESIGN.md).
type snapshot struct {
	Services      map[string]probes.UnitService
	Logs          []LogEntry
	ConfigChanges []ConfigChange
}

// Cache is the Hub's in-memory ServiceCache (§4.6).
type Cache struct {
	maxLogs          int
	maxConfigChanges int

	services sync.Map // name -> probes.UnitService

	mu            sync.RWMutex
	logs          []LogEntry
	configChanges []ConfigChange
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithMaxLogs overrides the log ring bound.
func WithMaxLogs(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxLogs = n
		}
	}
}

// WithMaxConfigChanges overrides the config-change ring bound.
func WithMaxConfigChanges(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxConfigChanges = n
		}
	}
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		maxLogs:          defaultMaxLogs,
		maxConfigChanges: defaultMaxConfigChanges,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UpsertService inserts or replaces the service entry keyed by name.
func (c *Cache) UpsertService(svc probes.UnitService) {
	c.services.Store(svc.Name, svc)
}

// GetService returns the service entry for name, if present.
func (c *Cache) GetService(name string) (probes.UnitService, bool) {
	v, ok := c.services.Load(name)
	if !ok {
		return probes.UnitService{}, false
	}
	return v.(probes.UnitService), true
}

// ListServices returns a snapshot slice of all current service entries, in
// no particular order.
func (c *Cache) ListServices() []probes.UnitService {
	var out []probes.UnitService
	c.services.Range(func(_, v any) bool {
		out = append(out, v.(probes.UnitService))
		return true
	})
	return out
}

// ServiceCount returns the number of distinct services currently held.
func (c *Cache) ServiceCount() int {
	n := 0
	c.services.Range(func(_, _ any) bool { n++; return true })
	return n
}

// RecordLog appends a log entry to the rolling ring, trimming the oldest
// entries when the ring exceeds maxLogs (§3, §8 "cache ring bound").
func (c *Cache) RecordLog(level, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, LogEntry{Level: level, Message: message, At: time.Now().UTC()})
	if overflow := len(c.logs) - c.maxLogs; overflow > 0 {
		c.logs = c.logs[overflow:]
	}
}

// LogCount returns the current number of retained log entries.
func (c *Cache) LogCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.logs)
}

// Logs returns a copy of the retained log ring, oldest first.
func (c *Cache) Logs() []LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}

// RecordConfigChange appends a config-change record to the rolling ring,
// trimming the oldest entries on overflow, exactly as RecordLog does.
func (c *Cache) RecordConfigChange(key string, oldValue *string, newValue string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configChanges = append(c.configChanges, ConfigChange{
		Key: key, OldValue: oldValue, NewValue: newValue, At: time.Now().UTC(),
	})
	if overflow := len(c.configChanges) - c.maxConfigChanges; overflow > 0 {
		c.configChanges = c.configChanges[overflow:]
	}
}

// ConfigChangeCount returns the current number of retained config-change
// records.
func (c *Cache) ConfigChangeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.configChanges)
}

// ConfigChanges returns a copy of the retained config-change ring, oldest
// first.
func (c *Cache) ConfigChanges() []ConfigChange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ConfigChange, len(c.configChanges))
	copy(out, c.configChanges)
	return out
}

// SnapshotToFile writes the full cache state to path as a single
// self-describing gob blob.
func (c *Cache) SnapshotToFile(path string) error {
	snap := snapshot{Services: make(map[string]probes.UnitService)}
	c.services.Range(func(k, v any) bool {
		snap.Services[k.(string)] = v.(probes.UnitService)
		return true
	})
	snap.Logs = c.Logs()
	snap.ConfigChanges = c.ConfigChanges()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// LoadFromFile restores cache state from path. Loading is additive for
// services (merged into the existing map) and replacing for both rings,
// matching lynx-core's load_from_file semantics (§4.6). A missing file is
// not an error: a fresh cache has nothing to restore.
func (c *Cache) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return err
	}

	for name, svc := range snap.Services {
		c.services.Store(name, svc)
	}

	c.mu.Lock()
	c.logs = snap.Logs
	c.configChanges = snap.ConfigChanges
	c.mu.Unlock()

	return nil
}

// SnapshotLoop runs SnapshotToFile on the given interval until ctx is
// cancelled. A failed snapshot is logged and does not abort the loop
// (§4.6, §7).
func (c *Cache) SnapshotLoop(ctx context.Context, path string, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.SnapshotToFile(path); err != nil {
				logger.Warn("cache snapshot failed", slog.Any("error", err), slog.String("path", path))
			}
		}
	}
}
