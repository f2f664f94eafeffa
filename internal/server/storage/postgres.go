package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// DefaultBatchSize is the maximum number of metric rows held in-memory
	// before an automatic flush is triggered.
	DefaultBatchSize = 100

	// DefaultFlushInterval is how often the background goroutine flushes
	// pending metrics even when the batch has not yet reached
	// DefaultBatchSize.
	DefaultFlushInterval = 100 * time.Millisecond

	// DefaultSuppressionWindow is the default alert_history duplicate
	// suppression window (spec.md §4.7, resolved Open Question in
	// DESIGN.md).
	DefaultSuppressionWindow = 30 * time.Minute
)

// ErrUnknownAgentKey is returned by ResolveAgentKey when no active system is
// registered under the given key.
var ErrUnknownAgentKey = errors.New("storage: unknown or inactive agent key")

// pendingMetric bundles one ReportMetrics call's rows so a single Flush
// round-trip writes the metric row and its disk rows together.
type pendingMetric struct {
	metric MetricRow
	disks  []DiskRow
}

// Store is the PostgreSQL-backed storage layer for the TripWire Hub.
//
// Metric ingestion is batched: callers enqueue rows via BatchInsertMetrics,
// which accumulates them in memory and flushes to the database either when
// the buffer reaches batchSize or when the background ticker fires,
// whichever comes first. All other operations (systems, rules, history,
// unit services) are executed immediately, matching alert_service.go's
// mixed batched/synchronous write pattern.
type Store struct {
	pool          *pgxpool.Pool
	mu            sync.Mutex
	batch         []pendingMetric
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// New opens a pgxpool connection to connStr, pings the database, and starts
// the background flush goroutine.
//
// batchSize ≤ 0 is replaced with DefaultBatchSize.
// flushInterval ≤ 0 is replaced with DefaultFlushInterval.
func New(ctx context.Context, connStr string, batchSize int, flushInterval time.Duration) (*Store, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.Ping: %w", err)
	}

	s := &Store{
		pool:          pool,
		batch:         make([]pendingMetric, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// Close stops the background flush goroutine, flushes any remaining
// buffered metrics, and closes the connection pool. It is safe to call
// Close more than once; subsequent calls are no-ops.
func (s *Store) Close(ctx context.Context) {
	select {
	case <-s.stopCh:
		// already closed
	default:
		close(s.stopCh)
		<-s.doneCh
		_ = s.Flush(ctx)
	}
	s.pool.Close()
}

func (s *Store) flushLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			_ = s.Flush(context.Background())
		}
	}
}

// BatchInsertMetrics enqueues one metric row plus its associated disk rows
// for deferred batch insertion (§4.5, §6).
//
// If the internal buffer reaches batchSize after appending, Flush is called
// synchronously before returning so that the caller observes back-pressure
// rather than unbounded memory growth.
func (s *Store) BatchInsertMetrics(ctx context.Context, m MetricRow, disks []DiskRow) error {
	s.mu.Lock()
	s.batch = append(s.batch, pendingMetric{metric: m, disks: disks})
	full := len(s.batch) >= s.batchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx)
	}
	return nil
}

// Flush drains the current metric buffer and sends all rows to PostgreSQL
// in a single pgx.Batch round-trip. Rows that conflict on the primary key
// are silently ignored (idempotent replay support).
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return nil
	}
	toInsert := s.batch
	s.batch = make([]pendingMetric, 0, s.batchSize)
	s.mu.Unlock()

	const metricQuery = `
		INSERT INTO metrics
			(system_id, timestamp, cpu_usage_percent, mem_total_kb, mem_used_kb,
			 mem_free_kb, net_in_mb, net_out_mb, load_one, load_five, load_fifteen,
			 thermal, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT DO NOTHING`

	const diskQuery = `
		INSERT INTO disks
			(system_id, timestamp, name, mount_point, total_gb, used_gb, read_bps, write_bps)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`

	b := &pgx.Batch{}
	queued := 0
	for _, p := range toInsert {
		m := p.metric
		thermal := []byte(m.Thermal)
		if thermal == nil {
			thermal = []byte("[]")
		}
		b.Queue(metricQuery,
			m.SystemID, m.Timestamp, m.CPUUsagePercent,
			m.MemTotalKB, m.MemUsedKB, m.MemFreeKB,
			m.NetInMB, m.NetOutMB,
			m.LoadOne, m.LoadFive, m.LoadFifteen,
			thermal, m.ReceivedAt,
		)
		queued++

		for _, d := range p.disks {
			b.Queue(diskQuery,
				d.SystemID, d.Timestamp, d.Name, d.MountPoint,
				d.TotalGB, d.UsedGB, d.ReadBps, d.WriteBps,
			)
			queued++
		}
	}

	br := s.pool.SendBatch(ctx, b)
	defer br.Close()

	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch exec metrics: %w", err)
		}
	}
	return nil
}

// QueryMetrics returns paginated metric rows that fall within
// [q.From, q.To) on the timestamp column.
//
// An empty SystemID matches all systems. q.Limit defaults to 100;
// q.Offset enables cursor-style pagination. Results are ordered by
// timestamp DESC.
func (s *Store) QueryMetrics(ctx context.Context, q MetricQuery) ([]MetricRow, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	args := []any{q.From, q.To, q.Limit, q.Offset}
	where := "WHERE timestamp >= $1 AND timestamp < $2"
	if q.SystemID != "" {
		where += " AND system_id = $5"
		args = append(args, q.SystemID)
	}

	sql := fmt.Sprintf(`
		SELECT id, system_id, timestamp, cpu_usage_percent, mem_total_kb,
		       mem_used_kb, mem_free_kb, net_in_mb, net_out_mb,
		       load_one, load_five, load_fifteen, thermal, received_at
		FROM   metrics
		%s
		ORDER  BY timestamp DESC
		LIMIT  $3 OFFSET $4`, where)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []MetricRow
	for rows.Next() {
		var m MetricRow
		var thermal []byte
		err := rows.Scan(
			&m.ID, &m.SystemID, &m.Timestamp, &m.CPUUsagePercent,
			&m.MemTotalKB, &m.MemUsedKB, &m.MemFreeKB,
			&m.NetInMB, &m.NetOutMB,
			&m.LoadOne, &m.LoadFive, &m.LoadFifteen,
			&thermal, &m.ReceivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Thermal = thermal
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- System CRUD ---

// UpsertSystem inserts a new system or, on agent_key conflict, updates all
// mutable fields. It returns the effective system_id persisted in the
// database: on a clean insert this equals sys.SystemID; on an agent_key
// conflict the existing system_id is returned unchanged, matching
// postgres.go's UpsertHost hostname-conflict idiom so callers always
// receive a stable identifier across agent reconnects.
func (s *Store) UpsertSystem(ctx context.Context, sys System) (string, error) {
	var effectiveSystemID string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO systems
			(system_id, agent_key, hostname, platform, agent_version, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (agent_key) DO UPDATE SET
			hostname      = EXCLUDED.hostname,
			platform      = EXCLUDED.platform,
			agent_version = EXCLUDED.agent_version,
			last_seen     = EXCLUDED.last_seen
		RETURNING system_id`,
		sys.SystemID, sys.AgentKey, sys.Hostname,
		nullableStr(sys.Platform), nullableStr(sys.AgentVersion), sys.LastSeen,
	).Scan(&effectiveSystemID)
	if err != nil {
		return "", fmt.Errorf("upsert system: %w", err)
	}
	return effectiveSystemID, nil
}

// UpdateSystemInfo applies descriptive SystemInfo fields reported by
// ReportSystemInfo, identified by system_id.
func (s *Store) UpdateSystemInfo(ctx context.Context, sys System) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE systems
		SET    os              = $2,
		       kernel_version  = $3,
		       uptime_seconds  = $4,
		       cpu_model       = $5,
		       cpu_count       = $6,
		       last_seen       = $7
		WHERE  system_id = $1`,
		sys.SystemID, nullableStr(sys.OS), nullableStr(sys.KernelVer),
		sys.UptimeSec, nullableStr(sys.CPUModel), sys.CPUCount, sys.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("update system info %s: %w", sys.SystemID, err)
	}
	return nil
}

// ResolveAgentKey looks up the system_id registered for agentKey.
// Returns ErrUnknownAgentKey if no active system is registered under that
// key (§4.5: "returns codes.Unauthenticated if absent or inactive").
func (s *Store) ResolveAgentKey(ctx context.Context, agentKey string) (string, error) {
	var systemID string
	err := s.pool.QueryRow(ctx, `
		SELECT system_id FROM systems WHERE agent_key = $1 AND active`, agentKey,
	).Scan(&systemID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUnknownAgentKey
		}
		return "", fmt.Errorf("resolve agent key: %w", err)
	}
	return systemID, nil
}

// GetSystem returns the system with the given system_id, or nil (and no
// error) if no such system exists.
func (s *Store) GetSystem(ctx context.Context, systemID string) (*System, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT system_id, agent_key, hostname, platform, agent_version,
		       os, kernel_version, uptime_seconds, cpu_model, cpu_count, last_seen, active
		FROM   systems
		WHERE  system_id = $1`, systemID)
	sys, err := scanSystem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get system %s: %w", systemID, err)
	}
	return sys, nil
}

// ListSystems returns all registered systems ordered alphabetically by
// hostname.
func (s *Store) ListSystems(ctx context.Context) ([]System, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT system_id, agent_key, hostname, platform, agent_version,
		       os, kernel_version, uptime_seconds, cpu_model, cpu_count, last_seen, active
		FROM   systems
		ORDER  BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("list systems: %w", err)
	}
	defer rows.Close()

	var out []System
	for rows.Next() {
		sys, err := scanSystem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan system: %w", err)
		}
		out = append(out, *sys)
	}
	return out, rows.Err()
}

// --- UnitService upsert + cache mirror source ---

// UpsertUnitService inserts or replaces the unit_services row for
// (system_id, name) (§4.5 "upserts each delta keyed on (system_id, name)").
func (s *Store) UpsertUnitService(ctx context.Context, u UnitServiceRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO unit_services
			(system_id, name, state, enabled, description, pid, cpu_text, memory_text, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (system_id, name) DO UPDATE SET
			state       = EXCLUDED.state,
			enabled     = EXCLUDED.enabled,
			description = EXCLUDED.description,
			pid         = EXCLUDED.pid,
			cpu_text    = EXCLUDED.cpu_text,
			memory_text = EXCLUDED.memory_text,
			updated_at  = EXCLUDED.updated_at`,
		u.SystemID, u.Name, u.State, u.Enabled,
		nullableStr(u.Description), u.PID,
		nullableStr(u.CPUText), nullableStr(u.MemoryText), u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert unit service %s/%s: %w", u.SystemID, u.Name, err)
	}
	return nil
}

// ListUnitServices returns all unit_services rows for systemID.
func (s *Store) ListUnitServices(ctx context.Context, systemID string) ([]UnitServiceRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT system_id, name, state, enabled, description, pid, cpu_text, memory_text, updated_at
		FROM   unit_services
		WHERE  system_id = $1
		ORDER  BY name`, systemID)
	if err != nil {
		return nil, fmt.Errorf("list unit services: %w", err)
	}
	defer rows.Close()

	var out []UnitServiceRow
	for rows.Next() {
		var u UnitServiceRow
		var description, cpuText, memoryText *string
		err := rows.Scan(&u.SystemID, &u.Name, &u.State, &u.Enabled,
			&description, &u.PID, &cpuText, &memoryText, &u.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan unit service: %w", err)
		}
		if description != nil {
			u.Description = *description
		}
		if cpuText != nil {
			u.CPUText = *cpuText
		}
		if memoryText != nil {
			u.MemoryText = *memoryText
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- Rule-engine read/write (externally-owned tables, spec.md §6) ---

// RulesForSystem joins alert_systems/alert_rules/alert_notifiers/notifiers
// to return the enabled rules mapped to systemID. Its result type differs
// from internal/alertengine.Store's RulesForSystem; internal/ingestor's
// alertStore adapts it.
func (s *Store) RulesForSystem(ctx context.Context, systemID string) ([]AlertRuleWithNotifiers, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.name, r.active, r.expression, r.severity, r.description
		FROM   alert_rules r
		JOIN   alert_systems sys ON sys.rule_id = r.id
		WHERE  sys.system_id = $1 AND r.active = true
		ORDER  BY r.id`, systemID)
	if err != nil {
		return nil, fmt.Errorf("rules for system: %w", err)
	}
	defer rows.Close()

	var rules []AlertRule
	for rows.Next() {
		var r AlertRule
		var description *string
		if err := rows.Scan(&r.ID, &r.Name, &r.Active, &r.Expression, &r.Severity, &description); err != nil {
			return nil, fmt.Errorf("scan alert rule: %w", err)
		}
		if description != nil {
			r.Description = *description
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]AlertRuleWithNotifiers, 0, len(rules))
	for _, r := range rules {
		uris, err := s.notifierURIsForRule(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, AlertRuleWithNotifiers{AlertRule: r, NotifierURIs: uris})
	}
	return out, nil
}

// AlertRuleWithNotifiers pairs an AlertRule with the resolved URI values of
// its linked notifiers.
type AlertRuleWithNotifiers struct {
	AlertRule
	NotifierURIs []string
}

func (s *Store) notifierURIsForRule(ctx context.Context, ruleID int32) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT n.value
		FROM   notifiers n
		JOIN   alert_notifiers an ON an.notifier_id = n.id
		WHERE  an.rule_id = $1`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("notifier uris for rule %d: %w", ruleID, err)
	}
	defer rows.Close()

	var uris []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("scan notifier uri: %w", err)
		}
		uris = append(uris, uri)
	}
	return uris, rows.Err()
}

// RecentDispatch reports whether (systemID, ruleID) has an alert_history
// entry within window of now, satisfying internal/alertengine.Store.
func (s *Store) RecentDispatch(ctx context.Context, systemID string, ruleID int32, window time.Duration) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM alert_history
			WHERE system = $1 AND alert = $2 AND date >= $3
		)`, systemID, ruleID, time.Now().UTC().Add(-window),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("recent dispatch: %w", err)
	}
	return exists, nil
}

// RecordDispatch inserts a new alert_history row, satisfying
// internal/alertengine.Store.
func (s *Store) RecordDispatch(ctx context.Context, systemID string, ruleID int32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_history (system, alert, date) VALUES ($1, $2, $3)`,
		systemID, ruleID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// --- internal helpers ---

// scanner is satisfied by both pgx.Row and pgx.Rows, allowing shared scan
// helpers across single-row and multi-row queries.
type scanner interface {
	Scan(dest ...any) error
}

// scanSystem reads one system row from s.
func scanSystem(s scanner) (*System, error) {
	var sys System
	var platform, agentVersion, os, kernelVer, cpuModel *string
	var uptime *uint64
	var cpuCount *int
	err := s.Scan(
		&sys.SystemID, &sys.AgentKey, &sys.Hostname,
		&platform, &agentVersion,
		&os, &kernelVer, &uptime, &cpuModel, &cpuCount,
		&sys.LastSeen, &sys.Active,
	)
	if err != nil {
		return nil, err
	}
	if platform != nil {
		sys.Platform = *platform
	}
	if agentVersion != nil {
		sys.AgentVersion = *agentVersion
	}
	if os != nil {
		sys.OS = *os
	}
	if kernelVer != nil {
		sys.KernelVer = *kernelVer
	}
	if uptime != nil {
		sys.UptimeSec = *uptime
	}
	if cpuModel != nil {
		sys.CPUModel = *cpuModel
	}
	if cpuCount != nil {
		sys.CPUCount = *cpuCount
	}
	return &sys, nil
}

// nullableStr converts an empty string to a nil pointer, which pgx stores as
// SQL NULL. A non-empty string is returned as-is.
func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
