// Package storage provides the PostgreSQL-backed persistence layer for the
// TripWire Hub. It exposes typed model structs for the Hub's tables
// (systems, metrics, disks, unit_services, and the externally-owned
// rule-engine tables: alert_systems, alert_rules, alert_notifiers,
// notifiers, alert_history) and a Store that wraps a pgxpool connection
// pool with a batched metrics-insert path.
package storage

import (
	"encoding/json"
	"time"
)

// System maps to the `systems` table: one row per registered agent,
// keyed by the opaque agent_key presented on every RPC (spec.md §6).
//
// LastSeen is nil until the first successful report from this system.
type System struct {
	SystemID     string     `json:"system_id"`
	AgentKey     string     `json:"agent_key"`
	Hostname     string     `json:"hostname"`
	Platform     string     `json:"platform,omitempty"`
	AgentVersion string     `json:"agent_version,omitempty"`
	OS           string     `json:"os,omitempty"`
	KernelVer    string     `json:"kernel_version,omitempty"`
	UptimeSec    uint64     `json:"uptime_seconds,omitempty"`
	CPUModel     string     `json:"cpu_model,omitempty"`
	CPUCount     int        `json:"cpu_count,omitempty"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	Active       bool       `json:"active"`
}

// MetricRow maps to the `metrics` table: one row per ReportMetrics RPC.
// Thermal carries the thermal-sensor list as a JSON blob (matching
// alert_service.go's event_detail-as-JSONB idiom).
type MetricRow struct {
	ID              int64           `json:"id"`
	SystemID        string          `json:"system_id"`
	Timestamp       time.Time       `json:"timestamp"`
	CPUUsagePercent float64         `json:"cpu_usage_percent"`
	MemTotalKB      uint64          `json:"mem_total_kb"`
	MemUsedKB       uint64          `json:"mem_used_kb"`
	MemFreeKB       uint64          `json:"mem_free_kb"`
	NetInMB         float64         `json:"net_in_mb"`
	NetOutMB        float64         `json:"net_out_mb"`
	LoadOne         float64         `json:"load_one"`
	LoadFive        float64         `json:"load_five"`
	LoadFifteen     float64         `json:"load_fifteen"`
	Thermal         json.RawMessage `json:"thermal,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
}

// DiskRow maps to the `disks` table: one row per disk, per metrics tick.
type DiskRow struct {
	ID         int64     `json:"id"`
	SystemID   string    `json:"system_id"`
	Timestamp  time.Time `json:"timestamp"`
	Name       string    `json:"name"`
	MountPoint string    `json:"mount_point"`
	TotalGB    float64   `json:"total_gb"`
	UsedGB     float64   `json:"used_gb"`
	ReadBps    uint64    `json:"read_bps"`
	WriteBps   uint64    `json:"write_bps"`
}

// UnitServiceRow maps to the `unit_services` table, upserted on
// (system_id, name) by ReportUnitServices.
type UnitServiceRow struct {
	SystemID    string    `json:"system_id"`
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Enabled     bool      `json:"enabled"`
	Description string    `json:"description,omitempty"`
	PID         *int      `json:"pid,omitempty"`
	CPUText     string    `json:"cpu_text,omitempty"`
	MemoryText  string    `json:"memory_text,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AlertRule maps to the externally-owned `alert_rules` table
// (spec.md §6: "Rule-engine persistent tables (read-only contract, owned
// externally)").
type AlertRule struct {
	ID          int32  `json:"id"`
	Name        string `json:"name"`
	Active      bool   `json:"active"`
	Expression  string `json:"expression"`
	Severity    string `json:"severity"`
	Description string `json:"description,omitempty"`
}

// Notifier maps to the externally-owned `notifiers` table: Value is the
// notifier URI consumed directly by internal/notify.New.
type Notifier struct {
	ID    int32  `json:"id"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// AlertHistoryEntry maps to the externally-owned `alert_history` table.
type AlertHistoryEntry struct {
	System string    `json:"system"`
	Alert  int32     `json:"alert"`
	Date   time.Time `json:"date"`
}

// MetricQuery carries the filter and pagination parameters for
// QueryMetrics.
//
// From and To are mandatory and bracket the timestamp column. Limit
// defaults to 100 when ≤ 0. An empty SystemID matches all systems.
type MetricQuery struct {
	SystemID string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}
