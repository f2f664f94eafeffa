// Package config provides YAML configuration loading and validation for
// both TripWire binaries: the Agent (AgentConfig) and the Hub (HubConfig).
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tripwire/agent/internal/collector"
	"github.com/tripwire/agent/internal/relay"
	"github.com/tripwire/agent/internal/server/storage"
)

// AgentConfig is the top-level configuration structure for the TripWire
// agent binary (spec.md §6, §8).
type AgentConfig struct {
	// ServerURL is the Hub's gRPC endpoint (e.g. "hub.example.com:4443").
	// Required.
	ServerURL string `yaml:"server_url"`

	// AgentKey is the opaque pre-shared identity token presented to the Hub
	// on registration. Required.
	AgentKey string `yaml:"agent_key"`

	// CertDir contains ca.crt, agent.crt, and agent.key for mTLS. Required.
	CertDir string `yaml:"cert_dir"`

	// ListenAddr is the AgentRelay's HTTP listen address. Overridden at
	// runtime by the AGENT_LISTEN_ADDR environment variable if set.
	// Defaults to relay.DefaultListenAddr when omitted.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// AgentVersion is an optional human-readable version string sent to the
	// Hub during agent registration (e.g. "v0.1.0").
	AgentVersion string `yaml:"agent_version"`

	// QueueCapacity bounds the shared in-memory sample queue between the
	// CollectorScheduler and TransportClient. Defaults to 1024 when ≤ 0.
	QueueCapacity int `yaml:"queue_capacity"`

	// QueuePath is the path to the local SQLite mirror queue database.
	// Defaults to "/var/lib/tripwire/queue.db" when omitted.
	QueuePath string `yaml:"queue_path"`

	// Probes holds per-probe periods (§4.2). Zero values are filled with
	// collector's package defaults. cmd/agent does not pass these values to
	// the CollectorScheduler, which always runs at collector's package
	// periods.
	Probes ProbePeriods `yaml:"probes"`

	// RelayOutputPace overrides the relay's subprocess output streaming
	// pace (§4.4, Open Question (b)). Defaults to 100ms when ≤ 0.
	RelayOutputPace time.Duration `yaml:"relay_output_pace"`
}

// ProbePeriods overrides the CollectorScheduler's per-probe tick intervals.
type ProbePeriods struct {
	Metrics      time.Duration `yaml:"metrics"`
	SystemInfo   time.Duration `yaml:"system_info"`
	UnitServices time.Duration `yaml:"unit_services"`
}

// HubConfig is the top-level configuration structure for the TripWire hub
// binary (spec.md §6, §8).
type HubConfig struct {
	// GRPCAddr is the listen address for the mTLS HubIngestor gRPC server
	// (e.g. "0.0.0.0:4443"). Required.
	GRPCAddr string `yaml:"grpc_addr"`

	// HTTPAddr is the listen address for the JWT-authenticated REST query
	// surface and the dashboard WebSocket broadcaster. Required.
	HTTPAddr string `yaml:"http_addr"`

	// CertDir contains server.crt, server.key, and ca.crt for mTLS.
	// Required.
	CertDir string `yaml:"cert_dir"`

	// DSN is the PostgreSQL connection string. Required.
	DSN string `yaml:"dsn"`

	// JWTPublicKeyPath is the path to the RS256 public key used to verify
	// REST API bearer tokens. Required.
	JWTPublicKeyPath string `yaml:"jwt_public_key_path"`

	// SuppressionWindow is the AlertEngine's duplicate-dispatch suppression
	// window. Defaults to 30 minutes when ≤ 0.
	SuppressionWindow time.Duration `yaml:"suppression_window"`

	// SnapshotPath is where the ServiceCache persists its periodic
	// crash-safe snapshot.
	SnapshotPath string `yaml:"snapshot_path"`

	// SnapshotInterval is how often the ServiceCache snapshots to
	// SnapshotPath. Defaults to 60s when ≤ 0.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// BatchSize and FlushInterval tune storage.Store's buffered metric
	// insert path. Zero values fall back to storage's package defaults.
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`

	// AuditLogPath is where the hash-chained audit trail of fired rules is
	// appended.
	AuditLogPath string `yaml:"audit_log_path"`
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoadAgentConfig reads the YAML file at path, unmarshals it into
// AgentConfig, applies defaults, and validates all required fields.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	var cfg AgentConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyAgentDefaults(&cfg)
	if err := validateAgent(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}
	return &cfg, nil
}

// LoadHubConfig reads the YAML file at path, unmarshals it into HubConfig,
// applies defaults, and validates all required fields.
func LoadHubConfig(path string) (*HubConfig, error) {
	var cfg HubConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyHubDefaults(&cfg)
	if err := validateHub(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}
	return &cfg, nil
}

func loadYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: cannot read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("config: cannot parse %q: %w", path, err)
	}
	return nil
}

func applyAgentDefaults(cfg *AgentConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = relay.DefaultListenAddr
	}
	if cfg.QueuePath == "" {
		cfg.QueuePath = "/var/lib/tripwire/queue.db"
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	if cfg.Probes.Metrics <= 0 {
		cfg.Probes.Metrics = collector.MetricsPeriod
	}
	if cfg.Probes.SystemInfo <= 0 {
		cfg.Probes.SystemInfo = collector.SystemInfoPeriod
	}
	if cfg.Probes.UnitServices <= 0 {
		cfg.Probes.UnitServices = collector.UnitServicesPeriod
	}
	if cfg.RelayOutputPace <= 0 {
		cfg.RelayOutputPace = 100 * time.Millisecond
	}
}

func validateAgent(cfg *AgentConfig) error {
	var errs []error
	if cfg.ServerURL == "" {
		errs = append(errs, errors.New("server_url is required"))
	}
	if cfg.AgentKey == "" {
		errs = append(errs, errors.New("agent_key is required"))
	}
	if cfg.CertDir == "" {
		errs = append(errs, errors.New("cert_dir is required"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	return errors.Join(errs...)
}

func applyHubDefaults(cfg *HubConfig) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SuppressionWindow <= 0 {
		cfg.SuppressionWindow = storage.DefaultSuppressionWindow
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 60 * time.Second
	}
	if cfg.SnapshotPath == "" {
		cfg.SnapshotPath = "/var/lib/tripwire/cache.snapshot"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = storage.DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = storage.DefaultFlushInterval
	}
	if cfg.AuditLogPath == "" {
		cfg.AuditLogPath = "/var/lib/tripwire/audit.log"
	}
}

func validateHub(cfg *HubConfig) error {
	var errs []error
	if cfg.GRPCAddr == "" {
		errs = append(errs, errors.New("grpc_addr is required"))
	}
	if cfg.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if cfg.CertDir == "" {
		errs = append(errs, errors.New("cert_dir is required"))
	}
	if cfg.DSN == "" {
		errs = append(errs, errors.New("dsn is required"))
	}
	if cfg.JWTPublicKeyPath == "" {
		errs = append(errs, errors.New("jwt_public_key_path is required"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	return errors.Join(errs...)
}
