package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tripwire/agent/internal/config"
)

// writeTemp writes content to a temp file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

const validAgentYAML = `
server_url: "hub.example.com:4443"
agent_key: "shhh-secret"
cert_dir: "/etc/tripwire/certs"
log_level: debug
listen_addr: "127.0.0.1:9001"
agent_version: "v0.1.0"
`

func TestLoadAgentConfig_Valid(t *testing.T) {
	path := writeTemp(t, validAgentYAML)
	cfg, err := config.LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServerURL != "hub.example.com:4443" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.AgentKey != "shhh-secret" {
		t.Errorf("AgentKey = %q", cfg.AgentKey)
	}
	if cfg.CertDir != "/etc/tripwire/certs" {
		t.Errorf("CertDir = %q", cfg.CertDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.ListenAddr != "127.0.0.1:9001" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.AgentVersion != "v0.1.0" {
		t.Errorf("AgentVersion = %q", cfg.AgentVersion)
	}
}

func TestLoadAgentConfig_Defaults(t *testing.T) {
	yaml := `
server_url: "hub.example.com:4443"
agent_key: "shhh-secret"
cert_dir: "/etc/tripwire/certs"
`
	path := writeTemp(t, yaml)
	cfg, err := config.LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.QueueCapacity != 1024 {
		t.Errorf("default QueueCapacity = %d, want 1024", cfg.QueueCapacity)
	}
	if cfg.QueuePath == "" {
		t.Error("expected default QueuePath to be set")
	}
	if cfg.ListenAddr == "" {
		t.Error("expected default ListenAddr to be set")
	}
	if cfg.Probes.Metrics <= 0 || cfg.Probes.SystemInfo <= 0 || cfg.Probes.UnitServices <= 0 {
		t.Errorf("expected default probe periods to be populated, got %+v", cfg.Probes)
	}
	if cfg.RelayOutputPace <= 0 {
		t.Error("expected default RelayOutputPace to be populated")
	}
}

func TestLoadAgentConfig_MissingServerURL(t *testing.T) {
	yaml := `
agent_key: "shhh-secret"
cert_dir: "/etc/tripwire/certs"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadAgentConfig(path)
	if err == nil || !strings.Contains(err.Error(), "server_url") {
		t.Fatalf("expected error mentioning server_url, got %v", err)
	}
}

func TestLoadAgentConfig_MissingAgentKey(t *testing.T) {
	yaml := `
server_url: "hub.example.com:4443"
cert_dir: "/etc/tripwire/certs"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadAgentConfig(path)
	if err == nil || !strings.Contains(err.Error(), "agent_key") {
		t.Fatalf("expected error mentioning agent_key, got %v", err)
	}
}

func TestLoadAgentConfig_InvalidLogLevel(t *testing.T) {
	yaml := `
server_url: "hub.example.com:4443"
agent_key: "shhh-secret"
cert_dir: "/etc/tripwire/certs"
log_level: "verbose"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadAgentConfig(path)
	if err == nil || !strings.Contains(err.Error(), "log_level") {
		t.Fatalf("expected error mentioning log_level, got %v", err)
	}
}

func TestLoadAgentConfig_FileNotFound(t *testing.T) {
	missingPath := filepath.Join(t.TempDir(), "nonexistent.yaml")
	_, err := config.LoadAgentConfig(missingPath)
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadAgentConfig_InvalidYAML(t *testing.T) {
	path := writeTemp(t, ":::invalid yaml:::")
	_, err := config.LoadAgentConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

const validHubYAML = `
grpc_addr: "0.0.0.0:4443"
http_addr: "0.0.0.0:8443"
cert_dir: "/etc/tripwire/hub-certs"
dsn: "postgres://tripwire@localhost/tripwire"
jwt_public_key_path: "/etc/tripwire/jwt.pub"
log_level: debug
`

func TestLoadHubConfig_Valid(t *testing.T) {
	path := writeTemp(t, validHubYAML)
	cfg, err := config.LoadHubConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GRPCAddr != "0.0.0.0:4443" {
		t.Errorf("GRPCAddr = %q", cfg.GRPCAddr)
	}
	if cfg.DSN != "postgres://tripwire@localhost/tripwire" {
		t.Errorf("DSN = %q", cfg.DSN)
	}
}

func TestLoadHubConfig_Defaults(t *testing.T) {
	yaml := `
grpc_addr: "0.0.0.0:4443"
http_addr: "0.0.0.0:8443"
cert_dir: "/etc/tripwire/hub-certs"
dsn: "postgres://tripwire@localhost/tripwire"
jwt_public_key_path: "/etc/tripwire/jwt.pub"
`
	path := writeTemp(t, yaml)
	cfg, err := config.LoadHubConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SuppressionWindow <= 0 {
		t.Error("expected default SuppressionWindow to be populated")
	}
	if cfg.SnapshotInterval <= 0 {
		t.Error("expected default SnapshotInterval to be populated")
	}
	if cfg.SnapshotPath == "" {
		t.Error("expected default SnapshotPath to be populated")
	}
	if cfg.BatchSize <= 0 {
		t.Error("expected default BatchSize to be populated")
	}
	if cfg.AuditLogPath == "" {
		t.Error("expected default AuditLogPath to be populated")
	}
}

func TestLoadHubConfig_MissingDSN(t *testing.T) {
	yaml := `
grpc_addr: "0.0.0.0:4443"
http_addr: "0.0.0.0:8443"
cert_dir: "/etc/tripwire/hub-certs"
jwt_public_key_path: "/etc/tripwire/jwt.pub"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadHubConfig(path)
	if err == nil || !strings.Contains(err.Error(), "dsn") {
		t.Fatalf("expected error mentioning dsn, got %v", err)
	}
}

func TestLoadHubConfig_MissingJWTPublicKeyPath(t *testing.T) {
	yaml := `
grpc_addr: "0.0.0.0:4443"
http_addr: "0.0.0.0:8443"
cert_dir: "/etc/tripwire/hub-certs"
dsn: "postgres://tripwire@localhost/tripwire"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadHubConfig(path)
	if err == nil || !strings.Contains(err.Error(), "jwt_public_key_path") {
		t.Fatalf("expected error mentioning jwt_public_key_path, got %v", err)
	}
}

func TestLoadHubConfig_FileNotFound(t *testing.T) {
	missingPath := filepath.Join(t.TempDir(), "nonexistent.yaml")
	_, err := config.LoadHubConfig(missingPath)
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
