// Package rpc is the wire layer shared by the Agent's TransportClient (C3)
// and the Hub's HubIngestor (C5): a single bidirectional-free, unary gRPC
// service (Telemetry) that carries Sample payloads from agent to hub.
//
// spec.md's §7 RPC Layer explicitly treats "the exact bytes on the wire"
// as a non-goal; no .proto/.pb.go pair exists anywhere in the retrieved
// example pack for this service (see DESIGN.md — the teacher's own
// proto/generate.go and internal/proto/gen/gen.go are both doc-only/unused,
// and internal/server/grpc/alert_service.go references a non-existent
// generated alertpb package). This package therefore hand-registers a
// grpc.ServiceDesc over plain Go structs, using a custom JSON
// encoding.Codec in place of protobuf wire encoding, so the real
// google.golang.org/grpc and google.golang.org/protobuf dependency surface
// stays exercised without fabricating generated code.
package rpc

import "time"

// RegisterRequest is sent once per connection to resolve the caller's
// agent key to a stable system id (§4.3, §6).
type RegisterRequest struct {
	AgentKey     string
	Hostname     string
	Platform     string
	AgentVersion string
}

// RegisterResponse carries the resolved system id and the hub's clock, used
// by the agent to detect gross clock skew.
type RegisterResponse struct {
	SystemID     string
	ServerTimeUs int64
}

// MetricsRequest carries one probes.Metrics sample (§4.1, §4.5).
type MetricsRequest struct {
	SystemID  string
	Timestamp time.Time

	CPUUsagePercent float64
	Memory          Memory
	Disks           []Disk
	Network         Network
	Thermal         []Thermal
	Load            Load
}

// Memory mirrors probes.Memory on the wire.
type Memory struct {
	TotalKB uint64
	UsedKB  uint64
	FreeKB  uint64
}

// Disk mirrors probes.Disk on the wire.
type Disk struct {
	Name       string
	MountPoint string
	TotalGB    float64
	UsedGB     float64
	ReadBps    uint64
	WriteBps   uint64
}

// Network mirrors probes.Network on the wire.
type Network struct {
	InMB  float64
	OutMB float64
}

// Thermal mirrors probes.Thermal on the wire.
type Thermal struct {
	Label string
	TempC float64
}

// Load mirrors probes.Load on the wire.
type Load struct {
	One, Five, Fifteen float64
}

// MetricsResponse acknowledges one MetricsRequest.
type MetricsResponse struct {
	Ack bool
}

// SystemInfoRequest carries one probes.SystemInfo sample, plus the most
// recent GPU inventory if the agent has collected one (§4.2).
type SystemInfoRequest struct {
	SystemID      string
	Timestamp     time.Time
	Hostname      string
	OS            string
	KernelVersion string
	UptimeSeconds uint64
	CPUModel      string
	CPUCount      int
	GPUDevices    []GPUDevice
}

// GPUDevice mirrors probes.GPUDevice on the wire.
type GPUDevice struct {
	Index         int
	UUID          string
	Name          string
	PCIBus        string
	Driver        string
	MemoryTotalMB uint64
}

// SystemInfoResponse acknowledges one SystemInfoRequest.
type SystemInfoResponse struct {
	Ack bool
}

// UnitServicesRequest carries one probes.UnitService snapshot (§4.4).
type UnitServicesRequest struct {
	SystemID  string
	Timestamp time.Time
	Services  []UnitService
}

// UnitService mirrors probes.UnitService on the wire.
type UnitService struct {
	Name        string
	State       string
	Enabled     bool
	Description string
	PID         *int
	CPUText     string
	MemoryText  string
}

// UnitServicesResponse acknowledges one UnitServicesRequest.
type UnitServicesResponse struct {
	Ack bool
}
