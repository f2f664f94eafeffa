// Package probes implements the TripWire agent's SampleProbes: pure,
// side-effect-free (apart from OS reads) functions that return strongly
// typed snapshots of host state. Probes never block on the network and
// never retain state between calls (the network and disk throughput
// probes take both snapshots of their delta within a single call).
package probes

import "time"

// Kind discriminates the payload carried by a Sample.
type Kind string

const (
	KindMetrics      Kind = "metrics"
	KindSystemInfo   Kind = "system_info"
	KindGPUInventory Kind = "gpu_inventory"
	KindGPUMetrics   Kind = "gpu_metrics"
	KindUnitServices Kind = "unit_services"
)

// Sample is the tagged union produced by probes and consumed by the
// CollectorScheduler. Exactly one of the payload fields is populated,
// selected by Kind.
type Sample struct {
	Kind      Kind
	Timestamp time.Time

	Metrics      *Metrics
	SystemInfo   *SystemInfo
	GPUInventory []GPUDevice
	GPUMetrics   []GPUMetric
	UnitServices []UnitService
}

// Metrics is the periodic host-metrics payload (§3, §4.1).
type Metrics struct {
	CPUUsagePercent float64
	Memory          Memory
	Disks           []Disk
	Network         Network
	Thermal         []Thermal
	Load            Load
}

// Memory reports host memory in kilobytes.
type Memory struct {
	TotalKB uint64
	UsedKB  uint64
	FreeKB  uint64
}

// Disk reports one mounted filesystem's capacity and per-cycle throughput.
type Disk struct {
	Name       string
	MountPoint string
	TotalGB    float64
	UsedGB     float64
	ReadBps    uint64
	WriteBps   uint64
	Unit       string // always "bytes/s"
}

// Network reports aggregate throughput across all interfaces, in megabytes
// over the sampling interval.
type Network struct {
	InMB  float64
	OutMB float64
}

// Thermal reports one temperature sensor reading.
type Thermal struct {
	Label string
	TempC float64
}

// Load reports the standard 1/5/15-minute load averages. Zero on hosts
// without a load-average facility.
type Load struct {
	One     float64
	Five    float64
	Fifteen float64
}

// SystemInfo is the low-frequency host-inventory payload (§3, §4.1).
type SystemInfo struct {
	Hostname      string
	OS            string
	KernelVersion string
	UptimeSeconds uint64
	CPUModel      string
	CPUCount      int
}

// GPUDevice describes one GPU discovered during inventory collection.
type GPUDevice struct {
	Index          int
	UUID           string
	Name           string
	PCIBus         string
	Driver         string
	MemoryTotalMB  uint64
}

// GPUMetric is a point-in-time reading for one previously inventoried GPU.
type GPUMetric struct {
	Index        int
	TempC        float64
	MemoryUsedMB uint64
	UtilPercent  float64
	PowerW       float64
}

// UnitServiceState enumerates the lifecycle states of a managed OS service.
type UnitServiceState string

const (
	StateActive   UnitServiceState = "Active"
	StateInactive UnitServiceState = "Inactive"
	StateFailed   UnitServiceState = "Failed"
	StateUnknown  UnitServiceState = "Unknown"
)

// UnitService describes one OS-managed service as seen by the host's unit
// manager. Delta detection (§3, Open Question (a) in spec.md §9) compares
// every field; any change qualifies as a delta.
type UnitService struct {
	Name        string
	State       UnitServiceState
	Enabled     bool
	Description string
	PID         *int
	CPUText     string
	MemoryText  string
}
