package ingestor

import (
	"testing"
	"time"

	"github.com/tripwire/agent/internal/rpc"
)

func TestToMetricRowConvertsDisksAndThermal(t *testing.T) {
	req := &rpc.MetricsRequest{
		SystemID:        "sys-1",
		Timestamp:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		CPUUsagePercent: 42.5,
		Memory:          rpc.Memory{TotalKB: 1000, UsedKB: 400, FreeKB: 600},
		Disks: []rpc.Disk{
			{Name: "sda1", MountPoint: "/", TotalGB: 100, UsedGB: 40},
		},
		Network: rpc.Network{InMB: 1.5, OutMB: 2.5},
		Thermal: []rpc.Thermal{{Label: "cpu", TempC: 55.5}},
		Load:    rpc.Load{One: 0.5, Five: 0.7, Fifteen: 0.9},
	}

	row, disks := toMetricRow(req)
	if row.SystemID != "sys-1" || row.CPUUsagePercent != 42.5 {
		t.Fatalf("unexpected metric row: %+v", row)
	}
	if len(disks) != 1 || disks[0].MountPoint != "/" {
		t.Fatalf("unexpected disk rows: %+v", disks)
	}
	if len(row.Thermal) == 0 {
		t.Fatal("expected thermal JSON blob to be populated")
	}
}

func TestToProbesMetricsRoundTripsFields(t *testing.T) {
	req := &rpc.MetricsRequest{
		SystemID:        "sys-1",
		CPUUsagePercent: 10,
		Memory:          rpc.Memory{TotalKB: 100, UsedKB: 50, FreeKB: 50},
		Disks:           []rpc.Disk{{Name: "sda1", MountPoint: "/data", TotalGB: 10, UsedGB: 5}},
		Network:         rpc.Network{InMB: 1, OutMB: 2},
		Load:            rpc.Load{One: 1, Five: 2, Fifteen: 3},
	}

	m := toProbesMetrics(req)
	if m.CPUUsagePercent != 10 {
		t.Fatalf("expected CPUUsagePercent 10, got %v", m.CPUUsagePercent)
	}
	if len(m.Disks) != 1 || m.Disks[0].MountPoint != "/data" {
		t.Fatalf("unexpected disks: %+v", m.Disks)
	}
	if m.Load.Five != 2 {
		t.Fatalf("expected load.five 2, got %v", m.Load.Five)
	}
}
