package transport

import (
	"github.com/tripwire/agent/internal/probes"
	"github.com/tripwire/agent/internal/rpc"
)

func toMetricsRequest(systemID string, s probes.Sample) *rpc.MetricsRequest {
	m := s.Metrics

	disks := make([]rpc.Disk, len(m.Disks))
	for i, d := range m.Disks {
		disks[i] = rpc.Disk{
			Name:       d.Name,
			MountPoint: d.MountPoint,
			TotalGB:    d.TotalGB,
			UsedGB:     d.UsedGB,
			ReadBps:    d.ReadBps,
			WriteBps:   d.WriteBps,
		}
	}

	thermal := make([]rpc.Thermal, len(m.Thermal))
	for i, t := range m.Thermal {
		thermal[i] = rpc.Thermal{Label: t.Label, TempC: t.TempC}
	}

	return &rpc.MetricsRequest{
		SystemID:        systemID,
		Timestamp:       s.Timestamp,
		CPUUsagePercent: m.CPUUsagePercent,
		Memory:          rpc.Memory(m.Memory),
		Disks:           disks,
		Network:         rpc.Network(m.Network),
		Thermal:         thermal,
		Load:            rpc.Load(m.Load),
	}
}

func toSystemInfoRequest(systemID string, s probes.Sample) *rpc.SystemInfoRequest {
	info := s.SystemInfo

	gpus := make([]rpc.GPUDevice, len(s.GPUInventory))
	for i, g := range s.GPUInventory {
		gpus[i] = rpc.GPUDevice{
			Index:         g.Index,
			UUID:          g.UUID,
			Name:          g.Name,
			PCIBus:        g.PCIBus,
			Driver:        g.Driver,
			MemoryTotalMB: g.MemoryTotalMB,
		}
	}

	return &rpc.SystemInfoRequest{
		SystemID:      systemID,
		Timestamp:     s.Timestamp,
		Hostname:      info.Hostname,
		OS:            info.OS,
		KernelVersion: info.KernelVersion,
		UptimeSeconds: info.UptimeSeconds,
		CPUModel:      info.CPUModel,
		CPUCount:      info.CPUCount,
		GPUDevices:    gpus,
	}
}

func toUnitServicesRequest(systemID string, s probes.Sample) *rpc.UnitServicesRequest {
	services := make([]rpc.UnitService, len(s.UnitServices))
	for i, u := range s.UnitServices {
		services[i] = rpc.UnitService{
			Name:        u.Name,
			State:       string(u.State),
			Enabled:     u.Enabled,
			Description: u.Description,
			PID:         u.PID,
			CPUText:     u.CPUText,
			MemoryText:  u.MemoryText,
		}
	}
	return &rpc.UnitServicesRequest{
		SystemID:  systemID,
		Timestamp: s.Timestamp,
		Services:  services,
	}
}
