package ingestor

import (
	"encoding/json"
	"time"

	"github.com/tripwire/agent/internal/probes"
	"github.com/tripwire/agent/internal/rpc"
	"github.com/tripwire/agent/internal/server/storage"
)

// toMetricRow converts a wire MetricsRequest into the persisted MetricRow
// plus its associated DiskRow slice.
func toMetricRow(req *rpc.MetricsRequest) (storage.MetricRow, []storage.DiskRow) {
	thermal, _ := json.Marshal(req.Thermal)

	row := storage.MetricRow{
		SystemID:        req.SystemID,
		Timestamp:       req.Timestamp,
		CPUUsagePercent: req.CPUUsagePercent,
		MemTotalKB:      req.Memory.TotalKB,
		MemUsedKB:       req.Memory.UsedKB,
		MemFreeKB:       req.Memory.FreeKB,
		NetInMB:         req.Network.InMB,
		NetOutMB:        req.Network.OutMB,
		LoadOne:         req.Load.One,
		LoadFive:        req.Load.Five,
		LoadFifteen:     req.Load.Fifteen,
		Thermal:         thermal,
		ReceivedAt:      time.Now().UTC(),
	}

	disks := make([]storage.DiskRow, 0, len(req.Disks))
	for _, d := range req.Disks {
		disks = append(disks, storage.DiskRow{
			SystemID:   req.SystemID,
			Timestamp:  req.Timestamp,
			Name:       d.Name,
			MountPoint: d.MountPoint,
			TotalGB:    d.TotalGB,
			UsedGB:     d.UsedGB,
			ReadBps:    d.ReadBps,
			WriteBps:   d.WriteBps,
		})
	}
	return row, disks
}

// toProbesMetrics converts a wire MetricsRequest back into the
// probes.Metrics shape the AlertEngine's MetricRegistry resolves against.
func toProbesMetrics(req *rpc.MetricsRequest) *probes.Metrics {
	m := &probes.Metrics{
		CPUUsagePercent: req.CPUUsagePercent,
		Memory: probes.Memory{
			TotalKB: req.Memory.TotalKB,
			UsedKB:  req.Memory.UsedKB,
			FreeKB:  req.Memory.FreeKB,
		},
		Network: probes.Network{
			InMB:  req.Network.InMB,
			OutMB: req.Network.OutMB,
		},
		Load: probes.Load{
			One:     req.Load.One,
			Five:    req.Load.Five,
			Fifteen: req.Load.Fifteen,
		},
	}
	for _, d := range req.Disks {
		m.Disks = append(m.Disks, probes.Disk{
			Name:       d.Name,
			MountPoint: d.MountPoint,
			TotalGB:    d.TotalGB,
			UsedGB:     d.UsedGB,
			ReadBps:    d.ReadBps,
			WriteBps:   d.WriteBps,
		})
	}
	for _, t := range req.Thermal {
		m.Thermal = append(m.Thermal, probes.Thermal{Label: t.Label, TempC: t.TempC})
	}
	return m
}
