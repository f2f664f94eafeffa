package probes

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// sampleInterval is the separation between the two snapshots used to
// compute network and disk throughput deltas (§4.1).
const sampleInterval = 1 * time.Second

// CollectMetrics reads CPU, memory, disk, network, thermal, and load state
// and returns a Metrics sample. It blocks for approximately sampleInterval
// while it takes the two snapshots needed to compute throughput deltas; the
// CollectorScheduler accounts for this in its per-tick timeout.
func CollectMetrics(ctx context.Context) (*Metrics, error) {
	netBefore, _ := psnet.IOCountersWithContext(ctx, false)
	diskBefore, _ := disk.IOCountersWithContext(ctx)

	select {
	case <-time.After(sampleInterval):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	cpuPct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		cpuPct = []float64{0}
	}
	var cpuUsage float64
	if len(cpuPct) > 0 {
		cpuUsage = cpuPct[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		vm = &mem.VirtualMemoryStat{}
	}

	netAfter, _ := psnet.IOCountersWithContext(ctx, false)
	diskAfter, _ := disk.IOCountersWithContext(ctx)

	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		parts = nil
	}
	disks := make([]Disk, 0, len(parts))
	for _, p := range parts {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		d := Disk{
			Name:       p.Device,
			MountPoint: p.Mountpoint,
			TotalGB:    float64(usage.Total) / (1 << 30),
			UsedGB:     float64(usage.Used) / (1 << 30),
			Unit:       "bytes/s",
		}
		if before, ok := diskBefore[deviceKey(p.Device)]; ok {
			if after, ok2 := diskAfter[deviceKey(p.Device)]; ok2 {
				d.ReadBps = deltaU64(before.ReadBytes, after.ReadBytes)
				d.WriteBps = deltaU64(before.WriteBytes, after.WriteBytes)
			}
		}
		disks = append(disks, d)
	}

	var netReport Network
	if len(netBefore) > 0 && len(netAfter) > 0 {
		inDelta := deltaU64(netBefore[0].BytesRecv, netAfter[0].BytesRecv)
		outDelta := deltaU64(netBefore[0].BytesSent, netAfter[0].BytesSent)
		netReport = Network{
			InMB:  float64(inDelta) / (1 << 20),
			OutMB: float64(outDelta) / (1 << 20),
		}
	}

	thermal := collectThermal(ctx)

	loadStat, err := load.AvgWithContext(ctx)
	var loadReport Load
	if err == nil && loadStat != nil {
		loadReport = Load{One: loadStat.Load1, Five: loadStat.Load5, Fifteen: loadStat.Load15}
	}

	return &Metrics{
		CPUUsagePercent: cpuUsage,
		Memory: Memory{
			TotalKB: vm.Total / 1024,
			UsedKB:  vm.Used / 1024,
			FreeKB:  vm.Free / 1024,
		},
		Disks:   disks,
		Network: netReport,
		Thermal: thermal,
		Load:    loadReport,
	}, nil
}

// collectThermal returns an empty slice, never an error, on hosts without
// thermal sensors (§4.1).
func collectThermal(ctx context.Context) []Thermal {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil || len(temps) == 0 {
		return []Thermal{}
	}
	out := make([]Thermal, 0, len(temps))
	for _, t := range temps {
		out = append(out, Thermal{Label: t.SensorKey, TempC: t.Temperature})
	}
	return out
}

// deltaU64 returns b-a, clamped to 0 on counter-wrap underflow (§4.1).
func deltaU64(a, b uint64) uint64 {
	if b < a {
		return 0
	}
	return b - a
}

// deviceKey normalises a disk device path for matching between the two
// disk.IOCounters snapshots, whose map keys are the bare device name.
func deviceKey(device string) string {
	for i := len(device) - 1; i >= 0; i-- {
		if device[i] == '/' {
			return device[i+1:]
		}
	}
	return device
}

// CollectSystemInfo reads low-frequency host inventory facts.
func CollectSystemInfo(ctx context.Context) (*SystemInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, err
	}
	cpuInfo, err := cpu.InfoWithContext(ctx)
	model := "unknown"
	count := 0
	if err == nil && len(cpuInfo) > 0 {
		model = cpuInfo[0].ModelName
		count = len(cpuInfo)
	}
	return &SystemInfo{
		Hostname:      info.Hostname,
		OS:            info.OS,
		KernelVersion: info.KernelVersion,
		UptimeSeconds: info.Uptime,
		CPUModel:      model,
		CPUCount:      count,
	}, nil
}
