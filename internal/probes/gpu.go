package probes

import (
	"bufio"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNoGPU is returned when none of the supported GPU discovery paths
// succeed on this host.
var ErrNoGPU = errors.New("probes: no supported GPUs detected")

// gpuPath is one GPU vendor's discovery mechanism, tried in a fixed order
// (§4.1: "GPU probe attempts three discovery paths in order (NVIDIA, ROCm,
// Tegra) and returns the first that succeeds").
type gpuPath struct {
	name      string
	available func(ctx context.Context) bool
	inventory func(ctx context.Context) ([]GPUDevice, error)
	metrics   func(ctx context.Context) ([]GPUMetric, error)
}

var gpuPaths = []gpuPath{
	{name: "nvidia", available: commandAvailable("nvidia-smi"), inventory: nvidiaInventory, metrics: nvidiaMetrics},
	{name: "rocm", available: commandAvailable("rocm-smi"), inventory: rocmInventory, metrics: rocmMetrics},
	{name: "tegra", available: commandAvailable("tegrastats"), inventory: tegraInventory, metrics: tegraMetrics},
}

// commandAvailable returns a check that spawns `name --help` and
// reports success purely on the process having been found and started,
// mirroring lynx-agent's GPUManager::detect_gpus probing idiom.
func commandAvailable(name string) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		cmd := exec.CommandContext(ctx, name, "--help")
		cmd.Stdout = nil
		cmd.Stderr = nil
		return cmd.Run() == nil || cmd.ProcessState != nil
	}
}

// CollectGPUInventory walks the GPU discovery paths in order and returns the
// first that succeeds.
func CollectGPUInventory(ctx context.Context) ([]GPUDevice, error) {
	for _, p := range gpuPaths {
		if !p.available(ctx) {
			continue
		}
		devs, err := p.inventory(ctx)
		if err != nil {
			continue
		}
		return devs, nil
	}
	return nil, ErrNoGPU
}

// CollectGPUMetrics walks the same discovery order as CollectGPUInventory.
func CollectGPUMetrics(ctx context.Context) ([]GPUMetric, error) {
	for _, p := range gpuPaths {
		if !p.available(ctx) {
			continue
		}
		m, err := p.metrics(ctx)
		if err != nil {
			continue
		}
		return m, nil
	}
	return nil, ErrNoGPU
}

// nvidiaInventory parses `nvidia-smi --query-gpu=... --format=csv,noheader`.
// Malformed lines are skipped without aborting the batch (§4.1).
func nvidiaInventory(ctx context.Context) ([]GPUDevice, error) {
	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=index,uuid,name,pci.bus_id,driver_version,memory.total",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil, err
	}
	var devs []GPUDevice
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		fields := splitCSVLine(sc.Text())
		if len(fields) != 6 {
			continue
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		memTotal, err := strconv.ParseUint(fields[5], 10, 64)
		if err != nil {
			continue
		}
		devs = append(devs, GPUDevice{
			Index:         idx,
			UUID:          fields[1],
			Name:          fields[2],
			PCIBus:        fields[3],
			Driver:        fields[4],
			MemoryTotalMB: memTotal,
		})
	}
	if len(devs) == 0 {
		return nil, errors.New("probes: nvidia-smi returned no parsable rows")
	}
	return devs, nil
}

func nvidiaMetrics(ctx context.Context) ([]GPUMetric, error) {
	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=index,temperature.gpu,memory.used,utilization.gpu,power.draw",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil, err
	}
	var metrics []GPUMetric
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		fields := splitCSVLine(sc.Text())
		if len(fields) != 5 {
			continue
		}
		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		temp, _ := strconv.ParseFloat(fields[1], 64)
		memUsed, _ := strconv.ParseUint(fields[2], 10, 64)
		util, _ := strconv.ParseFloat(fields[3], 64)
		power, _ := strconv.ParseFloat(fields[4], 64)
		metrics = append(metrics, GPUMetric{
			Index:        idx,
			TempC:        temp,
			MemoryUsedMB: memUsed,
			UtilPercent:  util,
			PowerW:       power,
		})
	}
	if len(metrics) == 0 {
		return nil, errors.New("probes: nvidia-smi returned no parsable rows")
	}
	return metrics, nil
}

// rocmInventory and rocmMetrics are stubs: ROCm tooling output is vendor-
// and version-specific and not exercised in this environment. They report
// "unsupported" so the discovery loop falls through to the next path,
// matching lynx-agent's ROCm stub behaviour.
func rocmInventory(ctx context.Context) ([]GPUDevice, error) {
	return nil, errors.New("probes: rocm-smi inventory not implemented")
}

func rocmMetrics(ctx context.Context) ([]GPUMetric, error) {
	return nil, errors.New("probes: rocm-smi metrics not implemented")
}

// tegraInventory and tegraMetrics are stubs for the same reason as ROCm.
func tegraInventory(ctx context.Context) ([]GPUDevice, error) {
	return nil, errors.New("probes: tegrastats inventory not implemented")
}

func tegraMetrics(ctx context.Context) ([]GPUMetric, error) {
	return nil, errors.New("probes: tegrastats metrics not implemented")
}

// splitCSVLine splits a single nvidia-smi CSV row on "," and trims
// surrounding whitespace from each field.
func splitCSVLine(line string) []string {
	parts := strings.Split(line, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}
