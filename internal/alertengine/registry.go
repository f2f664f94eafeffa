package alertengine

import (
	"fmt"

	"github.com/tripwire/agent/internal/probes"
)

// epsilon is the float-equality tolerance used by Equal/NotEqual (§4.7).
const epsilon = 1e-9

// MetricRegistry resolves "component.metric" references against one
// sampled Metrics payload. Ported from lynx-core's MetricComponent trait
// and its Cpu/Memory/Disk/Load/Network implementations.
type MetricRegistry struct {
	metrics *probes.Metrics
}

// NewMetricRegistry builds a registry over one metrics sample.
func NewMetricRegistry(m *probes.Metrics) *MetricRegistry {
	return &MetricRegistry{metrics: m}
}

// Resolve returns the numeric value of component.metric, or an error if the
// component or metric is unknown (§4.7: "Unknown component or metric aborts
// evaluation for that rule with a warning").
func (r *MetricRegistry) Resolve(component, metric string) (float64, error) {
	switch component {
	case "cpu":
		return r.cpu(metric)
	case "memory":
		return r.memory(metric)
	case "load":
		return r.load(metric)
	case "disk":
		return r.disk(metric)
	case "network":
		return r.network(metric)
	default:
		return 0, fmt.Errorf("alertengine: unknown component %q", component)
	}
}

func (r *MetricRegistry) cpu(metric string) (float64, error) {
	if metric != "usage" {
		return 0, fmt.Errorf("alertengine: unknown metric %q for component cpu", metric)
	}
	return r.metrics.CPUUsagePercent, nil
}

func (r *MetricRegistry) memory(metric string) (float64, error) {
	mem := r.metrics.Memory
	switch metric {
	case "used":
		return float64(mem.UsedKB), nil
	case "total":
		return float64(mem.TotalKB), nil
	case "usage":
		if mem.TotalKB == 0 {
			return 0, nil
		}
		return float64(mem.UsedKB) / float64(mem.TotalKB) * 100, nil
	default:
		return 0, fmt.Errorf("alertengine: unknown metric %q for component memory", metric)
	}
}

func (r *MetricRegistry) load(metric string) (float64, error) {
	l := r.metrics.Load
	switch metric {
	case "one":
		return l.One, nil
	case "five":
		return l.Five, nil
	case "fifteen":
		return l.Fifteen, nil
	default:
		return 0, fmt.Errorf("alertengine: unknown metric %q for component load", metric)
	}
}

// findMainDisk returns the disk entry whose mount point is "/", matching
// components.rs's DiskComponent::find_main_disk.
func (r *MetricRegistry) findMainDisk() (probes.Disk, error) {
	for _, d := range r.metrics.Disks {
		if d.MountPoint == "/" {
			return d, nil
		}
	}
	return probes.Disk{}, fmt.Errorf("alertengine: no disk mounted at \"/\"")
}

func (r *MetricRegistry) disk(metric string) (float64, error) {
	d, err := r.findMainDisk()
	if err != nil {
		return 0, err
	}
	switch metric {
	case "used":
		return d.UsedGB, nil
	case "total":
		return d.TotalGB, nil
	case "usage":
		if d.TotalGB == 0 {
			return 0, nil
		}
		return d.UsedGB / d.TotalGB * 100, nil
	default:
		return 0, fmt.Errorf("alertengine: unknown metric %q for component disk", metric)
	}
}

func (r *MetricRegistry) network(metric string) (float64, error) {
	n := r.metrics.Network
	switch metric {
	case "in":
		return n.InMB, nil
	case "out":
		return n.OutMB, nil
	default:
		return 0, fmt.Errorf("alertengine: unknown metric %q for component network", metric)
	}
}

// EvaluateCondition compares the registry-resolved value against cond's
// operator and threshold (§4.7).
func EvaluateCondition(reg *MetricRegistry, cond Condition) (bool, error) {
	val, err := reg.Resolve(cond.Component, cond.Metric)
	if err != nil {
		return false, err
	}
	switch cond.Operator {
	case GreaterThan:
		return val > cond.Value, nil
	case LessThan:
		return val < cond.Value, nil
	case GreaterThanOrEqual:
		return val >= cond.Value, nil
	case LessThanOrEqual:
		return val <= cond.Value, nil
	case Equal:
		return floatsEqual(val, cond.Value), nil
	case NotEqual:
		return !floatsEqual(val, cond.Value), nil
	default:
		return false, fmt.Errorf("alertengine: unknown operator %q", cond.Operator)
	}
}

func floatsEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < epsilon
}

// EvaluateRule folds the conditions left-to-right. At each step the
// *preceding* condition's NextLogical (the operator that joined it to this
// one at parse time) decides how this condition's result combines with the
// running accumulator. The fold short-circuits: a condition that follows
// AND while the accumulator is false, or follows OR while it is true, is
// not evaluated and leaves the accumulator unchanged. The first condition,
// or one whose preceding NextLogical is "" (None), overwrites the
// accumulator. An unresolvable condition (unknown component/metric) that is
// evaluated aborts evaluation for the whole rule and is reported via the
// returned error.
func EvaluateRule(reg *MetricRegistry, conditions []Condition) (bool, error) {
	if len(conditions) == 0 {
		return false, nil
	}

	result := true
	var prev LogicalOperator // the preceding condition's NextLogical
	for i, cond := range conditions {
		// false AND x is false, true OR x is true: x is not evaluated.
		if i > 0 && ((prev == And && !result) || (prev == Or && result)) {
			prev = cond.NextLogical
			continue
		}

		condResult, err := EvaluateCondition(reg, cond)
		if err != nil {
			return false, err
		}

		// Not short-circuited: after AND the accumulator is true and after OR
		// it is false, so combining reduces to taking condResult.
		result = condResult
		prev = cond.NextLogical
	}
	return result, nil
}
