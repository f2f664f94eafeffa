package probes

import "context"

// platformUnitServices is registered by platform-specific files
// (unitservices_linux.go) in their init(). When nil, CollectUnitServices
// falls back to an empty list, matching the watcher package's
// platformFactory convention.
var platformUnitServices func(ctx context.Context) ([]UnitService, error)

// CollectUnitServices returns the full current list of unit-manager-known
// services on this host. The caller (CollectorScheduler) is responsible for
// diffing against the previous sample to produce the delta set described in
// spec.md §3 — this probe itself is a pure read, not a delta computation.
func CollectUnitServices(ctx context.Context) ([]UnitService, error) {
	if platformUnitServices == nil {
		return []UnitService{}, nil
	}
	return platformUnitServices(ctx)
}
