package probes_test

import (
	"context"
	"testing"

	"github.com/tripwire/agent/internal/probes"
)

func TestCollectUnitServicesReturnsNonNilSlice(t *testing.T) {
	// A successful call returns a non-nil slice (empty when no platform
	// probe is registered or no units are listed), so callers can range
	// over it unconditionally. A platform probe that cannot run (e.g. no
	// systemctl) returns its error, and the test is skipped.
	got, err := probes.CollectUnitServices(context.Background())
	if err != nil {
		t.Skipf("CollectUnitServices: platform probe unavailable in this environment: %v", err)
	}
	if got == nil {
		t.Fatalf("CollectUnitServices: want non-nil slice, got nil")
	}
}
