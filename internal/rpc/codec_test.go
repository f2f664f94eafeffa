package rpc_test

import (
	"testing"
	"time"

	"google.golang.org/grpc/encoding"

	"github.com/tripwire/agent/internal/rpc"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := encoding.GetCodec("tripwirejson")
	if codec == nil {
		t.Fatalf("codec %q was not registered", "tripwirejson")
	}

	req := &rpc.MetricsRequest{
		SystemID:        "sys-1",
		Timestamp:       time.Unix(1700000000, 0).UTC(),
		CPUUsagePercent: 42.5,
		Memory:          rpc.Memory{TotalKB: 1000, UsedKB: 400, FreeKB: 600},
	}

	b, err := codec.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var out rpc.MetricsRequest
	if err := codec.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if out.SystemID != req.SystemID || out.CPUUsagePercent != req.CPUUsagePercent {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, req)
	}
	if !out.Timestamp.Equal(req.Timestamp) {
		t.Errorf("Timestamp round trip: got %v, want %v", out.Timestamp, req.Timestamp)
	}
}
