package ingestor

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/tripwire/agent/internal/rpc"
	"github.com/tripwire/agent/internal/server/storage"
)

type fakeStore struct {
	agentKeyToSystemID map[string]string
	upsertSystemCalls  []storage.System
	metricRows         []storage.MetricRow
	systemInfoCalls    []storage.System
	unitServiceRows    []storage.UnitServiceRow
	resolveErr         error

	upsertSystemErr error
	metricsErr      error
	systemInfoErr   error
	unitServiceErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{agentKeyToSystemID: map[string]string{"agent-key-1": "sys-1"}}
}

func (f *fakeStore) UpsertSystem(ctx context.Context, sys storage.System) (string, error) {
	if f.upsertSystemErr != nil {
		return "", f.upsertSystemErr
	}
	f.upsertSystemCalls = append(f.upsertSystemCalls, sys)
	return "sys-1", nil
}

func (f *fakeStore) UpdateSystemInfo(ctx context.Context, sys storage.System) error {
	if f.systemInfoErr != nil {
		return f.systemInfoErr
	}
	f.systemInfoCalls = append(f.systemInfoCalls, sys)
	return nil
}

func (f *fakeStore) ResolveAgentKey(ctx context.Context, agentKey string) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	id, ok := f.agentKeyToSystemID[agentKey]
	if !ok {
		return "", storage.ErrUnknownAgentKey
	}
	return id, nil
}

func (f *fakeStore) BatchInsertMetrics(ctx context.Context, m storage.MetricRow, disks []storage.DiskRow) error {
	if f.metricsErr != nil {
		return f.metricsErr
	}
	f.metricRows = append(f.metricRows, m)
	return nil
}

func (f *fakeStore) UpsertUnitService(ctx context.Context, u storage.UnitServiceRow) error {
	if f.unitServiceErr != nil {
		return f.unitServiceErr
	}
	f.unitServiceRows = append(f.unitServiceRows, u)
	return nil
}

func withAgentKey(ctx context.Context, key string) context.Context {
	return metadata.NewIncomingContext(ctx, metadata.Pairs(agentKeyMetadataKey, key))
}

func TestRegisterAgentRequiresAgentKey(t *testing.T) {
	in := New(newFakeStore(), nil, nil, nil)
	_, err := in.RegisterAgent(context.Background(), &rpc.RegisterRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestRegisterAgentSurfacesStorageFailureAsInternal(t *testing.T) {
	store := newFakeStore()
	store.upsertSystemErr = errors.New("connection refused")
	in := New(store, nil, nil, nil)

	_, err := in.RegisterAgent(context.Background(), &rpc.RegisterRequest{AgentKey: "agent-key-1"})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestReportMetricsSurfacesStorageFailureAsInternal(t *testing.T) {
	store := newFakeStore()
	store.metricsErr = errors.New("insert failed")
	in := New(store, nil, nil, nil)

	ctx := withAgentKey(context.Background(), "agent-key-1")
	_, err := in.ReportMetrics(ctx, &rpc.MetricsRequest{})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestReportSystemInfoSurfacesStorageFailureAsInternal(t *testing.T) {
	store := newFakeStore()
	store.systemInfoErr = errors.New("update failed")
	in := New(store, nil, nil, nil)

	ctx := withAgentKey(context.Background(), "agent-key-1")
	_, err := in.ReportSystemInfo(ctx, &rpc.SystemInfoRequest{})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestReportUnitServicesSurfacesStorageFailureAsInternal(t *testing.T) {
	store := newFakeStore()
	store.unitServiceErr = errors.New("upsert failed")
	in := New(store, nil, nil, nil)

	ctx := withAgentKey(context.Background(), "agent-key-1")
	_, err := in.ReportUnitServices(ctx, &rpc.UnitServicesRequest{
		Services: []rpc.UnitService{{Name: "nginx", State: "active"}},
	})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

func TestRegisterAgentUpsertsSystem(t *testing.T) {
	store := newFakeStore()
	in := New(store, nil, nil, nil)

	resp, err := in.RegisterAgent(context.Background(), &rpc.RegisterRequest{AgentKey: "agent-key-1", Hostname: "host-a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.SystemID != "sys-1" {
		t.Fatalf("expected system id sys-1, got %q", resp.SystemID)
	}
	if len(store.upsertSystemCalls) != 1 || store.upsertSystemCalls[0].Hostname != "host-a" {
		t.Fatalf("expected one upsert call for host-a, got %+v", store.upsertSystemCalls)
	}
}

func TestReportMetricsRejectsMissingAgentKeyMetadata(t *testing.T) {
	in := New(newFakeStore(), nil, nil, nil)
	_, err := in.ReportMetrics(context.Background(), &rpc.MetricsRequest{})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestReportMetricsRejectsUnknownAgentKey(t *testing.T) {
	in := New(newFakeStore(), nil, nil, nil)
	ctx := withAgentKey(context.Background(), "bogus-key")
	_, err := in.ReportMetrics(ctx, &rpc.MetricsRequest{})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestReportMetricsPersistsUsingResolvedSystemID(t *testing.T) {
	store := newFakeStore()
	in := New(store, nil, nil, nil)

	ctx := withAgentKey(context.Background(), "agent-key-1")
	resp, err := in.ReportMetrics(ctx, &rpc.MetricsRequest{SystemID: "spoofed-id", CPUUsagePercent: 12.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Ack {
		t.Fatal("expected Ack true")
	}
	if len(store.metricRows) != 1 || store.metricRows[0].SystemID != "sys-1" {
		t.Fatalf("expected metric row for resolved sys-1, got %+v", store.metricRows)
	}
}

func TestReportSystemInfoUsesResolvedSystemID(t *testing.T) {
	store := newFakeStore()
	in := New(store, nil, nil, nil)

	ctx := withAgentKey(context.Background(), "agent-key-1")
	_, err := in.ReportSystemInfo(ctx, &rpc.SystemInfoRequest{OS: "linux"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.systemInfoCalls) != 1 || store.systemInfoCalls[0].SystemID != "sys-1" {
		t.Fatalf("expected system info call for sys-1, got %+v", store.systemInfoCalls)
	}
}

func TestReportUnitServicesUsesResolvedSystemID(t *testing.T) {
	store := newFakeStore()
	in := New(store, nil, nil, nil)

	ctx := withAgentKey(context.Background(), "agent-key-1")
	_, err := in.ReportUnitServices(ctx, &rpc.UnitServicesRequest{
		Services: []rpc.UnitService{{Name: "nginx", State: "active"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.unitServiceRows) != 1 || store.unitServiceRows[0].SystemID != "sys-1" {
		t.Fatalf("expected unit service row for sys-1, got %+v", store.unitServiceRows)
	}
}
