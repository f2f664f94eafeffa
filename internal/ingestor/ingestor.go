// Package ingestor implements the Hub's HubIngestor (C5): the
// rpc.TelemetryServer side that accepts Agent reports, persists them, and
// fans out to the AlertEngine and ServiceCache.
//
// Adapted from internal/server/grpc/alert_service.go's AlertService: the
// same identity-resolve -> batch-insert -> fire-and-forget-evaluate shape,
// generalized from a single bidirectional alert stream to three unary
// report RPCs (spec.md §4.5).
package ingestor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/tripwire/agent/internal/alertengine"
	"github.com/tripwire/agent/internal/cache"
	"github.com/tripwire/agent/internal/probes"
	"github.com/tripwire/agent/internal/rpc"
	"github.com/tripwire/agent/internal/server/storage"
)

// agentKeyMetadataKey is the gRPC metadata key an Agent presents its
// pre-shared identity token under on every report RPC (§4.5, §6).
const agentKeyMetadataKey = "x-agent-key"

// Store is the subset of storage.Store used by Ingestor. Declaring a local
// interface (rather than depending on the concrete type) keeps Ingestor
// trivially testable with a stub, matching alert_service.go's Store
// interface idiom.
type Store interface {
	UpsertSystem(ctx context.Context, sys storage.System) (string, error)
	UpdateSystemInfo(ctx context.Context, sys storage.System) error
	ResolveAgentKey(ctx context.Context, agentKey string) (string, error)
	BatchInsertMetrics(ctx context.Context, m storage.MetricRow, disks []storage.DiskRow) error
	UpsertUnitService(ctx context.Context, u storage.UnitServiceRow) error
}

// resolveSystemID extracts the x-agent-key metadata value from ctx and
// resolves it to the caller's stable system_id, rather than trusting the
// system_id embedded in the request body. Mirrors alert_service.go's
// certCN-from-mTLS-identity pattern, generalized to an opaque pre-shared
// token carried in metadata instead of a certificate CN.
func (in *Ingestor) resolveSystemID(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "ingestor: missing request metadata")
	}
	vals := md.Get(agentKeyMetadataKey)
	if len(vals) == 0 || vals[0] == "" {
		return "", status.Errorf(codes.Unauthenticated, "ingestor: %s metadata is required", agentKeyMetadataKey)
	}

	systemID, err := in.store.ResolveAgentKey(ctx, vals[0])
	if err != nil {
		if errors.Is(err, storage.ErrUnknownAgentKey) {
			return "", status.Error(codes.Unauthenticated, "ingestor: unknown or inactive agent key")
		}
		return "", status.Errorf(codes.Internal, "ingestor: resolve agent key: %v", err)
	}
	return systemID, nil
}

// Ingestor implements rpc.TelemetryServer over a storage.Store, dispatching
// fired rules to an alertengine.Engine and mirroring unit-service deltas
// into a cache.Cache.
type Ingestor struct {
	store  Store
	cache  *cache.Cache
	engine *alertengine.Engine
	logger *slog.Logger
}

// New creates an Ingestor. engine may be nil, in which case no rule
// evaluation is dispatched (useful for tests that only exercise
// persistence).
func New(store Store, c *cache.Cache, engine *alertengine.Engine, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: store, cache: c, engine: engine, logger: logger}
}

var _ rpc.TelemetryServer = (*Ingestor)(nil)
var _ Store = (*storage.Store)(nil)

// RegisterAgent resolves or creates the system row for the presented
// agent_key and returns its stable system_id (§4.5, §6).
func (in *Ingestor) RegisterAgent(ctx context.Context, req *rpc.RegisterRequest) (*rpc.RegisterResponse, error) {
	if req.AgentKey == "" {
		return nil, status.Error(codes.InvalidArgument, "ingestor: agent_key must not be empty")
	}

	now := time.Now().UTC()
	systemID, err := in.store.UpsertSystem(ctx, storage.System{
		SystemID:     uuid.NewString(),
		AgentKey:     req.AgentKey,
		Hostname:     req.Hostname,
		Platform:     req.Platform,
		AgentVersion: req.AgentVersion,
		LastSeen:     &now,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "ingestor: register agent: %v", err)
	}

	return &rpc.RegisterResponse{SystemID: systemID, ServerTimeUs: now.UnixMicro()}, nil
}

// ReportMetrics hands one metrics sample to the store's buffered batch
// insert and dispatches it to the AlertEngine. The rows are written before
// the response only when this sample fills the store's buffer to its batch
// size; otherwise they are written after it, on the store's flush ticker.
// Dispatch to the
// AlertEngine runs on a detached goroutine, matching alert_service.go's
// broadcaster.Publish fire-and-forget fan-out (§4.5, §4.7).
func (in *Ingestor) ReportMetrics(ctx context.Context, req *rpc.MetricsRequest) (*rpc.MetricsResponse, error) {
	systemID, err := in.resolveSystemID(ctx)
	if err != nil {
		return nil, err
	}
	req.SystemID = systemID

	row, disks := toMetricRow(req)
	if err := in.store.BatchInsertMetrics(ctx, row, disks); err != nil {
		return nil, status.Errorf(codes.Internal, "ingestor: report metrics: %v", err)
	}

	if in.engine != nil {
		metrics := toProbesMetrics(req)
		go func() {
			evalCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			in.engine.Evaluate(evalCtx, systemID, metrics)
		}()
	}

	return &rpc.MetricsResponse{Ack: true}, nil
}

// ReportSystemInfo upserts the descriptive fields reported by the Agent
// (§4.5).
func (in *Ingestor) ReportSystemInfo(ctx context.Context, req *rpc.SystemInfoRequest) (*rpc.SystemInfoResponse, error) {
	systemID, err := in.resolveSystemID(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err = in.store.UpdateSystemInfo(ctx, storage.System{
		SystemID:  systemID,
		OS:        req.OS,
		KernelVer: req.KernelVersion,
		UptimeSec: req.UptimeSeconds,
		CPUModel:  req.CPUModel,
		CPUCount:  req.CPUCount,
		LastSeen:  &now,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "ingestor: report system info: %v", err)
	}
	return &rpc.SystemInfoResponse{Ack: true}, nil
}

// ReportUnitServices upserts each reported unit service and mirrors it into
// the ServiceCache (§4.5, §4.6).
func (in *Ingestor) ReportUnitServices(ctx context.Context, req *rpc.UnitServicesRequest) (*rpc.UnitServicesResponse, error) {
	systemID, err := in.resolveSystemID(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, svc := range req.Services {
		row := storage.UnitServiceRow{
			SystemID:    systemID,
			Name:        svc.Name,
			State:       svc.State,
			Enabled:     svc.Enabled,
			Description: svc.Description,
			PID:         svc.PID,
			CPUText:     svc.CPUText,
			MemoryText:  svc.MemoryText,
			UpdatedAt:   now,
		}
		if err := in.store.UpsertUnitService(ctx, row); err != nil {
			return nil, status.Errorf(codes.Internal, "ingestor: report unit services: %v", err)
		}

		if in.cache != nil {
			in.cache.UpsertService(probes.UnitService{
				Name:        svc.Name,
				State:       probes.UnitServiceState(svc.State),
				Enabled:     svc.Enabled,
				Description: svc.Description,
				PID:         svc.PID,
				CPUText:     svc.CPUText,
				MemoryText:  svc.MemoryText,
			})
		}
	}

	return &rpc.UnitServicesResponse{Ack: true}, nil
}
