package rest

import (
	"context"

	"github.com/tripwire/agent/internal/server/storage"
)

// Store is the subset of storage.Store methods used by the REST handlers.
// Defining an interface allows handlers to be tested with a mock store
// without a live PostgreSQL connection.
type Store interface {
	// ListSystems returns every registered system ordered alphabetically by
	// hostname.
	ListSystems(ctx context.Context) ([]storage.System, error)

	// GetSystem returns the system row for systemID, or nil if not found.
	GetSystem(ctx context.Context, systemID string) (*storage.System, error)

	// QueryMetrics returns metric samples matching the given filter and
	// pagination parameters.
	QueryMetrics(ctx context.Context, q storage.MetricQuery) ([]storage.MetricRow, error)

	// ListUnitServices returns the current unit-service state for systemID.
	ListUnitServices(ctx context.Context, systemID string) ([]storage.UnitServiceRow, error)

	// RulesForSystem returns the enabled rules mapped to systemID, paired
	// with their resolved notifier URIs.
	RulesForSystem(ctx context.Context, systemID string) ([]storage.AlertRuleWithNotifiers, error)
}
