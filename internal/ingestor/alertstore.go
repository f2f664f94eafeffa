package ingestor

import (
	"context"
	"time"

	"github.com/tripwire/agent/internal/alertengine"
	"github.com/tripwire/agent/internal/server/storage"
)

// alertStore adapts a *storage.Store to internal/alertengine.Store, converting
// the persistence layer's AlertRuleWithNotifiers rows into alertengine.Rule
// values.
type alertStore struct {
	store *storage.Store
}

// NewAlertStore wraps store as an alertengine.Store for wiring into
// alertengine.New.
func NewAlertStore(store *storage.Store) alertengine.Store {
	return &alertStore{store: store}
}

func (a *alertStore) RulesForSystem(ctx context.Context, systemID string) ([]alertengine.Rule, error) {
	rows, err := a.store.RulesForSystem(ctx, systemID)
	if err != nil {
		return nil, err
	}

	rules := make([]alertengine.Rule, 0, len(rows))
	for _, r := range rows {
		rules = append(rules, alertengine.Rule{
			ID:           r.ID,
			Name:         r.Name,
			Enabled:      r.Active,
			Description:  r.Description,
			Severity:     r.Severity,
			Expression:   r.Expression,
			NotifierURIs: r.NotifierURIs,
		})
	}
	return rules, nil
}

func (a *alertStore) RecentDispatch(ctx context.Context, systemID string, ruleID int32, window time.Duration) (bool, error) {
	return a.store.RecentDispatch(ctx, systemID, ruleID, window)
}

func (a *alertStore) RecordDispatch(ctx context.Context, systemID string, ruleID int32) error {
	return a.store.RecordDispatch(ctx, systemID, ruleID)
}
