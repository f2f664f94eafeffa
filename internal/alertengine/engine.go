package alertengine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/tripwire/agent/internal/notify"
	"github.com/tripwire/agent/internal/probes"
)

// defaultSuppressionWindow is the minimum interval between two dispatches
// for the same (system_id, rule_id) pair (§3, glossary "suppression
// window").
const defaultSuppressionWindow = 30 * time.Minute

// Store is the subset of the persistent rule-engine tables (§6) the engine
// reads and writes.
type Store interface {
	// RulesForSystem returns the enabled rules mapped to systemID (the
	// alert_systems/alert_rules join in §6).
	RulesForSystem(ctx context.Context, systemID string) ([]Rule, error)
	// RecentDispatch reports whether (systemID, ruleID) has a history entry
	// within the suppression window.
	RecentDispatch(ctx context.Context, systemID string, ruleID int32, window time.Duration) (bool, error)
	// RecordDispatch inserts a new alert_history row for (systemID, ruleID).
	RecordDispatch(ctx context.Context, systemID string, ruleID int32) error
}

// FiredAlert mirrors websocket.AlertFired without creating a dependency on
// the websocket package from this one. The Hub wires an adapter struct
// around *websocket.Broadcaster at construction time.
type FiredAlert struct {
	SystemID   string
	RuleID     int32
	RuleName   string
	Severity   string
	Expression string
	Message    string
	FiredAt    time.Time
}

// Broadcaster fans a fired alert out to dashboard WebSocket clients. The
// Hub's wiring passes an adapter struct that converts FiredAlert to
// websocket.AlertFired and calls websocket.Broadcaster.Publish.
type Broadcaster interface {
	Publish(a FiredAlert)
}

// Auditor records a tamper-evident, hash-chained entry for every fired rule.
// The Hub's wiring passes an adapter struct over audit.Logger.Append, keeping this
// package decoupled from internal/audit the same way it is from
// internal/server/websocket via Broadcaster.
type Auditor interface {
	Append(payload json.RawMessage) error
}

// Engine is the Hub's AlertEngine (C7).
type Engine struct {
	store             Store
	logger            *slog.Logger
	suppressionWindow time.Duration
	broadcaster       Broadcaster
	auditor           Auditor

	mu        sync.Mutex
	notifiers map[string]notify.Notifier
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithSuppressionWindow overrides the default 30-minute suppression window.
func WithSuppressionWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.suppressionWindow = d
		}
	}
}

// WithBroadcaster wires a dashboard WebSocket broadcaster so every rule that
// fires is also pushed live to connected browser clients (§4.7, §4.9),
// mirroring alert_service.go's broadcaster.Publish fan-out.
func WithBroadcaster(b Broadcaster) Option {
	return func(e *Engine) {
		e.broadcaster = b
	}
}

// WithAuditor wires a tamper-evident audit trail so every rule that fires is
// recorded as a hash-chained entry before notifier dispatch (§4.7, §6).
func WithAuditor(a Auditor) Option {
	return func(e *Engine) {
		e.auditor = a
	}
}

// New creates an Engine backed by store.
func New(store Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:             store,
		logger:            logger,
		suppressionWindow: defaultSuppressionWindow,
		notifiers:         make(map[string]notify.Notifier),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the full §4.7 pipeline for one incoming metrics payload and
// system id: load rules, parse expressions, evaluate against the sample,
// suppress recent duplicates, and dispatch to each firing rule's notifiers.
// Errors from individual rules/notifiers are logged and do not abort
// evaluation of the remaining rules (§7).
func (e *Engine) Evaluate(ctx context.Context, systemID string, m *probes.Metrics) {
	rules, err := e.store.RulesForSystem(ctx, systemID)
	if err != nil {
		e.logger.Warn("alertengine: failed to load rules", slog.String("system_id", systemID), slog.Any("error", err))
		return
	}

	reg := NewMetricRegistry(m)
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		e.evaluateRule(ctx, systemID, rule, reg)
	}
}

func (e *Engine) evaluateRule(ctx context.Context, systemID string, rule Rule, reg *MetricRegistry) {
	conditions := ParseExpression(rule.Expression, e.logger)
	if len(conditions) == 0 {
		e.logger.Warn("alertengine: rule parsed to zero conditions, skipping",
			slog.Int("rule_id", int(rule.ID)), slog.String("name", rule.Name))
		return
	}

	fired, err := EvaluateRule(reg, conditions)
	if err != nil {
		e.logger.Warn("alertengine: rule evaluation aborted",
			slog.Int("rule_id", int(rule.ID)), slog.String("name", rule.Name), slog.Any("error", err))
		return
	}
	if !fired {
		return
	}

	suppressed, err := e.store.RecentDispatch(ctx, systemID, rule.ID, e.suppressionWindow)
	if err != nil {
		e.logger.Warn("alertengine: suppression check failed",
			slog.Int("rule_id", int(rule.ID)), slog.Any("error", err))
		return
	}
	if suppressed {
		return
	}

	if err := e.store.RecordDispatch(ctx, systemID, rule.ID); err != nil {
		e.logger.Warn("alertengine: failed to record dispatch",
			slog.Int("rule_id", int(rule.ID)), slog.Any("error", err))
		return
	}

	message := rule.Description
	if message == "" {
		message = rule.Name
	}

	firedAt := time.Now().UTC()

	if e.broadcaster != nil {
		e.broadcaster.Publish(FiredAlert{
			SystemID:   systemID,
			RuleID:     rule.ID,
			RuleName:   rule.Name,
			Severity:   rule.Severity,
			Expression: rule.Expression,
			Message:    message,
			FiredAt:    firedAt,
		})
	}

	if e.auditor != nil {
		e.recordAudit(systemID, rule, message, firedAt)
	}

	for _, uri := range rule.NotifierURIs {
		n, err := e.notifierFor(uri)
		if err != nil {
			e.logger.Warn("alertengine: bad notifier URI", slog.String("uri", uri), slog.Any("error", err))
			continue
		}
		if err := n.Send(ctx, rule.Name, message); err != nil {
			e.logger.Warn("alertengine: notifier send failed", slog.String("uri", uri), slog.Any("error", err))
		}
	}
}

// firedRuleAuditPayload is the JSON payload hash-chained into the audit log
// for every rule that fires.
type firedRuleAuditPayload struct {
	SystemID   string    `json:"system_id"`
	RuleID     int32     `json:"rule_id"`
	RuleName   string    `json:"rule_name"`
	Severity   string    `json:"severity"`
	Expression string    `json:"expression"`
	Message    string    `json:"message"`
	FiredAt    time.Time `json:"fired_at"`
}

// recordAudit appends a hash-chained entry for a fired rule. Failures are
// logged, not propagated: a broken audit trail must not block notifier
// dispatch (§7).
func (e *Engine) recordAudit(systemID string, rule Rule, message string, firedAt time.Time) {
	payload, err := json.Marshal(firedRuleAuditPayload{
		SystemID:   systemID,
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		Severity:   rule.Severity,
		Expression: rule.Expression,
		Message:    message,
		FiredAt:    firedAt,
	})
	if err != nil {
		e.logger.Warn("alertengine: failed to marshal audit payload",
			slog.Int("rule_id", int(rule.ID)), slog.Any("error", err))
		return
	}
	if err := e.auditor.Append(payload); err != nil {
		e.logger.Warn("alertengine: failed to append audit entry",
			slog.Int("rule_id", int(rule.ID)), slog.Any("error", err))
	}
}

// notifierFor returns a cached Notifier for uri, constructing and caching a
// new one on first use (§4.7: "Notifier objects are cached per URI and
// reused").
func (e *Engine) notifierFor(uri string) (notify.Notifier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if n, ok := e.notifiers[uri]; ok {
		return n, nil
	}
	n, err := notify.New(uri)
	if err != nil {
		return nil, err
	}
	e.notifiers[uri] = n
	return n, nil
}
