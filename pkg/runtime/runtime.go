// SPDX-License-Identifier: Apache-2.0
// Package runtime assembles the monitoring, incident, recovery, healing
// and predictive engines and drives them on their polling intervals.
package runtime

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/config"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/healing"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/health"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/incident"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/predict"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/recovery"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/resilience"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/telemetry"
)

// Runtime wires the engines together and owns the monitor and predictive
// tickers. One Runtime is one self-healing domain.
type Runtime struct {
	bus        *core.Bus
	breakers   *resilience.Registry
	aggregator *health.Aggregator
	tracker    *incident.Tracker
	recovery   *recovery.Engine
	healing    *healing.Engine
	predict    *predict.Engine
	metrics    *telemetry.EngineMetrics
	logger     *slog.Logger
	db         *sql.DB

	monitorInterval time.Duration
	predictInterval time.Duration
	predictEnabled  bool

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
	predictCancel context.CancelFunc
	predictDone   chan struct{}
}

// Option configures optional runtime collaborators.
type Option func(*Runtime)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the OTEL instrument set recording engine activity.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// New builds a runtime from configuration, a metrics source, and an
// executor for recovery operations.
func New(cfg *config.Config, source core.MetricsSource, executor core.ActionExecutor, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		bus:             core.NewBus(),
		logger:          slog.Default(),
		monitorInterval: cfg.Monitor.Interval,
		predictInterval: cfg.Predict.Interval,
		predictEnabled:  cfg.Predict.Enabled,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.monitorInterval <= 0 {
		r.monitorInterval = 30 * time.Second
	}
	if r.predictInterval <= 0 {
		r.predictInterval = 5 * time.Minute
	}

	r.breakers = resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		MinimumThroughput: cfg.Breaker.MinimumThroughput,
		ResetTimeout:      cfg.Breaker.ResetTimeout,
	}, resilience.WithRegistryEmitter(r.bus))

	var store incident.Store
	if cfg.Storage.SQLitePath != "" {
		sqlStore, db, err := incident.OpenSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		store = sqlStore
		r.db = db
	}
	r.tracker = incident.NewTracker(store,
		incident.WithEmitter(r.bus),
		incident.WithLogger(r.logger),
	)

	r.aggregator = health.NewAggregator(source,
		health.WithThresholds(cfg.Monitor.Thresholds),
		health.WithRetention(cfg.Monitor.Retention),
		health.WithEmitter(r.bus),
		health.WithBreakers(r.breakers),
		health.WithLogger(r.logger),
	)
	for _, component := range cfg.Monitor.Components {
		r.aggregator.RegisterComponent(component)
	}

	r.recovery = recovery.NewEngine(executor, r.tracker,
		recovery.WithEmitter(r.bus),
		recovery.WithLogger(r.logger),
	)

	healingOpts := []healing.EngineOption{
		healing.WithEmitter(r.bus),
		healing.WithLogger(r.logger),
		healing.WithEmergencySingle(cfg.Healing.EmergencySingle),
	}
	if cfg.Healing.CompositeRatio > 0 {
		healingOpts = append(healingOpts, healing.WithCompositeRatio(cfg.Healing.CompositeRatio))
	}
	r.healing = healing.NewEngine(executor, healingOpts...)

	r.predict = predict.NewEngine(r.healing,
		predict.WithEmitter(r.bus),
		predict.WithLogger(r.logger),
	)
	if cfg.Predict.ConfidenceGate > 0 {
		r.predict.ConfidenceGate = cfg.Predict.ConfidenceGate
	}
	if cfg.Predict.AnomalyGate > 0 {
		r.predict.AnomalyGate = cfg.Predict.AnomalyGate
	}
	r.predict.RegisterModel(predict.NewTrendModel())

	r.observeEvents()

	if cfg.Catalogs.Actions != "" {
		catalog, err := recovery.LoadCatalog(cfg.Catalogs.Actions)
		if err != nil {
			return nil, err
		}
		if err := r.recovery.RegisterCatalog(catalog); err != nil {
			return nil, err
		}
	}
	if cfg.Catalogs.Strategies != "" {
		catalog, err := healing.LoadCatalog(cfg.Catalogs.Strategies)
		if err != nil {
			return nil, err
		}
		if err := r.healing.RegisterCatalog(catalog); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// observeEvents feeds engine activity into the metric instruments. The
// recorders are nil-safe, so the subscriptions cost nothing when no
// instrument set is configured.
func (r *Runtime) observeEvents() {
	r.bus.Subscribe(core.EventRecoveryActionCompleted, func(ctx context.Context, event core.Event) {
		actionID, _ := event.Payload["action_id"].(string)
		elapsed, _ := event.Payload["duration"].(time.Duration)
		r.metrics.RecordAction(ctx, actionID, true, elapsed)
	})
	r.bus.Subscribe(core.EventRecoveryActionFailed, func(ctx context.Context, event core.Event) {
		actionID, _ := event.Payload["action_id"].(string)
		r.metrics.RecordAction(ctx, actionID, false, 0)
	})
	r.bus.Subscribe(core.EventHealingStrategyCompleted, func(ctx context.Context, event core.Event) {
		strategyID, _ := event.Payload["strategy_id"].(string)
		status, _ := event.Payload["status"].(string)
		elapsed, _ := event.Payload["duration"].(time.Duration)
		r.metrics.RecordStrategy(ctx, strategyID, status, elapsed)
	})
	r.bus.Subscribe(core.EventIncidentCreated, func(ctx context.Context, event core.Event) {
		severity, _ := event.Payload["severity"].(string)
		r.metrics.RecordIncident(ctx, event.Component, severity)
	})
}

// Bus exposes the event bus for external subscribers.
func (r *Runtime) Bus() *core.Bus { return r.bus }

// RegisterComponent adds a component to the monitored set.
func (r *Runtime) RegisterComponent(name string) {
	r.aggregator.RegisterComponent(name)
}

// Start launches the monitor and predictive loops.
func (r *Runtime) Start() {
	r.startMonitor()
	if r.predictEnabled {
		r.startPredictor()
	}
}

// Stop halts both loops, drains in-flight work, and releases storage.
func (r *Runtime) Stop() {
	r.stopPredictor()
	r.stopMonitor()
	r.recovery.Wait()
	r.healing.Wait()
	if r.db != nil {
		_ = r.db.Close()
	}
}

// ApplyConfig applies the reloadable subset of configuration. Wired to
// the config watcher; takes effect on the next cycle.
func (r *Runtime) ApplyConfig(cfg *config.Config) {
	r.aggregator.SetThresholds(cfg.Monitor.Thresholds)
	r.logger.Info("runtime.config.applied")
}

// SystemHealth returns the latest health snapshot, if a cycle has run.
func (r *Runtime) SystemHealth() (core.SystemHealth, bool) {
	return r.aggregator.Latest()
}

// HealthHistory returns snapshots from the last given number of hours.
func (r *Runtime) HealthHistory(hours int) []core.SystemHealth {
	return r.aggregator.History(hours)
}

// ActiveIncidents returns every unresolved incident.
func (r *Runtime) ActiveIncidents(ctx context.Context) ([]incident.Incident, error) {
	return r.tracker.Active(ctx)
}

// Incidents exposes filtered audit-trail queries.
func (r *Runtime) Incidents(ctx context.Context, filter incident.Filter) ([]incident.Incident, error) {
	return r.tracker.List(ctx, filter)
}

// ResolveIncident manually resolves an incident with an optional root
// cause and postmortem reference.
func (r *Runtime) ResolveIncident(ctx context.Context, id, rootCause, postmortemURL string) (incident.Incident, error) {
	return r.tracker.Resolve(ctx, id, rootCause, postmortemURL)
}

// CircuitBreakerStatus returns a snapshot of every breaker.
func (r *Runtime) CircuitBreakerStatus() []resilience.BreakerStatus {
	return r.breakers.Status()
}

// ResetBreaker manually closes one breaker.
func (r *Runtime) ResetBreaker(name string) {
	r.breakers.Get(name).Reset()
}

// TripBreaker manually opens one breaker.
func (r *Runtime) TripBreaker(ctx context.Context, name string) {
	r.breakers.Get(name).Trip(ctx)
}

// Actions returns the recovery action catalog.
func (r *Runtime) Actions() []recovery.Action {
	return r.recovery.Actions()
}

// ActiveActions returns running recovery action instances.
func (r *Runtime) ActiveActions() []recovery.ActiveAction {
	return r.recovery.Active()
}

// SetActionEnabled flips one recovery action on or off.
func (r *Runtime) SetActionEnabled(actionID string, enabled bool) error {
	return r.recovery.SetEnabled(actionID, enabled)
}

// Strategies returns the healing strategy catalog.
func (r *Runtime) Strategies() []healing.Strategy {
	return r.healing.Strategies()
}

// ActiveExecutions returns running strategy executions.
func (r *Runtime) ActiveExecutions() []healing.Execution {
	return r.healing.ActiveExecutions()
}

// RecentExecutions returns finished strategy executions, newest first.
func (r *Runtime) RecentExecutions(limit int) []healing.Execution {
	return r.healing.RecentExecutions(limit)
}

// SetStrategyEnabled flips one healing strategy on or off.
func (r *Runtime) SetStrategyEnabled(strategyID string, enabled bool) error {
	return r.healing.SetEnabled(strategyID, enabled)
}

// TriggerStrategy starts one strategy manually, bypassing trigger
// evaluation but not single-flight or cooldown.
func (r *Runtime) TriggerStrategy(ctx context.Context, strategyID string) (string, error) {
	return r.healing.StartStrategy(ctx, strategyID)
}

// Predictions returns the rolling prediction list for one model.
func (r *Runtime) Predictions(model string) []predict.Prediction {
	return r.predict.Predictions(model)
}

// RegisterAction adds one recovery action definition.
func (r *Runtime) RegisterAction(action recovery.Action) error {
	return r.recovery.Register(action)
}

// RegisterStrategy adds one healing strategy definition.
func (r *Runtime) RegisterStrategy(strategy healing.Strategy) error {
	return r.healing.Register(strategy)
}
