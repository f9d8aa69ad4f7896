// SPDX-License-Identifier: Apache-2.0
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/resilience"
)

// Aggregator polls the metrics source for every registered component,
// classifies each snapshot, and appends the aggregate to a bounded,
// time-windowed history. One RunCheck call is one polling cycle; the
// owning runtime drives the cycle from its ticker so tests can call
// RunCheck directly.
type Aggregator struct {
	source     core.MetricsSource
	thresholds Thresholds
	retention  time.Duration
	emitter    core.EventEmitter
	breakers   *resilience.Registry
	logger     *slog.Logger
	now        func() time.Time

	mu         sync.RWMutex
	components []string
	history    []core.SystemHealth
}

// AggregatorOption configures optional aggregator collaborators.
type AggregatorOption func(*Aggregator)

// WithThresholds overrides the default classification thresholds.
func WithThresholds(t Thresholds) AggregatorOption {
	return func(a *Aggregator) { a.thresholds = t }
}

// WithRetention bounds the history window. Snapshots older than d are
// evicted on each cycle.
func WithRetention(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.retention = d
		}
	}
}

// WithEmitter sets the emitter receiving health_check_completed events.
func WithEmitter(emitter core.EventEmitter) AggregatorOption {
	return func(a *Aggregator) {
		if emitter != nil {
			a.emitter = emitter
		}
	}
}

// WithBreakers guards metrics collection with per-component circuit
// breakers. A rejected or failed fetch classifies the component down.
func WithBreakers(registry *resilience.Registry) AggregatorOption {
	return func(a *Aggregator) { a.breakers = registry }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock injects a clock for deterministic tests.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAggregator creates an aggregator reading from the given source.
func NewAggregator(source core.MetricsSource, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		source:     source,
		thresholds: DefaultThresholds(),
		retention:  24 * time.Hour,
		emitter:    core.NoopEventEmitter{},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterComponent adds a component to the polling set. Registering the
// same name twice is a no-op.
func (a *Aggregator) RegisterComponent(name string) {
	if name == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.components {
		if c == name {
			return
		}
	}
	a.components = append(a.components, name)
	sort.Strings(a.components)
}

// Components returns the registered component names.
func (a *Aggregator) Components() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.components))
	copy(out, a.components)
	return out
}

// RunCheck performs one polling cycle: fetch, classify, record, emit.
// A metrics fetch failure marks only that component down; the cycle
// itself never fails.
func (a *Aggregator) RunCheck(ctx context.Context) core.SystemHealth {
	now := a.now()
	a.mu.RLock()
	components := make([]string, len(a.components))
	copy(components, a.components)
	thresholds := a.thresholds
	a.mu.RUnlock()

	checked := make([]core.ComponentHealth, 0, len(components))
	for _, name := range components {
		checked = append(checked, a.checkComponent(ctx, name, thresholds, now))
	}

	snapshot := core.SystemHealth{
		Timestamp:  now,
		Overall:    core.DeriveOverall(checked),
		Components: checked,
	}

	a.record(snapshot)

	a.emitter.Emit(ctx, core.Event{
		Type:      core.EventHealthCheckCompleted,
		Timestamp: now,
		Payload:   map[string]any{"snapshot": snapshot},
	})

	return snapshot
}

func (a *Aggregator) checkComponent(ctx context.Context, name string, thresholds Thresholds, now time.Time) core.ComponentHealth {
	var metrics core.Metrics
	fetch := func() error {
		m, err := a.source.GetComponentMetrics(ctx, name)
		if err != nil {
			return err
		}
		metrics = m
		return nil
	}

	var err error
	if a.breakers != nil {
		err = a.breakers.Execute(ctx, "metrics:"+name, fetch)
	} else {
		err = fetch()
	}
	if err != nil {
		a.logger.Warn("health.metrics.unavailable",
			slog.String("component", name),
			slog.String("error", err.Error()),
		)
		return core.ComponentHealth{
			Name:      name,
			Status:    core.ComponentDown,
			Issues:    []string{"metrics unavailable: " + err.Error()},
			LastCheck: now,
		}
	}

	status, issues := thresholds.Classify(metrics)
	return core.ComponentHealth{
		Name:      name,
		Status:    status,
		Metrics:   metrics,
		Issues:    issues,
		LastCheck: now,
	}
}

func (a *Aggregator) record(snapshot core.SystemHealth) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.history = append(a.history, snapshot)

	cutoff := snapshot.Timestamp.Add(-a.retention)
	firstKept := 0
	for firstKept < len(a.history) && a.history[firstKept].Timestamp.Before(cutoff) {
		firstKept++
	}
	if firstKept > 0 {
		a.history = append(a.history[:0:0], a.history[firstKept:]...)
	}
}

// Latest returns the most recent snapshot, if any cycle has run.
func (a *Aggregator) Latest() (core.SystemHealth, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.history) == 0 {
		return core.SystemHealth{}, false
	}
	return a.history[len(a.history)-1], true
}

// History returns snapshots from the last given number of hours, oldest
// first. hours <= 0 returns the full retained window.
func (a *Aggregator) History(hours int) []core.SystemHealth {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if hours <= 0 {
		out := make([]core.SystemHealth, len(a.history))
		copy(out, a.history)
		return out
	}

	cutoff := a.now().Add(-time.Duration(hours) * time.Hour)
	var out []core.SystemHealth
	for _, s := range a.history {
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// SetThresholds replaces the classification limits. Used by config hot
// reload; takes effect on the next cycle.
func (a *Aggregator) SetThresholds(t Thresholds) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thresholds = t
}
