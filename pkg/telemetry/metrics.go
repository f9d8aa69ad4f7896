// SPDX-License-Identifier: Apache-2.0
// Package telemetry provides observability wiring: trace-aware slog,
// OTEL SDK setup, and engine metric instruments.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics tracks health status, breaker state, and recovery outcomes
// for production monitoring.
type EngineMetrics struct {
	// healthStatusGauge tracks component health (0=down, 1=error, 2=warning, 3=healthy)
	healthStatusGauge metric.Int64Gauge

	// breakerStateGauge tracks circuit breaker state per component (0=open, 1=half-open, 2=closed)
	breakerStateGauge metric.Int64Gauge

	// actionCounter counts recovery action executions by action and outcome
	actionCounter metric.Int64Counter

	// actionDuration records recovery action wall time
	actionDuration metric.Float64Histogram

	// strategyCounter counts healing strategy executions by strategy and status
	strategyCounter metric.Int64Counter

	// strategyDuration records healing strategy wall time
	strategyDuration metric.Float64Histogram

	// incidentCounter counts incidents opened by component and severity
	incidentCounter metric.Int64Counter
}

// NewEngineMetrics creates the engine metric instruments with OTEL meters.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter("selfheal/engine")

	healthStatusGauge, err := meter.Int64Gauge(
		"selfheal.health.status",
		metric.WithDescription("Component health status (0=down, 1=error, 2=warning, 3=healthy)"),
	)
	if err != nil {
		return nil, err
	}

	breakerStateGauge, err := meter.Int64Gauge(
		"selfheal.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per component (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	actionCounter, err := meter.Int64Counter(
		"selfheal.recovery.actions.total",
		metric.WithDescription("Recovery action executions by action and outcome"),
	)
	if err != nil {
		return nil, err
	}

	actionDuration, err := meter.Float64Histogram(
		"selfheal.recovery.action.duration",
		metric.WithDescription("Recovery action duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	strategyCounter, err := meter.Int64Counter(
		"selfheal.healing.strategies.total",
		metric.WithDescription("Healing strategy executions by strategy and final status"),
	)
	if err != nil {
		return nil, err
	}

	strategyDuration, err := meter.Float64Histogram(
		"selfheal.healing.strategy.duration",
		metric.WithDescription("Healing strategy duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	incidentCounter, err := meter.Int64Counter(
		"selfheal.incidents.total",
		metric.WithDescription("Incidents opened by component and severity"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		healthStatusGauge: healthStatusGauge,
		breakerStateGauge: breakerStateGauge,
		actionCounter:     actionCounter,
		actionDuration:    actionDuration,
		strategyCounter:   strategyCounter,
		strategyDuration:  strategyDuration,
		incidentCounter:   incidentCounter,
	}, nil
}

// RecordHealthStatus records the health status of a component.
func (em *EngineMetrics) RecordHealthStatus(ctx context.Context, component string, status int64) {
	if em == nil {
		return
	}
	em.healthStatusGauge.Record(ctx, status,
		metric.WithAttributes(attribute.String("component", component)),
	)
}

// RecordBreakerState records the circuit breaker state for a component.
func (em *EngineMetrics) RecordBreakerState(ctx context.Context, component string, state int64) {
	if em == nil {
		return
	}
	em.breakerStateGauge.Record(ctx, state,
		metric.WithAttributes(attribute.String("component", component)),
	)
}

// RecordAction records one recovery action execution.
func (em *EngineMetrics) RecordAction(ctx context.Context, actionID string, success bool, elapsed time.Duration) {
	if em == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	attrs := metric.WithAttributes(
		attribute.String("action", actionID),
		attribute.String("outcome", outcome),
	)
	em.actionCounter.Add(ctx, 1, attrs)
	em.actionDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("action", actionID)),
	)
}

// RecordStrategy records one healing strategy execution.
func (em *EngineMetrics) RecordStrategy(ctx context.Context, strategyID, status string, elapsed time.Duration) {
	if em == nil {
		return
	}
	em.strategyCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("strategy", strategyID),
			attribute.String("status", status),
		),
	)
	em.strategyDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("strategy", strategyID)),
	)
}

// RecordIncident records one incident creation.
func (em *EngineMetrics) RecordIncident(ctx context.Context, component, severity string) {
	if em == nil {
		return
	}
	em.incidentCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("component", component),
			attribute.String("severity", severity),
		),
	)
}
