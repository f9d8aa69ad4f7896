package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/healing"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/resilience"
)

func (r *Runtime) startMonitor() {
	if r.monitorCancel != nil {
		r.stopMonitor()
	}
	initRuntimeMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.monitorCancel = cancel
	r.monitorDone = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.monitorInterval)
		defer ticker.Stop()
		r.logger.Info("runtime.monitor.start",
			slog.Duration("interval", r.monitorInterval),
			slog.Int("components", len(r.aggregator.Components())),
		)
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("runtime.monitor.stop")
				return
			case <-ticker.C:
				r.Tick(ctx)
			}
		}
	}()
}

func (r *Runtime) stopMonitor() {
	if r.monitorCancel == nil {
		return
	}
	r.monitorCancel()
	if r.monitorDone != nil {
		<-r.monitorDone
	}
	r.monitorCancel = nil
	r.monitorDone = nil
}

// Tick runs one full monitoring cycle: poll health, close incidents for
// recovered components, and hand the snapshot to the recovery and healing
// engines. The ticker calls this; tests call it directly.
func (r *Runtime) Tick(ctx context.Context) core.SystemHealth {
	initRuntimeMetrics()
	start := time.Now()
	ctx, span := otel.Tracer("selfheal/runtime").Start(ctx, "runtime.monitor.tick")
	defer span.End()
	traceID, spanID := traceIDs(span)

	snapshot := r.aggregator.RunCheck(ctx)
	r.recordHealth(ctx, snapshot)
	r.autoResolve(ctx, snapshot)

	r.recovery.HandleSnapshot(ctx, snapshot)

	open, err := r.tracker.Active(ctx)
	if err != nil {
		span.RecordError(err)
		r.logger.Warn("runtime.incidents.query.error", slog.String("error", err.Error()))
	}
	r.healing.HandleSnapshot(ctx, healing.EvalInput{
		Snapshot:  snapshot,
		History:   r.aggregator.History(0),
		Incidents: open,
		Now:       snapshot.Timestamp,
	})

	durationMs := float64(time.Since(start).Seconds() * 1000)
	tickCounter.Add(ctx, 1)
	tickLatencyMs.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("overall", string(snapshot.Overall)),
	))
	span.SetAttributes(
		attribute.String("overall", string(snapshot.Overall)),
		attribute.Int("components", len(snapshot.Components)),
		attribute.Int("failing", len(snapshot.Failing())),
	)
	r.logger.Info("runtime.monitor.tick",
		slog.String("overall", string(snapshot.Overall)),
		slog.Int("failing", len(snapshot.Failing())),
		slog.Float64("duration_ms", durationMs),
		slog.String("trace_id", traceID),
		slog.String("span_id", spanID),
	)
	return snapshot
}

// autoResolve closes open incidents once every referenced component has
// left the error and down states.
func (r *Runtime) autoResolve(ctx context.Context, snapshot core.SystemHealth) {
	open, err := r.tracker.Active(ctx)
	if err != nil {
		r.logger.Warn("runtime.incidents.query.error", slog.String("error", err.Error()))
		return
	}
	for _, inc := range open {
		recovered := true
		for _, name := range inc.Components {
			component, ok := snapshot.Component(name)
			if !ok || component.Status == core.ComponentError || component.Status == core.ComponentDown {
				recovered = false
				break
			}
		}
		if !recovered {
			continue
		}
		if _, err := r.tracker.Resolve(ctx, inc.ID, "component recovered", ""); err != nil {
			r.logger.Warn("runtime.incident.autoresolve.error",
				slog.String("incident_id", inc.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *Runtime) recordHealth(ctx context.Context, snapshot core.SystemHealth) {
	if r.metrics == nil {
		return
	}
	for _, component := range snapshot.Components {
		r.metrics.RecordHealthStatus(ctx, component.Name, healthLevel(component.Status))
	}
	for _, status := range r.breakers.Status() {
		r.metrics.RecordBreakerState(ctx, status.Name, breakerLevel(status.State))
	}
}

func (r *Runtime) startPredictor() {
	if r.predictCancel != nil {
		r.stopPredictor()
	}
	initRuntimeMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.predictCancel = cancel
	r.predictDone = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.predictInterval)
		defer ticker.Stop()
		r.logger.Info("runtime.predict.start",
			slog.Duration("interval", r.predictInterval),
		)
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("runtime.predict.stop")
				return
			case <-ticker.C:
				r.PredictTick(ctx)
			}
		}
	}()
}

func (r *Runtime) stopPredictor() {
	if r.predictCancel == nil {
		return
	}
	r.predictCancel()
	if r.predictDone != nil {
		<-r.predictDone
	}
	r.predictCancel = nil
	r.predictDone = nil
}

// PredictTick runs one predictive cycle over the retained history.
func (r *Runtime) PredictTick(ctx context.Context) {
	initRuntimeMetrics()
	start := time.Now()
	ctx, span := otel.Tracer("selfheal/runtime").Start(ctx, "runtime.predict.tick")
	defer span.End()

	r.predict.RunCycle(ctx, r.aggregator.History(0))

	predictTickCounter.Add(ctx, 1)
	predictLatencyMs.Record(ctx, float64(time.Since(start).Seconds()*1000))
}

func healthLevel(status core.ComponentStatus) int64 {
	switch status {
	case core.ComponentHealthy:
		return 3
	case core.ComponentWarning:
		return 2
	case core.ComponentError:
		return 1
	default:
		return 0
	}
}

func breakerLevel(state resilience.State) int64 {
	switch state {
	case resilience.StateClosed:
		return 2
	case resilience.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

var (
	runtimeMetricsOnce sync.Once
	tickCounter        metric.Int64Counter
	tickLatencyMs      metric.Float64Histogram
	predictTickCounter metric.Int64Counter
	predictLatencyMs   metric.Float64Histogram
)

func initRuntimeMetrics() {
	runtimeMetricsOnce.Do(func() {
		meter := otel.Meter("selfheal/runtime")
		tickCounter, _ = meter.Int64Counter("selfheal.runtime.monitor.tick.count")
		tickLatencyMs, _ = meter.Float64Histogram("selfheal.runtime.monitor.tick.latency_ms")
		predictTickCounter, _ = meter.Int64Counter("selfheal.runtime.predict.tick.count")
		predictLatencyMs, _ = meter.Float64Histogram("selfheal.runtime.predict.tick.latency_ms")
	})
}

func traceIDs(span trace.Span) (string, string) {
	sc := span.SpanContext()
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
