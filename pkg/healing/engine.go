// SPDX-License-Identifier: Apache-2.0
package healing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/errors"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/resilience"
)

const recentExecutionCap = 100

// Engine owns the strategy catalog and runs strategies against health
// snapshots. Strategies are single-flight and rest for twice their
// average execution time between runs. During an emergency pass (overall
// health critical) only the single highest-priority eligible strategy
// runs, to avoid compounding risk.
type Engine struct {
	executor  core.ActionExecutor
	emitter   core.EventEmitter
	logger    *slog.Logger
	now       func() time.Time
	evaluator Evaluator
	tracer    trace.Tracer

	// emergencySingle keeps the emergency pass to one strategy. Carried
	// as a tunable; the stock behavior is on.
	emergencySingle bool

	mu         sync.Mutex
	strategies map[string]*Strategy
	running    map[string]bool       // strategy id -> single-flight guard
	active     map[string]*Execution // execution id -> running execution
	recent     []*Execution          // finished executions, newest last
	wg         sync.WaitGroup
}

// EngineOption configures optional engine collaborators and tunables.
type EngineOption func(*Engine)

// WithEmitter sets the emitter receiving strategy outcome events.
func WithEmitter(emitter core.EventEmitter) EngineOption {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock injects a clock for deterministic tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithCompositeRatio tunes the composite-trigger firing ratio.
func WithCompositeRatio(ratio float64) EngineOption {
	return func(e *Engine) {
		if ratio > 0 && ratio <= 1 {
			e.evaluator.CompositeRatio = ratio
		}
	}
}

// WithEmergencySingle toggles the single-strategy emergency rule.
func WithEmergencySingle(single bool) EngineOption {
	return func(e *Engine) { e.emergencySingle = single }
}

// NewEngine creates a healing engine bound to an action executor.
func NewEngine(executor core.ActionExecutor, opts ...EngineOption) *Engine {
	e := &Engine{
		executor:        executor,
		emitter:         core.NoopEventEmitter{},
		logger:          slog.Default(),
		now:             time.Now,
		tracer:          otel.Tracer("selfheal/healing"),
		emergencySingle: true,
		strategies:      make(map[string]*Strategy),
		running:         make(map[string]bool),
		active:          make(map[string]*Execution),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a strategy to the catalog, replacing any previous
// definition with the same id.
func (e *Engine) Register(strategy Strategy) error {
	if err := strategy.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := strategy
	e.strategies[s.ID] = &s
	return nil
}

// RegisterCatalog adds every strategy from a loaded catalog.
func (e *Engine) RegisterCatalog(catalog *Catalog) error {
	for _, strategy := range catalog.Strategies {
		if err := e.Register(strategy); err != nil {
			return err
		}
	}
	return nil
}

// SetEnabled flips the enabled flag of one strategy.
func (e *Engine) SetEnabled(strategyID string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	strategy, ok := e.strategies[strategyID]
	if !ok {
		return errors.New(errors.CodeNotFound, "strategy not found", nil).
			WithContext("strategy_id", strategyID)
	}
	strategy.Enabled = enabled
	return nil
}

// Strategies returns a snapshot of the catalog, priority descending.
func (e *Engine) Strategies() []Strategy {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Strategy, 0, len(e.strategies))
	for _, s := range e.strategies {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ActiveExecutions returns the currently running executions.
func (e *Engine) ActiveExecutions() []Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Execution, 0, len(e.active))
	for _, exec := range e.active {
		out = append(out, cloneExecution(exec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// RecentExecutions returns finished executions, newest first.
func (e *Engine) RecentExecutions(limit int) []Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.recent) {
		limit = len(e.recent)
	}
	out := make([]Execution, 0, limit)
	for i := len(e.recent) - 1; i >= len(e.recent)-limit; i-- {
		out = append(out, cloneExecution(e.recent[i]))
	}
	return out
}

// HandleSnapshot dispatches strategies for one polling cycle. A critical
// overall status takes the emergency path: the single highest-priority
// eligible strategy runs and the pass stops. Otherwise every eligible
// strategy runs, each respecting single-flight and cooldown.
func (e *Engine) HandleSnapshot(ctx context.Context, input EvalInput) {
	eligible := e.eligible(input)
	if len(eligible) == 0 {
		return
	}

	if input.Snapshot.Overall == core.SystemCritical && e.emergencySingle {
		e.start(ctx, eligible[0])
		return
	}
	for _, strategy := range eligible {
		e.start(ctx, strategy)
	}
}

// StartStrategy runs one strategy directly, bypassing trigger evaluation
// but not the single-flight and cooldown rules. Used by the predictive
// layer and manual operations.
func (e *Engine) StartStrategy(ctx context.Context, strategyID string) (string, error) {
	e.mu.Lock()
	strategy, ok := e.strategies[strategyID]
	if !ok {
		e.mu.Unlock()
		return "", errors.New(errors.CodeNotFound, "strategy not found", nil).
			WithContext("strategy_id", strategyID)
	}
	if !strategy.Enabled {
		e.mu.Unlock()
		return "", errors.New(errors.CodeInvalidState, "strategy is disabled", nil).
			WithContext("strategy_id", strategyID)
	}
	if e.running[strategyID] {
		e.mu.Unlock()
		return "", errors.New(errors.CodeInvalidState, "strategy already running", nil).
			WithContext("strategy_id", strategyID)
	}
	if e.coolingLocked(strategy) {
		e.mu.Unlock()
		return "", errors.New(errors.CodeInvalidState, "strategy is cooling down", nil).
			WithContext("strategy_id", strategyID)
	}
	snapshot := *strategy
	e.mu.Unlock()
	return e.start(ctx, snapshot), nil
}

// FirstForMetric returns the first enabled strategy whose trigger
// references the metric, by priority.
func (e *Engine) FirstForMetric(metric string) (Strategy, bool) {
	for _, strategy := range e.Strategies() {
		if strategy.Enabled && strategy.Trigger.References(metric) {
			return strategy, true
		}
	}
	return Strategy{}, false
}

// eligible returns enabled, idle, rested strategies whose triggers fire,
// priority descending.
func (e *Engine) eligible(input EvalInput) []Strategy {
	if input.Now.IsZero() {
		input.Now = e.now()
	}

	e.mu.Lock()
	var candidates []Strategy
	for _, strategy := range e.strategies {
		if !strategy.Enabled || e.running[strategy.ID] || e.coolingLocked(strategy) {
			continue
		}
		candidates = append(candidates, *strategy)
	}
	e.mu.Unlock()

	var out []Strategy
	for _, strategy := range candidates {
		if e.evaluator.Fires(strategy.Trigger, input) {
			out = append(out, strategy)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// coolingLocked reports whether the strategy is inside its cooldown.
// Must be called under lock.
func (e *Engine) coolingLocked(strategy *Strategy) bool {
	cooldown := strategy.Cooldown()
	if cooldown <= 0 || strategy.LastExecuted.IsZero() {
		return false
	}
	return e.now().Sub(strategy.LastExecuted) < cooldown
}

// start registers an execution and runs the strategy in a detached
// goroutine. Returns the execution id, or "" if the strategy was already
// running.
func (e *Engine) start(ctx context.Context, strategy Strategy) string {
	execution := &Execution{
		ID:         uuid.NewString(),
		StrategyID: strategy.ID,
		StartedAt:  e.now(),
		Status:     ExecutionRunning,
		Steps:      make([]ExecutedStep, 0, len(strategy.Steps)),
	}

	e.mu.Lock()
	if e.running[strategy.ID] {
		e.mu.Unlock()
		return ""
	}
	e.running[strategy.ID] = true
	e.active[execution.ID] = execution
	e.mu.Unlock()

	e.logger.Info("healing.strategy.start",
		slog.String("strategy_id", strategy.ID),
		slog.String("execution_id", execution.ID),
		slog.Int("steps", len(strategy.Steps)),
	)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(context.WithoutCancel(ctx), strategy, execution)
	}()
	return execution.ID
}

// run executes the strategy's steps strictly in order. A failed step
// aborts the remaining steps, runs its rollback if defined, and decides
// the final status: rolled_back when a rollback ran, failed otherwise.
func (e *Engine) run(ctx context.Context, strategy Strategy, execution *Execution) {
	ctx, span := e.tracer.Start(ctx, "Healing.Strategy",
		trace.WithAttributes(
			attribute.String("strategy.id", strategy.ID),
			attribute.String("execution.id", execution.ID),
		),
	)
	defer span.End()

	start := e.now()
	final := ExecutionCompleted
	rolledBack := false

	for i, step := range strategy.Steps {
		err := e.runStep(ctx, execution, step, false)
		if err == nil {
			e.withExecution(execution, func(x *Execution) {
				x.Progress = (i + 1) * 100 / len(strategy.Steps)
			})
			continue
		}

		stepErr := errors.New(errors.CodeStrategyStepFailed, "healing step failed", err).
			WithContext("strategy_id", strategy.ID).
			WithContext("step", step.Name)
		span.RecordError(stepErr)

		if step.Rollback != nil {
			rollbackErr := e.runStep(ctx, execution, *step.Rollback, true)
			rolledBack = true
			if rollbackErr != nil {
				e.withExecution(execution, func(x *Execution) {
					x.log(e.now(), "error", fmt.Sprintf("rollback %s failed: %v", step.Rollback.Name, rollbackErr))
				})
			}
		}

		e.withExecution(execution, func(x *Execution) {
			for j := i + 1; j < len(strategy.Steps); j++ {
				x.Steps = append(x.Steps, ExecutedStep{
					Name:      strategy.Steps[j].Name,
					Operation: strategy.Steps[j].Operation,
					Status:    StepSkipped,
				})
			}
			x.log(e.now(), "error", stepErr.Error())
		})

		if rolledBack {
			final = ExecutionRolledBack
		} else {
			final = ExecutionFailed
		}
		break
	}

	e.finish(ctx, strategy, execution, final, e.now().Sub(start))
}

// runStep executes one step (or rollback) with its timeout and retry
// budget and records the outcome on the execution.
func (e *Engine) runStep(ctx context.Context, execution *Execution, step Step, rollback bool) error {
	ctx, span := e.tracer.Start(ctx, "Healing.Step",
		trace.WithAttributes(
			attribute.String("step.name", step.Name),
			attribute.String("step.operation", step.Operation),
			attribute.Bool("step.rollback", rollback),
		),
	)
	defer span.End()

	record := ExecutedStep{
		Name:      step.Name,
		Operation: step.Operation,
		Status:    StepRunning,
		StartedAt: e.now(),
		Rollback:  rollback,
	}
	var index int
	e.withExecution(execution, func(x *Execution) {
		x.Steps = append(x.Steps, record)
		index = len(x.Steps) - 1
		x.log(record.StartedAt, "info", fmt.Sprintf("running %s (%s)", step.Name, step.Operation))
	})

	retry := resilience.DefaultRetryConfig().WithMaxAttempts(step.Retries + 1)
	result, err := retry.DoWithResult(ctx, func() (interface{}, error) {
		return resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{Duration: step.Timeout}, func() (interface{}, error) {
			return e.executor.Execute(ctx, step.Operation, step.Params)
		})
	})

	ended := e.now()
	e.withExecution(execution, func(x *Execution) {
		x.Steps[index].EndedAt = ended
		if err != nil {
			status := StepFailed
			if rollback {
				status = StepRolledBack
			}
			x.Steps[index].Status = status
			x.Steps[index].Error = err.Error()
			return
		}
		if rollback {
			x.Steps[index].Status = StepRolledBack
		} else {
			x.Steps[index].Status = StepCompleted
		}
		x.Steps[index].Result = result
	})

	if err != nil {
		span.RecordError(err)
	}
	return err
}

// finish folds the outcome into the strategy statistics and publishes it.
func (e *Engine) finish(ctx context.Context, strategy Strategy, execution *Execution, final ExecutionStatus, duration time.Duration) {
	success := final == ExecutionCompleted

	e.mu.Lock()
	if stored, ok := e.strategies[strategy.ID]; ok {
		stored.Executions++
		n := float64(stored.Executions)
		outcome := 0.0
		if success {
			outcome = 100.0
		}
		stored.SuccessRate = (stored.SuccessRate*(n-1) + outcome) / n
		stored.AvgDuration = time.Duration((float64(stored.AvgDuration)*(n-1) + float64(duration)) / n)
		stored.LastExecuted = e.now()
	}

	execution.Status = final
	execution.EndedAt = e.now()
	if success {
		execution.Progress = 100
	}
	var successful, failed int
	for _, step := range execution.Steps {
		switch step.Status {
		case StepCompleted:
			successful++
		case StepFailed, StepRolledBack:
			failed++
		}
	}
	execution.Metrics = ExecutionMetrics{
		Duration:        duration,
		SuccessfulSteps: successful,
		FailedSteps:     failed,
		SystemImpact:    float64(successful) * 100 / float64(len(strategy.Steps)),
		ResourceUsage:   float64(len(execution.Steps)) * duration.Seconds(),
	}

	delete(e.running, strategy.ID)
	delete(e.active, execution.ID)
	e.recent = append(e.recent, execution)
	if len(e.recent) > recentExecutionCap {
		e.recent = append(e.recent[:0:0], e.recent[len(e.recent)-recentExecutionCap:]...)
	}
	e.mu.Unlock()

	e.logger.Info("healing.strategy.finished",
		slog.String("strategy_id", strategy.ID),
		slog.String("execution_id", execution.ID),
		slog.String("status", string(final)),
		slog.Duration("duration", duration),
	)
	e.emitter.Emit(ctx, core.NewEvent(core.EventHealingStrategyCompleted, "", map[string]any{
		"strategy_id":  strategy.ID,
		"execution_id": execution.ID,
		"status":       string(final),
		"duration":     duration,
	}))
}

// withExecution mutates an execution under the engine lock.
func (e *Engine) withExecution(execution *Execution, fn func(*Execution)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(execution)
}

// Wait blocks until every dispatched execution has finished. Used by
// tests and shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func cloneExecution(execution *Execution) Execution {
	out := *execution
	out.Steps = append([]ExecutedStep(nil), execution.Steps...)
	out.Logs = append([]LogEntry(nil), execution.Logs...)
	return out
}
