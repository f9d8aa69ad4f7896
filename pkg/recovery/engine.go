// SPDX-License-Identifier: Apache-2.0
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/errors"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/incident"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/resilience"
)

// Engine reacts to health snapshots by executing matching recovery
// actions. Executions run detached so the polling loop is never blocked;
// the engine guarantees single-flight per action id and respects each
// action's cooldown.
type Engine struct {
	executor core.ActionExecutor
	tracker  *incident.Tracker
	emitter  core.EventEmitter
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	actions map[string]*Action
	active  map[string]*ActiveAction // instance id -> running instance
	running map[string]bool          // action id -> single-flight guard
	wg      sync.WaitGroup
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithEmitter sets the emitter receiving action outcome events.
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

// NewEngine creates a recovery engine bound to an executor and incident
// tracker.
func NewEngine(executor core.ActionExecutor, tracker *incident.Tracker, opts ...EngineOption) *Engine {
	e := &Engine{
		executor: executor,
		tracker:  tracker,
		emitter:  core.NoopEventEmitter{},
		logger:   slog.Default(),
		now:      time.Now,
		actions:  make(map[string]*Action),
		active:   make(map[string]*ActiveAction),
		running:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds an action definition to the catalog, replacing any
// previous definition with the same id.
func (e *Engine) Register(action Action) error {
	if err := action.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	a := action
	e.actions[a.ID] = &a
	return nil
}

// RegisterCatalog adds every action from a loaded catalog.
func (e *Engine) RegisterCatalog(catalog *Catalog) error {
	for _, action := range catalog.Actions {
		if err := e.Register(action); err != nil {
			return err
		}
	}
	return nil
}

// SetEnabled flips the enabled flag of one action.
func (e *Engine) SetEnabled(actionID string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	action, ok := e.actions[actionID]
	if !ok {
		return errors.New(errors.CodeNotFound, "action not found", nil).
			WithContext("action_id", actionID)
	}
	action.Enabled = enabled
	return nil
}

// Actions returns a snapshot of the catalog sorted by priority descending.
func (e *Engine) Actions() []Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Action, 0, len(e.actions))
	for _, a := range e.actions {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Active returns the currently running action instances.
func (e *Engine) Active() []ActiveAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ActiveAction, 0, len(e.active))
	for _, inst := range e.active {
		copied := *inst
		copied.Logs = append([]string(nil), inst.Logs...)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// HandleSnapshot evaluates the catalog against every failing component in
// the snapshot and dispatches eligible actions. Dispatch is asynchronous;
// call Wait to drain in tests and on shutdown.
func (e *Engine) HandleSnapshot(ctx context.Context, snapshot core.SystemHealth) {
	for _, component := range snapshot.Failing() {
		for _, action := range e.candidates(component) {
			e.dispatch(ctx, action, component)
		}
	}
}

// candidates returns enabled actions whose conditions all match the
// component metrics, priority descending, excluding cooling-down and
// already-running actions.
func (e *Engine) candidates(component core.ComponentHealth) []Action {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Action
	for _, action := range e.actions {
		if !action.Enabled || !action.Eligible(component.Metrics) {
			continue
		}
		if e.running[action.ID] {
			continue
		}
		if action.Cooldown > 0 && !action.LastExecuted.IsZero() && now.Sub(action.LastExecuted) < action.Cooldown {
			continue
		}
		out = append(out, *action)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// dispatch opens or reuses an incident, registers the instance, and runs
// the action in a detached goroutine.
func (e *Engine) dispatch(ctx context.Context, action Action, component core.ComponentHealth) {
	inc, found, err := e.tracker.OpenForComponent(ctx, component.Name)
	if err == nil && !found {
		inc, err = e.tracker.Create(ctx, action.Name, component)
	}
	if err != nil {
		e.logger.Error("recovery.incident.error",
			slog.String("action_id", action.ID),
			slog.String("component", component.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	_ = e.tracker.AttachAction(ctx, inc.ID, action.ID)
	if _, err := e.tracker.SetStatus(ctx, inc.ID, incident.StatusResolving); err != nil {
		e.logger.Warn("recovery.incident.status.error",
			slog.String("incident_id", inc.ID),
			slog.String("error", err.Error()),
		)
	}

	estimated := action.AvgDuration
	if estimated == 0 {
		estimated = action.Timeout
	}
	instance := &ActiveAction{
		ID:                uuid.NewString(),
		ActionID:          action.ID,
		IncidentID:        inc.ID,
		Component:         component.Name,
		StartedAt:         e.now(),
		EstimatedDuration: estimated,
		Status:            ExecutionRunning,
		Progress:          0,
	}

	e.mu.Lock()
	// Re-check under lock: another component may have dispatched this
	// action between candidate selection and now.
	if e.running[action.ID] {
		e.mu.Unlock()
		return
	}
	e.running[action.ID] = true
	e.active[instance.ID] = instance
	e.mu.Unlock()

	e.logger.Info("recovery.action.start",
		slog.String("action_id", action.ID),
		slog.String("instance_id", instance.ID),
		slog.String("incident_id", inc.ID),
		slog.String("component", component.Name),
	)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(context.WithoutCancel(ctx), action, instance)
	}()
}

// execute runs the opaque operation with the action's timeout and retry
// budget, then folds the outcome into the catalog statistics. Failures
// are contained here; they never propagate past the engine.
func (e *Engine) execute(ctx context.Context, action Action, instance *ActiveAction) {
	start := e.now()
	e.progress(instance, 10, fmt.Sprintf("executing %s on %s", action.Operation, instance.Component))

	retry := resilience.DefaultRetryConfig().WithMaxAttempts(action.Retries + 1)
	err := retry.Do(ctx, func() error {
		return resilience.WithTimeout(ctx, resilience.TimeoutConfig{Duration: action.Timeout}, func() error {
			_, execErr := e.executor.Execute(ctx, action.Operation, action.Params)
			return execErr
		})
	})
	duration := e.now().Sub(start)

	if err != nil {
		e.finish(ctx, action, instance, duration, errors.New(errors.CodeActionFailed, "recovery action failed", err).
			WithContext("action_id", action.ID).
			WithContext("component", instance.Component))
		return
	}
	e.finish(ctx, action, instance, duration, nil)
}

func (e *Engine) progress(instance *ActiveAction, percent int, line string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	instance.Progress = percent
	if line != "" {
		instance.Logs = append(instance.Logs, line)
	}
}

func (e *Engine) finish(ctx context.Context, action Action, instance *ActiveAction, duration time.Duration, failure *errors.EngineError) {
	success := failure == nil

	e.mu.Lock()
	if stored, ok := e.actions[action.ID]; ok {
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
	if success {
		instance.Status = ExecutionCompleted
		instance.Progress = 100
		instance.Logs = append(instance.Logs, fmt.Sprintf("completed in %s", duration))
	} else {
		instance.Status = ExecutionFailed
		instance.Logs = append(instance.Logs, failure.Error())
	}
	delete(e.running, action.ID)
	delete(e.active, instance.ID)
	e.mu.Unlock()

	if success {
		e.logger.Info("recovery.action.completed",
			slog.String("action_id", action.ID),
			slog.String("instance_id", instance.ID),
			slog.Duration("duration", duration),
		)
		e.emitter.Emit(ctx, core.NewEvent(core.EventRecoveryActionCompleted, instance.Component, map[string]any{
			"action_id":   action.ID,
			"instance_id": instance.ID,
			"incident_id": instance.IncidentID,
			"duration":    duration,
		}))
		return
	}

	// The incident stays open for the next cycle or for a higher-priority
	// action to attempt.
	e.logger.Warn("recovery.action.failed",
		slog.String("action_id", action.ID),
		slog.String("instance_id", instance.ID),
		slog.String("error", failure.Error()),
	)
	e.emitter.Emit(ctx, core.NewEvent(core.EventRecoveryActionFailed, instance.Component, map[string]any{
		"action_id":   action.ID,
		"instance_id": instance.ID,
		"incident_id": instance.IncidentID,
		"error":       failure.Error(),
	}))
}

// Wait blocks until every dispatched execution has finished. Used by
// tests and shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}
