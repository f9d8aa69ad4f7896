// SPDX-License-Identifier: Apache-2.0
package healing

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/errors"
)

type scriptedExecutor struct {
	mu    sync.Mutex
	ops   []string
	fail  map[string]error // operation -> error to return
	block chan struct{}
}

func (s *scriptedExecutor) Execute(_ context.Context, operation string, _ map[string]any) (any, error) {
	s.mu.Lock()
	s.ops = append(s.ops, operation)
	err := s.fail[operation]
	block := s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return "ok", nil
}

func (s *scriptedExecutor) operations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func availabilityStrategy(id string, priority int, steps ...Step) Strategy {
	return Strategy{
		ID:       id,
		Name:     id,
		Trigger:  Trigger{Type: TriggerAvailability},
		Steps:    steps,
		Priority: priority,
		Enabled:  true,
	}
}

func failingInput(overall core.SystemStatus) EvalInput {
	status := core.ComponentError
	if overall == core.SystemDown {
		status = core.ComponentDown
	}
	snapshot := core.SystemHealth{
		Timestamp: time.Now(),
		Overall:   overall,
		Components: []core.ComponentHealth{
			{Name: "api", Status: status, Metrics: core.Metrics{CPU: 95}},
		},
	}
	return EvalInput{Snapshot: snapshot, History: []core.SystemHealth{snapshot}}
}

func TestStrategyRunsStepsInOrder(t *testing.T) {
	executor := &scriptedExecutor{}
	engine := NewEngine(executor)

	strategy := availabilityStrategy("restart-stack", 5,
		Step{Name: "drain", Operation: "drain_traffic"},
		Step{Name: "restart", Operation: "restart_service"},
		Step{Name: "verify", Operation: "verify_health"},
	)
	if err := engine.Register(strategy); err != nil {
		t.Fatalf("Register: %v", err)
	}

	engine.HandleSnapshot(context.Background(), failingInput(core.SystemDegraded))
	engine.Wait()

	want := []string{"drain_traffic", "restart_service", "verify_health"}
	ops := executor.operations()
	if len(ops) != len(want) {
		t.Fatalf("operations = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("operations = %v, want %v", ops, want)
		}
	}

	recent := engine.RecentExecutions(1)
	if len(recent) != 1 {
		t.Fatalf("recent executions = %d, want 1", len(recent))
	}
	execution := recent[0]
	if execution.Status != ExecutionCompleted {
		t.Fatalf("status = %s, want completed", execution.Status)
	}
	if execution.Progress != 100 {
		t.Fatalf("progress = %d, want 100", execution.Progress)
	}
	if execution.Metrics.SuccessfulSteps != 3 || execution.Metrics.FailedSteps != 0 {
		t.Fatalf("metrics = %+v", execution.Metrics)
	}
	if execution.Metrics.SystemImpact != 100 {
		t.Fatalf("system impact = %v, want 100", execution.Metrics.SystemImpact)
	}
}

func TestStepFailureRunsRollbackAndSkipsRest(t *testing.T) {
	executor := &scriptedExecutor{fail: map[string]error{
		"migrate_schema": stderrors.New("migration failed"),
	}}
	engine := NewEngine(executor)

	strategy := availabilityStrategy("migrate", 5,
		Step{Name: "backup", Operation: "backup_db"},
		Step{
			Name:      "migrate",
			Operation: "migrate_schema",
			Rollback:  &Step{Name: "restore", Operation: "restore_backup"},
		},
		Step{Name: "verify", Operation: "verify_schema"},
	)
	if err := engine.Register(strategy); err != nil {
		t.Fatalf("Register: %v", err)
	}

	engine.HandleSnapshot(context.Background(), failingInput(core.SystemDegraded))
	engine.Wait()

	recent := engine.RecentExecutions(1)
	if len(recent) != 1 {
		t.Fatalf("recent executions = %d, want 1", len(recent))
	}
	execution := recent[0]
	if execution.Status != ExecutionRolledBack {
		t.Fatalf("status = %s, want rolled_back", execution.Status)
	}

	// backup completed, migrate failed, restore ran as rollback, verify skipped.
	byName := make(map[string]ExecutedStep)
	for _, step := range execution.Steps {
		byName[step.Name] = step
	}
	if byName["backup"].Status != StepCompleted {
		t.Fatalf("backup status = %s, want completed", byName["backup"].Status)
	}
	if byName["migrate"].Status != StepFailed {
		t.Fatalf("migrate status = %s, want failed", byName["migrate"].Status)
	}
	restore := byName["restore"]
	if !restore.Rollback || restore.Status != StepRolledBack {
		t.Fatalf("restore step = %+v, want executed rollback", restore)
	}
	if byName["verify"].Status != StepSkipped {
		t.Fatalf("verify status = %s, want skipped", byName["verify"].Status)
	}

	ops := executor.operations()
	for _, op := range ops {
		if op == "verify_schema" {
			t.Fatal("skipped step was executed")
		}
	}
}

func TestStepFailureWithoutRollbackFails(t *testing.T) {
	executor := &scriptedExecutor{fail: map[string]error{
		"restart_service": stderrors.New("nope"),
	}}
	engine := NewEngine(executor)

	strategy := availabilityStrategy("restart", 5,
		Step{Name: "restart", Operation: "restart_service"},
	)
	if err := engine.Register(strategy); err != nil {
		t.Fatalf("Register: %v", err)
	}

	engine.HandleSnapshot(context.Background(), failingInput(core.SystemDegraded))
	engine.Wait()

	recent := engine.RecentExecutions(1)
	if recent[0].Status != ExecutionFailed {
		t.Fatalf("status = %s, want failed", recent[0].Status)
	}

	strategies := engine.Strategies()
	if strategies[0].SuccessRate != 0 {
		t.Fatalf("success rate = %v, want 0", strategies[0].SuccessRate)
	}
}

func TestEmergencyPassRunsOnlyHighestPriority(t *testing.T) {
	executor := &scriptedExecutor{}
	engine := NewEngine(executor)

	if err := engine.Register(availabilityStrategy("low", 7, Step{Name: "a", Operation: "op_low"})); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := engine.Register(availabilityStrategy("high", 9, Step{Name: "b", Operation: "op_high"})); err != nil {
		t.Fatalf("Register: %v", err)
	}

	engine.HandleSnapshot(context.Background(), failingInput(core.SystemCritical))
	engine.Wait()

	ops := executor.operations()
	if len(ops) != 1 || ops[0] != "op_high" {
		t.Fatalf("operations = %v, want only op_high", ops)
	}
}

func TestNonEmergencyPassRunsAllEligible(t *testing.T) {
	executor := &scriptedExecutor{}
	engine := NewEngine(executor)

	if err := engine.Register(availabilityStrategy("low", 7, Step{Name: "a", Operation: "op_low"})); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := engine.Register(availabilityStrategy("high", 9, Step{Name: "b", Operation: "op_high"})); err != nil {
		t.Fatalf("Register: %v", err)
	}

	engine.HandleSnapshot(context.Background(), failingInput(core.SystemDegraded))
	engine.Wait()

	if ops := executor.operations(); len(ops) != 2 {
		t.Fatalf("operations = %v, want both strategies", ops)
	}
}

func TestStartStrategyGuards(t *testing.T) {
	executor := &scriptedExecutor{block: make(chan struct{})}
	engine := NewEngine(executor)

	if _, err := engine.StartStrategy(context.Background(), "missing"); !errors.HasCode(err, errors.CodeNotFound) {
		t.Fatalf("unknown strategy error = %v, want NOT_FOUND", err)
	}

	disabled := availabilityStrategy("disabled", 5, Step{Name: "a", Operation: "op"})
	disabled.Enabled = false
	if err := engine.Register(disabled); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := engine.StartStrategy(context.Background(), "disabled"); !errors.HasCode(err, errors.CodeInvalidState) {
		t.Fatalf("disabled strategy error = %v, want INVALID_STATE", err)
	}

	blocked := availabilityStrategy("blocked", 5, Step{Name: "a", Operation: "op"})
	if err := engine.Register(blocked); err != nil {
		t.Fatalf("Register: %v", err)
	}
	id, err := engine.StartStrategy(context.Background(), "blocked")
	if err != nil || id == "" {
		t.Fatalf("StartStrategy = %q, %v", id, err)
	}
	if _, err := engine.StartStrategy(context.Background(), "blocked"); !errors.HasCode(err, errors.CodeInvalidState) {
		t.Fatalf("running strategy error = %v, want INVALID_STATE", err)
	}

	close(executor.block)
	engine.Wait()
}

func TestCooldownIsTwiceAverageDuration(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	executor := &scriptedExecutor{}
	engine := NewEngine(executor, WithClock(clock))

	rested := availabilityStrategy("rested", 5, Step{Name: "a", Operation: "op"})
	rested.AvgDuration = time.Minute
	rested.Executions = 1
	rested.LastExecuted = now.Add(-90 * time.Second)
	if err := engine.Register(rested); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// 90s elapsed of a 120s cooldown: still resting.
	if _, err := engine.StartStrategy(context.Background(), "rested"); !errors.HasCode(err, errors.CodeInvalidState) {
		t.Fatalf("cooling strategy error = %v, want INVALID_STATE", err)
	}

	mu.Lock()
	now = now.Add(31 * time.Second)
	mu.Unlock()

	if _, err := engine.StartStrategy(context.Background(), "rested"); err != nil {
		t.Fatalf("StartStrategy after cooldown: %v", err)
	}
	engine.Wait()
}

func TestFirstForMetricPrefersPriority(t *testing.T) {
	engine := NewEngine(&scriptedExecutor{})

	low := Strategy{
		ID:       "scale-low",
		Trigger:  Trigger{Type: TriggerThreshold, Conditions: []Condition{{Metric: "cpu", Operator: ">", Threshold: 70}}},
		Steps:    []Step{{Name: "a", Operation: "op"}},
		Priority: 3,
		Enabled:  true,
	}
	high := Strategy{
		ID:       "scale-high",
		Trigger:  Trigger{Type: TriggerThreshold, Conditions: []Condition{{Metric: "cpu", Operator: ">", Threshold: 90}}},
		Steps:    []Step{{Name: "a", Operation: "op"}},
		Priority: 8,
		Enabled:  true,
	}
	for _, s := range []Strategy{low, high} {
		if err := engine.Register(s); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	got, ok := engine.FirstForMetric("cpu")
	if !ok || got.ID != "scale-high" {
		t.Fatalf("FirstForMetric = %v, %v, want scale-high", got.ID, ok)
	}
	if _, ok := engine.FirstForMetric("throughput"); ok {
		t.Fatal("FirstForMetric matched an unreferenced metric")
	}
}
