// SPDX-License-Identifier: Apache-2.0
package healing

import (
	"testing"
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/incident"
)

func evalSnapshot(components ...core.ComponentHealth) core.SystemHealth {
	return core.SystemHealth{
		Timestamp:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Overall:    core.DeriveOverall(components),
		Components: components,
	}
}

func TestThresholdTriggerRequiresAllConditions(t *testing.T) {
	trigger := Trigger{
		Type: TriggerThreshold,
		Conditions: []Condition{
			{Metric: "cpu", Operator: ">", Threshold: 80},
			{Metric: "memory", Operator: ">", Threshold: 80},
		},
	}

	var evaluator Evaluator

	both := evalSnapshot(core.ComponentHealth{
		Name: "api", Status: core.ComponentError,
		Metrics: core.Metrics{CPU: 90, Memory: 90},
	})
	if !evaluator.Fires(trigger, EvalInput{Snapshot: both}) {
		t.Fatal("trigger did not fire with both conditions satisfied")
	}

	onlyCPU := evalSnapshot(core.ComponentHealth{
		Name: "api", Status: core.ComponentError,
		Metrics: core.Metrics{CPU: 90, Memory: 50},
	})
	if evaluator.Fires(trigger, EvalInput{Snapshot: onlyCPU}) {
		t.Fatal("trigger fired with only one condition satisfied")
	}
}

func TestCompositeTriggerRatioBoundary(t *testing.T) {
	trigger := Trigger{
		Type: TriggerComposite,
		Conditions: []Condition{
			{Metric: "cpu", Operator: ">", Threshold: 80, Weight: 0.7},
			{Metric: "memory", Operator: ">", Threshold: 80, Weight: 0.3},
		},
	}

	var evaluator Evaluator

	// Only the 0.7-weight condition holds: 0.7/1.0 meets the default ratio.
	cpuOnly := evalSnapshot(core.ComponentHealth{
		Name: "api", Metrics: core.Metrics{CPU: 90, Memory: 50},
	})
	if !evaluator.Fires(trigger, EvalInput{Snapshot: cpuOnly}) {
		t.Fatal("composite trigger did not fire at exactly the ratio")
	}

	// Only the 0.3-weight condition holds: below the ratio.
	memOnly := evalSnapshot(core.ComponentHealth{
		Name: "api", Metrics: core.Metrics{CPU: 50, Memory: 90},
	})
	if evaluator.Fires(trigger, EvalInput{Snapshot: memOnly}) {
		t.Fatal("composite trigger fired below the ratio")
	}

	// A stricter evaluator pushes the same input below threshold.
	strict := Evaluator{CompositeRatio: 0.8}
	if strict.Fires(trigger, EvalInput{Snapshot: cpuOnly}) {
		t.Fatal("composite trigger fired despite stricter ratio")
	}

	// A hair under the ratio must not fire: 0.699/1.0 < 0.7.
	hairUnder := Trigger{
		Type: TriggerComposite,
		Conditions: []Condition{
			{Metric: "cpu", Operator: ">", Threshold: 80, Weight: 0.699},
			{Metric: "memory", Operator: ">", Threshold: 80, Weight: 0.301},
		},
	}
	if evaluator.Fires(hairUnder, EvalInput{Snapshot: cpuOnly}) {
		t.Fatal("composite trigger fired at 0.699 satisfied weight")
	}
}

func TestCompositeConditionsDefaultWeightOne(t *testing.T) {
	trigger := Trigger{
		Type: TriggerComposite,
		Conditions: []Condition{
			{Metric: "cpu", Operator: ">", Threshold: 80},
			{Metric: "memory", Operator: ">", Threshold: 80},
			{Metric: "error_rate", Operator: ">", Threshold: 5},
		},
	}

	var evaluator Evaluator

	// 2 of 3 satisfied is 0.66, below 0.7.
	twoOfThree := evalSnapshot(core.ComponentHealth{
		Name: "api", Metrics: core.Metrics{CPU: 90, Memory: 90, ErrorRate: 1},
	})
	if evaluator.Fires(trigger, EvalInput{Snapshot: twoOfThree}) {
		t.Fatal("trigger fired at 2/3 satisfied weight")
	}

	allThree := evalSnapshot(core.ComponentHealth{
		Name: "api", Metrics: core.Metrics{CPU: 90, Memory: 90, ErrorRate: 9},
	})
	if !evaluator.Fires(trigger, EvalInput{Snapshot: allThree}) {
		t.Fatal("trigger did not fire with every condition satisfied")
	}
}

func TestConditionBoundToComponent(t *testing.T) {
	trigger := Trigger{
		Type: TriggerThreshold,
		Conditions: []Condition{
			{Metric: "cpu", Operator: ">", Threshold: 80, Component: "db"},
		},
	}

	var evaluator Evaluator

	wrongComponent := evalSnapshot(
		core.ComponentHealth{Name: "api", Metrics: core.Metrics{CPU: 95}},
		core.ComponentHealth{Name: "db", Metrics: core.Metrics{CPU: 20}},
	)
	if evaluator.Fires(trigger, EvalInput{Snapshot: wrongComponent}) {
		t.Fatal("component-bound condition matched a different component")
	}

	rightComponent := evalSnapshot(
		core.ComponentHealth{Name: "db", Metrics: core.Metrics{CPU: 95}},
	)
	if !evaluator.Fires(trigger, EvalInput{Snapshot: rightComponent}) {
		t.Fatal("component-bound condition did not match its component")
	}
}

func TestPatternTriggerIncidentsExist(t *testing.T) {
	trigger := Trigger{Type: TriggerPattern, Pattern: PatternIncidentsExist, Component: "db"}

	var evaluator Evaluator
	snapshot := evalSnapshot()

	none := EvalInput{Snapshot: snapshot}
	if evaluator.Fires(trigger, none) {
		t.Fatal("pattern trigger fired without incidents")
	}

	other := EvalInput{Snapshot: snapshot, Incidents: []incident.Incident{
		{ID: "1", Components: []string{"api"}},
	}}
	if evaluator.Fires(trigger, other) {
		t.Fatal("pattern trigger fired for an unrelated component")
	}

	matching := EvalInput{Snapshot: snapshot, Incidents: []incident.Incident{
		{ID: "2", Components: []string{"db"}},
	}}
	if !evaluator.Fires(trigger, matching) {
		t.Fatal("pattern trigger did not fire for its component")
	}
}

func TestAvailabilityTrigger(t *testing.T) {
	trigger := Trigger{Type: TriggerAvailability}
	var evaluator Evaluator

	healthy := evalSnapshot(core.ComponentHealth{Name: "api", Status: core.ComponentHealthy})
	if evaluator.Fires(trigger, EvalInput{Snapshot: healthy}) {
		t.Fatal("availability trigger fired with everything healthy")
	}

	down := evalSnapshot(core.ComponentHealth{Name: "api", Status: core.ComponentDown})
	if !evaluator.Fires(trigger, EvalInput{Snapshot: down}) {
		t.Fatal("availability trigger did not fire with a component down")
	}
}

func TestWindowedTriggerNeedsMinOccurrences(t *testing.T) {
	trigger := Trigger{
		Type: TriggerThreshold,
		Conditions: []Condition{
			{Metric: "cpu", Operator: ">", Threshold: 80},
		},
		Window:         time.Hour,
		MinOccurrences: 2,
	}

	var evaluator Evaluator
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	hot := func(offset time.Duration) core.SystemHealth {
		s := evalSnapshot(core.ComponentHealth{Name: "api", Metrics: core.Metrics{CPU: 95}})
		s.Timestamp = now.Add(offset)
		return s
	}
	cool := func(offset time.Duration) core.SystemHealth {
		s := evalSnapshot(core.ComponentHealth{Name: "api", Metrics: core.Metrics{CPU: 10}})
		s.Timestamp = now.Add(offset)
		return s
	}

	once := EvalInput{
		Snapshot: hot(0),
		History:  []core.SystemHealth{cool(-30 * time.Minute), hot(0)},
		Now:      now,
	}
	if evaluator.Fires(trigger, once) {
		t.Fatal("windowed trigger fired on a single occurrence")
	}

	twice := EvalInput{
		Snapshot: hot(0),
		History:  []core.SystemHealth{hot(-30 * time.Minute), hot(0)},
		Now:      now,
	}
	if !evaluator.Fires(trigger, twice) {
		t.Fatal("windowed trigger did not fire with enough occurrences")
	}

	// Occurrences before the window do not count.
	stale := EvalInput{
		Snapshot: hot(0),
		History:  []core.SystemHealth{hot(-2 * time.Hour), hot(0)},
		Now:      now,
	}
	if evaluator.Fires(trigger, stale) {
		t.Fatal("windowed trigger counted a stale occurrence")
	}
}
