// SPDX-License-Identifier: Apache-2.0
package healing

import (
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/incident"
)

// DefaultCompositeRatio is the fraction of satisfied condition weight
// needed for a composite trigger to fire. It is a design constant carried
// over as a tunable default.
const DefaultCompositeRatio = 0.7

// EvalInput carries everything a trigger evaluation may inspect.
type EvalInput struct {
	Snapshot  core.SystemHealth
	History   []core.SystemHealth // oldest first, including Snapshot
	Incidents []incident.Incident // open incidents
	Now       time.Time
}

// Evaluator decides whether triggers fire against health state.
type Evaluator struct {
	// CompositeRatio overrides DefaultCompositeRatio when > 0.
	CompositeRatio float64
}

// Fires evaluates one trigger. Triggers carrying a window and minimum
// occurrence count must hold in that many snapshots inside the window;
// otherwise only the latest snapshot is consulted.
func (e Evaluator) Fires(trigger Trigger, input EvalInput) bool {
	if trigger.Window > 0 && trigger.MinOccurrences > 1 {
		return e.firesInWindow(trigger, input)
	}
	return e.firesOn(trigger, input.Snapshot, input.Incidents)
}

func (e Evaluator) firesInWindow(trigger Trigger, input EvalInput) bool {
	cutoff := input.Now.Add(-trigger.Window)
	occurrences := 0
	for _, snapshot := range input.History {
		if snapshot.Timestamp.Before(cutoff) {
			continue
		}
		if e.firesOn(trigger, snapshot, input.Incidents) {
			occurrences++
			if occurrences >= trigger.MinOccurrences {
				return true
			}
		}
	}
	return false
}

func (e Evaluator) firesOn(trigger Trigger, snapshot core.SystemHealth, incidents []incident.Incident) bool {
	switch trigger.Type {
	case TriggerThreshold:
		for _, condition := range trigger.Conditions {
			if !conditionHolds(condition, snapshot) {
				return false
			}
		}
		return len(trigger.Conditions) > 0

	case TriggerComposite:
		ratio := e.CompositeRatio
		if ratio <= 0 {
			ratio = DefaultCompositeRatio
		}
		var total, satisfied float64
		for _, condition := range trigger.Conditions {
			weight := condition.Weight
			if weight <= 0 {
				weight = 1
			}
			total += weight
			if conditionHolds(condition, snapshot) {
				satisfied += weight
			}
		}
		if total == 0 {
			return false
		}
		return satisfied/total >= ratio

	case TriggerPattern:
		return patternHolds(trigger, incidents)

	case TriggerAvailability:
		return len(snapshot.Failing()) > 0
	}
	return false
}

// conditionHolds checks one condition against a snapshot. A condition
// bound to a component checks only that component; otherwise it holds if
// any component's metrics satisfy it.
func conditionHolds(condition Condition, snapshot core.SystemHealth) bool {
	if condition.Component != "" {
		component, ok := snapshot.Component(condition.Component)
		if !ok {
			return false
		}
		return metricSatisfies(condition, component.Metrics)
	}
	for _, component := range snapshot.Components {
		if metricSatisfies(condition, component.Metrics) {
			return true
		}
	}
	return false
}

func metricSatisfies(condition Condition, metrics core.Metrics) bool {
	value, ok := metrics.Value(condition.Metric)
	if !ok {
		return false
	}
	return core.Compare(value, condition.Operator, condition.Threshold)
}

func patternHolds(trigger Trigger, incidents []incident.Incident) bool {
	switch trigger.Pattern {
	case PatternIncidentsExist:
		if trigger.Component == "" {
			return len(incidents) > 0
		}
		for _, inc := range incidents {
			if inc.References(trigger.Component) {
				return true
			}
		}
	}
	return false
}
