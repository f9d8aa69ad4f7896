// SPDX-License-Identifier: Apache-2.0
// Package healing evaluates trigger definitions against health snapshots
// and runs multi-step healing strategies with rollback support.
package healing

import (
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/errors"
)

// TriggerType selects the evaluation rule for a strategy trigger.
type TriggerType string

const (
	// TriggerThreshold fires when all conditions satisfy their
	// operator/threshold pair.
	TriggerThreshold TriggerType = "threshold"

	// TriggerPattern fires on a domain-specific check, such as open
	// incidents existing for a component.
	TriggerPattern TriggerType = "pattern"

	// TriggerComposite fires when the weight of satisfied conditions
	// divided by total weight reaches the composite ratio.
	TriggerComposite TriggerType = "composite"

	// TriggerAvailability fires when any component is down or in error.
	TriggerAvailability TriggerType = "availability"
)

// PatternIncidentsExist is the pattern check for open incidents. With a
// component set on the condition it narrows to that component.
const PatternIncidentsExist = "incidents_exist"

// Condition is one weighted trigger clause. Component narrows the clause
// to a single component; empty matches any.
type Condition struct {
	Metric    string  `json:"metric" yaml:"metric"`
	Operator  string  `json:"operator" yaml:"operator"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Weight    float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
	Component string  `json:"component,omitempty" yaml:"component,omitempty"`
}

// Trigger is a strategy's firing rule.
type Trigger struct {
	Type           TriggerType   `json:"type" yaml:"type"`
	Conditions     []Condition   `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Pattern        string        `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Component      string        `json:"component,omitempty" yaml:"component,omitempty"`
	Window         time.Duration `json:"window,omitempty" yaml:"window,omitempty"`
	MinOccurrences int           `json:"min_occurrences,omitempty" yaml:"min_occurrences,omitempty"`
}

// References reports whether the trigger mentions the named metric.
func (t Trigger) References(metric string) bool {
	for _, c := range t.Conditions {
		if c.Metric == metric {
			return true
		}
	}
	return false
}

// Step is one ordered action inside a strategy. A failing step aborts the
// remaining steps and runs its rollback if defined.
type Step struct {
	Name      string         `json:"name" yaml:"name"`
	Operation string         `json:"operation" yaml:"operation"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Timeout   time.Duration  `json:"timeout" yaml:"timeout"`
	Retries   int            `json:"retries" yaml:"retries"`
	Rollback  *Step          `json:"rollback,omitempty" yaml:"rollback,omitempty"`
}

// Strategy is a named, triggerable, ordered sequence of remediation steps.
type Strategy struct {
	ID       string  `json:"id" yaml:"id"`
	Name     string  `json:"name" yaml:"name"`
	Trigger  Trigger `json:"trigger" yaml:"trigger"`
	Steps    []Step  `json:"steps" yaml:"steps"`
	Priority int     `json:"priority" yaml:"priority"` // 1-10, higher wins emergencies
	Enabled  bool    `json:"enabled" yaml:"enabled"`

	// Rolling execution statistics, updated after every run. The cooldown
	// between runs is twice the average execution time.
	SuccessRate  float64       `json:"success_rate" yaml:"-"`
	AvgDuration  time.Duration `json:"avg_duration" yaml:"-"`
	Executions   int64         `json:"executions" yaml:"-"`
	LastExecuted time.Time     `json:"last_executed,omitzero" yaml:"-"`
}

// Validate checks a strategy definition for structural problems.
func (s Strategy) Validate() error {
	if s.ID == "" {
		return errors.New(errors.CodeInvalidInput, "strategy id is required", nil)
	}
	if len(s.Steps) == 0 {
		return errors.New(errors.CodeInvalidInput, "strategy requires at least one step", nil).
			WithContext("strategy_id", s.ID)
	}
	if s.Priority < 1 || s.Priority > 10 {
		return errors.New(errors.CodeInvalidInput, "strategy priority must be between 1 and 10", nil).
			WithContext("strategy_id", s.ID)
	}
	switch s.Trigger.Type {
	case TriggerThreshold, TriggerComposite:
		if len(s.Trigger.Conditions) == 0 {
			return errors.New(errors.CodeInvalidInput, "trigger requires conditions", nil).
				WithContext("strategy_id", s.ID)
		}
	case TriggerPattern:
		if s.Trigger.Pattern == "" {
			return errors.New(errors.CodeInvalidInput, "pattern trigger requires a pattern", nil).
				WithContext("strategy_id", s.ID)
		}
	case TriggerAvailability:
	default:
		return errors.New(errors.CodeInvalidInput, "unknown trigger type", nil).
			WithContext("strategy_id", s.ID).
			WithContext("trigger_type", string(s.Trigger.Type))
	}
	for _, step := range s.Steps {
		if step.Operation == "" {
			return errors.New(errors.CodeInvalidInput, "step operation is required", nil).
				WithContext("strategy_id", s.ID).
				WithContext("step", step.Name)
		}
	}
	return nil
}

// Cooldown returns how long the strategy must rest after an execution.
func (s Strategy) Cooldown() time.Duration {
	return 2 * s.AvgDuration
}
