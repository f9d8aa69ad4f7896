// SPDX-License-Identifier: Apache-2.0
// Package recovery maps failing components to prioritized, cooldown-aware
// remediation actions and tracks their execution.
package recovery

import (
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/errors"
)

// Condition is one metric trigger. All conditions on an action must hold
// for the action to become a candidate.
type Condition struct {
	Metric    string        `json:"metric" yaml:"metric"`
	Operator  string        `json:"operator" yaml:"operator"`
	Threshold float64       `json:"threshold" yaml:"threshold"`
	Window    time.Duration `json:"window,omitempty" yaml:"window,omitempty"`
}

// Matches evaluates the condition against one metrics snapshot.
func (c Condition) Matches(m core.Metrics) bool {
	value, ok := m.Value(c.Metric)
	if !ok {
		return false
	}
	return core.Compare(value, c.Operator, c.Threshold)
}

// Action is one remediation definition from the static catalog. Only the
// enabled flag and the post-execution statistics mutate after load.
type Action struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Type       string         `json:"type" yaml:"type"`
	Priority   int            `json:"priority" yaml:"priority"` // 1-10, higher runs first
	Conditions []Condition    `json:"conditions" yaml:"conditions"`
	Operation  string         `json:"operation" yaml:"operation"`
	Params     map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Timeout    time.Duration  `json:"timeout" yaml:"timeout"`
	Retries    int            `json:"retries" yaml:"retries"`
	Cooldown   time.Duration  `json:"cooldown" yaml:"cooldown"`
	Enabled    bool           `json:"enabled" yaml:"enabled"`

	// Rolling execution statistics, updated after every run.
	SuccessRate  float64       `json:"success_rate" yaml:"-"`
	AvgDuration  time.Duration `json:"avg_duration" yaml:"-"`
	Executions   int64         `json:"executions" yaml:"-"`
	LastExecuted time.Time     `json:"last_executed,omitzero" yaml:"-"`
}

// Validate checks a catalog entry for structural problems.
func (a Action) Validate() error {
	if a.ID == "" {
		return errors.New(errors.CodeInvalidInput, "action id is required", nil)
	}
	if a.Operation == "" {
		return errors.New(errors.CodeInvalidInput, "action operation is required", nil).
			WithContext("action_id", a.ID)
	}
	if a.Priority < 1 || a.Priority > 10 {
		return errors.New(errors.CodeInvalidInput, "action priority must be between 1 and 10", nil).
			WithContext("action_id", a.ID)
	}
	for _, c := range a.Conditions {
		if c.Metric == "" || c.Operator == "" {
			return errors.New(errors.CodeInvalidInput, "condition requires metric and operator", nil).
				WithContext("action_id", a.ID)
		}
	}
	return nil
}

// Eligible reports whether every condition matches the component metrics.
// An action with no conditions matches any failing component.
func (a Action) Eligible(m core.Metrics) bool {
	for _, c := range a.Conditions {
		if !c.Matches(m) {
			return false
		}
	}
	return true
}

// ExecutionStatus tracks one in-flight or finished action instance.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// ActiveAction is one execution instance of a catalog action. It is
// discarded after its outcome is folded into the action statistics.
type ActiveAction struct {
	ID                string          `json:"id"`
	ActionID          string          `json:"action_id"`
	IncidentID        string          `json:"incident_id"`
	Component         string          `json:"component"`
	StartedAt         time.Time       `json:"started_at"`
	EstimatedDuration time.Duration   `json:"estimated_duration"`
	Status            ExecutionStatus `json:"status"`
	Progress          int             `json:"progress"` // percent
	Logs              []string        `json:"logs,omitempty"`
}
