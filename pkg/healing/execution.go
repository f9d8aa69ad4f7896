// SPDX-License-Identifier: Apache-2.0
package healing

import (
	"time"
)

// ExecutionStatus is the lifecycle state of one strategy run.
type ExecutionStatus string

const (
	ExecutionRunning    ExecutionStatus = "running"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionRolledBack ExecutionStatus = "rolled_back"
)

// StepStatus is the state of one executed step within a run.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepRunning    StepStatus = "running"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
	StepRolledBack StepStatus = "rolled_back"
)

// ExecutedStep records the outcome of one step (or its rollback).
type ExecutedStep struct {
	Name      string     `json:"name"`
	Operation string     `json:"operation"`
	Status    StepStatus `json:"status"`
	Result    any        `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at,omitzero"`
	EndedAt   time.Time  `json:"ended_at,omitzero"`
	Rollback  bool       `json:"rollback,omitempty"`
}

// LogEntry is one structured log line attached to an execution.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// ExecutionMetrics aggregates the outcome of a finished run.
type ExecutionMetrics struct {
	Duration        time.Duration `json:"duration"`
	SuccessfulSteps int           `json:"successful_steps"`
	FailedSteps     int           `json:"failed_steps"`
	SystemImpact    float64       `json:"system_impact"`  // 0-100, share of plan applied
	ResourceUsage   float64       `json:"resource_usage"` // rough cost estimate, step-seconds
}

// Execution is one run of a healing strategy.
type Execution struct {
	ID         string           `json:"id"`
	StrategyID string           `json:"strategy_id"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    time.Time        `json:"ended_at,omitzero"`
	Status     ExecutionStatus  `json:"status"`
	Progress   int              `json:"progress"` // percent
	Steps      []ExecutedStep   `json:"steps"`
	Logs       []LogEntry       `json:"logs,omitempty"`
	Metrics    ExecutionMetrics `json:"metrics"`
}

func (e *Execution) log(now time.Time, level, message string) {
	e.Logs = append(e.Logs, LogEntry{Time: now, Level: level, Message: message})
}
