// SPDX-License-Identifier: Apache-2.0
// Package incident tracks component health degradations from detection to
// resolution. Incidents are never deleted, only resolved; they form an
// append-only audit trail queryable by status and time range.
package incident

import (
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
)

// Severity ranks the impact of an incident.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Status is the lifecycle state of an incident.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusResolving     Status = "resolving"
	StatusResolved      Status = "resolved"
)

// Incident is one tracked health degradation.
type Incident struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Severity      Severity   `json:"severity"`
	Status        Status     `json:"status"`
	Components    []string   `json:"components"`
	StartedAt     time.Time  `json:"started_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	ActionIDs     []string   `json:"action_ids,omitempty"`
	RootCause     string     `json:"root_cause,omitempty"`
	PostmortemURL string     `json:"postmortem_url,omitempty"`
}

// Resolved reports whether the incident reached its terminal state.
func (i Incident) Resolved() bool {
	return i.Status == StatusResolved
}

// References reports whether the incident covers the named component.
func (i Incident) References(component string) bool {
	for _, c := range i.Components {
		if c == component {
			return true
		}
	}
	return false
}

// SeverityFor derives incident severity from the triggering component
// status: down is critical, anything else that opens an incident is high.
func SeverityFor(status core.ComponentStatus) Severity {
	if status == core.ComponentDown {
		return SeverityCritical
	}
	return SeverityHigh
}
