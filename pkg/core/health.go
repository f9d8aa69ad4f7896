// SPDX-License-Identifier: Apache-2.0
// Package core provides the shared data model and collaborator interfaces
// for the self-healing engine.
package core

import (
	"time"
)

// ComponentStatus represents the health state of a single component.
type ComponentStatus string

const (
	// ComponentHealthy indicates the component is fully operational.
	ComponentHealthy ComponentStatus = "healthy"

	// ComponentWarning indicates a metric crossed an elevated threshold.
	ComponentWarning ComponentStatus = "warning"

	// ComponentError indicates a metric crossed a critical threshold.
	ComponentError ComponentStatus = "error"

	// ComponentDown indicates the component is unreachable.
	ComponentDown ComponentStatus = "down"
)

// SystemStatus represents the aggregate health of the whole system.
type SystemStatus string

const (
	// SystemHealthy indicates every component is healthy.
	SystemHealthy SystemStatus = "healthy"

	// SystemDegraded indicates at least one component is in warning.
	SystemDegraded SystemStatus = "degraded"

	// SystemCritical indicates at least one component is in error.
	SystemCritical SystemStatus = "critical"

	// SystemDown indicates at least one component is unreachable.
	SystemDown SystemStatus = "down"
)

// Metrics is one raw snapshot of a component's vital signs.
type Metrics struct {
	CPU          float64 `json:"cpu" yaml:"cpu"`                     // percent
	Memory       float64 `json:"memory" yaml:"memory"`               // percent
	ResponseTime float64 `json:"response_time" yaml:"response_time"` // milliseconds
	ErrorRate    float64 `json:"error_rate" yaml:"error_rate"`       // percent
	Throughput   float64 `json:"throughput" yaml:"throughput"`       // requests/s
}

// Value returns the named metric. Unknown names return 0, false.
func (m Metrics) Value(name string) (float64, bool) {
	switch name {
	case "cpu":
		return m.CPU, true
	case "memory":
		return m.Memory, true
	case "response_time", "responseTime":
		return m.ResponseTime, true
	case "error_rate", "errorRate":
		return m.ErrorRate, true
	case "throughput":
		return m.Throughput, true
	}
	return 0, false
}

// MetricNames lists the metric names tracked per component, in a stable order.
func MetricNames() []string {
	return []string{"cpu", "memory", "response_time", "error_rate", "throughput"}
}

// ComponentHealth is one component's classification for one polling cycle.
// It is immutable once recorded into history; the next cycle supersedes it.
type ComponentHealth struct {
	Name      string          `json:"name"`
	Status    ComponentStatus `json:"status"`
	Metrics   Metrics         `json:"metrics"`
	Issues    []string        `json:"issues,omitempty"`
	LastCheck time.Time       `json:"last_check"`
}

// SystemHealth is the aggregate snapshot for one polling cycle.
type SystemHealth struct {
	Timestamp  time.Time         `json:"timestamp"`
	Overall    SystemStatus      `json:"overall"`
	Components []ComponentHealth `json:"components"`
}

// DeriveOverall applies the worst-case rule over component statuses:
// any down wins, then any error maps to critical, then any warning maps
// to degraded, otherwise healthy.
func DeriveOverall(components []ComponentHealth) SystemStatus {
	overall := SystemHealthy
	for _, c := range components {
		switch c.Status {
		case ComponentDown:
			return SystemDown
		case ComponentError:
			overall = SystemCritical
		case ComponentWarning:
			if overall != SystemCritical {
				overall = SystemDegraded
			}
		}
	}
	return overall
}

// Component returns the named component's health from the snapshot.
func (s SystemHealth) Component(name string) (ComponentHealth, bool) {
	for _, c := range s.Components {
		if c.Name == name {
			return c, true
		}
	}
	return ComponentHealth{}, false
}

// Failing returns every component in error or down state.
func (s SystemHealth) Failing() []ComponentHealth {
	var out []ComponentHealth
	for _, c := range s.Components {
		if c.Status == ComponentError || c.Status == ComponentDown {
			out = append(out, c)
		}
	}
	return out
}
