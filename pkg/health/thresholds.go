// SPDX-License-Identifier: Apache-2.0
// Package health converts raw component metrics into classified system
// health snapshots on a fixed polling interval.
package health

import (
	"fmt"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
)

// Level holds one set of per-metric limits. A metric crossing its limit
// puts the component at or above the level's severity.
type Level struct {
	CPU          float64 `koanf:"cpu" yaml:"cpu"`
	Memory       float64 `koanf:"memory" yaml:"memory"`
	ResponseTime float64 `koanf:"response_time" yaml:"response_time"`
	ErrorRate    float64 `koanf:"error_rate" yaml:"error_rate"`
}

// Thresholds classifies metrics into warning (elevated) and error
// (critical) severities.
type Thresholds struct {
	Elevated Level `koanf:"elevated" yaml:"elevated"`
	Critical Level `koanf:"critical" yaml:"critical"`
}

// DefaultThresholds returns the stock classification limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Elevated: Level{CPU: 60, Memory: 70, ResponseTime: 2000, ErrorRate: 2},
		Critical: Level{CPU: 80, Memory: 85, ResponseTime: 5000, ErrorRate: 5},
	}
}

// Classify maps one metrics snapshot to a component status plus the list
// of threshold violations found. Any critical crossing wins over elevated.
func (t Thresholds) Classify(m core.Metrics) (core.ComponentStatus, []string) {
	var issues []string
	status := core.ComponentHealthy

	check := func(name string, value float64, level Level) (float64, bool) {
		switch name {
		case "cpu":
			return level.CPU, level.CPU > 0 && value > level.CPU
		case "memory":
			return level.Memory, level.Memory > 0 && value > level.Memory
		case "response_time":
			return level.ResponseTime, level.ResponseTime > 0 && value > level.ResponseTime
		case "error_rate":
			return level.ErrorRate, level.ErrorRate > 0 && value > level.ErrorRate
		}
		return 0, false
	}

	for _, name := range []string{"cpu", "memory", "response_time", "error_rate"} {
		value, _ := m.Value(name)
		if limit, crossed := check(name, value, t.Critical); crossed {
			issues = append(issues, fmt.Sprintf("%s %.1f exceeds critical threshold %.1f", name, value, limit))
			status = core.ComponentError
			continue
		}
		if limit, crossed := check(name, value, t.Elevated); crossed {
			issues = append(issues, fmt.Sprintf("%s %.1f exceeds elevated threshold %.1f", name, value, limit))
			if status != core.ComponentError {
				status = core.ComponentWarning
			}
		}
	}

	return status, issues
}
