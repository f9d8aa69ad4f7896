// SPDX-License-Identifier: Apache-2.0
// Package predict scores health history for anomalies and forecasts, and
// proactively dispatches healing strategies on high-confidence alerts.
// The scoring contract is the Model interface; the bundled model is a
// plain trend heuristic that a real deployment replaces with a trained
// model behind the same interface.
package predict

import (
	"math"
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
)

// Prediction is one per-metric score produced by a model for one cycle.
type Prediction struct {
	Timestamp        time.Time `json:"timestamp"`
	Metric           string    `json:"metric"`
	PredictedValue   float64   `json:"predicted_value"`
	ActualValue      *float64  `json:"actual_value,omitempty"`
	Confidence       float64   `json:"confidence"`    // percent
	AnomalyScore     float64   `json:"anomaly_score"` // percent
	SuggestedActions []string  `json:"suggested_actions,omitempty"`
}

// Model scores the latest health history, one prediction per tracked
// metric. Implementations must be safe for repeated calls from a single
// scoring loop.
type Model interface {
	Name() string
	ScoreLatest(history []core.SystemHealth) []Prediction
}

// TrendModel is the reference heuristic: linear extrapolation of the
// system-wide metric average plus a z-score anomaly measure over the
// recent window.
type TrendModel struct {
	// WindowSize caps how many trailing snapshots feed the score.
	WindowSize int
}

// NewTrendModel creates the reference model with a 20-snapshot window.
func NewTrendModel() *TrendModel {
	return &TrendModel{WindowSize: 20}
}

// Name implements Model.
func (m *TrendModel) Name() string { return "trend" }

// ScoreLatest implements Model.
func (m *TrendModel) ScoreLatest(history []core.SystemHealth) []Prediction {
	if len(history) == 0 {
		return nil
	}
	capacity := m.WindowSize
	if capacity < 2 {
		capacity = 20
	}
	window := capacity
	if len(history) < window {
		window = len(history)
	}
	recent := history[len(history)-window:]
	latest := recent[len(recent)-1]

	out := make([]Prediction, 0, len(core.MetricNames()))
	for _, metric := range core.MetricNames() {
		series := make([]float64, 0, len(recent))
		for _, snapshot := range recent {
			series = append(series, systemAverage(snapshot, metric))
		}
		actual := series[len(series)-1]

		predicted := extrapolate(series)
		anomaly := zScore(series) * 25 // z of 4 saturates the score
		if anomaly > 100 {
			anomaly = 100
		}
		confidence := 100 * float64(len(series)) / float64(capacity)
		if confidence > 100 {
			confidence = 100
		}

		out = append(out, Prediction{
			Timestamp:      latest.Timestamp,
			Metric:         metric,
			PredictedValue: predicted,
			ActualValue:    &actual,
			Confidence:     confidence,
			AnomalyScore:   anomaly,
		})
	}
	return out
}

// systemAverage averages one metric across all components in a snapshot.
func systemAverage(snapshot core.SystemHealth, metric string) float64 {
	if len(snapshot.Components) == 0 {
		return 0
	}
	var sum float64
	for _, component := range snapshot.Components {
		value, _ := component.Metrics.Value(metric)
		sum += value
	}
	return sum / float64(len(snapshot.Components))
}

// extrapolate projects the next value from the last step of the series.
func extrapolate(series []float64) float64 {
	if len(series) < 2 {
		return series[len(series)-1]
	}
	last := series[len(series)-1]
	return last + (last - series[len(series)-2])
}

// zScore measures how far the latest value sits from the window mean.
func zScore(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / float64(len(series))

	var variance float64
	for _, v := range series {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(series))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return math.Abs(series[len(series)-1]-mean) / std
}
