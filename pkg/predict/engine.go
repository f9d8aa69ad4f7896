// SPDX-License-Identifier: Apache-2.0
package predict

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/healing"
)

const (
	// DefaultConfidenceGate and DefaultAnomalyGate bound proactive
	// dispatch: both must be exceeded before a strategy is invoked.
	DefaultConfidenceGate = 95.0
	DefaultAnomalyGate    = 90.0

	rollingPredictionCap = 200
)

// Engine runs registered models on the health history each predictive
// cycle and proactively starts the first enabled healing strategy whose
// trigger references a flagged metric. One dispatch per cycle; alerts do
// not cascade.
type Engine struct {
	healer  *healing.Engine
	emitter core.EventEmitter
	logger  *slog.Logger
	now     func() time.Time

	ConfidenceGate float64
	AnomalyGate    float64

	mu          sync.RWMutex
	models      []Model
	predictions map[string][]Prediction // model name -> rolling list
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithEmitter sets the emitter receiving predictive_alert events.
func WithEmitter(emitter core.EventEmitter) EngineOption {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock injects a clock for deterministic tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a predictive engine dispatching into the healing
// engine.
func NewEngine(healer *healing.Engine, opts ...EngineOption) *Engine {
	e := &Engine{
		healer:         healer,
		emitter:        core.NoopEventEmitter{},
		logger:         slog.Default(),
		now:            time.Now,
		ConfidenceGate: DefaultConfidenceGate,
		AnomalyGate:    DefaultAnomalyGate,
		predictions:    make(map[string][]Prediction),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterModel adds a model to the scoring set.
func (e *Engine) RegisterModel(model Model) {
	if model == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.models = append(e.models, model)
}

// Predictions returns the rolling prediction list for one model.
func (e *Engine) Predictions(model string) []Prediction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Prediction, len(e.predictions[model]))
	copy(out, e.predictions[model])
	return out
}

// RunCycle scores the history with every model and dispatches at most
// one proactive strategy. The owning runtime drives the cycle from its
// predictive ticker.
func (e *Engine) RunCycle(ctx context.Context, history []core.SystemHealth) {
	e.mu.RLock()
	models := make([]Model, len(e.models))
	copy(models, e.models)
	e.mu.RUnlock()

	for _, model := range models {
		scored := model.ScoreLatest(history)
		if len(scored) == 0 {
			continue
		}
		e.record(model.Name(), scored)

		for _, prediction := range scored {
			if prediction.Confidence <= e.ConfidenceGate || prediction.AnomalyScore <= e.AnomalyGate {
				continue
			}
			e.alert(ctx, model.Name(), prediction)
			// One proactive dispatch per cycle; do not cascade.
			return
		}
	}
}

func (e *Engine) record(model string, scored []Prediction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := append(e.predictions[model], scored...)
	if len(list) > rollingPredictionCap {
		list = append(list[:0:0], list[len(list)-rollingPredictionCap:]...)
	}
	e.predictions[model] = list
}

func (e *Engine) alert(ctx context.Context, model string, prediction Prediction) {
	e.logger.Warn("predict.alert",
		slog.String("model", model),
		slog.String("metric", prediction.Metric),
		slog.Float64("confidence", prediction.Confidence),
		slog.Float64("anomaly_score", prediction.AnomalyScore),
	)
	e.emitter.Emit(ctx, core.NewEvent(core.EventPredictiveAlert, "", map[string]any{
		"model":         model,
		"metric":        prediction.Metric,
		"confidence":    prediction.Confidence,
		"anomaly_score": prediction.AnomalyScore,
	}))

	if e.healer == nil {
		return
	}
	strategy, ok := e.healer.FirstForMetric(prediction.Metric)
	if !ok {
		return
	}
	if _, err := e.healer.StartStrategy(ctx, strategy.ID); err != nil {
		e.logger.Warn("predict.dispatch.skipped",
			slog.String("strategy_id", strategy.ID),
			slog.String("reason", err.Error()),
		)
	}
}
