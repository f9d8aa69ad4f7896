package core

import (
	"context"
)

// MetricsSource supplies raw metrics for monitored components. It is an
// external collaborator; implementations may perform network I/O and
// should honor the context. An error marks the component unreachable.
type MetricsSource interface {
	GetComponentMetrics(ctx context.Context, component string) (Metrics, error)
}

// MetricsSourceFunc adapts a function to the MetricsSource interface.
type MetricsSourceFunc func(ctx context.Context, component string) (Metrics, error)

// GetComponentMetrics implements MetricsSource.
func (f MetricsSourceFunc) GetComponentMetrics(ctx context.Context, component string) (Metrics, error) {
	return f(ctx, component)
}

// ActionExecutor performs the opaque side effect behind a remediation
// operation (restart, scale, flush...). The engine treats it as a black
// box with a timeout and a retry count; tests supply a deterministic fake.
type ActionExecutor interface {
	Execute(ctx context.Context, operation string, params map[string]any) (any, error)
}

// ActionExecutorFunc adapts a function to the ActionExecutor interface.
type ActionExecutorFunc func(ctx context.Context, operation string, params map[string]any) (any, error)

// Execute implements ActionExecutor.
func (f ActionExecutorFunc) Execute(ctx context.Context, operation string, params map[string]any) (any, error) {
	return f(ctx, operation, params)
}
