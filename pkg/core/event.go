package core

import (
	"context"
	"sync"
	"time"
)

// EventType identifies a semantic event emitted by the engine.
type EventType string

const (
	EventHealthCheckCompleted     EventType = "health_check_completed"
	EventIncidentCreated          EventType = "incident_created"
	EventIncidentResolved         EventType = "incident_resolved"
	EventRecoveryActionCompleted  EventType = "recovery_action_completed"
	EventRecoveryActionFailed     EventType = "recovery_action_failed"
	EventHealingStrategyCompleted EventType = "healing_strategy_completed"
	EventPredictiveAlert          EventType = "predictive_alert"
	EventCircuitBreakerOpened     EventType = "circuit_breaker_opened"
	EventCircuitBreakerClosed     EventType = "circuit_breaker_closed"
)

// Event captures a semantic engine event.
type Event struct {
	Type      EventType
	Component string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// NewEvent builds a default event with timestamp.
func NewEvent(eventType EventType, component string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		Component: component,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Handler processes one delivered event.
type Handler func(ctx context.Context, event Event)

// Bus is an explicit observer list keyed by event type. Subscribers
// register typed handlers instead of matching on free-form strings.
// Delivery is synchronous and in subscription order; a panicking handler
// is contained so it cannot stop engine progress.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

// Emit implements EventEmitter.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	typed := make([]Handler, len(b.handlers[event.Type]))
	copy(typed, b.handlers[event.Type])
	all := make([]Handler, len(b.all))
	copy(all, b.all)
	b.mu.RUnlock()

	for _, h := range typed {
		deliver(ctx, h, event)
	}
	for _, h := range all {
		deliver(ctx, h, event)
	}
}

func deliver(ctx context.Context, h Handler, event Event) {
	defer func() {
		_ = recover()
	}()
	h(ctx, event)
}
