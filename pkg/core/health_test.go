// SPDX-License-Identifier: Apache-2.0
package core

import (
	"context"
	"testing"
)

func TestDeriveOverall(t *testing.T) {
	tests := []struct {
		name     string
		statuses []ComponentStatus
		want     SystemStatus
	}{
		{"empty", nil, SystemHealthy},
		{"all healthy", []ComponentStatus{ComponentHealthy, ComponentHealthy}, SystemHealthy},
		{"one warning", []ComponentStatus{ComponentHealthy, ComponentWarning}, SystemDegraded},
		{"one error", []ComponentStatus{ComponentWarning, ComponentError}, SystemCritical},
		{"error beats warning", []ComponentStatus{ComponentError, ComponentWarning}, SystemCritical},
		{"down wins over everything", []ComponentStatus{ComponentError, ComponentDown, ComponentWarning}, SystemDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			components := make([]ComponentHealth, 0, len(tt.statuses))
			for _, status := range tt.statuses {
				components = append(components, ComponentHealth{Status: status})
			}
			if got := DeriveOverall(components); got != tt.want {
				t.Fatalf("DeriveOverall = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMetricsValue(t *testing.T) {
	m := Metrics{CPU: 10, Memory: 20, ResponseTime: 30, ErrorRate: 40, Throughput: 50}

	tests := []struct {
		name  string
		want  float64
		known bool
	}{
		{"cpu", 10, true},
		{"memory", 20, true},
		{"response_time", 30, true},
		{"responseTime", 30, true},
		{"error_rate", 40, true},
		{"throughput", 50, true},
		{"latency", 0, false},
	}

	for _, tt := range tests {
		got, ok := m.Value(tt.name)
		if got != tt.want || ok != tt.known {
			t.Errorf("Value(%q) = %v, %v, want %v, %v", tt.name, got, ok, tt.want, tt.known)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		value     float64
		operator  string
		threshold float64
		want      bool
	}{
		{5, ">", 4, true},
		{5, ">", 5, false},
		{5, ">=", 5, true},
		{3, "<", 4, true},
		{4, "<=", 4, true},
		{4, "==", 4, true},
		{4, "!=", 4, false},
		{5, "gt", 4, true},
		{5, "bogus", 4, false},
	}

	for _, tt := range tests {
		if got := Compare(tt.value, tt.operator, tt.threshold); got != tt.want {
			t.Errorf("Compare(%v %s %v) = %v, want %v", tt.value, tt.operator, tt.threshold, got, tt.want)
		}
	}
}

func TestBusDeliversByType(t *testing.T) {
	bus := NewBus()

	var typed, all int
	bus.Subscribe(EventIncidentCreated, func(_ context.Context, _ Event) { typed++ })
	bus.SubscribeAll(func(_ context.Context, _ Event) { all++ })

	bus.Emit(context.Background(), NewEvent(EventIncidentCreated, "db", nil))
	bus.Emit(context.Background(), NewEvent(EventIncidentResolved, "db", nil))

	if typed != 1 {
		t.Fatalf("typed handler invoked %d times, want 1", typed)
	}
	if all != 2 {
		t.Fatalf("catch-all handler invoked %d times, want 2", all)
	}
}

func TestBusContainsPanickingHandler(t *testing.T) {
	bus := NewBus()

	delivered := false
	bus.Subscribe(EventPredictiveAlert, func(_ context.Context, _ Event) { panic("handler bug") })
	bus.Subscribe(EventPredictiveAlert, func(_ context.Context, _ Event) { delivered = true })

	bus.Emit(context.Background(), NewEvent(EventPredictiveAlert, "", nil))

	if !delivered {
		t.Fatal("second handler was not invoked after the first panicked")
	}
}
