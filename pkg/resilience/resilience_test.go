// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
	"github.com/mandymgr/claude-code-coordination-sub007/pkg/errors"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type captureEmitter struct {
	mu     sync.Mutex
	events []core.Event
}

func (e *captureEmitter) Emit(_ context.Context, event core.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *captureEmitter) types() []core.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.EventType, 0, len(e.events))
	for _, event := range e.events {
		out = append(out, event.Type)
	}
	return out
}

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	emitter := &captureEmitter{}
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThreshold:  3,
		MinimumThroughput: 2,
		ResetTimeout:      30 * time.Second,
		Name:              "db",
	}, WithClock(clock.Now), WithEmitter(emitter))

	boom := stderrors.New("boom")
	calls := 0
	fail := func() error {
		calls++
		return boom
	}

	for i := 0; i < 3; i++ {
		if err := cb.Call(context.Background(), fail); !stderrors.Is(err, boom) {
			t.Fatalf("call %d: got %v, want boom", i, err)
		}
	}
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state after threshold = %s, want open", got)
	}

	// The open breaker fails fast without invoking the operation.
	err := cb.Call(context.Background(), fail)
	if !errors.HasCode(err, errors.CodeBreakerOpen) {
		t.Fatalf("open call error = %v, want BREAKER_OPEN", err)
	}
	if calls != 3 {
		t.Fatalf("operation invoked %d times, want 3", calls)
	}

	types := emitter.types()
	if len(types) != 1 || types[0] != core.EventCircuitBreakerOpened {
		t.Fatalf("events = %v, want one circuit_breaker_opened", types)
	}
}

func TestCircuitBreakerHalfOpenCloseAfterSuccesses(t *testing.T) {
	clock := newFakeClock()
	emitter := &captureEmitter{}
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThreshold:  1,
		MinimumThroughput: 2,
		ResetTimeout:      30 * time.Second,
		Name:              "cache",
	}, WithClock(clock.Now), WithEmitter(emitter))

	_ = cb.Call(context.Background(), func() error { return stderrors.New("boom") })
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}

	clock.Advance(31 * time.Second)

	ok := func() error { return nil }
	if err := cb.Call(context.Background(), ok); err != nil {
		t.Fatalf("first trial call: %v", err)
	}
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("state after one success = %s, want half_open", got)
	}
	if err := cb.Call(context.Background(), ok); err != nil {
		t.Fatalf("second trial call: %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state after throughput met = %s, want closed", got)
	}

	types := emitter.types()
	want := []core.EventType{core.EventCircuitBreakerOpened, core.EventCircuitBreakerClosed}
	if len(types) != len(want) || types[0] != want[0] || types[1] != want[1] {
		t.Fatalf("events = %v, want %v", types, want)
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThreshold:  1,
		MinimumThroughput: 2,
		ResetTimeout:      10 * time.Second,
	}, WithClock(clock.Now))

	_ = cb.Call(context.Background(), func() error { return stderrors.New("boom") })
	clock.Advance(11 * time.Second)

	_ = cb.Call(context.Background(), func() error { return stderrors.New("still broken") })
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state after failed trial = %s, want open", got)
	}

	status := cb.Status()
	wantNext := clock.Now().Add(10 * time.Second)
	if !status.NextAttempt.Equal(wantNext) {
		t.Fatalf("next attempt = %v, want %v", status.NextAttempt, wantNext)
	}
}

func TestCircuitBreakerManualControls(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 5})

	cb.Trip(context.Background())
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state after Trip = %s, want open", got)
	}
	cb.Reset()
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state after Reset = %s, want closed", got)
	}
}

func TestRegistryCreatesBreakerPerName(t *testing.T) {
	reg := NewRegistry(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Second})

	if got, again := reg.Get("db"), reg.Get("db"); got != again {
		t.Fatal("Get returned different breakers for the same name")
	}
	_ = reg.Execute(context.Background(), "queue", func() error { return nil })

	statuses := reg.Status()
	if len(statuses) != 2 {
		t.Fatalf("status count = %d, want 2", len(statuses))
	}
	if statuses[0].Name != "db" || statuses[1].Name != "queue" {
		t.Fatalf("status order = %s, %s, want db, queue", statuses[0].Name, statuses[1].Name)
	}
}

func TestRetryStopsOnNonRecoverableError(t *testing.T) {
	fatal := errors.New(errors.CodeInvalidInput, "bad input", nil)

	attempts := 0
	cfg := DefaultRetryConfig().WithMaxAttempts(5).WithInitialDelay(time.Millisecond)
	err := cfg.Do(context.Background(), func() error {
		attempts++
		return fatal
	})
	if err != fatal {
		t.Fatalf("error = %v, want the original", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig().WithMaxAttempts(4).WithInitialDelay(time.Millisecond)
	err := cfg.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New(errors.CodeActionTimeout, "transient", nil).WithRecoverable(true)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestWithTimeoutExpires(t *testing.T) {
	err := WithTimeout(context.Background(), TimeoutConfig{Duration: 10 * time.Millisecond}, func() error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if !errors.HasCode(err, errors.CodeActionTimeout) {
		t.Fatalf("error = %v, want ACTION_TIMEOUT", err)
	}
}

func TestWithTimeoutZeroMeansNoLimit(t *testing.T) {
	if err := WithTimeout(context.Background(), TimeoutConfig{}, func() error { return nil }); err != nil {
		t.Fatalf("error = %v, want nil", err)
	}
}
