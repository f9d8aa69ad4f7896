// SPDX-License-Identifier: Apache-2.0
package incident

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/core"
)

// Tracker opens and resolves incidents against a Store and emits
// lifecycle events.
type Tracker struct {
	store   Store
	emitter core.EventEmitter
	logger  *slog.Logger
	now     func() time.Time
}

// TrackerOption configures optional tracker collaborators.
type TrackerOption func(*Tracker)

// WithEmitter sets the emitter receiving incident lifecycle events.
func WithEmitter(emitter core.EventEmitter) TrackerOption {
	return func(t *Tracker) {
		if emitter != nil {
			t.emitter = emitter
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock injects a clock for deterministic tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates a tracker over the given store. A nil store gets an
// in-memory one.
func NewTracker(store Store, opts ...TrackerOption) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	t := &Tracker{
		store:   store,
		emitter: core.NoopEventEmitter{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Create opens a new incident for a failing component. The incident
// always starts in investigating; severity derives from the component
// status (down is critical, otherwise high).
func (t *Tracker) Create(ctx context.Context, action string, component core.ComponentHealth) (Incident, error) {
	inc := Incident{
		ID:          uuid.NewString(),
		Title:       fmt.Sprintf("%s: %s", component.Name, action),
		Description: fmt.Sprintf("component %s entered %s state; attempting %s", component.Name, component.Status, action),
		Severity:    SeverityFor(component.Status),
		Status:      StatusInvestigating,
		Components:  []string{component.Name},
		StartedAt:   t.now(),
	}
	if err := t.store.Create(ctx, inc); err != nil {
		return Incident{}, err
	}

	t.logger.Info("incident.created",
		slog.String("incident_id", inc.ID),
		slog.String("component", component.Name),
		slog.String("severity", string(inc.Severity)),
	)
	t.emitter.Emit(ctx, core.NewEvent(core.EventIncidentCreated, component.Name, map[string]any{
		"incident_id": inc.ID,
		"severity":    string(inc.Severity),
		"title":       inc.Title,
	}))
	return inc, nil
}

// Resolve marks an incident resolved, stamping the resolution time and
// optional root cause and postmortem reference. Resolving an already
// resolved incident is idempotent: the stored record is returned
// unchanged. Unknown ids return CodeNotFound.
func (t *Tracker) Resolve(ctx context.Context, id, rootCause, postmortemURL string) (Incident, error) {
	inc, err := t.store.Get(ctx, id)
	if err != nil {
		return Incident{}, err
	}
	if inc.Resolved() {
		return inc, nil
	}

	now := t.now()
	inc.Status = StatusResolved
	inc.ResolvedAt = &now
	if rootCause != "" {
		inc.RootCause = rootCause
	}
	if postmortemURL != "" {
		inc.PostmortemURL = postmortemURL
	}
	if err := t.store.Update(ctx, inc); err != nil {
		return Incident{}, err
	}

	t.logger.Info("incident.resolved",
		slog.String("incident_id", inc.ID),
		slog.Duration("duration", now.Sub(inc.StartedAt)),
	)
	t.emitter.Emit(ctx, core.NewEvent(core.EventIncidentResolved, firstComponent(inc), map[string]any{
		"incident_id": inc.ID,
		"root_cause":  inc.RootCause,
	}))
	return inc, nil
}

// SetStatus moves an unresolved incident to a new lifecycle status.
func (t *Tracker) SetStatus(ctx context.Context, id string, status Status) (Incident, error) {
	inc, err := t.store.Get(ctx, id)
	if err != nil {
		return Incident{}, err
	}
	if inc.Resolved() {
		return inc, nil
	}
	inc.Status = status
	if err := t.store.Update(ctx, inc); err != nil {
		return Incident{}, err
	}
	return inc, nil
}

// AttachAction records a recovery action id against an incident.
func (t *Tracker) AttachAction(ctx context.Context, id, actionID string) error {
	inc, err := t.store.Get(ctx, id)
	if err != nil {
		return err
	}
	for _, existing := range inc.ActionIDs {
		if existing == actionID {
			return nil
		}
	}
	inc.ActionIDs = append(inc.ActionIDs, actionID)
	return t.store.Update(ctx, inc)
}

// Get returns one incident by id.
func (t *Tracker) Get(ctx context.Context, id string) (Incident, error) {
	return t.store.Get(ctx, id)
}

// Active returns every unresolved incident, newest first.
func (t *Tracker) Active(ctx context.Context) ([]Incident, error) {
	all, err := t.store.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	var out []Incident
	for _, inc := range all {
		if !inc.Resolved() {
			out = append(out, inc)
		}
	}
	return out, nil
}

// OpenForComponent returns the most recent unresolved incident referencing
// the component, if one exists.
func (t *Tracker) OpenForComponent(ctx context.Context, component string) (Incident, bool, error) {
	active, err := t.Active(ctx)
	if err != nil {
		return Incident{}, false, err
	}
	for _, inc := range active {
		if inc.References(component) {
			return inc, true, nil
		}
	}
	return Incident{}, false, nil
}

// List exposes filtered audit-trail queries.
func (t *Tracker) List(ctx context.Context, filter Filter) ([]Incident, error) {
	return t.store.List(ctx, filter)
}

func firstComponent(inc Incident) string {
	if len(inc.Components) > 0 {
		return inc.Components[0]
	}
	return ""
}
