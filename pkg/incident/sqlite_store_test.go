// SPDX-License-Identifier: Apache-2.0
package incident

import (
	"context"
	"testing"
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/errors"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, db, err := OpenSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	inc := Incident{
		ID:          "inc-1",
		Title:       "db: restart service",
		Description: "component db entered error state",
		Severity:    SeverityHigh,
		Status:      StatusInvestigating,
		Components:  []string{"db"},
		StartedAt:   started,
	}
	if err := store.Create(ctx, inc); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "inc-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != inc.Title || got.Severity != inc.Severity || !got.StartedAt.Equal(started) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.ResolvedAt != nil {
		t.Fatal("unresolved incident came back with a resolution time")
	}

	resolved := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	got.Status = StatusResolved
	got.ResolvedAt = &resolved
	got.RootCause = "connection pool exhausted"
	got.ActionIDs = []string{"restart-db"}
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	updated, err := store.Get(ctx, "inc-1")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if !updated.Resolved() || updated.ResolvedAt == nil || !updated.ResolvedAt.Equal(resolved) {
		t.Fatalf("resolution not persisted: %+v", updated)
	}
	if updated.RootCause != "connection pool exhausted" || len(updated.ActionIDs) != 1 {
		t.Fatalf("audit fields not persisted: %+v", updated)
	}
}

func TestSQLiteStoreNotFound(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.HasCode(err, errors.CodeNotFound) {
		t.Fatalf("Get error = %v, want NOT_FOUND", err)
	}
	if err := store.Update(ctx, Incident{ID: "missing"}); !errors.HasCode(err, errors.CodeNotFound) {
		t.Fatalf("Update error = %v, want NOT_FOUND", err)
	}
}

func TestSQLiteStoreListFilters(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	rows := []Incident{
		{ID: "a", Status: StatusInvestigating, Severity: SeverityHigh, StartedAt: base},
		{ID: "b", Status: StatusResolved, Severity: SeverityLow, StartedAt: base.Add(time.Hour)},
		{ID: "c", Status: StatusInvestigating, Severity: SeverityCritical, StartedAt: base.Add(2 * time.Hour)},
	}
	for _, inc := range rows {
		if err := store.Create(ctx, inc); err != nil {
			t.Fatalf("Create %s: %v", inc.ID, err)
		}
	}

	investigating, err := store.List(ctx, Filter{Status: StatusInvestigating})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(investigating) != 2 || investigating[0].ID != "c" || investigating[1].ID != "a" {
		t.Fatalf("investigating = %+v, want c then a", investigating)
	}

	windowed, err := store.List(ctx, Filter{Since: base.Add(time.Hour), Until: base.Add(90 * time.Minute)})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(windowed) != 1 || windowed[0].ID != "b" {
		t.Fatalf("windowed = %+v, want only b", windowed)
	}
}

func TestTrackerOverSQLiteStore(t *testing.T) {
	store := newTestSQLiteStore(t)
	tracker := NewTracker(store)
	ctx := context.Background()

	inc, err := tracker.Create(ctx, "restart", testComponentError("api"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := tracker.Resolve(ctx, inc.ID, "transient spike", ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	active, err := tracker.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active = %d, want 0", len(active))
	}
}
