// SPDX-License-Identifier: Apache-2.0
package incident

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mandymgr/claude-code-coordination-sub007/pkg/errors"
)

// Filter narrows a List query. Zero values match everything.
type Filter struct {
	Status Status
	Since  time.Time
	Until  time.Time
}

// Store persists the incident audit trail.
type Store interface {
	// Create persists a new incident.
	Create(ctx context.Context, inc Incident) error

	// Get returns one incident by id. Unknown ids return CodeNotFound.
	Get(ctx context.Context, id string) (Incident, error)

	// Update replaces a persisted incident. Unknown ids return CodeNotFound.
	Update(ctx context.Context, inc Incident) error

	// List returns matching incidents ordered by start time descending.
	List(ctx context.Context, filter Filter) ([]Incident, error)
}

// MemoryStore is the in-process Store used by default and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[string]Incident
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{incidents: make(map[string]Incident)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, inc Incident) error {
	if inc.ID == "" {
		return errors.New(errors.CodeInvalidInput, "incident id is required", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.incidents[inc.ID]; exists {
		return errors.New(errors.CodeInvalidState, "incident already exists", nil).
			WithContext("incident_id", inc.ID)
	}
	s.incidents[inc.ID] = cloneIncident(inc)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return Incident{}, errors.New(errors.CodeNotFound, "incident not found", nil).
			WithContext("incident_id", id)
	}
	return cloneIncident(inc), nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, inc Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[inc.ID]; !ok {
		return errors.New(errors.CodeNotFound, "incident not found", nil).
			WithContext("incident_id", inc.ID)
	}
	s.incidents[inc.ID] = cloneIncident(inc)
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Incident
	for _, inc := range s.incidents {
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && inc.StartedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && inc.StartedAt.After(filter.Until) {
			continue
		}
		out = append(out, cloneIncident(inc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func cloneIncident(inc Incident) Incident {
	out := inc
	out.Components = append([]string(nil), inc.Components...)
	out.ActionIDs = append([]string(nil), inc.ActionIDs...)
	if inc.ResolvedAt != nil {
		t := *inc.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}
