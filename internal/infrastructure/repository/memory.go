package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	domainerrors "github.com/coverbridge/platform-security/internal/domain/errors"
	"github.com/coverbridge/platform-security/internal/domain/incident"
)

// MemoryIncidentStore keeps incidents in process memory. Reads return deep
// copies so callers cannot mutate stored state outside the service's locks.
type MemoryIncidentStore struct {
	mu        sync.RWMutex
	incidents map[string]*incident.SecurityIncident
	active    map[string]bool
}

func NewMemoryIncidentStore() *MemoryIncidentStore {
	return &MemoryIncidentStore{
		incidents: make(map[string]*incident.SecurityIncident),
		active:    make(map[string]bool),
	}
}

func (s *MemoryIncidentStore) Save(ctx context.Context, inc *incident.SecurityIncident) error {
	cp, err := deepCopy(inc)
	if err != nil {
		return domainerrors.NewInternalError("encode incident").WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.incidents[inc.ID]; !known {
		s.active[inc.ID] = true
	}
	s.incidents[inc.ID] = cp
	return nil
}

func (s *MemoryIncidentStore) Get(ctx context.Context, id string) (*incident.SecurityIncident, error) {
	s.mu.RLock()
	stored, ok := s.incidents[id]
	s.mu.RUnlock()
	if !ok {
		return nil, domainerrors.ErrIncidentNotFound
	}
	return deepCopy(stored)
}

func (s *MemoryIncidentStore) MarkInactive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[id]; !ok {
		return domainerrors.ErrIncidentNotFound
	}
	delete(s.active, id)
	return nil
}

func (s *MemoryIncidentStore) MarkActive(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[id]; !ok {
		return domainerrors.ErrIncidentNotFound
	}
	s.active[id] = true
	return nil
}

func (s *MemoryIncidentStore) ListActive(ctx context.Context) ([]*incident.SecurityIncident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*incident.SecurityIncident, 0, len(s.active))
	for id := range s.active {
		cp, err := deepCopy(s.incidents[id])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *MemoryIncidentStore) ListDetectedSince(ctx context.Context, cutoff time.Time) ([]*incident.SecurityIncident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*incident.SecurityIncident
	for _, inc := range s.incidents {
		if !inc.DetectedAt.Before(cutoff) {
			cp, err := deepCopy(inc)
			if err != nil {
				return nil, err
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

func deepCopy(inc *incident.SecurityIncident) (*incident.SecurityIncident, error) {
	raw, err := json.Marshal(inc)
	if err != nil {
		return nil, err
	}
	var cp incident.SecurityIncident
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
