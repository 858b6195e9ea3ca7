package preference

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Common errors for preference storage.
var (
	// ErrNotComputed is returned when no preference row exists for the user.
	ErrNotComputed = errors.New("preference not yet computed")

	// ErrStoreUnavailable wraps durable store failures. Fatal for the current
	// operation; surfaced to the caller.
	ErrStoreUnavailable = errors.New("preference store unavailable")
)

// Store defines durable keyed storage for user preference rows.
// At most one row exists per user (upsert semantics).
type Store interface {
	// Get retrieves the preference row for a user.
	// Returns ErrNotComputed when the row has never been written.
	Get(ctx context.Context, userID string) (*UserPreference, error)

	// Upsert writes the preference row, replacing any existing one.
	Upsert(ctx context.Context, pref *UserPreference) error
}

// InMemoryStore is an in-memory implementation of Store for tests.
type InMemoryStore struct {
	mu    sync.RWMutex
	prefs map[string]*UserPreference
}

// NewInMemoryStore creates an empty in-memory preference store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{prefs: make(map[string]*UserPreference)}
}

// Get retrieves the preference row for a user.
func (s *InMemoryStore) Get(_ context.Context, userID string) (*UserPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prefs[userID]
	if !ok {
		return nil, ErrNotComputed
	}
	cp := *p
	if p.Embedding != nil {
		cp.Embedding = make([]float32, len(p.Embedding))
		copy(cp.Embedding, p.Embedding)
	}
	return &cp, nil
}

// Upsert writes the preference row.
func (s *InMemoryStore) Upsert(_ context.Context, pref *UserPreference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *pref
	if pref.Embedding != nil {
		cp.Embedding = make([]float32, len(pref.Embedding))
		copy(cp.Embedding, pref.Embedding)
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.prefs[pref.UserID] = &cp
	return nil
}
