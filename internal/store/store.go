package store

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Capitan-Parrot/downtime-recorder/internal/models"
)

// Entry is what the store keeps per session.
type Entry interface {
	ID() string
	Locator() string
	StartedAt() time.Time
	// FinishedAt is zero while the session is still running.
	FinishedAt() time.Time
}

// Store is the in-memory session registry.
type Store[E Entry] struct {
	mu        sync.RWMutex
	byID      map[string]E
	byLocator map[string]string
}

func New[E Entry]() *Store[E] {
	return &Store[E]{
		byID:      make(map[string]E),
		byLocator: make(map[string]string),
	}
}

// CreateIfAbsent registers e unless a running session already reads the same
// locator, in which case that session is returned with created=false.
func (s *Store[E]) CreateIfAbsent(e E) (E, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.runningLocked(e.Locator()); ok {
		return existing, false
	}
	s.byID[e.ID()] = e
	s.byLocator[e.Locator()] = e.ID()
	return e, true
}

func (s *Store[E]) Get(id string) (E, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		var zero E
		return zero, models.ErrSessionNotFound
	}
	return e, nil
}

// ByLocator returns the running session reading locator.
func (s *Store[E]) ByLocator(locator string) (E, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runningLocked(locator)
}

func (s *Store[E]) runningLocked(locator string) (E, bool) {
	id, ok := s.byLocator[locator]
	if !ok {
		var zero E
		return zero, false
	}
	e := s.byID[id]
	if !e.FinishedAt().IsZero() {
		var zero E
		return zero, false
	}
	return e, true
}

func (s *Store[E]) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byID, id)
	if s.byLocator[e.Locator()] == id {
		delete(s.byLocator, e.Locator())
	}
}

// List returns all sessions, oldest first.
func (s *Store[E]) List() []E {
	s.mu.RLock()
	entries := lo.Values(s.byID)
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].StartedAt().Equal(entries[j].StartedAt()) {
			return entries[i].ID() < entries[j].ID()
		}
		return entries[i].StartedAt().Before(entries[j].StartedAt())
	})
	return entries
}

// Expired returns the sessions that finished more than retention before now.
func (s *Store[E]) Expired(now time.Time, retention time.Duration) []E {
	return lo.Filter(s.List(), func(e E, _ int) bool {
		fin := e.FinishedAt()
		return !fin.IsZero() && now.Sub(fin) > retention
	})
}
