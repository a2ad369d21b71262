package activity

import "sync"

// Store is the interface for activity feed backends.
type Store interface {
	Append(ev *Event)
	Recent(n int) []*Event
	Count() int
}

// MemoryStore keeps the most recent events in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	events  []*Event
	maxSize int
}

// NewMemoryStore creates a store that retains up to maxSize events.
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{maxSize: maxSize}
}

// Append adds an event, evicting the oldest past maxSize.
func (s *MemoryStore) Append(ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) > s.maxSize {
		s.events = s.events[len(s.events)-s.maxSize:]
	}
}

// Recent returns up to n of the newest events, oldest first.
func (s *MemoryStore) Recent(n int) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || len(s.events) == 0 {
		return nil
	}
	if n > len(s.events) {
		n = len(s.events)
	}
	result := make([]*Event, n)
	copy(result, s.events[len(s.events)-n:])
	return result
}

// Count returns the number of retained events.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
