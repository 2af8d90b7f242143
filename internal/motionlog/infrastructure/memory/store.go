package memory

import (
	"sync"

	motionlog "hemlarm-relay/internal/motionlog/domain"
)

// Store keeps the most recent entries in a fixed-size ring. Once full, each append
// evicts the oldest entry.
type Store struct {
	mu      sync.Mutex
	entries []motionlog.Entry
	start   int
	count   int
}

// NewStore constructs a store holding at most window entries.
func NewStore(window int) *Store {
	if window <= 0 {
		window = motionlog.DefaultWindow
	}
	return &Store{entries: make([]motionlog.Entry, window)}
}

// Append adds an entry in receipt order.
func (s *Store) Append(entry motionlog.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	capacity := len(s.entries)
	if s.count < capacity {
		s.entries[(s.start+s.count)%capacity] = entry
		s.count++
		return
	}
	s.entries[s.start] = entry
	s.start = (s.start + 1) % capacity
}

// Recent returns up to limit of the newest entries, oldest first. A non-positive
// limit returns the whole window.
func (s *Store) Recent(limit int) []motionlog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > s.count {
		limit = s.count
	}
	capacity := len(s.entries)
	result := make([]motionlog.Entry, limit)
	offset := s.start + s.count - limit
	for i := 0; i < limit; i++ {
		result[i] = s.entries[(offset+i)%capacity]
	}
	return result
}

// Clear empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	for i := range s.entries {
		s.entries[i] = motionlog.Entry{}
	}
	s.start = 0
	s.count = 0
	s.mu.Unlock()
}

// Len returns the number of retained entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
