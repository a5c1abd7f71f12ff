// Package eventstore buffers events for the active session.
//
// The store keeps two insertion-ordered buffers behind one mutex: the main
// buffer drained by the flush pipeline, and a queued buffer holding events
// produced before a session started. Drains swap the backing slice out
// under the lock, so a drain is a consistent cut against concurrent inserts.
package eventstore

import (
	"sync"

	"github.com/telhawk-systems/telhawk-beacon/internal/metrics"
	"github.com/telhawk-systems/telhawk-beacon/internal/models"
)

// Store is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	events []models.Event
	queued []models.Event
	seq    uint64
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

// Insert appends e to the main buffer, assigning its sequence number, and
// returns the new buffer length.
func (s *Store) Insert(e models.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e.Sequence = s.seq
	s.events = append(s.events, e)
	s.updateGauges()
	return len(s.events)
}

// DrainAll removes and returns every buffered event in insertion order.
// It returns nil when the buffer is empty.
func (s *Store) DrainAll() []models.Event {
	s.mu.Lock()
	drained := s.events
	s.events = nil
	s.updateGauges()
	s.mu.Unlock()

	return drained
}

// Queue holds e until the next session starts and returns the queued length.
func (s *Store) Queue(e models.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e.Sequence = s.seq
	s.queued = append(s.queued, e)
	s.updateGauges()
	return len(s.queued)
}

// DrainQueued removes and returns every queued event in arrival order.
func (s *Store) DrainQueued() []models.Event {
	s.mu.Lock()
	drained := s.queued
	s.queued = nil
	s.updateGauges()
	s.mu.Unlock()

	return drained
}

// ReplayQueued moves every queued event to the end of the main buffer,
// preserving arrival order, and returns how many were moved. Queued events
// keep the sequence numbers they were given when queued.
func (s *Store) ReplayQueued() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.queued)
	if n == 0 {
		return 0
	}
	s.events = append(s.events, s.queued...)
	s.queued = nil
	s.updateGauges()
	return n
}

// Clear discards the main buffer and returns how many events were dropped.
// The queued buffer is left untouched.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.events)
	s.events = nil
	s.updateGauges()
	return n
}

// Len returns the main buffer length.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// QueuedLen returns the queued buffer length.
func (s *Store) QueuedLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued)
}

// updateGauges must be called with s.mu held.
func (s *Store) updateGauges() {
	metrics.StoreDepth.Set(float64(len(s.events)))
	metrics.QueuedDepth.Set(float64(len(s.queued)))
}
