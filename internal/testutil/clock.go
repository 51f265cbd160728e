package testutil

import "sync"

// Sequence hands out deterministic ids and revisions for fakes.
//
// Unlike changeq.Counter, a Sequence can be reset for test reuse, so the same
// scenario produces the same entity ids on every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Sequence struct {
	mu  sync.Mutex
	seq int64
}

// NewSequence creates a sequence whose first value is start+1.
func NewSequence(start int64) *Sequence {
	return &Sequence{seq: start}
}

// Next increments and returns the next value.
func (s *Sequence) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// Current returns the last value handed out.
func (s *Sequence) Current() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Reset rewinds the sequence to start.
func (s *Sequence) Reset(start int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = start
}
