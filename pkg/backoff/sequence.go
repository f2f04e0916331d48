package backoff

import (
	"sync"
	"time"

	cbackoff "github.com/cenkalti/backoff/v5"
)

// Sequence tracks consecutive failures against a Policy.
// It is safe for concurrent use.
type Sequence struct {
	mu       sync.Mutex
	policy   Policy
	failures int
}

// NewSequence creates a sequence with zero failures.
func NewSequence(p Policy) *Sequence {
	return &Sequence{policy: p}
}

// Fail records one more failure and returns the delay to wait before the
// next attempt.
func (s *Sequence) Fail() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	return s.policy.Delay(s.failures)
}

// Peek returns the delay for the current failure count without advancing.
func (s *Sequence) Peek() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy.Delay(s.failures)
}

// Reset clears the failure count. Call after a successful connection.
func (s *Sequence) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
}

// Failures returns the number of failures since the last reset.
func (s *Sequence) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// Policy returns the policy the sequence was built with.
func (s *Sequence) Policy() Policy {
	return s.policy
}

// NextBackOff implements cbackoff.BackOff.
func (s *Sequence) NextBackOff() time.Duration {
	return s.Fail()
}

// Compile-time interface satisfaction check.
var _ cbackoff.BackOff = (*Sequence)(nil)
