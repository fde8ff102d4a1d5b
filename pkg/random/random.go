// Package random provides the injectable randomness used by the simulators.
package random

import (
	"math/rand"
	"sync"
	"time"
)

// Source is the subset of math/rand the simulators draw from.
type Source interface {
	// Float64 returns a value in [0.0, 1.0).
	Float64() float64
	// IntN returns a value in [0, n).
	IntN(n int) int
}

type lockedSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns a Source seeded with seed. A zero seed uses the current time.
func New(seed int64) Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &lockedSource{rnd: rand.New(rand.NewSource(seed))}
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

func (s *lockedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Intn(n)
}

// Factory hands out one Source per operation.
type Factory func() Source

// NewFactory returns a Factory. A non-zero seed makes every Source it returns
// replay the same sequence.
func NewFactory(seed int64) Factory {
	return func() Source { return New(seed) }
}

// Scripted replays fixed values and is meant for tests. Exhausted queues
// return 0.
type Scripted struct {
	mu     sync.Mutex
	Floats []float64
	Ints   []int
}

func (s *Scripted) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Floats) == 0 {
		return 0
	}
	f := s.Floats[0]
	s.Floats = s.Floats[1:]
	return f
}

func (s *Scripted) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Ints) == 0 {
		return 0
	}
	i := s.Ints[0]
	s.Ints = s.Ints[1:]
	return i % n
}
