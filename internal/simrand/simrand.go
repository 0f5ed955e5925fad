// Package simrand provides the random sources the simulators draw from.
// Production code uses a locked math/rand source; tests pin outcomes with
// Sequence.
package simrand

import (
	"math/rand"
	"sync"
	"time"
)

// Source yields uniform values in [0,1).
type Source interface {
	Float64() float64
}

type locked struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *locked) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// New returns a goroutine-safe seeded source.
func New(seed int64) Source {
	return &locked{r: rand.New(rand.NewSource(seed))}
}

// Default is seeded from the wall clock.
func Default() Source { return New(time.Now().UnixNano()) }

// Sequence replays fixed values in order, cycling when exhausted.
type Sequence struct {
	mu   sync.Mutex
	vals []float64
	i    int
}

func NewSequence(vals ...float64) *Sequence {
	if len(vals) == 0 {
		vals = []float64{0}
	}
	return &Sequence{vals: vals}
}

func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

// Draws reports how many values have been consumed.
func (s *Sequence) Draws() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.i
}

// Between maps a uniform draw onto [lo, hi).
func Between(src Source, lo, hi float64) float64 {
	return lo + src.Float64()*(hi-lo)
}
