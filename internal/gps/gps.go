// Package gps simulates trucks driving along their waypoints in fixed
// five-second steps.
package gps

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/example/green-route/internal/geo"
	"github.com/example/green-route/internal/models"
)

const (
	Step            = 5 * time.Second
	DefaultSpeedKmh = 40.0
	// congestion 1 slows a truck to 40% of its speed
	congestionDrag = 0.6
)

var ErrEmptyRoute = errors.New("gps: route has no waypoints")

type session struct {
	waypoints     []models.Location
	index         int
	position      models.Location
	speed         float64
	trafficImpact float64
}

func (s *session) done() bool { return s.index >= len(s.waypoints)-1 }

// Simulator keeps one session per truck and is safe for concurrent use.
type Simulator struct {
	mu       sync.Mutex
	sessions map[string]*session
	now      func() time.Time
}

func NewSimulator() *Simulator {
	return &Simulator{sessions: make(map[string]*session), now: time.Now}
}

// WithClock overrides the timestamp source for simulated fixes.
func (s *Simulator) WithClock(now func() time.Time) *Simulator {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// Start (re)places the truck at the first waypoint. A non-positive speed uses
// DefaultSpeedKmh.
func (s *Simulator) Start(truckID string, waypoints []models.Location, speedKmh float64) error {
	if len(waypoints) == 0 {
		return ErrEmptyRoute
	}
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	wps := append([]models.Location(nil), waypoints...)
	s.mu.Lock()
	s.sessions[truckID] = &session{waypoints: wps, position: wps[0], speed: speedKmh}
	s.mu.Unlock()
	return nil
}

// Advance moves the truck one step. Once at the final waypoint it keeps
// returning that position. ok is false for unknown trucks.
func (s *Simulator) Advance(truckID string, congestion float64) (pos models.Location, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, found := s.sessions[truckID]
	if !found {
		return models.Location{}, false
	}
	if sess.done() {
		return sess.position, true
	}

	next := sess.waypoints[sess.index+1]
	effective := sess.speed * (1 - congestion*congestionDrag)
	covered := effective / 3600 * Step.Seconds()
	remaining := geo.Distance(sess.position, next)

	if remaining <= covered {
		sess.index++
		sess.position = next.At(s.now())
	} else {
		sess.position = geo.Lerp(sess.position, next, covered/remaining).At(s.now())
	}
	sess.trafficImpact = congestion
	return sess.position, true
}

// Position returns the current fix for a truck.
func (s *Simulator) Position(truckID string) (models.Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[truckID]
	if !ok {
		return models.Location{}, false
	}
	return sess.position, true
}

// Progress is the share of waypoints reached, 0..100. A single-point route is
// already complete.
func (s *Simulator) Progress(truckID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[truckID]
	if !ok {
		return 0
	}
	last := len(sess.waypoints) - 1
	if last <= 0 {
		return 100
	}
	return int(math.Floor(float64(sess.index)/float64(last)*100 + 0.5))
}

// Complete reports whether the truck reached its last waypoint. Unknown trucks
// are vacuously complete.
func (s *Simulator) Complete(truckID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[truckID]
	if !ok {
		return true
	}
	return sess.done()
}

// UpdateRoute restarts the path from the live position followed by waypoints.
func (s *Simulator) UpdateRoute(truckID string, waypoints []models.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[truckID]
	if !ok {
		return
	}
	wps := make([]models.Location, 0, len(waypoints)+1)
	wps = append(wps, sess.position)
	wps = append(wps, waypoints...)
	sess.waypoints = wps
	sess.index = 0
}

// Remaining returns the waypoints not yet reached, starting at the live position.
func (s *Simulator) Remaining(truckID string) []models.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[truckID]
	if !ok {
		return nil
	}
	out := make([]models.Location, 0, len(sess.waypoints)-sess.index)
	out = append(out, sess.position)
	if sess.index+1 < len(sess.waypoints) {
		out = append(out, sess.waypoints[sess.index+1:]...)
	}
	return out
}

// Stop drops the session; safe to call repeatedly.
func (s *Simulator) Stop(truckID string) {
	s.mu.Lock()
	delete(s.sessions, truckID)
	s.mu.Unlock()
}

func (s *Simulator) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
