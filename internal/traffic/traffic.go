package traffic

import (
	"math"
	"strconv"
	"time"

	"github.com/example/green-route/internal/cache"
	"github.com/example/green-route/internal/models"
	"github.com/example/green-route/internal/numeric"
	"github.com/example/green-route/internal/simrand"
)

const (
	DefaultTTL          = 2 * time.Minute
	IncidentProbability = 0.05
	IncidentPenalty     = 0.2
	MaxCongestion       = 0.95
	FreeFlowSpeedKmh    = 60.0
	locationWeight      = 0.3
)

// Period is a time-of-day bucket driving base congestion.
type Period string

const (
	MorningRush Period = "morning_rush"
	EveningRush Period = "evening_rush"
	Normal      Period = "normal"
	Night       Period = "night"
)

// PeriodOf buckets an hour (0-23).
func PeriodOf(hour int) Period {
	switch {
	case hour >= 8 && hour <= 10:
		return MorningRush
	case hour >= 18 && hour <= 20:
		return EveningRush
	case hour >= 22 || hour <= 6:
		return Night
	default:
		return Normal
	}
}

// SegmentID names the road segment at a waypoint index.
func SegmentID(i int) string { return "seg_" + strconv.Itoa(i) }

// Simulator produces synthetic per-segment traffic readings.
type Simulator struct {
	cache *cache.TTL[models.TrafficReading]
	rng   simrand.Source
	now   func() time.Time
}

type Option func(*Simulator)

func WithRand(src simrand.Source) Option { return func(s *Simulator) { s.rng = src } }

func WithClock(now func() time.Time) Option { return func(s *Simulator) { s.now = now } }

func WithTTL(ttl time.Duration) Option {
	return func(s *Simulator) { s.cache = cache.New[models.TrafficReading](ttl) }
}

func NewSimulator(opts ...Option) *Simulator {
	s := &Simulator{
		cache: cache.New[models.TrafficReading](DefaultTTL),
		rng:   simrand.Default(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.cache.WithClock(s.now)
	return s
}

// ReadSegment returns the cached reading for segmentID while it is fresh,
// otherwise draws a new one for the current time of day.
func (s *Simulator) ReadSegment(segmentID string, lat, lon float64) models.TrafficReading {
	if r, ok := s.cache.Get(segmentID); ok {
		return r
	}
	r := s.draw(segmentID, lat)
	s.cache.Set(segmentID, r)
	return r
}

func (s *Simulator) draw(segmentID string, lat float64) models.TrafficReading {
	var base float64
	switch PeriodOf(s.now().Hour()) {
	case MorningRush, EveningRush:
		base = simrand.Between(s.rng, 0.6, 0.9)
	case Night:
		base = simrand.Between(s.rng, 0.05, 0.2)
	default:
		base = simrand.Between(s.rng, 0.2, 0.5)
	}
	// urban vs highway variation
	offset := math.Mod(math.Abs(lat), 1) * locationWeight
	congestion := numeric.Clamp(base+offset, 0, MaxCongestion)

	incident := s.rng.Float64() < IncidentProbability
	if incident {
		congestion = numeric.Clamp(congestion+IncidentPenalty, 0, MaxCongestion)
	}
	return models.TrafficReading{
		SegmentID:       segmentID,
		CongestionLevel: congestion,
		Speed:           FreeFlowSpeedKmh * (1 - congestion),
		Incident:        incident,
	}
}

// SegmentReadings reads one segment per waypoint index.
func (s *Simulator) SegmentReadings(waypoints []models.Location) []models.TrafficReading {
	out := make([]models.TrafficReading, len(waypoints))
	for i, wp := range waypoints {
		out[i] = s.ReadSegment(SegmentID(i), wp.Latitude, wp.Longitude)
	}
	return out
}

// AverageRouteTraffic is the mean congestion across the route; 0 for no waypoints.
func (s *Simulator) AverageRouteTraffic(waypoints []models.Location) float64 {
	if len(waypoints) == 0 {
		return 0
	}
	var total float64
	for _, r := range s.SegmentReadings(waypoints) {
		total += r.CongestionLevel
	}
	return total / float64(len(waypoints))
}

func (s *Simulator) ClearCache() { s.cache.Clear() }

// Purge drops expired readings only.
func (s *Simulator) Purge() int { return s.cache.Purge() }
