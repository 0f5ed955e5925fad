package weather

import (
	"fmt"
	"time"

	"github.com/example/green-route/internal/cache"
	"github.com/example/green-route/internal/models"
	"github.com/example/green-route/internal/simrand"
)

const (
	DefaultTTL = 5 * time.Minute
	// every Nth waypoint is sampled when averaging a route
	SampleStride = 3
)

// Simulator produces synthetic weather per ~1km coordinate bucket.
type Simulator struct {
	cache *cache.TTL[models.WeatherReading]
	rng   simrand.Source
	now   func() time.Time
}

type Option func(*Simulator)

func WithRand(src simrand.Source) Option { return func(s *Simulator) { s.rng = src } }

func WithClock(now func() time.Time) Option { return func(s *Simulator) { s.now = now } }

func WithTTL(ttl time.Duration) Option {
	return func(s *Simulator) { s.cache = cache.New[models.WeatherReading](ttl) }
}

func NewSimulator(opts ...Option) *Simulator {
	s := &Simulator{
		cache: cache.New[models.WeatherReading](DefaultTTL),
		rng:   simrand.Default(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.cache.WithClock(s.now)
	return s
}

func bucketKey(lat, lon float64) string { return fmt.Sprintf("%.2f_%.2f", lat, lon) }

// ReadLocation returns the weather for the rounded-coordinate bucket.
func (s *Simulator) ReadLocation(lat, lon float64) models.WeatherReading {
	key := bucketKey(lat, lon)
	if w, ok := s.cache.Get(key); ok {
		return w
	}
	w := s.draw()
	s.cache.Set(key, w)
	return w
}

func (s *Simulator) draw() models.WeatherReading {
	hour := s.now().Hour()
	r := s.rng.Float64()
	switch {
	case r < 0.70:
		return models.WeatherReading{Type: models.WeatherClear, Visibility: simrand.Between(s.rng, 0.95, 1.0), Impact: 0}
	case r < 0.85:
		return models.WeatherReading{Type: models.WeatherRain, Visibility: simrand.Between(s.rng, 0.7, 0.9), Impact: 0.15}
	case r < 0.92:
		// fog only forms overnight
		if hour >= 22 || hour <= 6 {
			return models.WeatherReading{Type: models.WeatherFog, Visibility: simrand.Between(s.rng, 0.4, 0.7), Impact: 0.25}
		}
		return models.WeatherReading{Type: models.WeatherClear, Visibility: 0.9, Impact: 0}
	default:
		return models.WeatherReading{Type: models.WeatherHeavyRain, Visibility: simrand.Between(s.rng, 0.3, 0.6), Impact: 0.35}
	}
}

// AverageRouteImpact samples every third waypoint starting at 0.
func (s *Simulator) AverageRouteImpact(waypoints []models.Location) float64 {
	var total float64
	samples := 0
	for i := 0; i < len(waypoints); i += SampleStride {
		wp := waypoints[i]
		total += s.ReadLocation(wp.Latitude, wp.Longitude).Impact
		samples++
	}
	if samples == 0 {
		return 0
	}
	return total / float64(samples)
}

func (s *Simulator) ClearCache() { s.cache.Clear() }

func (s *Simulator) Purge() int { return s.cache.Purge() }
