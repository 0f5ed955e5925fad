package weather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/example/green-route/internal/models"
	"github.com/example/green-route/internal/simrand"
)

func clockAt(hour int) func() time.Time {
	t := time.Date(2024, 6, 1, hour, 0, 0, 0, time.Local)
	return func() time.Time { return t }
}

func TestDistribution(t *testing.T) {
	cases := []struct {
		name   string
		hour   int
		draws  []float64
		typ    models.WeatherType
		impact float64
		visLo  float64
		visHi  float64
	}{
		{"clear", 12, []float64{0.1, 0.5}, models.WeatherClear, 0, 0.95, 1.0},
		{"rain", 12, []float64{0.75, 0.5}, models.WeatherRain, 0.15, 0.7, 0.9},
		{"fog at night", 23, []float64{0.9, 0.5}, models.WeatherFog, 0.25, 0.4, 0.7},
		{"fog by day falls back to clear", 13, []float64{0.9}, models.WeatherClear, 0, 0.9, 0.9},
		{"heavy rain", 12, []float64{0.95, 0.5}, models.WeatherHeavyRain, 0.35, 0.3, 0.6},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := NewSimulator(WithRand(simrand.NewSequence(c.draws...)), WithClock(clockAt(c.hour)))
			w := s.ReadLocation(28.61, 77.21)
			assert.Equal(t, c.typ, w.Type)
			assert.Equal(t, c.impact, w.Impact)
			assert.GreaterOrEqual(t, w.Visibility, c.visLo)
			assert.LessOrEqual(t, w.Visibility, c.visHi)
		})
	}
}

func TestBucketSharedWithinTwoDecimals(t *testing.T) {
	seq := simrand.NewSequence(0.75, 0.5, 0.1, 0.5)
	s := NewSimulator(WithRand(seq), WithClock(clockAt(12)))
	a := s.ReadLocation(28.6101, 77.2099)
	b := s.ReadLocation(28.6149, 77.2051)
	assert.Equal(t, a, b)
	assert.Equal(t, 2, seq.Draws())
}

func TestAverageRouteImpactSamplesEveryThird(t *testing.T) {
	// every sampled bucket draws heavy rain (0.95) then a visibility draw
	s := NewSimulator(WithRand(simrand.NewSequence(0.95, 0.5)), WithClock(clockAt(12)))
	wps := make([]models.Location, 7) // samples indices 0,3,6 -> 3 samples
	for i := range wps {
		wps[i] = models.Location{Latitude: float64(i), Longitude: float64(i)}
	}
	assert.InDelta(t, 0.35, s.AverageRouteImpact(wps), 1e-9)
	assert.Equal(t, 0.0, s.AverageRouteImpact(nil))
}

func TestAverageRouteImpactMixed(t *testing.T) {
	// bucket 0 clear, bucket 3 rain
	s := NewSimulator(WithRand(simrand.NewSequence(0.1, 0.5, 0.75, 0.5)), WithClock(clockAt(12)))
	wps := []models.Location{{Latitude: 0}, {Latitude: 1}, {Latitude: 2}, {Latitude: 3}}
	assert.InDelta(t, 0.075, s.AverageRouteImpact(wps), 1e-9)
}
