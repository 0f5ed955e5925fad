package optimizer

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/green-route/internal/emission"
	"github.com/example/green-route/internal/geo"
	"github.com/example/green-route/internal/models"
	"github.com/example/green-route/internal/numeric"
)

type fixedTraffic float64

func (f fixedTraffic) AverageRouteTraffic([]models.Location) float64 { return float64(f) }

type fixedWeather float64

func (f fixedWeather) AverageRouteImpact([]models.Location) float64 { return float64(f) }

type fixedPredictor float64

func (f fixedPredictor) Predict(string) float64 { return float64(f) }

var (
	delhi = models.Location{Latitude: 28.6139, Longitude: 77.2090}
	noida = models.Location{Latitude: 28.5355, Longitude: 77.3910}
)

func TestAlternatives(t *testing.T) {
	s := &Service{}
	alts := s.Alternatives(delhi, noida)
	require.Len(t, alts, 3)
	for _, a := range alts {
		require.Len(t, a, 16)
		assert.True(t, a[0].SamePoint(delhi))
		assert.True(t, a[15].SamePoint(noida))
	}
	for i := 1; i < 15; i++ {
		off := math.Sin(float64(i)*0.5) * 0.01
		assert.InDelta(t, alts[0][i].Latitude+off, alts[1][i].Latitude, 1e-12)
		assert.InDelta(t, alts[0][i].Latitude-off, alts[2][i].Latitude, 1e-12)
		assert.Equal(t, alts[0][i].Longitude, alts[1][i].Longitude)
	}
}

func TestOptimizeScenarioDelhiNoida(t *testing.T) {
	s := &Service{Traffic: fixedTraffic(0.6), Weather: fixedWeather(0.1), Predictor: fixedPredictor(0.5)}
	best, err := s.Optimize(context.Background(), delhi, noida, true)
	require.NoError(t, err)

	direct := geo.Interpolate(delhi, noida, 15)
	d := geo.PathLength(direct)
	require.InDelta(t, 19.8, d, 1.0)
	assert.Equal(t, direct, best.Waypoints, "direct path is shortest under uniform conditions")

	fuel := emission.FuelConsumption(direct, 0.6, 0.1, 0)
	assert.InDelta(t, numeric.Round(d, 2), best.TotalDistance, 1e-9)
	assert.InDelta(t, fuel, best.FuelEstimate, 1e-9)
	assert.InDelta(t, emission.CO2(fuel), best.CO2Estimate, 1e-9)
	assert.InDelta(t, numeric.Round(d/(40*(1-0.6*0.5)*(1-0.1*0.3))*60, 0), best.EstimatedDuration, 1e-9)
	assert.InDelta(t, 0.4, best.TrafficScore, 1e-9)
	assert.InDelta(t, 0.9, best.WeatherScore, 1e-9)

	overall := 0.4*(1-0.6) + 0.2*(1-0.1) + 0.25*(1/(1+d/50)) + 0.15*(1-0.5)
	assert.InDelta(t, numeric.Round(overall, 3), best.OverallScore, 1e-9)
}

func TestOptimizeDeterministic(t *testing.T) {
	s := &Service{Traffic: fixedTraffic(0.6), Weather: fixedWeather(0.1), Predictor: fixedPredictor(0.5)}
	a, err := s.Optimize(context.Background(), delhi, noida, true)
	require.NoError(t, err)
	b, err := s.Optimize(context.Background(), delhi, noida, true)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestScoreUsesWorseOfCurrentAndPredicted(t *testing.T) {
	wps := geo.Interpolate(delhi, noida, 15)
	s := &Service{Traffic: fixedTraffic(0.3), Weather: fixedWeather(0), Predictor: fixedPredictor(0.8)}

	withPred, err := s.Score(context.Background(), wps, true)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, withPred.TrafficScore, 1e-9)
	assert.InDelta(t, emission.FuelConsumption(wps, 0.8, 0, 0), withPred.FuelEstimate, 1e-9)

	noPred, err := s.Score(context.Background(), wps, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, noPred.TrafficScore, 1e-9)
	assert.Greater(t, noPred.OverallScore, withPred.OverallScore)
}

func TestOverallScoreInUnitRange(t *testing.T) {
	wps := geo.Interpolate(delhi, noida, 15)
	for _, c := range []float64{0, 0.25, 0.5, 0.95, 1} {
		for _, w := range []float64{0, 0.15, 0.35, 1} {
			s := &Service{Traffic: fixedTraffic(c), Weather: fixedWeather(w), Predictor: fixedPredictor(c)}
			r, err := s.Score(context.Background(), wps, true)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, r.OverallScore, 0.0)
			assert.LessOrEqual(t, r.OverallScore, 1.0)
		}
	}
}

func TestOptimizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &Service{Traffic: fixedTraffic(0.6), Weather: fixedWeather(0.1)}
	_, err := s.Optimize(ctx, delhi, noida, true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShouldRecalculateStrictThreshold(t *testing.T) {
	cases := []struct {
		name     string
		newT     float64
		previous float64
		trigger  bool
	}{
		{"steady", 0.2, 0.2, false},
		{"exactly thirty percent", 0.8125, 0.625, false},
		{"just above", 0.82, 0.625, true},
		{"drop", 0.1, 0.2, true},
		{"zero baseline rising", 0.2, 0, true},
		{"zero baseline flat", 0, 0, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := &Service{Traffic: fixedTraffic(c.newT)}
			d := s.ShouldRecalculate(nil, c.previous)
			assert.Equal(t, c.trigger, d.Trigger)
			assert.Equal(t, c.newT, d.NewTraffic)
			assert.False(t, math.IsInf(d.ChangePct, 0))
		})
	}
}

func TestGenerateAlert(t *testing.T) {
	old := models.OptimizedRoute{FuelEstimate: 10, EstimatedDuration: 30}

	a := GenerateAlert(old, models.OptimizedRoute{FuelEstimate: 8, EstimatedDuration: 25}, "Traffic increased significantly ahead")
	assert.Equal(t, "Traffic increased significantly ahead. Recommended route change will save 2.0L fuel and 5 minutes.", a.Message)
	assert.Equal(t, 2.0, a.FuelSavings)
	assert.Equal(t, 5.0, a.TimeSavings)

	b := GenerateAlert(old, models.OptimizedRoute{FuelEstimate: 9.5, EstimatedDuration: 35}, "Heavy rain")
	assert.Equal(t, "Heavy rain. Recommended route change will save 0.5L fuel.", b.Message)
	assert.Equal(t, 0.0, b.TimeSavings)

	c := GenerateAlert(old, models.OptimizedRoute{FuelEstimate: 12, EstimatedDuration: 40}, "Detour")
	assert.Equal(t, "Detour. Route adjusted for optimal efficiency.", c.Message)
	assert.Equal(t, 0.0, c.FuelSavings)
	assert.Equal(t, 0.0, c.TimeSavings)
}
