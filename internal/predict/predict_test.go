package predict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/green-route/internal/simrand"
)

func TestGenerateHistoryShape(t *testing.T) {
	h := GenerateHistory(simrand.New(1))
	require.Len(t, h, 14*24*5)
	for _, s := range h {
		require.GreaterOrEqual(t, s.Congestion, 0.05)
		require.LessOrEqual(t, s.Congestion, 0.95)
		require.GreaterOrEqual(t, s.DayOfWeek, 0)
		require.Less(t, s.DayOfWeek, 7)
	}
}

func TestGenerateHistoryNoiselessBases(t *testing.T) {
	// a constant 0.5 draw removes the noise term
	h := GenerateHistory(simrand.NewSequence(0.5))
	byKey := map[[2]int]float64{}
	for _, s := range h {
		byKey[[2]int{s.DayOfWeek, s.Hour}] = s.Congestion
	}
	assert.InDelta(t, 0.7, byKey[[2]int{1, 9}], 1e-9)
	assert.InDelta(t, 0.75, byKey[[2]int{3, 19}], 1e-9)
	assert.InDelta(t, 0.1, byKey[[2]int{2, 3}], 1e-9)
	assert.InDelta(t, 0.2, byKey[[2]int{4, 13}], 1e-9)
	assert.InDelta(t, 0.7*0.6, byKey[[2]int{0, 9}], 1e-9)
	assert.InDelta(t, 0.06, byKey[[2]int{6, 3}], 1e-9)
}

func TestTrainRecoversLine(t *testing.T) {
	var samples []Sample
	for h := 0; h < 24; h++ {
		for d := 0; d < 7; d++ {
			samples = append(samples, Sample{Hour: h, DayOfWeek: d, Congestion: 0.1 + 0.01*float64(h) + 0.02*float64(d)})
		}
	}
	w, err := Train(samples)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, w.Beta0, 1e-9)
	assert.InDelta(t, 0.01, w.Beta1, 1e-9)
	assert.InDelta(t, 0.02, w.Beta2, 1e-9)
	assert.Equal(t, SegmentCoeff, w.Beta3)
}

func TestTrainEmpty(t *testing.T) {
	_, err := Train(nil)
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestPredictFallbackWhenUntrained(t *testing.T) {
	p, err := New(WithHistory([]Sample{}))
	require.ErrorIs(t, err, ErrNoHistory)
	assert.Equal(t, FallbackForecast, p.Predict("seg_3"))

	var nilP *Predictor
	assert.Equal(t, FallbackForecast, nilP.Predict("seg_0"))
}

func TestPredictUsesFutureHourAndSegment(t *testing.T) {
	var samples []Sample
	for h := 0; h < 24; h++ {
		for d := 0; d < 7; d++ {
			samples = append(samples, Sample{Hour: h, DayOfWeek: d, Congestion: 0.01 * float64(h)})
		}
	}
	// 09:45 Wednesday + 30 min -> hour 10
	now := time.Date(2024, 3, 6, 9, 45, 0, 0, time.Local)
	p, err := New(WithHistory(samples), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	assert.InDelta(t, 0.10, p.Predict("seg_0"), 1e-9)
	// segment 20 adds 0.05 * 0.20
	assert.InDelta(t, 0.11, p.Predict("seg_20"), 1e-9)
	assert.InDelta(t, 0.10, p.Predict("bogus"), 1e-9)
}

func TestPredictClamped(t *testing.T) {
	samples := []Sample{{Hour: 0, DayOfWeek: 0, Congestion: 0}, {Hour: 1, DayOfWeek: 1, Congestion: 2}}
	now := time.Date(2024, 3, 6, 20, 0, 0, 0, time.Local)
	p, err := New(WithHistory(samples), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	v := p.Predict("seg_1")
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 1.0)
}

func TestAccuracyOverFixedSample(t *testing.T) {
	samples := []Sample{{Hour: 0, DayOfWeek: 0, Congestion: 0.2}, {Hour: 23, DayOfWeek: 6, Congestion: 0.2}}
	p, err := New(WithHistory(samples))
	require.NoError(t, err)
	// both points fit exactly: a flat model
	assert.Equal(t, 100.0, p.AccuracyOver(samples))
	assert.Equal(t, 90.0, p.AccuracyOver([]Sample{{Hour: 5, DayOfWeek: 2, Congestion: 0.3}}))
}

func TestAccuracyOnSyntheticHistory(t *testing.T) {
	p, err := New(WithRand(simrand.New(7)))
	require.NoError(t, err)
	acc := p.Accuracy()
	assert.Greater(t, acc, 50.0)
	assert.LessOrEqual(t, acc, 100.0)

	info := p.Info()
	assert.Equal(t, 14*24*5, info.DataPoints)
	_, ok := p.Weights()
	assert.True(t, ok)
}
