// Package predict forecasts segment congestion 30 minutes ahead with a
// single-pass linear regression over synthetic history. The segment
// coefficient is fixed rather than fitted.
package predict

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/example/green-route/internal/numeric"
	"github.com/example/green-route/internal/simrand"
	"github.com/example/green-route/internal/traffic"
)

const (
	Horizon          = 30 * time.Minute
	SegmentCoeff     = 0.05
	FallbackForecast = 0.5
	HistoryDays      = 14
	maxAccuracyDraws = 100
)

var ErrNoHistory = errors.New("predict: no historical samples to train on")

// HistorySegments are the fixed segments the synthetic history covers.
var HistorySegments = []string{"seg_0", "seg_1", "seg_2", "seg_3", "seg_4"}

type Sample struct {
	Hour       int     `json:"hour"`
	DayOfWeek  int     `json:"dayOfWeek"` // 0 = Sunday
	SegmentID  string  `json:"segmentId"`
	Congestion float64 `json:"congestion"`
}

type Weights struct {
	Beta0 float64 `json:"beta0"` // intercept
	Beta1 float64 `json:"beta1"` // hour
	Beta2 float64 `json:"beta2"` // day of week
	Beta3 float64 `json:"beta3"` // segment
}

func (w Weights) eval(hour, day int, segmentFactor float64) float64 {
	return w.Beta0 + w.Beta1*float64(hour) + w.Beta2*float64(day) + w.Beta3*segmentFactor
}

type ModelInfo struct {
	Weights    Weights `json:"weights"`
	Accuracy   float64 `json:"accuracy"`
	DataPoints int     `json:"dataPoints"`
}

// Predictor holds immutable weights once constructed; it needs no locking.
type Predictor struct {
	weights *Weights
	history []Sample
	rng     simrand.Source
	now     func() time.Time
}

type Option func(*Predictor)

func WithRand(src simrand.Source) Option { return func(p *Predictor) { p.rng = src } }

func WithClock(now func() time.Time) Option { return func(p *Predictor) { p.now = now } }

// WithHistory trains on the given samples instead of synthesizing them.
func WithHistory(samples []Sample) Option { return func(p *Predictor) { p.history = samples } }

// New synthesizes history (unless provided) and trains once. On error the
// returned predictor is usable and forecasts FallbackForecast.
func New(opts ...Option) (*Predictor, error) {
	p := &Predictor{rng: simrand.Default(), now: time.Now}
	for _, o := range opts {
		o(p)
	}
	if p.history == nil {
		p.history = GenerateHistory(p.rng)
	}
	w, err := Train(p.history)
	if err != nil {
		return p, err
	}
	p.weights = &w
	return p, nil
}

func baseCongestion(hour int) float64 {
	switch traffic.PeriodOf(hour) {
	case traffic.MorningRush:
		return 0.7
	case traffic.EveningRush:
		return 0.75
	case traffic.Night:
		return 0.1
	default:
		return 0.2
	}
}

// GenerateHistory builds two weeks of hourly samples for HistorySegments.
func GenerateHistory(rng simrand.Source) []Sample {
	out := make([]Sample, 0, HistoryDays*24*len(HistorySegments))
	for day := 0; day < HistoryDays; day++ {
		dow := day % 7
		for hour := 0; hour < 24; hour++ {
			for _, seg := range HistorySegments {
				base := baseCongestion(hour)
				if dow == 0 || dow == 6 {
					base *= 0.6
				}
				c := numeric.Clamp(base+(rng.Float64()-0.5)*0.2, 0.05, 0.95)
				out = append(out, Sample{Hour: hour, DayOfWeek: dow, SegmentID: seg, Congestion: c})
			}
		}
	}
	return out
}

// Train fits hour and weekday slopes independently as covariance/variance
// ratios around the means; Beta3 is SegmentCoeff.
func Train(samples []Sample) (Weights, error) {
	n := float64(len(samples))
	if n == 0 {
		return Weights{}, ErrNoHistory
	}
	var sumH, sumD, sumC float64
	for _, s := range samples {
		sumH += float64(s.Hour)
		sumD += float64(s.DayOfWeek)
		sumC += s.Congestion
	}
	meanH, meanD, meanC := sumH/n, sumD/n, sumC/n

	var covH, covD, varH, varD float64
	for _, s := range samples {
		dh := float64(s.Hour) - meanH
		dd := float64(s.DayOfWeek) - meanD
		dc := s.Congestion - meanC
		covH += dh * dc
		covD += dd * dc
		varH += dh * dh
		varD += dd * dd
	}
	var w Weights
	if varH != 0 {
		w.Beta1 = covH / varH
	}
	if varD != 0 {
		w.Beta2 = covD / varD
	}
	w.Beta3 = SegmentCoeff
	w.Beta0 = meanC - w.Beta1*meanH - w.Beta2*meanD
	return w, nil
}

// segmentFactor is the numeric suffix of "seg_N" scaled by 0.01; 0 if absent.
func segmentFactor(segmentID string) float64 {
	_, suffix, ok := strings.Cut(segmentID, "_")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0
	}
	return float64(n) * 0.01
}

// Predict forecasts congestion for segmentID at now+Horizon.
func (p *Predictor) Predict(segmentID string) float64 {
	if p == nil || p.weights == nil {
		return FallbackForecast
	}
	future := p.now().Add(Horizon)
	v := p.weights.eval(future.Hour(), int(future.Weekday()), segmentFactor(segmentID))
	return numeric.Round(numeric.Clamp(v, 0, 1), 2)
}

// Accuracy scores the model against up to 100 random historical samples.
// It is recomputed on every call and varies between calls.
func (p *Predictor) Accuracy() float64 {
	if len(p.history) == 0 {
		return 0
	}
	n := min(maxAccuracyDraws, len(p.history))
	picks := make([]Sample, n)
	for i := range picks {
		picks[i] = p.history[int(p.rng.Float64()*float64(len(p.history)))]
	}
	return p.AccuracyOver(picks)
}

// AccuracyOver is (1 - mean absolute error) * 100 over the given samples,
// ignoring the segment term.
func (p *Predictor) AccuracyOver(samples []Sample) float64 {
	if p.weights == nil || len(samples) == 0 {
		return 0
	}
	var totalErr float64
	for _, s := range samples {
		totalErr += math.Abs(p.weights.eval(s.Hour, s.DayOfWeek, 0) - s.Congestion)
	}
	return numeric.Round((1-totalErr/float64(len(samples)))*100, 2)
}

// Weights reports the trained coefficients and whether training succeeded.
func (p *Predictor) Weights() (Weights, bool) {
	if p.weights == nil {
		return Weights{}, false
	}
	return *p.weights, true
}

func (p *Predictor) Info() ModelInfo {
	w, _ := p.Weights()
	return ModelInfo{Weights: w, Accuracy: p.Accuracy(), DataPoints: len(p.history)}
}
