package numeric

import "math"

// Round rounds half up to the given number of decimal places.
func Round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Floor(x*p+0.5) / p
}

func Clamp(x, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, x)) }

func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
