package meshsdf

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary holds descriptive statistics of a set of signed distances.
// NaN values are counted and otherwise ignored.
type Summary struct {
	// N is the number of values summarized, NaN included.
	N int
	// NaN is the number of values that are NaN.
	NaN int
	// Inside is the number of negative values.
	Inside int
	Min, Max float64
	Mean     float64
	StdDev   float64
	// RMS is the root mean square of the values, a common measure of
	// the deviation between two surfaces.
	RMS float64
}

// Summarize computes statistics over dists. Statistics of an input with
// no finite values are NaN.
func Summarize(dists []float64) Summary {
	s := Summary{N: len(dists)}
	valid := make([]float64, 0, len(dists))
	for _, d := range dists {
		switch {
		case math.IsNaN(d):
			s.NaN++
			continue
		case d < 0:
			s.Inside++
		}
		valid = append(valid, d)
	}
	if len(valid) == 0 {
		nan := math.NaN()
		s.Min, s.Max, s.Mean, s.StdDev, s.RMS = nan, nan, nan, nan, nan
		return s
	}
	s.Min = floats.Min(valid)
	s.Max = floats.Max(valid)
	s.Mean, s.StdDev = stat.MeanStdDev(valid, nil)
	if len(valid) == 1 {
		s.StdDev = 0
	}
	s.RMS = floats.Norm(valid, 2) / math.Sqrt(float64(len(valid)))
	return s
}
