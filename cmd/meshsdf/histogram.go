package main

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// saveHistogram plots the distribution of the finite values in dists.
// The image format follows the extension of path.
func saveHistogram(path string, dists []float64, bins int) error {
	if bins <= 0 {
		return errors.Errorf("bin count must be positive, got %d", bins)
	}
	values := make(plotter.Values, 0, len(dists))
	for _, d := range dists {
		if !math.IsNaN(d) && !math.IsInf(d, 0) {
			values = append(values, d)
		}
	}
	if len(values) == 0 {
		return errors.New("no finite signed distances to plot")
	}
	h, err := plotter.NewHist(values, bins)
	if err != nil {
		return err
	}
	p := plot.New()
	p.Title.Text = "Signed distance"
	p.X.Label.Text = "distance"
	p.Y.Label.Text = "points"
	p.Add(h)
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
