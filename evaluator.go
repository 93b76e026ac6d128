package meshsdf

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/soypat/meshsdf/internal/d3"
)

// Evaluator computes signed distances from query points to an indexed
// surface with a fixed winding. It borrows the Index read-only and owns
// scratch buffers, so an Evaluator must not be shared between goroutines.
// Create one Evaluator per goroutine instead.
type Evaluator struct {
	idx     *Index
	winding Winding
	inside  classifier
	stack   []rayFrame
	hits    []RayHit
}

var _ SDF3 = (*Evaluator)(nil)

// NewEvaluator returns an Evaluator over idx classifying points with
// winding w. An undefined winding yields a *ConfigurationError.
func NewEvaluator(idx *Index, w Winding) (*Evaluator, error) {
	inside, err := w.classifier()
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		idx:     idx,
		winding: w,
		inside:  inside,
	}, nil
}

// Winding returns the winding the evaluator classifies points with.
func (e *Evaluator) Winding() Winding { return e.winding }

// SignedDistance returns the distance from q to the surface, negative when
// q is inside according to the evaluator's winding. Non-finite queries
// yield NaN.
func (e *Evaluator) SignedDistance(q r3.Vec) float64 {
	if !d3.Finite(q) {
		return math.NaN()
	}
	near, _ := e.idx.nearest(q, math.Inf(1))
	return e.sign(q, &near)
}

// SignedDistanceLimited is like SignedDistance but ignores surface farther
// than limit from q. It returns NaN and false when no surface lies within
// limit or the query is not finite.
func (e *Evaluator) SignedDistanceLimited(q r3.Vec, limit float64) (float64, bool) {
	if !d3.Finite(q) || !(limit >= 0) {
		return math.NaN(), false
	}
	near, ok := e.idx.nearest(q, limit*limit)
	if !ok {
		return math.NaN(), false
	}
	return e.sign(q, &near), true
}

func (e *Evaluator) sign(q r3.Vec, near *Nearest) float64 {
	// Points on the surface are neither inside nor outside.
	if near.Distance == 0 {
		return 0
	}
	if e.inside(e, q, near) {
		return -near.Distance
	}
	return near.Distance
}

func (e *Evaluator) castRay(origin, dir r3.Vec) []RayHit {
	e.hits = e.idx.castRay(e.hits, &e.stack, origin, dir)
	return e.hits
}

// Barycentric describes the projection of a point onto its closest triangle.
type Barycentric struct {
	// Triangle is the closest triangle, or -1 if there is none.
	Triangle int
	// Vertices are the mesh vertex indices of Triangle.
	Vertices [3]int
	// Weights are non-negative barycentric weights of Point summing to one,
	// in the same order as Vertices.
	Weights [3]float64
	// Point is the closest point of the surface.
	Point r3.Vec
	// Distance is the unsigned distance from the query to Point.
	Distance float64
	// Feature is the kind of triangle feature Point lies on.
	Feature Feature
}

// Barycentric projects q onto the surface and returns the closest triangle
// along with the barycentric coordinates of the closest point. It returns
// false for non-finite queries.
func (e *Evaluator) Barycentric(q r3.Vec) (Barycentric, bool) {
	if !d3.Finite(q) {
		return Barycentric{Triangle: -1, Distance: math.NaN()}, false
	}
	near, _ := e.idx.nearest(q, math.Inf(1))
	b := Barycentric{
		Triangle: near.Triangle,
		Vertices: e.idx.mesh.Triangle(near.Triangle),
		Point:    near.Point,
		Distance: near.Distance,
		Feature:  near.Feature,
	}
	var sum float64
	for i, w := range near.Weights {
		b.Weights[i] = math.Max(0, w)
		sum += b.Weights[i]
	}
	for i := range b.Weights {
		b.Weights[i] /= sum
	}
	return b, true
}

// Evaluate returns the signed distance from p to the surface. It makes
// the Evaluator usable as an SDF3.
func (e *Evaluator) Evaluate(p r3.Vec) float64 { return e.SignedDistance(p) }

// Bounds returns the bounding box of the indexed surface.
func (e *Evaluator) Bounds() r3.Box { return e.idx.Bounds() }
