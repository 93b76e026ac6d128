package meshsdf

import (
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Winding selects how a query point is classified as inside or outside
// the reference surface.
type Winding uint8

const (
	// EvenOdd marks a point inside when a ray cast from it crosses the
	// surface an odd number of times.
	EvenOdd Winding = iota
	// Negative sums the signed crossings of a ray (+1 entering, -1 exiting)
	// and marks the point inside when the sum is negative.
	Negative
	// NonZero marks a point inside when the signed crossing sum is not zero.
	NonZero
	// Normals compares the offset to the closest surface point against the
	// normal of the closest feature. No ray is cast.
	Normals
	windingSentinel
)

// rayDir is the direction rays are cast in by the ray based windings.
var rayDir = r3.Vec{Z: 1}

var windingNames = [...]string{
	EvenOdd:  "EVEN_ODD",
	Negative: "NEGATIVE",
	NonZero:  "NONZERO",
	Normals:  "NORMALS",
}

// ParseWinding returns the Winding named by s. Names are matched case
// insensitively. An unknown name yields a *ConfigurationError.
func ParseWinding(s string) (Winding, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for w, n := range windingNames {
		if n == name {
			return Winding(w), nil
		}
	}
	return 0, configErrorf("unrecognized winding method %q", s)
}

func (w Winding) String() string {
	if !w.Valid() {
		return "Winding(" + strconv.Itoa(int(w)) + ")"
	}
	return windingNames[w]
}

// Valid returns true if w is one of the defined windings.
func (w Winding) Valid() bool { return w < windingSentinel }

// classifier reports whether q is inside the surface given its nearest
// surface point. The evaluator's scratch buffers may be used.
type classifier func(e *Evaluator, q r3.Vec, near *Nearest) bool

func (w Winding) classifier() (classifier, error) {
	switch w {
	case EvenOdd:
		return insideEvenOdd, nil
	case Negative:
		return insideNegative, nil
	case NonZero:
		return insideNonZero, nil
	case Normals:
		return insideNormals, nil
	}
	return nil, configErrorf("unrecognized winding method %d", uint8(w))
}

func insideEvenOdd(e *Evaluator, q r3.Vec, _ *Nearest) bool {
	return len(e.castRay(q, rayDir))%2 == 1
}

func insideNegative(e *Evaluator, q r3.Vec, _ *Nearest) bool {
	return netCrossing(e.castRay(q, rayDir)) < 0
}

func insideNonZero(e *Evaluator, q r3.Vec, _ *Nearest) bool {
	return netCrossing(e.castRay(q, rayDir)) != 0
}

func netCrossing(hits []RayHit) (net int) {
	for _, h := range hits {
		net += h.Crossing
	}
	return net
}

func insideNormals(e *Evaluator, q r3.Vec, near *Nearest) bool {
	n := e.idx.featureNormal(near)
	return r3.Dot(r3.Sub(q, near.Point), n) < 0
}
