package meshsdf

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/soypat/meshsdf/internal/d3"
)

// tieTol is the relative tolerance under which two candidate squared
// distances are considered equal during the nearest point search.
const tieTol = 1e-12

// Feature is the kind of triangle feature a closest point lies on.
type Feature uint8

const (
	FeatureFace Feature = iota
	FeatureEdge
	FeatureVertex
)

func (f Feature) String() string {
	switch f {
	case FeatureFace:
		return "face"
	case FeatureEdge:
		return "edge"
	case FeatureVertex:
		return "vertex"
	}
	return "unknown"
}

// Nearest is the result of a closest point query.
type Nearest struct {
	// Point is the closest point on the surface.
	Point r3.Vec
	// Triangle is the index of the triangle Point lies on, or -1 if
	// the query found nothing.
	Triangle int
	// Distance is the unsigned distance from the query to Point.
	Distance float64
	// Feature tells whether Point lies inside the triangle, on one of its
	// edges or on one of its vertices.
	Feature Feature
	// Vertices holds the mesh vertex indices of the feature. An edge uses
	// both entries and a vertex only the first. Unused entries are -1.
	Vertices [2]int
	// Weights are the barycentric weights of Point relative to the
	// vertices of Triangle, in triangle order.
	Weights [3]float64
}

// NearestPoint returns the point of the indexed surface closest to q.
// Candidates equidistant within tolerance resolve to the lowest triangle
// index. A non-finite q yields a Nearest with Triangle -1 and NaN distance.
func (idx *Index) NearestPoint(q r3.Vec) Nearest {
	if !d3.Finite(q) {
		return noNearest()
	}
	near, _ := idx.nearest(q, math.Inf(1))
	return near
}

func noNearest() Nearest {
	nan := math.NaN()
	return Nearest{
		Point:    r3.Vec{X: nan, Y: nan, Z: nan},
		Triangle: -1,
		Distance: nan,
		Vertices: [2]int{-1, -1},
	}
}

// nearestSearch is the running state of a closest point traversal.
type nearestSearch struct {
	q     r3.Vec
	best2 float64
	// tri is -1 until a candidate within the limit is found.
	tri    int32
	point  r3.Vec
	params [2]float64
	on12   bool
	// floor2 is the absolute floor of the tie tolerance.
	floor2 float64
}

func (s *nearestSearch) tol() float64 {
	return tieTol * math.Max(s.floor2, s.best2)
}

// nearest finds the closest point to q among triangles no farther than
// sqrt(limit2). It returns false if there is none.
func (idx *Index) nearest(q r3.Vec, limit2 float64) (Nearest, bool) {
	s := nearestSearch{
		q:      q,
		best2:  limit2,
		tri:    -1,
		floor2: idx.scale2,
	}
	idx.nearestHelper(&s, 0, idx.bb)
	if s.tri < 0 {
		return noNearest(), false
	}
	return idx.nearestResult(&s), true
}

func (idx *Index) nearestHelper(s *nearestSearch, node int, bb d3.Box) {
	n := &idx.nodes[node]
	if n.isLeaf() {
		for slot := n.start; slot < n.end; slot++ {
			idx.consider(s, idx.order[slot])
		}
		return
	}
	// Visit the closer child first, the farther one only if it may
	// still hold a candidate.
	leftBB, rightBB := n.childBoxes(bb)
	leftDist2, rightDist2 := leftBB.Dist2(s.q), rightBB.Dist2(s.q)
	leftIdx := n.leftChild()
	rightIdx := leftIdx + 1
	if rightDist2 < leftDist2 {
		leftIdx, rightIdx = rightIdx, leftIdx
		leftBB, rightBB = rightBB, leftBB
		leftDist2, rightDist2 = rightDist2, leftDist2
	}
	if s.reachable(leftDist2) {
		idx.nearestHelper(s, leftIdx, leftBB)
	}
	if s.reachable(rightDist2) {
		idx.nearestHelper(s, rightIdx, rightBB)
	}
}

// reachable reports whether a box at squared distance d2 may hold a
// candidate that would be accepted.
func (s *nearestSearch) reachable(d2 float64) bool {
	if s.tri < 0 {
		return d2 <= s.best2
	}
	return d2 <= s.best2+s.tol()
}

func (idx *Index) consider(s *nearestSearch, tri int32) {
	verts := idx.mesh.TriangleVertices(int(tri))
	p, params, on12 := closestOnTriangle(s.q, &verts)
	d2 := r3.Norm2(r3.Sub(s.q, p))
	if s.tri < 0 {
		if !(d2 <= s.best2) {
			return
		}
	} else {
		tol := s.tol()
		closer := d2 < s.best2-tol
		tied := d2 <= s.best2+tol && tri < s.tri
		if !closer && !tied {
			return
		}
	}
	s.best2 = d2
	s.tri = tri
	s.point = p
	s.params = params
	s.on12 = on12
}

func (idx *Index) nearestResult(s *nearestSearch) Nearest {
	tri := idx.mesh.Triangle(int(s.tri))
	sp, tp := s.params[0], s.params[1]
	feat, local := featureAt(sp, tp, s.on12)
	near := Nearest{
		Point:    s.point,
		Triangle: int(s.tri),
		Distance: r3.Norm(r3.Sub(s.q, s.point)),
		Feature:  feat,
		Vertices: [2]int{-1, -1},
		Weights:  [3]float64{1 - sp - tp, sp, tp},
	}
	for i, l := range local {
		if l >= 0 {
			near.Vertices[i] = tri[l]
		}
	}
	return near
}

// featureAt classifies the closest point a + s*(b-a) + t*(c-a) of triangle
// abc by the feature it lies on, returning the local vertex indices of the
// feature. on12 is set when the point was found on edge bc.
func featureAt(s, t float64, on12 bool) (Feature, [2]int) {
	switch {
	case on12:
		switch t {
		case 0:
			return FeatureVertex, [2]int{1, -1}
		case 1:
			return FeatureVertex, [2]int{2, -1}
		}
		return FeatureEdge, [2]int{1, 2}
	case s == 0 && t == 0:
		return FeatureVertex, [2]int{0, -1}
	case s == 0:
		if t == 1 {
			return FeatureVertex, [2]int{2, -1}
		}
		return FeatureEdge, [2]int{0, 2}
	case t == 0:
		if s == 1 {
			return FeatureVertex, [2]int{1, -1}
		}
		return FeatureEdge, [2]int{0, 1}
	}
	return FeatureFace, [2]int{-1, -1}
}

// closestOnTriangle returns the point of the solid triangle closest to q and
// its parameters (s, t) such that the point is a + s*(b-a) + t*(c-a).
// on12 is true when the point was resolved on edge bc.
//
// Based on Geometric Tools' algorithm for the distance between a point and
// a solid triangle, licensed under the Boost Software License.
func closestOnTriangle(q r3.Vec, tri *[3]r3.Vec) (closest r3.Vec, p [2]float64, on12 bool) {
	a, b, c := tri[0], tri[1], tri[2]
	diff := r3.Sub(q, a)
	edge0 := r3.Sub(b, a)
	edge1 := r3.Sub(c, a)

	a00 := r3.Dot(edge0, edge0)
	a01 := r3.Dot(edge0, edge1)
	a11 := r3.Dot(edge1, edge1)
	b0 := -r3.Dot(diff, edge0)
	b1 := -r3.Dot(diff, edge1)

	f00 := b0
	f10 := b0 + a00
	f01 := b0 + a01

	var p0, p1 [2]float64
	var dt1, h0, h1 float64

	switch {
	case f00 >= 0:
		if f01 >= 0 {
			p = minEdge02(a11, b1)
			break
		}
		p0[0] = 0
		p0[1] = f00 / (f00 - f01)
		p1[0] = f01 / (f01 - f10)
		p1[1] = 1 - p1[0]
		dt1 = p1[1] - p0[1]
		h0 = dt1 * (a11*p0[1] + b1)
		if h0 >= 0 {
			p = minEdge02(a11, b1)
			break
		}
		h1 = dt1 * (a01*p1[0] + a11*p1[1] + b1)
		if h1 <= 0 {
			p, on12 = minEdge12(a01, a11, b1, f10, f01), true
		} else {
			p = minInterior(p0, h0, p1, h1)
		}

	case f01 <= 0:
		if f10 <= 0 {
			p, on12 = minEdge12(a01, a11, b1, f10, f01), true
			break
		}
		p0[0] = f00 / (f00 - f10)
		p0[1] = 0
		p1[0] = f01 / (f01 - f10)
		p1[1] = 1 - p1[0]
		h0 = p1[1] * (a01*p0[0] + b1)
		if h0 >= 0 {
			p = p0
			break
		}
		h1 = p1[1] * (a01*p1[0] + a11*p1[1] + b1)
		if h1 <= 0 {
			p, on12 = minEdge12(a01, a11, b1, f10, f01), true
		} else {
			p = minInterior(p0, h0, p1, h1)
		}

	case f10 <= 0:
		p0[0] = 0
		p0[1] = f00 / (f00 - f01)
		p1[0] = f01 / (f01 - f10)
		p1[1] = 1 - p1[0]
		dt1 = p1[1] - p0[1]
		h0 = dt1 * (a11*p0[1] + b1)
		if h0 >= 0 {
			p = minEdge02(a11, b1)
			break
		}
		h1 = dt1 * (a01*p1[0] + a11*p1[1] + b1)
		if h1 <= 0 {
			p, on12 = minEdge12(a01, a11, b1, f10, f01), true
		} else {
			p = minInterior(p0, h0, p1, h1)
		}

	default:
		p0[0] = f00 / (f00 - f10)
		p0[1] = 0
		p1[0] = 0
		p1[1] = f00 / (f00 - f01)
		h0 = p1[1] * (a01*p0[0] + b1)
		if h0 >= 0 {
			p = p0
			break
		}
		h1 = p1[1] * (a11*p1[1] + b1)
		if h1 <= 0 {
			p = minEdge02(a11, b1)
		} else {
			p = minInterior(p0, h0, p1, h1)
		}
	}

	closest = r3.Add(a, r3.Add(r3.Scale(p[0], edge0), r3.Scale(p[1], edge1)))
	return closest, p, on12
}

func minEdge02(a11, b1 float64) (p [2]float64) {
	switch {
	case b1 >= 0:
		p[1] = 0
	case a11+b1 <= 0:
		p[1] = 1
	default:
		p[1] = -b1 / a11
	}
	return p
}

func minEdge12(a01, a11, b1, f10, f01 float64) (p [2]float64) {
	h0 := a01 + b1 - f10
	if h0 >= 0 {
		p[1] = 0
	} else {
		h1 := a11 + b1 - f01
		if h1 <= 0 {
			p[1] = 1
		} else {
			p[1] = h0 / (h0 - h1)
		}
	}
	p[0] = 1 - p[1]
	return p
}

func minInterior(p0 [2]float64, h0 float64, p1 [2]float64, h1 float64) (p [2]float64) {
	z := h0 / (h0 - h1)
	omz := 1 - z
	p[0] = omz*p0[0] + z*p1[0]
	p[1] = omz*p0[1] + z*p1[1]
	return p
}
