package meshio

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// Weld converts an unindexed surface into shared vertices and triangle
// vertex indices by merging triangle corners no farther than tol apart.
// Corners are visited in model order and each unmatched corner becomes a
// new vertex claiming every unmatched corner within tol of it.
//
// A tol of zero is inferred as 1/256th of the shortest triangle edge.
func Weld(model []Triangle, tol float64) (vertices []r3.Vec, triangles [][3]int, err error) {
	if len(model) == 0 {
		return nil, nil, errors.New("no triangles to weld")
	}
	if !(tol >= 0) {
		return nil, nil, errors.Errorf("invalid weld tolerance %v", tol)
	}
	minEdge2, maxEdge2 := math.Inf(1), 0.0
	corners := make(weldPoints, 0, 3*len(model))
	for i, tri := range model {
		for j, v := range tri {
			side2 := r3.Norm2(r3.Sub(tri[(j+1)%3], v))
			minEdge2 = math.Min(minEdge2, side2)
			maxEdge2 = math.Max(maxEdge2, side2)
			corners = append(corners, weldPoint{V: v, id: 3*i + j})
		}
	}
	suggested := math.Sqrt(minEdge2) / 256
	if tol > math.Sqrt(maxEdge2)/2 {
		return nil, nil, errors.Errorf("weld tolerance is too large to generate appropriate mesh, suggested tolerance: %g", suggested)
	}
	if tol == 0 {
		tol = suggested
	}

	// kdtree.New reorders its input, keep the corners in model order.
	tree := kdtree.New(append(weldPoints(nil), corners...), false)
	vertexOf := make([]int, len(corners))
	for i := range vertexOf {
		vertexOf[i] = -1
	}
	for _, c := range corners {
		if vertexOf[c.id] >= 0 {
			continue
		}
		vi := len(vertices)
		vertices = append(vertices, c.V)
		vertexOf[c.id] = vi
		keep := kdtree.NewDistKeeper(tol * tol)
		tree.NearestSet(keep, c)
		for _, found := range keep.Heap {
			if found.Comparable == nil {
				continue
			}
			if p := found.Comparable.(weldPoint); vertexOf[p.id] < 0 {
				vertexOf[p.id] = vi
			}
		}
	}
	triangles = make([][3]int, len(model))
	for i := range triangles {
		for j := range triangles[i] {
			triangles[i][j] = vertexOf[3*i+j]
		}
	}
	return vertices, triangles, nil
}

// weldPoint is a triangle corner, id is its position 3*triangle+corner.
type weldPoint struct {
	V  r3.Vec
	id int
}

func comp(v r3.Vec, d kdtree.Dim) float64 {
	switch d {
	case 0:
		return v.X
	case 1:
		return v.Y
	}
	return v.Z
}

// Compare returns the signed distance of p from the plane passing through
// c and perpendicular to the dimension d.
func (p weldPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(weldPoint)
	return comp(p.V, d) - comp(q.V, d)
}

// Dims returns the number of dimensions described by the receiver.
func (p weldPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between c and the receiver.
func (p weldPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(weldPoint)
	return r3.Norm2(r3.Sub(p.V, q.V))
}

type weldPoints []weldPoint

var _ kdtree.Interface = weldPoints(nil)

// Index returns the ith element of the list of points.
func (p weldPoints) Index(i int) kdtree.Comparable { return p[i] }

// Len returns the length of the list.
func (p weldPoints) Len() int { return len(p) }

// Pivot partitions the list based on the dimension specified.
func (p weldPoints) Pivot(d kdtree.Dim) int {
	plane := weldPlane{dim: d, points: p}
	return kdtree.Partition(plane, kdtree.MedianOfMedians(plane))
}

// Slice returns a slice of the list using zero-based half
// open indexing equivalent to built-in slice indexing.
func (p weldPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

type weldPlane struct {
	dim    kdtree.Dim
	points weldPoints
}

func (p weldPlane) Less(i, j int) bool {
	return p.points[i].Compare(p.points[j], p.dim) < 0
}
func (p weldPlane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}
func (p weldPlane) Len() int {
	return len(p.points)
}
func (p weldPlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}
