package meshsdf

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/soypat/meshsdf/internal/d3"
)

// RayHit is an intersection of a ray with a triangle.
type RayHit struct {
	// Triangle is the index of the triangle hit.
	Triangle int
	// T is the distance from the ray origin to the hit.
	T float64
	// Crossing is +1 when the ray enters the surface through the
	// triangle's front side and -1 when it leaves through its back.
	Crossing int
}

// rayFrame is a pending node of a ray traversal.
type rayFrame struct {
	node int
	bb   d3.Box
}

// CastRay returns every intersection of the indexed triangles with the ray
// starting at origin and pointing along dir, excluding the origin itself.
// Hits are sorted by distance and then by triangle index. A ray through an
// edge or vertex shared by several triangles is reported once. Triangles
// seen edge-on by the ray are never hit.
func (idx *Index) CastRay(origin, dir r3.Vec) []RayHit {
	var stack []rayFrame
	return idx.castRay(nil, &stack, origin, dir)
}

// castRay appends hits to dst[:0], using stack as scratch.
func (idx *Index) castRay(dst []RayHit, stack *[]rayFrame, origin, dir r3.Vec) []RayHit {
	hits := dst[:0]
	norm := r3.Norm(dir)
	if !d3.Finite(origin) || !d3.Finite(dir) || norm == 0 {
		return hits
	}
	proj := newRayProjection(origin, r3.Scale(1/norm, dir))
	invDir := d3.Recip(proj.dir)

	frames := append((*stack)[:0], rayFrame{node: 0, bb: idx.bb})
	for len(frames) > 0 {
		f := frames[len(frames)-1]
		frames = frames[:len(frames)-1]
		if !f.bb.Expand(idx.pad).RayHit(origin, invDir) {
			continue
		}
		n := &idx.nodes[f.node]
		if !n.isLeaf() {
			leftBB, rightBB := n.childBoxes(f.bb)
			left := n.leftChild()
			frames = append(frames, rayFrame{node: left + 1, bb: rightBB}, rayFrame{node: left, bb: leftBB})
			continue
		}
		for slot := n.start; slot < n.end; slot++ {
			tri := idx.order[slot]
			if hit, ok := idx.intersect(&proj, int(tri)); ok {
				hits = append(hits, hit)
			}
		}
	}
	*stack = frames
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].T != hits[j].T {
			return hits[i].T < hits[j].T
		}
		return hits[i].Triangle < hits[j].Triangle
	})
	return hits
}

// rayProjection maps points onto the plane perpendicular to a ray with the
// ray origin at (0, 0). u, w and dir form a right handed frame.
type rayProjection struct {
	origin, dir, u, w r3.Vec
}

func newRayProjection(origin, dir r3.Vec) rayProjection {
	// Build the frame from the axis least aligned with dir.
	ax, ay, az := math.Abs(dir.X), math.Abs(dir.Y), math.Abs(dir.Z)
	helper := r3.Vec{X: 1}
	switch {
	case ay < ax && ay <= az:
		helper = r3.Vec{Y: 1}
	case az < ax && az < ay:
		helper = r3.Vec{Z: 1}
	}
	u := r3.Unit(r3.Cross(helper, dir))
	return rayProjection{
		origin: origin,
		dir:    dir,
		u:      u,
		w:      r3.Cross(dir, u),
	}
}

func (rp *rayProjection) project(v r3.Vec) r2.Vec {
	d := r3.Sub(v, rp.origin)
	return r2.Vec{X: r3.Dot(d, rp.u), Y: r3.Dot(d, rp.w)}
}

func (idx *Index) intersect(rp *rayProjection, tri int) (RayHit, bool) {
	verts := idx.mesh.TriangleVertices(tri)
	p := [3]r2.Vec{rp.project(verts[0]), rp.project(verts[1]), rp.project(verts[2])}
	area2 := r2.Cross(r2.Sub(p[1], p[0]), r2.Sub(p[2], p[0]))
	if area2 == 0 || !containsOrigin(&p) {
		return RayHit{}, false
	}
	n := r3.Cross(r3.Sub(verts[1], verts[0]), r3.Sub(verts[2], verts[0]))
	denom := r3.Dot(n, rp.dir)
	if denom == 0 {
		return RayHit{}, false
	}
	t := r3.Dot(n, r3.Sub(verts[0], rp.origin)) / denom
	if !(t > 0) {
		return RayHit{}, false
	}
	// Positive projected area means the normal points along the ray.
	crossing := 1
	if area2 > 0 {
		crossing = -1
	}
	return RayHit{Triangle: tri, T: t, Crossing: crossing}, true
}

// containsOrigin is a crossing number test of the origin against the
// projected triangle p. Each edge is evaluated with its endpoints in a
// canonical order so an edge shared by two triangles gives the same
// answer in both, and a point on the edge belongs to exactly one side.
func containsOrigin(p *[3]r2.Vec) bool {
	inside := false
	for i, j := 0, 2; i < 3; j, i = i, i+1 {
		a, b := p[i], p[j]
		if (a.X < 0) == (b.X < 0) {
			continue
		}
		if a.X > b.X {
			a, b = b, a
		}
		// Height of the edge where it crosses X == 0.
		y := (a.Y-b.Y)/(a.X-b.X)*(0-b.X) + b.Y
		if y > 0 {
			inside = !inside
		}
	}
	return inside
}
