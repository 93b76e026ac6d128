package meshsdf

import (
	"math"
	"math/rand"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestNewIndex(t *testing.T) {
	t.Run("degenerate triangles", func(t *testing.T) {
		logger, logs := newObservedLogger(t)
		vertices, triangles := cubeGeometry()
		triangles = append(triangles, [3]int{1, 1, 2}, [3]int{5, 5, 5})
		m, err := NewMesh(vertices, triangles)
		test.That(t, err, test.ShouldBeNil)
		idx, err := NewIndex(m, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, idx.Degenerate(), test.ShouldEqual, 2)
		test.That(t, idx.Mesh(), test.ShouldEqual, m)

		warnings := logs.FilterMessage("degenerate triangles excluded from index").All()
		test.That(t, warnings, test.ShouldHaveLength, 1)
		test.That(t, warnings[0].Level, test.ShouldEqual, zapcore.WarnLevel)
		test.That(t, warnings[0].ContextMap()["degenerate"], test.ShouldEqual, int64(2))
		test.That(t, logs.FilterMessage("built index").Len(), test.ShouldEqual, 1)

		// Degenerate triangles are never reported as nearest.
		near := idx.NearestPoint(r3.Vec{X: 0.4, Y: -0.6, Z: -0.6})
		test.That(t, near.Triangle, test.ShouldBeLessThan, 12)
	})

	t.Run("only degenerate triangles", func(t *testing.T) {
		m, err := NewMesh([]r3.Vec{{}, {X: 1}, {X: 2}}, [][3]int{{0, 1, 2}})
		test.That(t, err, test.ShouldBeNil)
		idx, err := NewIndex(m, nil)
		test.That(t, idx, test.ShouldBeNil)
		test.That(t, IsConfigurationError(err), test.ShouldBeTrue)
	})

	t.Run("hierarchy", func(t *testing.T) {
		idx := icosphereIndex(t, 1, 3)
		test.That(t, idx.Mesh().NumTriangles(), test.ShouldEqual, 1280)
		test.That(t, idx.Depth(), test.ShouldBeGreaterThan, 1)
		// Every triangle is stored in exactly one leaf slot.
		seen := make([]int, idx.Mesh().NumTriangles())
		for _, n := range idx.nodes {
			if !n.isLeaf() {
				continue
			}
			test.That(t, n.end-n.start, test.ShouldBeLessThanOrEqualTo, maxLeafTriangles)
			for slot := n.start; slot < n.end; slot++ {
				seen[idx.order[slot]]++
			}
		}
		for _, count := range seen {
			test.That(t, count, test.ShouldEqual, 1)
		}
	})
}

// bruteClosest returns the point of triangle abc closest to p by projecting
// onto its plane and falling back to the closest edge point.
func bruteClosest(p r3.Vec, tri [3]r3.Vec) r3.Vec {
	n := r3.Unit(r3.Cross(r3.Sub(tri[1], tri[0]), r3.Sub(tri[2], tri[0])))
	proj := r3.Sub(p, r3.Scale(r3.Dot(r3.Sub(p, tri[0]), n), n))
	inside := true
	for i := range tri {
		a, b := tri[i], tri[(i+1)%3]
		if r3.Dot(r3.Cross(r3.Sub(b, a), r3.Sub(proj, a)), n) < 0 {
			inside = false
		}
	}
	if inside {
		return proj
	}
	best := math.Inf(1)
	var closest r3.Vec
	for i := range tri {
		a, b := tri[i], tri[(i+1)%3]
		ab := r3.Sub(b, a)
		s := math.Max(0, math.Min(1, r3.Dot(r3.Sub(p, a), ab)/r3.Norm2(ab)))
		c := r3.Add(a, r3.Scale(s, ab))
		if d := r3.Norm2(r3.Sub(p, c)); d < best {
			best, closest = d, c
		}
	}
	return closest
}

func randomPoint(rng *rand.Rand, half float64) r3.Vec {
	return r3.Vec{
		X: (2*rng.Float64() - 1) * half,
		Y: (2*rng.Float64() - 1) * half,
		Z: (2*rng.Float64() - 1) * half,
	}
}

func TestNearestPointBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, tc := range []struct {
		name string
		idx  *Index
	}{
		{"cube", cubeIndex(t)},
		{"icosphere", icosphereIndex(t, 1.5, 1)},
		{"jittered icosphere", jitteredIndex(t, rng)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := tc.idx.Mesh()
			test.That(t, m.NumTriangles(), test.ShouldBeLessThanOrEqualTo, 200)
			for i := 0; i < 500; i++ {
				q := randomPoint(rng, 3)
				want := math.Inf(1)
				for tri := 0; tri < m.NumTriangles(); tri++ {
					c := bruteClosest(q, m.TriangleVertices(tri))
					want = math.Min(want, r3.Norm(r3.Sub(q, c)))
				}
				near := tc.idx.NearestPoint(q)
				test.That(t, near.Distance, test.ShouldAlmostEqual, want, 1e-9)
				test.That(t, r3.Norm(r3.Sub(q, near.Point)), test.ShouldAlmostEqual, near.Distance, 1e-12)
				// The reported point lies on the reported triangle.
				c := bruteClosest(near.Point, m.TriangleVertices(near.Triangle))
				test.That(t, r3.Norm(r3.Sub(c, near.Point)), test.ShouldAlmostEqual, 0, 1e-9)
			}
		})
	}
}

// jitteredIndex indexes an icosphere whose vertices were randomly displaced,
// giving a non-convex surface.
func jitteredIndex(t *testing.T, rng *rand.Rand) *Index {
	t.Helper()
	vertices, triangles := icosphereGeometry(1, 1)
	for i := range vertices {
		vertices[i] = r3.Scale(0.7+0.6*rng.Float64(), vertices[i])
	}
	m, err := NewMesh(vertices, triangles)
	test.That(t, err, test.ShouldBeNil)
	idx, err := NewIndex(m, nil)
	test.That(t, err, test.ShouldBeNil)
	return idx
}

func TestNearestPointFeatures(t *testing.T) {
	idx := cubeIndex(t)
	for _, tc := range []struct {
		name     string
		q        r3.Vec
		dist     float64
		triangle int
		feature  Feature
		vertices [2]int
	}{
		// All twelve triangles tie, the lowest index wins.
		{"center", r3.Vec{}, 0.5, 0, FeatureEdge, [2]int{0, 3}},
		{"above face", r3.Vec{X: 0.25, Y: -0.1, Z: 2}, 1.5, 2, FeatureFace, [2]int{-1, -1}},
		{"beyond edge", r3.Vec{Y: -1, Z: -1}, math.Sqrt(0.5), 1, FeatureEdge, [2]int{0, 1}},
		{"beyond corner", r3.Vec{X: 1, Y: 1, Z: 1}, math.Sqrt(0.75), 2, FeatureVertex, [2]int{7, -1}},
		{"on surface", r3.Vec{X: 0.5, Y: 0.2, Z: 0.1}, 0, 10, FeatureFace, [2]int{-1, -1}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			near := idx.NearestPoint(tc.q)
			test.That(t, near.Distance, test.ShouldAlmostEqual, tc.dist)
			test.That(t, near.Triangle, test.ShouldEqual, tc.triangle)
			test.That(t, near.Feature, test.ShouldEqual, tc.feature)
			got := near.Vertices
			if got[1] >= 0 && got[0] > got[1] {
				got[0], got[1] = got[1], got[0]
			}
			test.That(t, got, test.ShouldResemble, tc.vertices)
			sum := near.Weights[0] + near.Weights[1] + near.Weights[2]
			test.That(t, sum, test.ShouldAlmostEqual, 1)
		})
	}

	t.Run("non-finite query", func(t *testing.T) {
		near := idx.NearestPoint(r3.Vec{X: math.NaN()})
		test.That(t, near.Triangle, test.ShouldEqual, -1)
		test.That(t, math.IsNaN(near.Distance), test.ShouldBeTrue)
	})

	t.Run("limit", func(t *testing.T) {
		_, ok := idx.nearest(r3.Vec{X: 2}, 1)
		test.That(t, ok, test.ShouldBeFalse)
		near, ok := idx.nearest(r3.Vec{X: 2}, 1.6*1.6)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, near.Distance, test.ShouldAlmostEqual, 1.5)
	})
}

func TestClosestOnTriangle(t *testing.T) {
	tri := [3]r3.Vec{{}, {X: 1}, {Y: 1}}
	for _, tc := range []struct {
		name    string
		q       r3.Vec
		want    r3.Vec
		feature Feature
		local   [2]int
	}{
		{"interior", r3.Vec{X: 0.25, Y: 0.25, Z: 1}, r3.Vec{X: 0.25, Y: 0.25}, FeatureFace, [2]int{-1, -1}},
		{"vertex a", r3.Vec{X: -1, Y: -1}, r3.Vec{}, FeatureVertex, [2]int{0, -1}},
		{"vertex b", r3.Vec{X: 2, Y: -1}, r3.Vec{X: 1}, FeatureVertex, [2]int{1, -1}},
		{"vertex c", r3.Vec{X: -1, Y: 2}, r3.Vec{Y: 1}, FeatureVertex, [2]int{2, -1}},
		{"edge ab", r3.Vec{X: 0.5, Y: -1}, r3.Vec{X: 0.5}, FeatureEdge, [2]int{0, 1}},
		{"edge ac", r3.Vec{X: -1, Y: 0.5}, r3.Vec{Y: 0.5}, FeatureEdge, [2]int{0, 2}},
		{"edge bc", r3.Vec{X: 1, Y: 1}, r3.Vec{X: 0.5, Y: 0.5}, FeatureEdge, [2]int{1, 2}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, params, on12 := closestOnTriangle(tc.q, &tri)
			test.That(t, p.X, test.ShouldAlmostEqual, tc.want.X)
			test.That(t, p.Y, test.ShouldAlmostEqual, tc.want.Y)
			test.That(t, p.Z, test.ShouldAlmostEqual, tc.want.Z)
			feature, local := featureAt(params[0], params[1], on12)
			test.That(t, feature, test.ShouldEqual, tc.feature)
			test.That(t, local, test.ShouldResemble, tc.local)
		})
	}
}

func TestCastRay(t *testing.T) {
	idx := cubeIndex(t)
	up := r3.Vec{Z: 1}

	t.Run("through shared edge", func(t *testing.T) {
		// The ray leaves the cube through the diagonal shared by both
		// top triangles and must be counted once.
		hits := idx.CastRay(r3.Vec{}, up)
		test.That(t, hits, test.ShouldHaveLength, 1)
		test.That(t, hits[0].T, test.ShouldAlmostEqual, 0.5)
		test.That(t, hits[0].Crossing, test.ShouldEqual, -1)
		test.That(t, hits[0].Triangle == 2 || hits[0].Triangle == 3, test.ShouldBeTrue)
	})

	t.Run("from below", func(t *testing.T) {
		hits := idx.CastRay(r3.Vec{X: 0.1, Y: 0.3, Z: -5}, up)
		test.That(t, hits, test.ShouldHaveLength, 2)
		test.That(t, hits[0].T, test.ShouldAlmostEqual, 4.5)
		test.That(t, hits[0].Crossing, test.ShouldEqual, 1)
		test.That(t, hits[1].T, test.ShouldAlmostEqual, 5.5)
		test.That(t, hits[1].Crossing, test.ShouldEqual, -1)
	})

	t.Run("along corner", func(t *testing.T) {
		// Side faces are edge-on and the ray only grazes the corner.
		hits := idx.CastRay(r3.Vec{X: 0.5, Y: 0.5, Z: -2}, up)
		test.That(t, len(hits)%2, test.ShouldEqual, 0)
	})

	t.Run("miss", func(t *testing.T) {
		test.That(t, idx.CastRay(r3.Vec{X: 2, Z: -5}, up), test.ShouldBeEmpty)
		test.That(t, idx.CastRay(r3.Vec{Z: 5}, up), test.ShouldBeEmpty)
	})

	t.Run("oblique", func(t *testing.T) {
		hits := idx.CastRay(r3.Vec{X: -3, Y: 0.1, Z: 0.2}, r3.Vec{X: 2})
		test.That(t, hits, test.ShouldHaveLength, 2)
		test.That(t, hits[0].T, test.ShouldAlmostEqual, 2.5)
		test.That(t, hits[0].Crossing, test.ShouldEqual, 1)
		test.That(t, hits[0].Triangle == 8 || hits[0].Triangle == 9, test.ShouldBeTrue)
		test.That(t, hits[1].T, test.ShouldAlmostEqual, 3.5)
	})

	t.Run("degenerate ray", func(t *testing.T) {
		test.That(t, idx.CastRay(r3.Vec{}, r3.Vec{}), test.ShouldBeEmpty)
		test.That(t, idx.CastRay(r3.Vec{X: math.NaN()}, up), test.ShouldBeEmpty)
	})

	t.Run("through shared vertex", func(t *testing.T) {
		// Four triangles fan around a vertex the ray passes through.
		vertices := []r3.Vec{
			{Z: 1},
			{X: 1, Y: 1, Z: 1}, {X: -1, Y: 1, Z: 1}, {X: -1, Y: -1, Z: 1}, {X: 1, Y: -1, Z: 1},
		}
		triangles := [][3]int{{0, 1, 2}, {0, 2, 3}, {0, 3, 4}, {0, 4, 1}}
		m, err := NewMesh(vertices, triangles)
		test.That(t, err, test.ShouldBeNil)
		fan, err := NewIndex(m, nil)
		test.That(t, err, test.ShouldBeNil)
		hits := fan.CastRay(r3.Vec{}, up)
		test.That(t, hits, test.ShouldHaveLength, 1)
		test.That(t, hits[0].T, test.ShouldAlmostEqual, 1)
		test.That(t, hits[0].Crossing, test.ShouldEqual, -1)
	})

	t.Run("random rays agree with parity", func(t *testing.T) {
		sphere := icosphereIndex(t, 1, 2)
		rng := rand.New(rand.NewSource(2))
		for i := 0; i < 200; i++ {
			q := randomPoint(rng, 0.5)
			dir := randomPoint(rng, 1)
			hits := sphere.CastRay(q, dir)
			// A point inside a closed convex surface sees a single exit.
			test.That(t, hits, test.ShouldHaveLength, 1)
			test.That(t, hits[0].Crossing, test.ShouldEqual, -1)
		}
	})
}

func TestContainsOrigin(t *testing.T) {
	// Two triangles sharing the edge x == y, the origin lies on it.
	a := [3]r2.Vec{{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1}}
	b := [3]r2.Vec{{X: -1, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1}}
	test.That(t, containsOrigin(&a) != containsOrigin(&b), test.ShouldBeTrue)
}
