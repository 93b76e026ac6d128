package meshsdf

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/soypat/meshsdf/internal/d3"
)

// degenerateTol is the squared area ratio under which a triangle is
// considered to have no area: |e1 x e2| <= degenerateTol * (longest edge)^2.
const degenerateTol = 1e-12

// maxReportedProblems caps the number of structural problems NewMesh
// accumulates before giving up on listing them.
const maxReportedProblems = 10

// Mesh is an immutable triangulated surface. Triangles are expected to be
// wound counter-clockwise when seen from outside so their normals point
// outwards.
type Mesh struct {
	vertices  []r3.Vec
	triangles [][3]int
	// faceN holds unit face normals. Degenerate triangles have a zero normal.
	faceN []r3.Vec
	// area2 holds twice the area of each triangle.
	area2      []float64
	degenerate []bool
	// vertexN holds the area weighted vertex normals.
	vertexN []r3.Vec
	// edgeN holds area weighted edge normals keyed by vertex
	// index pair, stored with lower index first.
	edgeN map[[2]int]r3.Vec
	bb    d3.Box
}

// NewMesh validates and copies the vertices and triangles of a surface and
// computes its normals. Structural problems such as an empty triangle list,
// out of range indices or non-finite coordinates are returned as a
// *ConfigurationError listing up to the first 10 problems found.
func NewMesh(vertices []r3.Vec, triangles [][3]int) (*Mesh, error) {
	return newMesh(vertices, triangles, nil)
}

// NewMeshWithNormals is like NewMesh but uses the provided per vertex
// normals instead of computing them. Face and edge normals are still derived
// from the triangle geometry.
func NewMeshWithNormals(vertices []r3.Vec, triangles [][3]int, vertexNormals []r3.Vec) (*Mesh, error) {
	if len(vertexNormals) != len(vertices) {
		return nil, configErrorf("got %d vertex normals for %d vertices", len(vertexNormals), len(vertices))
	}
	return newMesh(vertices, triangles, vertexNormals)
}

func newMesh(vertices []r3.Vec, triangles [][3]int, vertexNormals []r3.Vec) (*Mesh, error) {
	if err := validate(vertices, triangles); err != nil {
		return nil, err
	}
	m := &Mesh{
		vertices:   append([]r3.Vec(nil), vertices...),
		triangles:  append([][3]int(nil), triangles...),
		faceN:      make([]r3.Vec, len(triangles)),
		area2:      make([]float64, len(triangles)),
		degenerate: make([]bool, len(triangles)),
		vertexN:    make([]r3.Vec, len(vertices)),
		edgeN:      make(map[[2]int]r3.Vec, 3*len(triangles)/2),
		bb:         d3.EmptyBox(),
	}
	for i, tri := range m.triangles {
		verts := m.TriangleVertices(i)
		for _, v := range verts {
			m.bb = m.bb.Include(v)
		}
		e1 := r3.Sub(verts[1], verts[0])
		e2 := r3.Sub(verts[2], verts[0])
		e3 := r3.Sub(verts[2], verts[1])
		n := r3.Cross(e1, e2)
		area2 := r3.Norm(n)
		maxEdge2 := math.Max(r3.Norm2(e1), math.Max(r3.Norm2(e2), r3.Norm2(e3)))
		m.area2[i] = area2
		if !(area2 > degenerateTol*maxEdge2) {
			m.degenerate[i] = true
			continue
		}
		m.faceN[i] = r3.Scale(1/area2, n)
		// n has magnitude twice the triangle area so summing
		// it directly gives area weighted normals.
		for j := range tri {
			m.vertexN[tri[j]] = r3.Add(m.vertexN[tri[j]], n)
			edge := edgeKey(tri[j], tri[(j+1)%3])
			m.edgeN[edge] = r3.Add(m.edgeN[edge], n)
		}
	}
	if vertexNormals != nil {
		copy(m.vertexN, vertexNormals)
	}
	for i, n := range m.vertexN {
		if norm := r3.Norm(n); norm > 0 {
			m.vertexN[i] = r3.Scale(1/norm, n)
		}
	}
	return m, nil
}

func validate(vertices []r3.Vec, triangles [][3]int) error {
	if len(triangles) == 0 {
		return configErrorf("reference surface has no triangles")
	}
	var (
		err      error
		problems int
	)
	report := func(e error) {
		problems++
		if problems <= maxReportedProblems {
			err = multierr.Append(err, e)
		}
	}
	for i, v := range vertices {
		if !d3.Finite(v) {
			report(errors.Errorf("vertex %d has non-finite coordinate %v", i, v))
		}
	}
	for i, tri := range triangles {
		for _, vi := range tri {
			if vi < 0 || vi >= len(vertices) {
				report(errors.Errorf("triangle %d references vertex %d out of range [0, %d)", i, vi, len(vertices)))
			}
		}
	}
	if err == nil {
		return nil
	}
	if problems > maxReportedProblems {
		err = multierr.Append(err, errors.Errorf("%d more problems not shown", problems-maxReportedProblems))
	}
	return configWrap(err, "invalid reference surface")
}

func edgeKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

// NumVertices returns the number of vertices in the mesh.
func (m *Mesh) NumVertices() int { return len(m.vertices) }

// NumTriangles returns the number of triangles in the mesh, degenerate ones included.
func (m *Mesh) NumTriangles() int { return len(m.triangles) }

// Vertex returns the coordinates of the ith vertex.
func (m *Mesh) Vertex(i int) r3.Vec { return m.vertices[i] }

// Triangle returns the vertex indices of the ith triangle.
func (m *Mesh) Triangle(i int) [3]int { return m.triangles[i] }

// TriangleVertices returns the coordinates of the ith triangle's vertices.
func (m *Mesh) TriangleVertices(i int) [3]r3.Vec {
	tri := m.triangles[i]
	return [3]r3.Vec{m.vertices[tri[0]], m.vertices[tri[1]], m.vertices[tri[2]]}
}

// FaceNormal returns the unit outward normal of the ith triangle,
// or the zero vector if the triangle is degenerate.
func (m *Mesh) FaceNormal(i int) r3.Vec { return m.faceN[i] }

// Area returns the area of the ith triangle.
func (m *Mesh) Area(i int) float64 { return m.area2[i] / 2 }

// Degenerate returns true if the ith triangle has no usable area.
func (m *Mesh) Degenerate(i int) bool { return m.degenerate[i] }

// VertexNormal returns the unit area weighted normal of the ith vertex.
func (m *Mesh) VertexNormal(i int) r3.Vec { return m.vertexN[i] }

// EdgeNormal returns the area weighted normal of the edge joining vertices
// a and b, not normalized. The zero vector is returned if no
// non-degenerate triangle contains the edge.
func (m *Mesh) EdgeNormal(a, b int) r3.Vec { return m.edgeN[edgeKey(a, b)] }

// Bounds returns the bounding box of all triangles in the mesh.
func (m *Mesh) Bounds() r3.Box { return r3.Box(m.bb) }
