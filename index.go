package meshsdf

import (
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/soypat/meshsdf/internal/d3"
)

// Node kinds of the bounding interval hierarchy. The clip kinds double as
// the split axis plus one.
const (
	leaf = iota
	clipX
	clipY
	clipZ
)

// maxLeafTriangles is the largest number of triangles stored in a leaf.
const maxLeafTriangles = 4

type bihNode struct {
	// flags stores the offset to the left child in its upper bits, the
	// right child follows it. The lower two bits hold the node kind.
	flags int
	// left and right are the clipping planes of the children along
	// the split axis.
	left, right float64
	// start and end delimit the slots of a leaf in Index.order.
	start, end int32
}

func (n *bihNode) isLeaf() bool { return n.flags&3 == leaf }

func (n *bihNode) axis() int { return n.flags&3 - 1 }

func (n *bihNode) leftChild() int { return n.flags >> 2 }

// childBoxes returns the boxes of both children given the box of n.
func (n *bihNode) childBoxes(bb d3.Box) (left, right d3.Box) {
	left, right = bb, bb
	switch n.flags & 3 {
	case clipX:
		left.Max.X, right.Min.X = n.left, n.right
	case clipY:
		left.Max.Y, right.Min.Y = n.left, n.right
	case clipZ:
		left.Max.Z, right.Min.Z = n.left, n.right
	}
	return left, right
}

// Index is a bounding interval hierarchy over the non-degenerate triangles
// of a Mesh. It is immutable once built and safe for concurrent use.
type Index struct {
	mesh  *Mesh
	nodes []bihNode
	// order maps leaf slots to triangle indices of mesh.
	order []int32
	bb    d3.Box
	// pad grows node boxes during ray traversal so rounding in the slab
	// test never culls a box the ray grazes.
	pad float64
	// scale2 is the squared diagonal of the index bounds, the floor of the
	// nearest point tie tolerance.
	scale2     float64
	degenerate int
	depth      int
}

// NewIndex builds a spatial index over the triangles of mesh. Degenerate
// triangles are left out of the index, counted and reported once through
// logger. A nil logger discards messages. A mesh with no usable triangle
// yields a *ConfigurationError.
func NewIndex(mesh *Mesh, logger *zap.SugaredLogger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	start := time.Now()
	idx := &Index{
		mesh: mesh,
		bb:   d3.EmptyBox(),
	}
	centroids := make([]r3.Vec, mesh.NumTriangles())
	for i := 0; i < mesh.NumTriangles(); i++ {
		if mesh.Degenerate(i) {
			idx.degenerate++
			continue
		}
		idx.order = append(idx.order, int32(i))
		verts := mesh.TriangleVertices(i)
		for _, v := range verts {
			idx.bb = idx.bb.Include(v)
		}
		centroids[i] = r3.Scale(1.0/3, r3.Add(verts[0], r3.Add(verts[1], verts[2])))
	}
	if idx.degenerate > 0 {
		logger.Warnw("degenerate triangles excluded from index", "degenerate", idx.degenerate, "triangles", mesh.NumTriangles())
	}
	if len(idx.order) == 0 {
		return nil, configErrorf("reference surface has no non-degenerate triangles (%d degenerate)", idx.degenerate)
	}
	diag := idx.bb.Diagonal()
	idx.scale2 = diag * diag
	idx.pad = 1e-9 * math.Max(diag, d3.Max(d3.MaxElem(absVec(idx.bb.Min), absVec(idx.bb.Max))))

	b := bihBuilder{
		mesh:      mesh,
		centroids: centroids,
		nodes:     make([]bihNode, 1, 2*len(idx.order)/maxLeafTriangles+1),
	}
	b.subdivide(0, 0, idx.order, idx.bb, 1)
	idx.nodes = b.nodes
	idx.depth = b.depth
	logger.Debugw("built index",
		"triangles", len(idx.order),
		"degenerate", idx.degenerate,
		"nodes", len(idx.nodes),
		"depth", idx.depth,
		"elapsed", time.Since(start),
	)
	return idx, nil
}

type bihBuilder struct {
	mesh      *Mesh
	centroids []r3.Vec
	nodes     []bihNode
	depth     int
}

// subdivide fills node with the triangles tris, which occupy the slots
// starting at offset. bb bounds every triangle in tris.
func (b *bihBuilder) subdivide(node, offset int, tris []int32, bb d3.Box, depth int) {
	if depth > b.depth {
		b.depth = depth
	}
	if len(tris) <= maxLeafTriangles {
		b.nodes[node] = bihNode{
			flags: leaf,
			start: int32(offset),
			end:   int32(offset + len(tris)),
		}
		return
	}
	// Longest axis heuristic with the median centroid as pivot.
	axis := bb.LongestAxis()
	sort.Slice(tris, func(i, j int) bool {
		ci := d3.Comp(b.centroids[tris[i]], axis)
		cj := d3.Comp(b.centroids[tris[j]], axis)
		if ci != cj {
			return ci < cj
		}
		return tris[i] < tris[j]
	})
	half := len(tris) / 2
	leftBB, rightBB := b.bounds(tris[:half]), b.bounds(tris[half:])

	children := len(b.nodes)
	b.nodes = append(b.nodes, bihNode{}, bihNode{})
	b.subdivide(children, offset, tris[:half], leftBB, depth+1)
	b.subdivide(children+1, offset+half, tris[half:], rightBB, depth+1)
	b.nodes[node] = bihNode{
		flags: children<<2 | (axis + 1),
		left:  d3.Comp(leftBB.Max, axis),
		right: d3.Comp(rightBB.Min, axis),
	}
}

func (b *bihBuilder) bounds(tris []int32) d3.Box {
	bb := d3.EmptyBox()
	for _, ti := range tris {
		for _, v := range b.mesh.TriangleVertices(int(ti)) {
			bb = bb.Include(v)
		}
	}
	return bb
}

// Mesh returns the mesh the index was built over.
func (idx *Index) Mesh() *Mesh { return idx.mesh }

// Degenerate returns the number of triangles left out of the index.
func (idx *Index) Degenerate() int { return idx.degenerate }

// Bounds returns the bounding box of the indexed triangles.
func (idx *Index) Bounds() r3.Box { return r3.Box(idx.bb) }

// Depth returns the depth of the hierarchy. A single leaf has depth 1.
func (idx *Index) Depth() int { return idx.depth }

// featureNormal returns the normal used to classify a point against the
// feature of the mesh closest to it.
func (idx *Index) featureNormal(near *Nearest) r3.Vec {
	switch near.Feature {
	case FeatureVertex:
		return idx.mesh.VertexNormal(near.Vertices[0])
	case FeatureEdge:
		return idx.mesh.EdgeNormal(near.Vertices[0], near.Vertices[1])
	}
	return idx.mesh.FaceNormal(near.Triangle)
}

func absVec(a r3.Vec) r3.Vec {
	return r3.Vec{X: math.Abs(a.X), Y: math.Abs(a.Y), Z: math.Abs(a.Z)}
}
