// Package meshio reads and writes the files consumed and produced by
// signed distance runs: binary STL surfaces and plain text scalar lists.
package meshio

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/spatial/r3"
)

// Triangle is a triangle of an unindexed surface. Vertices are wound
// counter-clockwise when seen from outside.
type Triangle [3]r3.Vec

// Normal returns the unit normal of the triangle, or the zero vector
// if it has no area.
func (t Triangle) Normal() r3.Vec {
	n := r3.Cross(r3.Sub(t[1], t[0]), r3.Sub(t[2], t[0]))
	if l := r3.Norm(n); l > 0 {
		return r3.Scale(1/l, n)
	}
	return r3.Vec{}
}

// ErrNormalMismatch is returned alongside the triangles read when some
// stored STL normals disagree with the vertex winding. The triangles are
// still usable, their winding is what the distance computation relies on.
var ErrNormalMismatch = errors.New("STL triangle normal not approximately equal to normal calculated from vertices")

// maxNormalMismatches is the number of normal mismatches after which a
// file is considered broken rather than sloppy.
const maxNormalMismatches = 10_000

const stlTriangleSize = 50

// stlHeader defines the STL file header.
type stlHeader struct {
	_     [80]uint8 // Header
	Count uint32    // Number of triangles
}

// ReadSTL reads a binary STL surface. If the only problem found is stored
// normals disagreeing with vertex winding the triangles are returned along
// with an error wrapping ErrNormalMismatch.
func ReadSTL(r io.Reader) (output []Triangle, readErr error) {
	var header stlHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, errors.New("encountered EOF while reading STL header")
		}
		return nil, errors.Wrap(err, "STL header read failed")
	}
	if header.Count == 0 {
		return nil, errors.New("STL header indicates 0 triangles present")
	}
	var (
		buf        [stlTriangleSize]byte
		d          stlTriangle
		i          int
		mismatches int
	)
	output = make([]Triangle, 0, min(int(header.Count), 1<<20))
	for i = 0; i < int(header.Count); i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, errors.Wrapf(err, "%d/%d STL triangles read", i, header.Count)
		}
		d.get(buf[:])
		if err := d.validate(); err != nil {
			if !errors.Is(err, ErrNormalMismatch) {
				return nil, errors.Wrapf(err, "STL triangle %d", i)
			}
			mismatches++
			if mismatches > maxNormalMismatches {
				return nil, errors.Errorf("got too many normal vector mismatches (%d)", mismatches)
			}
		}
		output = append(output, d.toTriangle())
	}
	if mismatches > 0 {
		return output, errors.Wrapf(ErrNormalMismatch, "%d/%d triangles", mismatches, header.Count)
	}
	return output, nil
}

// ReadSTLFile reads the binary STL file at path.
func ReadSTLFile(path string) (_ []Triangle, err error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, fp.Close())
	}()
	return ReadSTL(bufio.NewReader(fp))
}

// WriteSTL writes model triangles to a writer in binary STL format.
func WriteSTL(w io.Writer, model []Triangle) error {
	if len(model) == 0 {
		return errors.New("empty triangle slice")
	}
	if uint64(len(model)) > math.MaxUint32 {
		return errors.Errorf("%d triangles do not fit in an STL file", len(model))
	}
	header := stlHeader{
		Count: uint32(len(model)),
	}
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return err
	}
	var (
		d stlTriangle
		b [stlTriangleSize]byte
	)
	for _, triangle := range model {
		d.Normal = to3F32(triangle.Normal())
		d.Vertex1 = to3F32(triangle[0])
		d.Vertex2 = to3F32(triangle[1])
		d.Vertex3 = to3F32(triangle[2])
		d.put(b[:])
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	}
	return nil
}

// WriteSTLFile creates or truncates the file at path and writes
// model to it in binary STL format.
func WriteSTLFile(path string, model []Triangle) (err error) {
	fp, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, fp.Close())
	}()
	bw := bufio.NewWriter(fp)
	if err := WriteSTL(bw, model); err != nil {
		return err
	}
	return bw.Flush()
}

// stlTriangle defines the triangle data within an STL file.
type stlTriangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
	_       uint16 // Attribute byte count
}

func (t stlTriangle) put(b []byte) {
	if len(b) < stlTriangleSize {
		panic("need length 50 to marshal stlTriangle")
	}
	put3F32(b, t.Normal)
	put3F32(b[12:], t.Vertex1)
	put3F32(b[24:], t.Vertex2)
	put3F32(b[36:], t.Vertex3)
	binary.LittleEndian.PutUint16(b[48:], 0)
}

func (t *stlTriangle) get(b []byte) {
	if len(b) < stlTriangleSize {
		panic("need length 50 to unmarshal stlTriangle")
	}
	get3F32(b, &t.Normal)
	get3F32(b[12:], &t.Vertex1)
	get3F32(b[24:], &t.Vertex2)
	get3F32(b[36:], &t.Vertex3)
	// Attribute bytes are ignored.
}

func put3F32(b []byte, f [3]float32) {
	_ = b[11] // early bounds check
	binary.LittleEndian.PutUint32(b, math.Float32bits(f[0]))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(f[1]))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(f[2]))
}

func get3F32(b []byte, f *[3]float32) {
	_ = b[11] // early bounds check
	f[0] = math.Float32frombits(binary.LittleEndian.Uint32(b))
	f[1] = math.Float32frombits(binary.LittleEndian.Uint32(b[4:]))
	f[2] = math.Float32frombits(binary.LittleEndian.Uint32(b[8:]))
}

func bad3F32(f [3]float32) bool {
	return math32.IsNaN(f[0]) || math32.IsInf(f[0], 0) ||
		math32.IsNaN(f[1]) || math32.IsInf(f[1], 0) ||
		math32.IsNaN(f[2]) || math32.IsInf(f[2], 0)
}

// validate rejects non-finite data. Degenerate triangles are kept, the
// index leaves them out. A zero stored normal is accepted since many
// exporters do not fill it in.
func (t stlTriangle) validate() error {
	const normTol = 5e-2
	if bad3F32(t.Normal) {
		return errors.New("inf/NaN STL triangle normal")
	}
	if bad3F32(t.Vertex1) || bad3F32(t.Vertex2) || bad3F32(t.Vertex3) {
		return errors.New("inf/NaN STL triangle vertex")
	}
	if t.Normal == ([3]float32{}) {
		return nil
	}
	calc := t.normalFromVertices()
	if calc == ([3]float32{}) {
		return nil
	}
	if !equalWithin3F32(calc, t.Normal, normTol) {
		return ErrNormalMismatch
	}
	return nil
}

func r3From3F32(f [3]float32) r3.Vec {
	return r3.Vec{X: float64(f[0]), Y: float64(f[1]), Z: float64(f[2])}
}

func to3F32(v r3.Vec) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}

func (t stlTriangle) normalFromVertices() [3]float32 {
	return to3F32(t.toTriangle().Normal())
}

func equalWithin3F32(a, b [3]float32, tol float32) bool {
	return math32.Abs(a[0]-b[0]) <= tol &&
		math32.Abs(a[1]-b[1]) <= tol &&
		math32.Abs(a[2]-b[2]) <= tol
}

func (t stlTriangle) toTriangle() Triangle {
	return Triangle{
		r3From3F32(t.Vertex1),
		r3From3F32(t.Vertex2),
		r3From3F32(t.Vertex3),
	}
}
