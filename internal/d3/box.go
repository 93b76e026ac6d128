package d3

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Box is a 3d axis aligned bounding box.
type Box r3.Box

// EmptyBox returns an inverted box which any call to Include
// or Extend collapses onto the included geometry.
func EmptyBox() Box {
	return Box{Min: Elem(math.MaxFloat64), Max: Elem(-math.MaxFloat64)}
}

// Extend returns a box enclosing two 3d boxes.
func (a Box) Extend(b Box) Box {
	return Box{
		Min: MinElem(a.Min, b.Min),
		Max: MaxElem(a.Max, b.Max),
	}
}

// Include enlarges a 3d box to include a point.
func (a Box) Include(v r3.Vec) Box {
	return Box{
		Min: MinElem(a.Min, v),
		Max: MaxElem(a.Max, v),
	}
}

// Size returns the size of a 3d box.
func (a Box) Size() r3.Vec {
	return r3.Sub(a.Max, a.Min)
}

// LongestAxis returns the axis (0, 1 or 2) along which the box is largest.
// Ties resolve to the lowest axis.
func (a Box) LongestAxis() int {
	s := a.Size()
	switch {
	case s.X >= s.Y && s.X >= s.Z:
		return 0
	case s.Y >= s.Z:
		return 1
	}
	return 2
}

// Dist2 returns the squared distance from p to the closest point of the box.
// Points within the box have distance zero.
func (a Box) Dist2(p r3.Vec) float64 {
	// https://math.stackexchange.com/questions/2133217/minimal-distance-to-a-cube-in-2d-and-3d-from-a-point-lying-outside
	dx := math.Max(0, math.Max(p.X-a.Max.X, a.Min.X-p.X))
	dy := math.Max(0, math.Max(p.Y-a.Max.Y, a.Min.Y-p.Y))
	dz := math.Max(0, math.Max(p.Z-a.Max.Z, a.Min.Z-p.Z))
	return dx*dx + dy*dy + dz*dz
}

// RayHit reports whether the ray origin+t*dir, t >= 0, touches the box.
// invDir holds the componentwise reciprocal of dir; infinite components
// are expected for axis aligned rays. The test is inclusive on box faces.
func (a Box) RayHit(origin, invDir r3.Vec) bool {
	tmin, tmax := 0.0, math.Inf(1)
	for axis := 0; axis < 3; axis++ {
		o, inv := Comp(origin, axis), Comp(invDir, axis)
		lo, hi := Comp(a.Min, axis), Comp(a.Max, axis)
		if math.IsInf(inv, 0) {
			// Ray parallel to slab.
			if o < lo || o > hi {
				return false
			}
			continue
		}
		t0, t1 := (lo-o)*inv, (hi-o)*inv
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tmin = math.Max(tmin, t0)
		tmax = math.Min(tmax, t1)
		if tmin > tmax {
			return false
		}
	}
	return true
}

// Expand returns the box grown by pad on every side.
func (a Box) Expand(pad float64) Box {
	p := Elem(pad)
	return Box{Min: r3.Sub(a.Min, p), Max: r3.Add(a.Max, p)}
}

// Diagonal returns the length of the box diagonal.
func (a Box) Diagonal() float64 {
	return r3.Norm(a.Size())
}
