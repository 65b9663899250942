package world

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Shape selects the narrow-phase test used for a collider.
type Shape int

const (
	ShapeSphere Shape = iota
	ShapeBox
)

// Bounds is an axis-aligned box.
type Bounds struct {
	Min, Max mgl64.Vec3
}

// segmentBounds returns the box enclosing a segment.
func segmentBounds(from, to mgl64.Vec3) Bounds {
	return Bounds{
		Min: mgl64.Vec3{math.Min(from[0], to[0]), math.Min(from[1], to[1]), math.Min(from[2], to[2])},
		Max: mgl64.Vec3{math.Max(from[0], to[0]), math.Max(from[1], to[1]), math.Max(from[2], to[2])},
	}
}

// intersectSphere returns the segment parameter t in [0,1] of the first
// contact with a sphere, plus the surface normal there. A segment starting
// inside the sphere hits at t=0.
func intersectSphere(from, to, center mgl64.Vec3, radius float64) (float64, mgl64.Vec3, bool) {
	d := to.Sub(from)
	f := from.Sub(center)

	c := f.Dot(f) - radius*radius
	if c <= 0 {
		return 0, insideNormal(d, f), true
	}

	a := d.Dot(d)
	if a == 0 {
		return 0, mgl64.Vec3{}, false
	}
	b := 2 * f.Dot(d)
	disc := b*b - 4*a*c
	if disc < 0 {
		return 0, mgl64.Vec3{}, false
	}

	t := (-b - math.Sqrt(disc)) / (2 * a)
	if t < 0 || t > 1 {
		return 0, mgl64.Vec3{}, false
	}

	point := from.Add(d.Mul(t))
	return t, point.Sub(center).Normalize(), true
}

// intersectBox is the slab test against an axis-aligned box.
func intersectBox(from, to mgl64.Vec3, box Bounds) (float64, mgl64.Vec3, bool) {
	d := to.Sub(from)
	tmin, tmax := 0.0, 1.0
	var normal mgl64.Vec3
	entered := false

	for axis := 0; axis < 3; axis++ {
		if math.Abs(d[axis]) < 1e-12 {
			if from[axis] < box.Min[axis] || from[axis] > box.Max[axis] {
				return 0, mgl64.Vec3{}, false
			}
			continue
		}

		inv := 1 / d[axis]
		t1 := (box.Min[axis] - from[axis]) * inv
		t2 := (box.Max[axis] - from[axis]) * inv
		sign := -1.0
		if t1 > t2 {
			t1, t2 = t2, t1
			sign = 1.0
		}

		if t1 > tmin {
			tmin = t1
			normal = mgl64.Vec3{}
			normal[axis] = sign
			entered = true
		}
		if t2 < tmax {
			tmax = t2
		}
		if tmin > tmax {
			return 0, mgl64.Vec3{}, false
		}
	}

	if !entered {
		// Segment starts inside the box.
		return 0, insideNormal(d, from.Sub(box.Min.Add(box.Max).Mul(0.5))), true
	}
	return tmin, normal, true
}

// insideNormal picks a normal for a segment that starts inside a collider:
// against the direction of travel, or outward when the segment is degenerate.
func insideNormal(d, outward mgl64.Vec3) mgl64.Vec3 {
	if d.Len() > 0 {
		return d.Mul(-1).Normalize()
	}
	if outward.Len() > 0 {
		return outward.Normalize()
	}
	return mgl64.Vec3{0, 1, 0}
}
