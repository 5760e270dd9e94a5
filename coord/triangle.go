package coord

import (
	"math"
)

// Triangle is a planar facet, used to interpolate Z across probed points.
type Triangle struct{ A, B, C Point }

// Bounds returns the XY bounding box of the triangle, grown by AbsTolerance.
func (t Triangle) Bounds() (min, max Point) {
	min = Point{
		X: math.Min(t.A.X, math.Min(t.B.X, t.C.X)) - AbsTolerance,
		Y: math.Min(t.A.Y, math.Min(t.B.Y, t.C.Y)) - AbsTolerance,
	}
	max = Point{
		X: math.Max(t.A.X, math.Max(t.B.X, t.C.X)) + AbsTolerance,
		Y: math.Max(t.A.Y, math.Max(t.B.Y, t.C.Y)) + AbsTolerance,
	}
	return min, max
}

// ContainsXY returns true if the 2D projection of the triangle
// has the point x,y. Points within AbsTolerance of an edge count
// as inside, regardless of winding order.
func (t Triangle) ContainsXY(x, y float64) bool {
	min, max := t.Bounds()
	if x < min.X || max.X < x || y < min.Y || max.Y < y {
		return false
	}

	s1 := side(t.A, t.B, x, y)
	s2 := side(t.B, t.C, x, y)
	s3 := side(t.C, t.A, x, y)
	if (s1 >= 0 && s2 >= 0 && s3 >= 0) || (s1 <= 0 && s2 <= 0 && s3 <= 0) {
		return true
	}

	tolSq := AbsTolerance * AbsTolerance
	return segmentDistSq(t.A, t.B, x, y) <= tolSq ||
		segmentDistSq(t.B, t.C, x, y) <= tolSq ||
		segmentDistSq(t.C, t.A, x, y) <= tolSq
}

// Z will give the Z-coordinate on the plane defined by the triangle
// where it intersects x,y.
func (t Triangle) Z(x, y float64) float64 {
	n := t.C.Sub(t.A).Cross(t.B.Sub(t.A))
	d := n.Dot(t.C)

	return (d - n.X*x - n.Y*y) / n.Z
}

// side is positive when x,y is left of the line a->b.
func side(a, b Point, x, y float64) float64 {
	return (b.Y-a.Y)*(x-a.X) + (a.X-b.X)*(y-a.Y)
}

func segmentDistSq(a, b Point, x, y float64) float64 {
	lenSq := (b.X-a.X)*(b.X-a.X) + (b.Y-a.Y)*(b.Y-a.Y)
	if lenSq == 0 {
		return (x-a.X)*(x-a.X) + (y-a.Y)*(y-a.Y)
	}
	t := ((x-a.X)*(b.X-a.X) + (y-a.Y)*(b.Y-a.Y)) / lenSq
	switch {
	case t < 0:
		return (x-a.X)*(x-a.X) + (y-a.Y)*(y-a.Y)
	case t > 1:
		return (x-b.X)*(x-b.X) + (y-b.Y)*(y-b.Y)
	}
	px, py := a.X+t*(b.X-a.X), a.Y+t*(b.Y-a.Y)
	return (x-px)*(x-px) + (y-py)*(y-py)
}
