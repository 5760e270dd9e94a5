package coord

import (
	"math"
)

type Point struct{ X, Y, Z float64 }

// Equal reports exact equality. Use Near for values that came from text.
func (p Point) Equal(b Point) bool {
	return p.X == b.X && p.Y == b.Y && p.Z == b.Z
}

// Near reports whether p and b are equal within the tolerance band
// of their largest coordinate.
func (p Point) Near(b Point) bool {
	mag := math.Max(p.Magnitude(), b.Magnitude())
	return Within(p.X, b.X, mag) && Within(p.Y, b.Y, mag) && Within(p.Z, b.Z, mag)
}

// Magnitude is the largest absolute coordinate of p.
func (p Point) Magnitude() float64 {
	return math.Max(math.Abs(p.X), math.Max(math.Abs(p.Y), math.Abs(p.Z)))
}

func (p Point) Cross(op Point) Point {
	return Point{
		p.Y*op.Z - p.Z*op.Y,
		p.Z*op.X - p.X*op.Z,
		p.X*op.Y - p.Y*op.X,
	}
}
func (p Point) Dot(op Point) float64 {
	return p.X*op.X + p.Y*op.Y + p.Z*op.Z
}
func (p Point) Mul(val float64) Point {
	p.X *= val
	p.Y *= val
	p.Z *= val
	return p
}

func (p Point) Div(val float64) Point {
	p.X /= val
	p.Y /= val
	p.Z /= val
	return p
}

// Add will add the target values to p.
func (p Point) Add(target Point) Point {
	p.X += target.X
	p.Y += target.Y
	p.Z += target.Z
	return p
}

// Sub will subtract the target values from p.
func (p Point) Sub(target Point) Point {
	p.X -= target.X
	p.Y -= target.Y
	p.Z -= target.Z
	return p
}

// Axis returns the coordinate for 'X', 'Y' or 'Z'.
func (p Point) Axis(a byte) float64 {
	switch a {
	case 'X':
		return p.X
	case 'Y':
		return p.Y
	case 'Z':
		return p.Z
	}
	return 0
}

// SetAxis returns p with the coordinate for 'X', 'Y' or 'Z' replaced.
func (p Point) SetAxis(a byte, val float64) Point {
	switch a {
	case 'X':
		p.X = val
	case 'Y':
		p.Y = val
	case 'Z':
		p.Z = val
	}
	return p
}

// Split will return a set of evenly spaced points
// from c to the target.
func (p Point) Split(target Point, n int, relative bool) []Point {
	target.X = (target.X - p.X) / float64(n)
	target.Y = (target.Y - p.Y) / float64(n)
	target.Z = (target.Z - p.Z) / float64(n)

	res := make([]Point, n)
	for i := range res {
		if relative {
			res[i].X = target.X
			res[i].Y = target.Y
			res[i].Z = target.Z
		} else {
			res[i].X = p.X + target.X*float64(i+1)
			res[i].Y = p.Y + target.Y*float64(i+1)
			res[i].Z = p.Z + target.Z*float64(i+1)
		}
	}

	return res
}

// Distance returns the 3D distance between p and target.
func (p Point) Distance(target Point) float64 {
	d := target.Sub(p)
	return math.Sqrt(d.Dot(d))
}

// DistanceXY will return the 2D distance to p from (x,y).
func (p Point) DistanceXY(x, y float64) float64 {
	return math.Hypot(x-p.X, y-p.Y)
}
