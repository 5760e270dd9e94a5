package geom

import (
	"math"

	"github.com/mastercactapus/gsend/coord"
	"github.com/mastercactapus/gsend/gcode"
)

type Kind int

const (
	Line Kind = iota
	ArcCW
	ArcCCW
)

func (k Kind) String() string {
	switch k {
	case Line:
		return "line"
	case ArcCW:
		return "arc-cw"
	case ArcCCW:
		return "arc-ccw"
	}
	return "unknown"
}

// Segment is a single explicit path element in machine coordinates.
//
// Segments are derived from a block and the state it was applied to
// and are never modified after creation.
type Segment struct {
	Kind  Kind
	Rapid bool

	Start, End coord.Point
	Plane      gcode.Word

	// Center and Radius are only set for arcs.
	Center coord.Point
	Radius float64

	Feed float64

	// Line is the source line of the block that produced the segment.
	Line int
}

func (s Segment) IsArc() bool { return s.Kind == ArcCW || s.Kind == ArcCCW }

// planeAxes returns the two arc axes and the linear axis of plane.
func planeAxes(plane gcode.Word) (a0, a1, lin byte) {
	switch plane {
	case gcode.G18:
		return 'Z', 'X', 'Y'
	case gcode.G19:
		return 'Y', 'Z', 'X'
	}
	return 'X', 'Y', 'Z'
}

// Sweep returns the signed angular travel of an arc in radians,
// negative for clockwise. A full circle sweeps 2*Pi. Lines return 0.
func (s Segment) Sweep() float64 {
	if !s.IsArc() {
		return 0
	}
	a0, a1, _ := planeAxes(s.Plane)
	r0 := s.Start.Axis(a0) - s.Center.Axis(a0)
	r1 := s.Start.Axis(a1) - s.Center.Axis(a1)
	t0 := s.End.Axis(a0) - s.Center.Axis(a0)
	t1 := s.End.Axis(a1) - s.Center.Axis(a1)

	travel := math.Atan2(r0*t1-r1*t0, r0*t0+r1*t1)
	eps := coord.Tolerance(s.Radius) / s.Radius
	if s.Kind == ArcCW {
		if travel >= -eps {
			travel -= 2 * math.Pi
		}
	} else if travel <= eps {
		travel += 2 * math.Pi
	}
	return travel
}

// Length returns the path length of the segment, including the
// linear component of helical arcs.
func (s Segment) Length() float64 {
	if !s.IsArc() {
		return s.Start.Distance(s.End)
	}
	_, _, lin := planeAxes(s.Plane)
	return math.Hypot(math.Abs(s.Sweep())*s.Radius, s.End.Axis(lin)-s.Start.Axis(lin))
}

// Points approximates the segment with straight lines whose chord error
// does not exceed maxErr. The start point is not included.
func (s Segment) Points(maxErr float64) []coord.Point {
	if !s.IsArc() {
		return []coord.Point{s.End}
	}

	sweep := s.Sweep()
	n := 1
	if maxErr > 0 && maxErr < s.Radius {
		step := 2 * math.Acos(1-maxErr/s.Radius)
		n = int(math.Ceil(math.Abs(sweep) / step))
	}
	if n < 1 {
		n = 1
	}

	a0, a1, lin := planeAxes(s.Plane)
	start := math.Atan2(s.Start.Axis(a1)-s.Center.Axis(a1), s.Start.Axis(a0)-s.Center.Axis(a0))
	dLin := (s.End.Axis(lin) - s.Start.Axis(lin)) / float64(n)

	res := make([]coord.Point, 0, n)
	for i := 1; i < n; i++ {
		ang := start + sweep*float64(i)/float64(n)
		p := s.Start.
			SetAxis(a0, s.Center.Axis(a0)+s.Radius*math.Cos(ang)).
			SetAxis(a1, s.Center.Axis(a1)+s.Radius*math.Sin(ang)).
			SetAxis(lin, s.Start.Axis(lin)+dLin*float64(i))
		res = append(res, p)
	}

	// land exactly on the programmed end point
	return append(res, s.End)
}
