package geom

import (
	"errors"
	"fmt"
	"math"

	"github.com/mastercactapus/gsend/coord"
	"github.com/mastercactapus/gsend/gcode"
)

// ErrArcGeometry is returned for arcs whose center cannot be placed
// consistently with both end points.
var ErrArcGeometry = errors.New("arc geometry error")

func arcError(b gcode.Block, format string, args ...interface{}) error {
	src := b.Source
	if src == "" {
		src = b.String()
	}
	return &gcode.BlockError{
		Err:    ErrArcGeometry,
		Line:   b.Line,
		Source: src,
		Reason: fmt.Sprintf(format, args...),
	}
}

// Step applies b to prev and returns the resulting state along with
// the path segment it produces, if any.
//
// On error prev is returned unchanged.
func Step(prev gcode.State, b gcode.Block) (gcode.State, *Segment, error) {
	next, mv, err := prev.Apply(b)
	if err != nil {
		return prev, nil, err
	}
	if !mv.Moving() {
		return next, nil, nil
	}

	seg := &Segment{
		Start: mv.From,
		End:   mv.To,
		Plane: mv.Plane,
		Feed:  mv.Feed,
		Line:  b.Line,
	}

	switch mv.Motion {
	case gcode.G0:
		seg.Rapid = true
	case gcode.G2:
		seg.Kind = ArcCW
	case gcode.G3:
		seg.Kind = ArcCCW
	}
	if seg.IsArc() {
		err = resolveArc(b, mv, seg)
		if err != nil {
			return prev, nil, err
		}
	}

	return next, seg, nil
}

// Resolve returns the segment b produces when applied to prev.
func Resolve(prev gcode.State, b gcode.Block) (*Segment, error) {
	_, seg, err := Step(prev, b)
	return seg, err
}

func resolveArc(b gcode.Block, mv gcode.Move, seg *Segment) error {
	a0, a1, lin := planeAxes(seg.Plane)
	start, end := seg.Start, seg.End

	switch {
	case mv.HasRadius:
		x := end.Axis(a0) - start.Axis(a0)
		y := end.Axis(a1) - start.Axis(a1)
		mag := math.Max(start.Magnitude(), end.Magnitude())
		chord := math.Hypot(x, y)
		if chord <= coord.Tolerance(mag) {
			return arcError(b, "radius arc with identical end points")
		}

		r := mv.Radius
		h := 4*r*r - x*x - y*y
		if h < 0 {
			if chord/2-math.Abs(r) > coord.Tolerance(mag) {
				return arcError(b, "radius %g is smaller than half the chord %g", math.Abs(r), chord/2)
			}
			h = 0
		}

		// h scales the perpendicular from the chord midpoint to the center
		h = -math.Sqrt(h) / chord
		if seg.Kind == ArcCCW {
			h = -h
		}
		if r < 0 {
			h = -h
			r = -r
		}

		seg.Center = start.
			SetAxis(a0, start.Axis(a0)+0.5*(x-y*h)).
			SetAxis(a1, start.Axis(a1)+0.5*(y+x*h))
		seg.Radius = r
	case mv.HasOffset:
		seg.Center = start.
			SetAxis(a0, start.Axis(a0)+mv.Offset.Axis(a0)).
			SetAxis(a1, start.Axis(a1)+mv.Offset.Axis(a1))
		seg.Radius = planeDist(seg.Center, start, a0, a1)
	default:
		return arcError(b, "arc without R or I/J/K")
	}
	seg.Center = seg.Center.SetAxis(lin, start.Axis(lin))

	if seg.Radius <= coord.Tolerance(math.Max(start.Magnitude(), end.Magnitude())) {
		return arcError(b, "zero radius")
	}
	mag := math.Max(math.Max(start.Magnitude(), end.Magnitude()), seg.Center.Magnitude())
	rs := planeDist(seg.Center, start, a0, a1)
	re := planeDist(seg.Center, end, a0, a1)
	if !coord.Within(rs, re, mag) {
		return arcError(b, "center is %g from start but %g from end", rs, re)
	}
	if !coord.Within(rs, seg.Radius, mag) {
		return arcError(b, "center is %g from start for radius %g", rs, seg.Radius)
	}

	return nil
}

func planeDist(a, b coord.Point, a0, a1 byte) float64 {
	return math.Hypot(a.Axis(a0)-b.Axis(a0), a.Axis(a1)-b.Axis(a1))
}
