package geom

import (
	"math"
	"testing"

	"github.com/mastercactapus/gsend/coord"
	"github.com/mastercactapus/gsend/gcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func stateAt(p coord.Point) gcode.State {
	s := gcode.NewState()
	s.Pos = p
	return s
}

func resolve(t *testing.T, from coord.Point, line string) *Segment {
	t.Helper()
	seg, err := Resolve(stateAt(from), gcode.MustParse(line)[0])
	require.NoError(t, err)
	require.NotNil(t, seg)
	return seg
}

func TestStep_EndToEnd(t *testing.T) {
	s := gcode.NewState()
	var segs []*Segment
	for _, b := range gcode.MustParse("G90\nG1 X10 Y0 F100\nG2 X10 Y10 R5") {
		var seg *Segment
		var err error
		s, seg, err = Step(s, b)
		require.NoError(t, err)
		if seg != nil {
			segs = append(segs, seg)
		}
	}
	require.Len(t, segs, 2)

	assert.Equal(t, Line, segs[0].Kind)
	assert.False(t, segs[0].Rapid)
	assert.Equal(t, coord.Point{}, segs[0].Start)
	assert.Equal(t, coord.Point{X: 10}, segs[0].End)
	assert.Equal(t, 100.0, segs[0].Feed)

	arc := segs[1]
	assert.Equal(t, ArcCW, arc.Kind)
	assert.Equal(t, coord.Point{X: 10}, arc.Start)
	assert.Equal(t, coord.Point{X: 10, Y: 10}, arc.End)
	assert.InDelta(t, 5, arc.Center.Distance(arc.Start), coord.Tolerance(10))
	assert.InDelta(t, 5, arc.Center.Distance(arc.End), coord.Tolerance(10))
	assert.True(t, arc.Center.Near(coord.Point{X: 10, Y: 5}))
	assert.InDelta(t, -math.Pi, arc.Sweep(), 1e-9)
	assert.Equal(t, 3, arc.Line)
}

func TestResolve_Radius(t *testing.T) {
	short := resolve(t, coord.Point{}, "G2 X10 Y0 R10")
	assert.InDelta(t, 5, short.Center.X, 1e-9)
	assert.InDelta(t, -math.Sqrt(75), short.Center.Y, 1e-9)
	assert.InDelta(t, -math.Pi/3, short.Sweep(), 1e-9)

	long := resolve(t, coord.Point{}, "G2 X10 Y0 R-10")
	assert.InDelta(t, math.Sqrt(75), long.Center.Y, 1e-9)
	assert.InDelta(t, 10, long.Radius, 1e-9)
	assert.InDelta(t, -5*math.Pi/3, long.Sweep(), 1e-9)

	ccw := resolve(t, coord.Point{}, "G3 X10 Y0 R10")
	assert.InDelta(t, math.Sqrt(75), ccw.Center.Y, 1e-9)
	assert.InDelta(t, math.Pi/3, ccw.Sweep(), 1e-9)

	// slightly short radius is absorbed by the tolerance band
	near := resolve(t, coord.Point{}, "G2 X10 Y0 R4.999")
	assert.True(t, near.Center.Near(coord.Point{X: 5}))
}

func TestResolve_Offsets(t *testing.T) {
	seg := resolve(t, coord.Point{}, "G3 X10 Y0 I5 J0")
	assert.Equal(t, coord.Point{X: 5}, seg.Center)
	assert.Equal(t, 5.0, seg.Radius)
	assert.InDelta(t, math.Pi, seg.Sweep(), 1e-9)
	assert.InDelta(t, 5*math.Pi, seg.Length(), 1e-9)

	full := resolve(t, coord.Point{X: 1}, "G2 X1 Y0 I-1")
	assert.InDelta(t, -2*math.Pi, full.Sweep(), 1e-9)

	helix := resolve(t, coord.Point{}, "G17 G3 X0 Y0 Z3 I1 J0")
	assert.Equal(t, 0.0, helix.Center.Z)
	assert.InDelta(t, math.Hypot(2*math.Pi, 3), helix.Length(), 1e-9)
}

func TestResolve_Planes(t *testing.T) {
	xz := resolve(t, coord.Point{}, "G18 G2 X10 Z0 R5")
	assert.True(t, xz.Center.Near(coord.Point{X: 5}))

	yz := resolve(t, coord.Point{X: 2}, "G19 G2 Y0 Z10 J0 K5")
	assert.Equal(t, coord.Point{X: 2, Z: 5}, yz.Center)
}

func TestResolve_Errors(t *testing.T) {
	for _, line := range []string{
		"G2 X10 Y0 R4",
		"G2 X0 Y0 R5",
		"G2 X10 Y0 I4 J0",
		"G2 X10 Y0",
		"G2 X0 Y0 I0 J0",
	} {
		t.Run(line, func(t *testing.T) {
			prev := stateAt(coord.Point{})
			next, seg, err := Step(prev, gcode.MustParse(line)[0])
			assert.ErrorIs(t, err, ErrArcGeometry)
			assert.Nil(t, seg)
			assert.Equal(t, prev, next)
		})
	}
}

func TestResolve_NoMotion(t *testing.T) {
	seg, err := Resolve(gcode.NewState(), gcode.MustParse("G21 G90")[0])
	assert.NoError(t, err)
	assert.Nil(t, seg)

	seg = resolve(t, coord.Point{}, "G0 Z5")
	assert.True(t, seg.Rapid)
	assert.Equal(t, []coord.Point{{Z: 5}}, seg.Points(0.01))
}

func TestSegment_Points(t *testing.T) {
	seg := resolve(t, coord.Point{}, "G3 X10 Y0 I5 J0")
	pts := seg.Points(0.01)
	require.Greater(t, len(pts), 10)
	assert.Equal(t, seg.End, pts[len(pts)-1])
	for _, p := range pts {
		assert.InDelta(t, 5, p.Distance(seg.Center), 1e-9)
	}
}

func TestStep_Idempotent(t *testing.T) {
	prev := stateAt(coord.Point{X: 3, Y: 4})
	b := gcode.MustParse("G2 X7 Y4 R2")[0]

	s1, seg1, err1 := Step(prev, b)
	s2, seg2, err2 := Step(prev, b)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, s1, s2)
	assert.Equal(t, *seg1, *seg2)
}

func genCoord(t *rapid.T, label string) float64 {
	return rapid.Float64Range(-500, 500).Draw(t, label)
}

func TestResolve_OffsetProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		center := coord.Point{X: genCoord(t, "cx"), Y: genCoord(t, "cy")}
		r := rapid.Float64Range(1, 200).Draw(t, "r")
		a := rapid.Float64Range(-math.Pi, math.Pi).Draw(t, "a")
		b := rapid.Float64Range(-math.Pi, math.Pi).Draw(t, "b")
		motion := rapid.SampledFrom([]float64{2, 3}).Draw(t, "motion")

		start := coord.Point{X: center.X + r*math.Cos(a), Y: center.Y + r*math.Sin(a)}
		end := coord.Point{X: center.X + r*math.Cos(b), Y: center.Y + r*math.Sin(b)}

		blk := gcode.NewBlock(
			gcode.Word{W: 'G', Arg: motion},
			gcode.Word{W: 'X', Arg: end.X},
			gcode.Word{W: 'Y', Arg: end.Y},
			gcode.Word{W: 'I', Arg: center.X - start.X},
			gcode.Word{W: 'J', Arg: center.Y - start.Y},
		)
		seg, err := Resolve(stateAt(start), blk)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		checkEquidistant(t, seg)
	})
}

func TestResolve_RadiusProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		start := coord.Point{
			X: rapid.Float64Range(-200, 200).Draw(t, "sx"),
			Y: rapid.Float64Range(-200, 200).Draw(t, "sy"),
		}
		chord := rapid.Float64Range(2, 400).Draw(t, "chord")
		dir := rapid.Float64Range(-math.Pi, math.Pi).Draw(t, "dir")
		end := coord.Point{X: start.X + chord*math.Cos(dir), Y: start.Y + chord*math.Sin(dir)}
		r := chord / 2 * rapid.Float64Range(1, 10).Draw(t, "scale")
		if rapid.Bool().Draw(t, "long") {
			r = -r
		}
		motion := rapid.SampledFrom([]float64{2, 3}).Draw(t, "motion")

		blk := gcode.NewBlock(
			gcode.Word{W: 'G', Arg: motion},
			gcode.Word{W: 'X', Arg: end.X},
			gcode.Word{W: 'Y', Arg: end.Y},
			gcode.Word{W: 'R', Arg: r},
		)
		seg, err := Resolve(stateAt(start), blk)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if math.Abs(seg.Radius-math.Abs(r)) > 1e-9 {
			t.Fatalf("radius %g, want %g", seg.Radius, math.Abs(r))
		}
		checkEquidistant(t, seg)

		sweep := math.Abs(seg.Sweep())
		if r > 0 && sweep > math.Pi+1e-6 {
			t.Fatalf("positive radius chose the long arc (%g rad)", sweep)
		}
		if r < 0 && sweep < math.Pi-1e-6 {
			t.Fatalf("negative radius chose the short arc (%g rad)", sweep)
		}
	})
}

func checkEquidistant(t *rapid.T, seg *Segment) {
	mag := math.Max(math.Max(seg.Start.Magnitude(), seg.End.Magnitude()), seg.Center.Magnitude())
	tol := coord.Tolerance(mag)
	if d := math.Abs(seg.Center.Distance(seg.Start) - seg.Radius); d > tol {
		t.Fatalf("start off by %g (tol %g)", d, tol)
	}
	if d := math.Abs(seg.Center.Distance(seg.End) - seg.Radius); d > tol {
		t.Fatalf("end off by %g (tol %g)", d, tol)
	}
}
