package machine

import (
	"context"
	"errors"
	"math"

	"github.com/mastercactapus/gsend/coord"
	"github.com/mastercactapus/gsend/gcode"
)

// ProbeGridOptions configure a grid-pattern z-probe operation.
//
// Generating from a snapshot without probe results produces the
// preliminary scan; once results are available it produces the full
// grid, clearing the highest preliminary point by 0.2mm.
type ProbeGridOptions struct {
	ProbeOptions

	DistanceX, DistanceY float64
	Granularity          float64
}

var _ Plugin = ProbeGridOptions{}

func (ProbeGridOptions) Name() string { return "probe-grid" }

func (opt ProbeGridOptions) Generate(snap Snapshot) ([]gcode.Block, error) {
	if !snap.Idle() {
		return nil, ErrNotIdle
	}
	err := opt.validate()
	if err != nil {
		return nil, err
	}
	if opt.Granularity <= 0 {
		return nil, errors.New("granularity must be positive")
	}

	if len(snap.Probes) == 0 {
		return opt.generateGridQuick(snap.MPos), nil
	}

	maxZ := snap.Probes[0].Z
	for _, p := range snap.Probes[1:] {
		maxZ = math.Max(maxZ, p.Z)
	}

	return opt.generateGridSequence(snap.MPos, maxZ+0.2), nil
}

// ProbeZGrid will perform a grid of straight z-probes.
func (m *Machine) ProbeZGrid(ctx context.Context, opt ProbeGridOptions) ([]ProbeResult, error) {
	m.ResetProbes()
	err := m.RunPlugin(ctx, opt)
	if err != nil {
		return nil, err
	}
	if len(m.Probes()) == 0 {
		return nil, errors.New("no probe data returned")
	}

	err = m.ApplyPlugin(opt)
	if err != nil {
		return nil, err
	}
	m.ResetProbes()
	err = m.Start()
	if err != nil {
		return nil, err
	}
	err = m.Wait(ctx)
	if err != nil {
		return nil, err
	}

	return m.Probes(), nil
}

// generateGridQuick creates gcode for a preliminary grid scan.
//
// It scans from the current height for 5 points (corners and center).
func (opt ProbeGridOptions) generateGridQuick(mPos coord.Point) []gcode.Block {
	b := opt.probeCommand(opt.ZeroZAxis, mPos.Z)

	probe := func(x, y float64) {
		b = append(b, goTo(gcode.Word{W: 'X', Arg: mPos.X + x}, gcode.Word{W: 'Y', Arg: mPos.Y + y}))
		b = append(b, opt.probeCommand(false, mPos.Z)...)
	}
	probe(0, opt.DistanceY)
	probe(opt.DistanceX/2, opt.DistanceY/2)
	probe(opt.DistanceX, 0)
	probe(opt.DistanceX, opt.DistanceY)

	return append(b, goTo(gcode.Word{W: 'X', Arg: mPos.X}, gcode.Word{W: 'Y', Arg: mPos.Y}))
}

// generateGridSequence will generate gcode to do a grid scan by granularity.
//
// It generates a scan where no two points are farther than granularity apart, returning to the
// provided zHeight during scan, and back to mPos after.
func (opt ProbeGridOptions) generateGridSequence(mPos coord.Point, zHeight float64) []gcode.Block {
	opt.MaxTravel -= mPos.Z - zHeight

	xyDist := math.Sqrt(opt.Granularity * opt.Granularity / 2)

	xCount := int(math.Max(1, math.Ceil(opt.DistanceX/xyDist)))
	yCount := int(math.Max(1, math.Ceil(opt.DistanceY/xyDist)))

	b := []gcode.Block{goTo(gcode.Word{W: 'Z', Arg: zHeight})}
	probe := func(x, y float64) {
		b = append(b, goTo(gcode.Word{W: 'X', Arg: mPos.X + x}, gcode.Word{W: 'Y', Arg: mPos.Y + y}))
		b = append(b, opt.probeCommand(false, zHeight)...)
	}

	for y := 0; y <= yCount; y++ {
		for x := 0; x <= xCount; x++ {
			xVal := opt.DistanceX / float64(xCount) * float64(x)
			if y%2 != 0 {
				xVal = opt.DistanceX - xVal
			}
			probe(xVal, opt.DistanceY/float64(yCount)*float64(y))
		}
	}

	return append(b,
		goTo(gcode.Word{W: 'Z', Arg: mPos.Z}),
		goTo(gcode.Word{W: 'X', Arg: mPos.X}, gcode.Word{W: 'Y', Arg: mPos.Y}),
	)
}
