package machine

import (
	"context"
	"errors"

	"github.com/mastercactapus/gsend/coord"
	"github.com/mastercactapus/gsend/gcode"
)

type ProbeResult struct {
	coord.Point
	Valid bool
}

// ProbeOptions configure a straight z-probe operation.
type ProbeOptions struct {
	ZeroZAxis bool

	// Offset is the offset to use when ZeroZAxis is set.
	Offset float64

	FeedRate  float64
	MaxTravel float64

	// If true, pause the program before probing
	Wait bool
}

var _ Plugin = ProbeOptions{}

func (ProbeOptions) Name() string { return "probe-z" }

func (opt ProbeOptions) validate() error {
	if opt.FeedRate <= 0 {
		return errors.New("feed rate must be positive")
	}
	if opt.MaxTravel == 0 {
		return errors.New("max travel must be set")
	}
	return nil
}

// Generate creates a straight z-probe from the current location.
func (opt ProbeOptions) Generate(snap Snapshot) ([]gcode.Block, error) {
	if !snap.Idle() {
		return nil, ErrNotIdle
	}
	err := opt.validate()
	if err != nil {
		return nil, err
	}

	var b []gcode.Block
	if opt.Wait {
		b = append(b, hold("Attach Z-probe to spindle."))
	}
	return append(b, opt.generate(snap.MPos)...), nil
}

// ProbeZ will perform a straight z-probe from the current location.
func (m *Machine) ProbeZ(ctx context.Context, opt ProbeOptions) (*ProbeResult, error) {
	m.ResetProbes()
	err := m.RunPlugin(ctx, opt)
	if err != nil {
		return nil, err
	}
	p := m.Probes()
	if len(p) == 0 {
		return nil, errors.New("no probe data returned")
	}

	return &p[0], nil
}

// hold pauses the program until it is resumed.
func hold(message string) gcode.Block {
	b := gcode.NewBlock(gcode.M0)
	b.Comment = message
	return b
}

// probeCommand will return a command to do a Z-probe.
func (opt ProbeOptions) probeCommand(zero bool, lift float64) []gcode.Block {
	b := []gcode.Block{
		gcode.NewBlock(
			gcode.G91,
			gcode.G382,
			gcode.Word{W: 'Z', Arg: opt.MaxTravel},
			gcode.Word{W: 'F', Arg: opt.FeedRate},
		),
	}
	if zero {
		b = append(b, gcode.NewBlock(gcode.G92, gcode.Word{W: 'Z', Arg: gcode.Round(opt.Offset)}))
	}
	return append(b,
		goTo(gcode.Word{W: 'Z', Arg: lift}),
		gcode.NewBlock(gcode.G90),
	)
}

// generate will create gcode to do a probe operation that
// handles zeroing the z-axis and returning to the point of origin.
func (opt ProbeOptions) generate(mPos coord.Point) []gcode.Block {
	return opt.probeCommand(opt.ZeroZAxis, mPos.Z)
}
