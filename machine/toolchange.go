package machine

import (
	"context"
	"errors"

	"github.com/mastercactapus/gsend/coord"
	"github.com/mastercactapus/gsend/gcode"
)

// ToolChangeOptions configure a tool change operation.
//
// Without a reference (LastToolPos or a valid probe in the snapshot)
// the generated program only measures the current tool. With one, it
// moves to ChangePos, pauses for the change, probes the new tool and
// offsets Z so the new tip matches the old one.
type ToolChangeOptions struct {
	ChangePos    coord.Point
	ProbePos     coord.Point
	FeedRate     float64
	MaxTravel    float64
	TravelHeight float64

	LastToolPos *coord.Point
}

var _ Plugin = ToolChangeOptions{}

func (ToolChangeOptions) Name() string { return "tool-change" }

func (opt ToolChangeOptions) probe() ProbeOptions {
	return ProbeOptions{FeedRate: opt.FeedRate, MaxTravel: opt.MaxTravel}
}

func (opt ToolChangeOptions) reference(snap Snapshot) *coord.Point {
	if opt.LastToolPos != nil {
		return opt.LastToolPos
	}
	for i := len(snap.Probes) - 1; i >= 0; i-- {
		if snap.Probes[i].Valid {
			return &snap.Probes[i].Point
		}
	}
	return nil
}

func (opt ToolChangeOptions) Generate(snap Snapshot) ([]gcode.Block, error) {
	if !snap.Idle() {
		return nil, ErrNotIdle
	}
	err := opt.probe().validate()
	if err != nil {
		return nil, err
	}

	back := snap.MPos
	back.Z = opt.TravelHeight

	ref := opt.reference(snap)
	if ref == nil {
		b := opt.generateGoToProbe()
		b = append(b, hold("Attach Z-probe to spindle."))
		b = append(b, opt.probe().probeCommand(false, opt.ProbePos.Z)...)
		b = append(b, hold("Probe complete, remove Z-probe."))
		return append(b, generateGoTo(opt.TravelHeight, back)...), nil
	}

	b := opt.generateGoToChange()
	b = append(b, hold("Perform tool change."))
	b = append(b, opt.generateGoToProbe()...)
	b = append(b, hold("Attach Z-probe to spindle."))

	p := opt.probe()
	p.Offset = ref.Sub(snap.WCO).Z
	b = append(b, p.probeCommand(true, opt.ProbePos.Z)...)
	b = append(b, hold("Probe complete, remove Z-probe."))

	return append(b, generateGoTo(opt.TravelHeight, back)...), nil
}

// ToolChange measures the current tool if needed, then runs the change.
func (m *Machine) ToolChange(ctx context.Context, opt ToolChangeOptions) error {
	ref := opt.reference(m.Snapshot())
	if ref == nil {
		m.ResetProbes()
		err := m.RunPlugin(ctx, opt)
		if err != nil {
			return err
		}
		ref = opt.reference(m.Snapshot())
		if ref == nil {
			return errors.New("tool probe failed")
		}
	}
	opt.LastToolPos = ref

	m.log.Info("changing tool", "reference", *ref)
	return m.RunPlugin(ctx, opt)
}

func (opt ToolChangeOptions) generateGoToChange() []gcode.Block {
	return generateGoTo(opt.TravelHeight, opt.ChangePos)
}

func (opt ToolChangeOptions) generateGoToProbe() []gcode.Block {
	return generateGoTo(opt.TravelHeight, opt.ProbePos)
}
