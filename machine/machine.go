package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mastercactapus/gsend/coord"
	"github.com/mastercactapus/gsend/gcode"
)

// ErrNotIdle is returned when an operation needs an idle machine.
var ErrNotIdle = errors.New("machine not idle")

type Machine struct {
	Adapter

	log *slog.Logger
}

func NewMachine(a Adapter, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{
		Adapter: a,
		log:     log,
	}
}

// Run loads b, starts it and waits for it to finish.
func (m *Machine) Run(ctx context.Context, b []gcode.Block) error {
	err := m.Load(b)
	if err != nil {
		return err
	}
	err = m.Start()
	if err != nil {
		return err
	}
	return m.Wait(ctx)
}

// ApplyPlugin loads the blocks generated by p from the current snapshot.
func (m *Machine) ApplyPlugin(p Plugin) error {
	snap := m.Snapshot()
	b, err := p.Generate(snap)
	if err != nil {
		return fmt.Errorf("plugin %s: %w", p.Name(), err)
	}
	m.log.Info("loading plugin program", "plugin", p.Name(), "blocks", len(b))

	return m.Load(b)
}

// RunPlugin applies p, starts the result and waits for it to finish.
func (m *Machine) RunPlugin(ctx context.Context, p Plugin) error {
	err := m.ApplyPlugin(p)
	if err != nil {
		return err
	}
	err = m.Start()
	if err != nil {
		return err
	}
	return m.Wait(ctx)
}

func goTo(pos ...gcode.Word) gcode.Block {
	words := []gcode.Word{gcode.G53, gcode.G0}
	for _, w := range pos {
		w.Arg = gcode.Round(w.Arg)
		words = append(words, w)
	}
	return gcode.NewBlock(words...)
}

// generateGoTo moves to pos in machine coordinates by way of travelZ.
func generateGoTo(travelZ float64, pos coord.Point) []gcode.Block {
	return []gcode.Block{
		goTo(gcode.Word{W: 'Z', Arg: travelZ}),
		goTo(gcode.Word{W: 'X', Arg: pos.X}, gcode.Word{W: 'Y', Arg: pos.Y}),
		goTo(gcode.Word{W: 'Z', Arg: pos.Z}),
	}
}
