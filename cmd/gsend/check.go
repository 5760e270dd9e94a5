package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/mastercactapus/gsend/coord"
	"github.com/mastercactapus/gsend/gcode"
	"github.com/mastercactapus/gsend/geom"
)

var checkCmd = &cobra.Command{
	Use:   "check FILE...",
	Short: "Resolve programs offline and report errors and travel.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var failed int
		for _, name := range args {
			sum, err := checkFile(name, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			sum.print(cmd.OutOrStdout(), name)
			failed += sum.Errors
		}
		if failed > 0 {
			return fmt.Errorf("%d blocks failed", failed)
		}
		return nil
	},
}

type checkSummary struct {
	Blocks, Segments, Arcs, Errors int

	Feed, Rapid float64
	Min, Max    coord.Point
}

func (s *checkSummary) add(seg *geom.Segment) {
	pts := append([]coord.Point{seg.Start}, seg.Points(0.01)...)
	if s.Segments == 0 {
		s.Min, s.Max = seg.Start, seg.Start
	}
	for _, p := range pts {
		s.Min = coord.Point{X: math.Min(s.Min.X, p.X), Y: math.Min(s.Min.Y, p.Y), Z: math.Min(s.Min.Z, p.Z)}
		s.Max = coord.Point{X: math.Max(s.Max.X, p.X), Y: math.Max(s.Max.Y, p.Y), Z: math.Max(s.Max.Z, p.Z)}
	}

	s.Segments++
	if seg.IsArc() {
		s.Arcs++
	}
	if seg.Rapid {
		s.Rapid += seg.Length()
	} else {
		s.Feed += seg.Length()
	}
}

func (s checkSummary) print(w io.Writer, name string) {
	fmt.Fprintf(w, "%s: %d blocks, %d segments (%d arcs), %d errors\n", name, s.Blocks, s.Segments, s.Arcs, s.Errors)
	fmt.Fprintf(w, "  travel: %.3fmm feed, %.3fmm rapid\n", s.Feed, s.Rapid)
	if s.Segments > 0 {
		fmt.Fprintf(w, "  bounds: X[%.3f, %.3f] Y[%.3f, %.3f] Z[%.3f, %.3f]\n",
			s.Min.X, s.Max.X, s.Min.Y, s.Max.Y, s.Min.Z, s.Max.Z)
	}
}

// checkFile resolves every block of the program from a fresh state.
// Blocks that fail are reported to errw and leave the state unchanged.
func checkFile(name string, errw io.Writer) (sum checkSummary, err error) {
	f, err := os.Open(name)
	if err != nil {
		return sum, err
	}
	defer f.Close()

	p := gcode.NewParser(f)
	s := gcode.NewState()
	for {
		b, err := p.Read()
		if err == io.EOF {
			return sum, nil
		}
		var be *gcode.BlockError
		if errors.As(err, &be) {
			fmt.Fprintf(errw, "%s: %v\n", name, err)
			sum.Errors++
			continue
		}
		if err != nil {
			return sum, err
		}
		sum.Blocks++
		if b.System != "" || b.Directive != "" {
			continue
		}

		next, seg, err := geom.Step(s, b)
		if err != nil {
			fmt.Fprintf(errw, "%s: %v\n", name, err)
			sum.Errors++
			continue
		}
		s = next
		if seg != nil {
			sum.add(seg)
		}
	}
}
