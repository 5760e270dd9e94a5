package machine

import (
	"errors"

	"github.com/mastercactapus/gsend/coord"
	"github.com/mastercactapus/gsend/gcode"
	"github.com/mastercactapus/gsend/meshlevel"
)

// MeshLevel rewrites Program to follow the surface described by Points,
// which are probe results in machine coordinates.
type MeshLevel struct {
	Program []gcode.Block
	Points  []coord.Point

	// Granularity is the longest XY move left unsplit, in mm.
	Granularity float64
}

var _ Plugin = MeshLevel{}

func (MeshLevel) Name() string { return "mesh-level" }

func (opt MeshLevel) Generate(snap Snapshot) ([]gcode.Block, error) {
	if !snap.Idle() {
		return nil, ErrNotIdle
	}
	if opt.Granularity <= 0 {
		return nil, errors.New("granularity must be positive")
	}

	// heights are applied relative to the work zero
	mesh, err := meshlevel.NewMesh(meshlevel.OffsetFrom(snap.WCO.Z, opt.Points))
	if err != nil {
		return nil, err
	}

	return gcode.ReadAll(meshlevel.New(meshlevel.Config{
		ZOffsetter:  mesh,
		MPos:        snap.MPos,
		WCO:         snap.WCO,
		Granularity: opt.Granularity,
		Reader:      &gcode.BlocksReader{Blocks: opt.Program},
	}))
}

// ValidProbes returns the points of the successful probes in p.
func ValidProbes(p []ProbeResult) []coord.Point {
	res := make([]coord.Point, 0, len(p))
	for _, r := range p {
		if r.Valid {
			res = append(res, r.Point)
		}
	}
	return res
}
