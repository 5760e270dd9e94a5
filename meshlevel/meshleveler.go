package meshlevel

import (
	"math"

	"github.com/mastercactapus/gsend/coord"
	"github.com/mastercactapus/gsend/gcode"
	"github.com/mastercactapus/gsend/geom"
)

// arcTolerance is the chord error allowed when flattening arcs.
const arcTolerance = 0.01

// MeshLeveler is a gcode.Reader that splits moves so that no XY step
// exceeds the configured granularity and adjusts Z to follow the
// surface reported by a ZOffsetter.
//
// Incremental moves get the change in surface height between their
// start and end added to Z. Absolute moves get the surface height at
// their end added to the work Z; use OffsetFrom to make the surface
// relative to the work zero. Arcs are flattened into G1 moves.
type MeshLeveler struct {
	granularity float64
	offsetter   ZOffsetter

	buf []gcode.Block

	split gcode.State
	level gcode.State

	gr gcode.Reader
}

type Config struct {
	ZOffsetter  ZOffsetter
	Granularity float64

	MPos, WCO coord.Point

	Reader gcode.Reader
}

func New(cfg Config) *MeshLeveler {
	s := gcode.NewState()
	s.Pos = cfg.MPos
	s.Offsets[s.WCS()] = cfg.WCO

	l := &MeshLeveler{
		granularity: cfg.Granularity,
		offsetter:   cfg.ZOffsetter,
		split:       s,
		level:       s,
		gr:          cfg.Reader,
	}
	if l.offsetter == nil {
		l.offsetter = flatSurface{}
	}

	return l
}

func hasNonModal(b gcode.Block) bool {
	for _, w := range b.Words {
		if w.ModalGroup() == gcode.ModalGroupNonModal {
			return true
		}
	}
	return false
}

func (l *MeshLeveler) Read() (gcode.Block, error) {
	b, err := l.next()
	if err != nil {
		return gcode.Block{}, err
	}

	old := l.level.Pos
	next, mv, err := l.level.Apply(b)
	if err != nil {
		return gcode.Block{}, err
	}
	l.level = next
	if !mv.Moving() || hasNonModal(b) {
		return b, nil
	}

	// if we don't have an offset for the end point
	// we leave the command as-is
	ok, newOffset := l.offsetter.OffsetZ(mv.To.X, mv.To.Y)
	if !ok {
		return b, nil
	}
	scale := 1.0
	if next.Inches() {
		scale = 25.4
	}

	if !next.Incremental() {
		workZ := mv.To.Z - next.WorkOffset().Z
		return b.SetArg('Z', gcode.Round((workZ+newOffset)/scale)), nil
	}

	ok, oldOffset := l.offsetter.OffsetZ(old.X, old.Y)
	if !ok || oldOffset == newOffset {
		return b, nil
	}
	_, dz := b.Arg('Z')
	return b.SetArg('Z', gcode.Round(dz+(newOffset-oldOffset)/scale)), nil
}

func (l *MeshLeveler) next() (gcode.Block, error) {
	if len(l.buf) > 0 {
		b := l.buf[0]
		l.buf = l.buf[1:]
		return b, nil
	}
	b, err := l.gr.Read()
	if err != nil {
		return gcode.Block{}, err
	}

	prev := l.split
	next, seg, err := geom.Step(prev, b)
	if err != nil {
		return gcode.Block{}, err
	}
	l.split = next
	if seg == nil || hasNonModal(b) {
		return b, nil
	}
	if !seg.IsArc() && seg.Start.DistanceXY(seg.End.X, seg.End.Y) <= l.granularity {
		return b, nil
	}

	var targets []coord.Point
	cur := seg.Start
	for _, p := range seg.Points(arcTolerance) {
		n := int(math.Ceil(cur.DistanceXY(p.X, p.Y) / l.granularity))
		if n < 1 {
			n = 1
		}
		step := p.Sub(cur).Div(float64(n))
		for i := 1; i < n; i++ {
			targets = append(targets, cur.Add(step.Mul(float64(i))))
		}
		targets = append(targets, p)
		cur = p
	}

	l.buf = l.flatten(b, seg, next, targets)
	return l.next()
}

// flatten rewrites b as one straight move per target.
func (l *MeshLeveler) flatten(b gcode.Block, seg *geom.Segment, s gcode.State, targets []coord.Point) []gcode.Block {
	tmpl := gcode.Block{Line: b.Line, Comment: b.Comment, Delete: b.Delete}
	for _, w := range b.Words {
		switch {
		case w.IsOffset(), w.W == 'R':
			continue
		case seg.IsArc() && w.ModalGroup() == gcode.ModalGroupMotion:
			continue
		}
		tmpl.Words = append(tmpl.Words, w)
	}
	if seg.IsArc() {
		tmpl.Words = append([]gcode.Word{gcode.G1}, tmpl.Words...)
	}

	axes := []byte("XYZ")
	if !seg.IsArc() {
		axes = axes[:0]
		for _, a := range []byte("XYZ") {
			if ok, _ := b.Arg(a); ok {
				axes = append(axes, a)
			}
		}
	}

	scale := 1.0
	if s.Inches() {
		scale = 25.4
	}
	off := s.WorkOffset()

	res := make([]gcode.Block, 0, len(targets))
	cur := seg.Start
	for _, p := range targets {
		bl := tmpl
		for _, a := range axes {
			v := p.Axis(a) - off.Axis(a)
			if s.Incremental() {
				v = p.Axis(a) - cur.Axis(a)
			}
			bl = bl.SetArg(a, gcode.Round(v/scale))
		}
		res = append(res, bl)
		cur = p
	}

	return res
}
