package gcode

import (
	"github.com/mastercactapus/gsend/coord"
)

const mmPerInch = 25.4

// Common codes.
var (
	G0   = Word{W: 'G', Arg: 0}
	G1   = Word{W: 'G', Arg: 1}
	G2   = Word{W: 'G', Arg: 2}
	G3   = Word{W: 'G', Arg: 3}
	G17  = Word{W: 'G', Arg: 17}
	G18  = Word{W: 'G', Arg: 18}
	G19  = Word{W: 'G', Arg: 19}
	G20  = Word{W: 'G', Arg: 20}
	G21  = Word{W: 'G', Arg: 21}
	G53  = Word{W: 'G', Arg: 53}
	G54  = Word{W: 'G', Arg: 54}
	G61  = Word{W: 'G', Arg: 61}
	G80  = Word{W: 'G', Arg: 80}
	G92  = Word{W: 'G', Arg: 92}
	G90  = Word{W: 'G', Arg: 90}
	G91  = Word{W: 'G', Arg: 91}
	G94  = Word{W: 'G', Arg: 94}
	G40  = Word{W: 'G', Arg: 40}
	G49  = Word{W: 'G', Arg: 49}
	M0   = Word{W: 'M', Arg: 0}
	M2   = Word{W: 'M', Arg: 2}
	M5   = Word{W: 'M', Arg: 5}
	M9   = Word{W: 'M', Arg: 9}
	G382 = Word{W: 'G', Arg: 38.2}
)

// State tracks the modal state of the interpreter.
//
// State is a value; Apply returns a new State and leaves the
// receiver unchanged.
type State struct {
	modal [numModalGroups]Word

	// Pos is the machine position.
	Pos coord.Point

	// Offsets holds the G54-G59 work coordinate offsets.
	Offsets [6]coord.Point

	G92  coord.Point
	G28  coord.Point
	G30  coord.Point
	Feed float64

	Speed float64
	Tool  int
}

// NewState constructs a State with every modal group at its default.
func NewState() State {
	var s State

	// using grbl defaults
	s.modal[ModalGroupMotion] = G0
	s.modal[ModalGroupWCS] = G54
	s.modal[ModalGroupPlane] = G17
	s.modal[ModalGroupDistance] = G90
	s.modal[ModalGroupFeedMode] = G94
	s.modal[ModalGroupUnits] = G21
	s.modal[ModalGroupCutterComp] = G40
	s.modal[ModalGroupToolLength] = G49
	s.modal[ModalGroupProgram] = M0
	s.modal[ModalGroupSpindle] = M5
	s.modal[ModalGroupCoolant] = M9

	return s
}

// Modal returns the active code for g.
func (s State) Modal(g ModalGroup) Word { return s.modal[g] }

func (s State) Inches() bool      { return s.modal[ModalGroupUnits] == G20 }
func (s State) Incremental() bool { return s.modal[ModalGroupDistance] == G91 }
func (s State) Plane() Word       { return s.modal[ModalGroupPlane] }
func (s State) Motion() Word      { return s.modal[ModalGroupMotion] }

// WCS returns the index (0-5) of the active work coordinate system.
func (s State) WCS() int { return int(s.modal[ModalGroupWCS].Arg) - 54 }

// WorkOffset is the total offset from machine to work coordinates.
func (s State) WorkOffset() coord.Point {
	return s.Offsets[s.WCS()].Add(s.G92)
}

func (s State) MPos() coord.Point { return s.Pos }
func (s State) WPos() coord.Point { return s.Pos.Sub(s.WorkOffset()) }

// Codes returns the active code of every modal group in ModalGroups order.
func (s State) Codes() []Word {
	res := make([]Word, len(ModalGroups))
	for i, g := range ModalGroups {
		res[i] = s.modal[g]
	}
	return res
}

// Assert overwrites modal groups and F/S/T values reported by the firmware.
func (s State) Assert(words []Word) State {
	for _, w := range words {
		switch w.W {
		case 'F':
			s.Feed = w.Arg
			continue
		case 'S':
			s.Speed = w.Arg
			continue
		case 'T':
			s.Tool = int(w.Arg)
			continue
		}
		g := w.ModalGroup()
		if g == ModalGroupNone || g == ModalGroupNonModal {
			continue
		}
		s.modal[g] = w.Code()
	}
	return s
}

// Move describes the motion requested by a block, in machine coordinates.
type Move struct {
	// Motion is the effective motion code, or the zero Word
	// when the block does not move.
	Motion Word

	From, To coord.Point

	// Offset is the I/J/K arc center offset from From.
	Offset    coord.Point
	HasOffset bool

	Radius    float64
	HasRadius bool

	Plane Word
	Feed  float64
}

// Moving reports whether the block produced motion.
func (m Move) Moving() bool { return m.Motion.W != 0 }

func (s State) scale() float64 {
	if s.Inches() {
		return mmPerInch
	}
	return 1
}

// Apply interprets b against s and returns the resulting state and
// requested motion. s is not modified.
func (s State) Apply(b Block) (State, Move, error) {
	var mv Move
	if b.System != "" || b.Directive != "" || len(b.Words) == 0 {
		return s, mv, nil
	}

	err := b.Validate()
	if err != nil {
		return s, mv, err
	}

	next := s
	var nonModal Word
	var motionWord, end bool
	for _, g := range b.Words {
		mg := g.ModalGroup()
		switch mg {
		case ModalGroupNone:
			if (g.W == 'G' || g.W == 'M') && g.Code() != G61 {
				return s, mv, b.errorf(ErrUnsupportedCode, "%s", g.Code())
			}
		case ModalGroupNonModal:
			nonModal = g.Code()
		default:
			code := g.Code()
			switch {
			case mg == ModalGroupMotion:
				motionWord = true
			case mg == ModalGroupProgram && (code.Arg == 2 || code.Arg == 30):
				end = true
			}
			next.modal[mg] = code
		}
	}
	if end {
		next = next.programEnd()
	}

	mul := next.scale()
	var axes coord.Point
	var hasAxes [3]bool
	for _, g := range b.Words {
		switch g.W {
		case 'X', 'Y', 'Z':
			axes = axes.SetAxis(g.W, g.Arg*mul)
			hasAxes[g.W-'X'] = true
		case 'I', 'J', 'K':
			mv.Offset = mv.Offset.SetAxis(g.W-'I'+'X', g.Arg*mul)
			mv.HasOffset = true
		case 'R':
			mv.Radius = g.Arg * mul
			mv.HasRadius = true
		case 'F':
			next.Feed = g.Arg * mul
		case 'S':
			next.Speed = g.Arg
		case 'T':
			next.Tool = int(g.Arg)
		}
	}
	anyAxis := hasAxes[0] || hasAxes[1] || hasAxes[2]

	set := func(p coord.Point, f func(axis byte, v float64) float64) coord.Point {
		for i, ok := range hasAxes {
			if !ok {
				continue
			}
			a := byte('X' + i)
			p = p.SetAxis(a, f(a, axes.Axis(a)))
		}
		return p
	}

	if nonModal.W == 0 {
		nonModal.Arg = -1
	}
	switch nonModal.Arg {
	case 10:
		return next.applyG10(b, set)
	case 92:
		wcs := next.Offsets[next.WCS()]
		next.G92 = set(next.G92, func(a byte, v float64) float64 {
			return next.Pos.Axis(a) - wcs.Axis(a) - v
		})
		return next, mv, nil
	case 92.1:
		next.G92 = coord.Point{}
		return next, mv, nil
	case 28.1:
		next.G28 = next.Pos
		return next, mv, nil
	case 30.1:
		next.G30 = next.Pos
		return next, mv, nil
	case 28, 30:
		home := next.G28
		if nonModal.Arg == 30 {
			home = next.G30
		}
		mv.Motion = G0
		mv.From = s.Pos
		mv.To = home
		mv.Plane = next.Plane()
		mv.Feed = next.Feed
		next.Pos = home
		return next, mv, nil
	case 4:
		return next, mv, nil
	}

	if !anyAxis {
		return next, mv, nil
	}

	motion := next.modal[ModalGroupMotion]
	if motion == G80 {
		reason := "axis words with no active motion mode"
		if motionWord {
			reason = "axis words with G80"
		}
		return s, Move{}, b.errorf(ErrInvalidModalCombination, "%s", reason)
	}

	var target coord.Point
	switch {
	case nonModal == G53:
		target = set(next.Pos, func(_ byte, v float64) float64 { return v })
	case next.Incremental():
		target = set(next.Pos, func(a byte, v float64) float64 { return next.Pos.Axis(a) + v })
	default:
		off := next.WorkOffset()
		target = set(next.Pos, func(a byte, v float64) float64 { return v + off.Axis(a) })
	}

	mv.Motion = motion
	mv.From = s.Pos
	mv.To = target
	mv.Plane = next.Plane()
	mv.Feed = next.Feed
	next.Pos = target

	return next, mv, nil
}

func (s State) applyG10(b Block, set func(coord.Point, func(byte, float64) float64) coord.Point) (State, Move, error) {
	_, l := b.Arg('L')
	ok, p := b.Arg('P')
	if !ok {
		return s, Move{}, b.errorf(ErrMalformedBlock, "G10 without P")
	}
	idx := int(p) - 1
	if p == 0 {
		idx = s.WCS()
	}
	if idx < 0 || idx >= len(s.Offsets) {
		return s, Move{}, b.errorf(ErrMalformedBlock, "G10 P%v out of range", p)
	}

	switch l {
	case 2:
		s.Offsets[idx] = set(s.Offsets[idx], func(_ byte, v float64) float64 { return v })
	case 20:
		s.Offsets[idx] = set(s.Offsets[idx], func(a byte, v float64) float64 {
			return s.Pos.Axis(a) - s.G92.Axis(a) - v
		})
	default:
		return s, Move{}, b.errorf(ErrMalformedBlock, "unsupported G10 L%v", l)
	}
	return s, Move{}, nil
}

// programEnd resets the groups affected by M2/M30.
func (s State) programEnd() State {
	s.modal[ModalGroupMotion] = G1
	s.modal[ModalGroupPlane] = G17
	s.modal[ModalGroupDistance] = G90
	s.modal[ModalGroupFeedMode] = G94
	s.modal[ModalGroupWCS] = G54
	s.modal[ModalGroupSpindle] = M5
	s.modal[ModalGroupCoolant] = M9
	return s
}
