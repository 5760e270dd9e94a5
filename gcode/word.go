package gcode

import (
	"math"
	"strconv"
)

type Word struct {
	W   byte
	Arg float64
}

func (w Word) IsAxis() bool {
	switch w.W {
	case 'X', 'Y', 'Z', 'A', 'B', 'C':
		return true
	}
	return false
}

// IsOffset reports whether w is an arc center offset (I, J or K).
func (w Word) IsOffset() bool {
	switch w.W {
	case 'I', 'J', 'K':
		return true
	}
	return false
}

func (w Word) IsValid() bool {
	return w.W >= 'A' && w.W <= 'Z'
}

// Code returns w with its argument rounded to one decimal place,
// so that G38.2 computed from an expression matches the literal.
func (w Word) Code() Word {
	w.Arg = math.Round(w.Arg*10) / 10
	return w
}

// Round rounds v to 4 decimal places. Generated coordinates are
// rounded so float noise does not reach the controller.
func Round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// String formats w with the shortest argument that parses back to
// the same value.
func (w Word) String() string {
	return string(w.W) + strconv.FormatFloat(w.Arg, 'f', -1, 64)
}
