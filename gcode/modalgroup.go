package gcode

type ModalGroup byte

const (
	ModalGroupNone ModalGroup = iota
	ModalGroupNonModal
	ModalGroupMotion
	ModalGroupPlane
	ModalGroupDistance
	ModalGroupFeedMode
	ModalGroupUnits
	ModalGroupCutterComp
	ModalGroupToolLength
	ModalGroupWCS
	ModalGroupProgram
	ModalGroupSpindle
	ModalGroupCoolant

	numModalGroups
)

// ModalGroups lists every group that holds an active code in a State.
var ModalGroups = []ModalGroup{
	ModalGroupMotion,
	ModalGroupPlane,
	ModalGroupDistance,
	ModalGroupFeedMode,
	ModalGroupUnits,
	ModalGroupCutterComp,
	ModalGroupToolLength,
	ModalGroupWCS,
	ModalGroupProgram,
	ModalGroupSpindle,
	ModalGroupCoolant,
}

func (m ModalGroup) String() string {
	switch m {
	case ModalGroupNone:
		return "none"
	case ModalGroupNonModal:
		return "non-modal"
	case ModalGroupMotion:
		return "motion"
	case ModalGroupPlane:
		return "plane"
	case ModalGroupDistance:
		return "distance"
	case ModalGroupFeedMode:
		return "feed-mode"
	case ModalGroupUnits:
		return "units"
	case ModalGroupCutterComp:
		return "cutter-comp"
	case ModalGroupToolLength:
		return "tool-length-offset"
	case ModalGroupWCS:
		return "wcs"
	case ModalGroupProgram:
		return "program"
	case ModalGroupSpindle:
		return "spindle"
	case ModalGroupCoolant:
		return "coolant"
	}
	return "unknown"
}

func (w Word) ModalGroup() ModalGroup {
	w = w.Code()
	switch w.W {
	case 'G':
		switch w.Arg {
		case 4, 10, 28, 28.1, 30, 30.1, 53, 92, 92.1:
			return ModalGroupNonModal
		case 0, 1, 2, 3, 38.2, 38.3, 38.4, 38.5, 80:
			return ModalGroupMotion
		case 17, 18, 19:
			return ModalGroupPlane
		case 90, 91:
			return ModalGroupDistance
		case 93, 94, 95:
			return ModalGroupFeedMode
		case 20, 21:
			return ModalGroupUnits
		case 40:
			return ModalGroupCutterComp
		case 43.1, 49:
			return ModalGroupToolLength
		case 54, 55, 56, 57, 58, 59:
			return ModalGroupWCS
		}
	case 'M':
		switch w.Arg {
		case 0, 1, 2, 30:
			return ModalGroupProgram
		case 3, 4, 5:
			return ModalGroupSpindle
		case 7, 8, 9:
			return ModalGroupCoolant
		}
	}

	return ModalGroupNone
}
