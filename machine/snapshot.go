package machine

import (
	"github.com/mastercactapus/gsend/coord"
	"github.com/mastercactapus/gsend/gcode"
)

// Snapshot is a point-in-time copy of the controller state.
type Snapshot struct {
	// Status is the sender state (Idle, Running, Hold, Jog, Alarm, Door, Disconnected).
	Status string

	// Firmware is the state last reported by the controller, e.g. "Hold:0".
	Firmware string

	MPos coord.Point
	WCO  coord.Point

	// Stale is set when positions are not known to be current,
	// such as after the transport was lost.
	Stale bool

	Modal gcode.State `json:"-"`
	Codes []string

	// Sent and Total count the blocks of the loaded program.
	Sent, Total int

	Outstanding, Capacity int

	Probes []ProbeResult

	// Message is the comment of the last pause (M0) the program reached.
	Message string `json:",omitempty"`

	Error string `json:",omitempty"`
}

func (s Snapshot) WPos() coord.Point { return s.MPos.Sub(s.WCO) }

// Idle reports whether the controller can accept a new program.
func (s Snapshot) Idle() bool { return s.Status == "Idle" && !s.Stale }
