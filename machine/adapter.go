package machine

import (
	"context"

	"github.com/mastercactapus/gsend/gcode"
)

// An Adapter represents the caller-facing interface of a CNC controller.
type Adapter interface {
	// Load replaces the current program. It fails unless the controller is idle.
	Load([]gcode.Block) error

	Start() error
	Pause() error
	Resume() error

	// Stop aborts the running program and resets the controller.
	Stop() error

	// Send transmits a single block immediately.
	Send(gcode.Block) error

	// Jog moves axis one step in dir (+1 or -1). Repeated calls keep
	// the jog alive; it is cancelled automatically when they stop.
	Jog(axis byte, dir int) error
	StopJog() error

	QueryStatus() error
	Unlock() error
	Reset() error

	// Wait blocks until the loaded program completes or fails.
	Wait(ctx context.Context) error

	Probes() []ProbeResult
	ResetProbes()

	Snapshot() Snapshot
	Events() <-chan Snapshot
}
