package machine

import "github.com/mastercactapus/gsend/gcode"

// A Plugin generates a program from the current machine state.
//
// Plugins never talk to the controller; Machine.ApplyPlugin loads
// whatever they return.
type Plugin interface {
	Name() string
	Generate(Snapshot) ([]gcode.Block, error)
}
