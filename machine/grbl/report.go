package grbl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mastercactapus/gsend/coord"
	"github.com/mastercactapus/gsend/gcode"
)

// ErrUnknownReport is returned for lines that do not match any known frame.
var ErrUnknownReport = errors.New("unknown report")

// A Report is a single decoded line from the firmware.
type Report interface {
	report()
}

type (
	// Ack is an `ok` response to a block.
	Ack struct{}

	ErrorReport struct{ Code int }
	AlarmReport struct{ Code int }

	// Welcome is the banner GRBL prints after every reset.
	Welcome struct{ Version string }

	SettingReport struct {
		ID    int
		Value string
	}

	// StatusReport is a `<...>` real-time status frame.
	StatusReport struct {
		State    string
		SubState Opt[int]

		MPos, WPos, WCO Opt[coord.Point]

		Planner, RX Opt[int]
		Line        Opt[int]

		Feed, Speed Opt[float64]

		Overrides   Opt[[3]int]
		Pins        Opt[string]
		Accessories Opt[string]
	}

	// ProbeReport is a `[PRB:...]` frame. Fields holds up to six
	// positional values; missing ones are absent.
	ProbeReport struct {
		Fields [6]Opt[string]
		Flag   Opt[int]
	}

	// ParserStateReport is the `[GC:...]` reply to `$G`.
	ParserStateReport struct{ Words []gcode.Word }

	// ParamReport is one line of the `$#` reply, e.g. `[G54:0,0,0]`.
	ParamReport struct {
		Name  string
		Point coord.Point
		Value Opt[float64]
	}

	// MessageReport carries free text, e.g. `[MSG:...]` or `[VER:...]`.
	MessageReport struct {
		Kind string
		Text string
	}
)

func (Ack) report()               {}
func (ErrorReport) report()       {}
func (AlarmReport) report()       {}
func (Welcome) report()           {}
func (SettingReport) report()     {}
func (StatusReport) report()      {}
func (ProbeReport) report()       {}
func (ParserStateReport) report() {}
func (ParamReport) report()       {}
func (MessageReport) report()     {}

// Point returns the probed position.
func (r ProbeReport) Point() coord.Point {
	var v [3]float64
	for i := range v {
		s, _ := r.Fields[i].Get()
		v[i], _ = strconv.ParseFloat(s, 64)
	}
	return coord.Point{X: v[0], Y: v[1], Z: v[2]}
}

// Success reports whether the probe made contact. Frames without a
// flag are treated as failed.
func (r ProbeReport) Success() bool { return r.Flag.Or(0) == 1 }

// Position returns the machine position, deriving it from WPos and
// wco when the frame only carries the work position.
func (r StatusReport) Position(wco coord.Point) (coord.Point, bool) {
	if p, ok := r.MPos.Get(); ok {
		return p, true
	}
	if p, ok := r.WPos.Get(); ok {
		return p.Add(r.WCO.Or(wco)), true
	}
	return coord.Point{}, false
}

func unknownReport(line, reason string) error {
	return fmt.Errorf("%w: %s: %q", ErrUnknownReport, reason, line)
}

// ParseReport decodes a single line received from the firmware.
func ParseReport(line string) (Report, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil, unknownReport(line, "empty line")
	case line == "ok":
		return Ack{}, nil
	case strings.HasPrefix(line, "error:"):
		code, err := strconv.Atoi(line[len("error:"):])
		if err != nil {
			return nil, unknownReport(line, "bad error code")
		}
		return ErrorReport{Code: code}, nil
	case strings.HasPrefix(line, "ALARM:"):
		code, err := strconv.Atoi(line[len("ALARM:"):])
		if err != nil {
			return nil, unknownReport(line, "bad alarm code")
		}
		return AlarmReport{Code: code}, nil
	case strings.HasPrefix(line, "Grbl "):
		f := strings.Fields(line)
		return Welcome{Version: f[1]}, nil
	case line[0] == '$':
		id, val, ok := strings.Cut(line[1:], "=")
		n, err := strconv.Atoi(id)
		if !ok || err != nil {
			return nil, unknownReport(line, "bad setting")
		}
		return SettingReport{ID: n, Value: val}, nil
	case line[0] == '<':
		p := newReportParser(line)
		return p.status()
	case line[0] == '[':
		p := newReportParser(line)
		return p.bracket()
	}

	return nil, unknownReport(line, "unrecognized frame")
}
