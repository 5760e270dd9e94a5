// Package grblsim is an in-memory GRBL 1.1 firmware used for tests and
// dry runs.
package grblsim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mastercactapus/gsend/coord"
	"github.com/mastercactapus/gsend/gcode"
	"github.com/mastercactapus/gsend/geom"
)

const version = "1.1h"

type Config struct {
	// RXBuffer is the size of the simulated receive buffer.
	RXBuffer int

	// LineDelay is how long each line takes to execute.
	LineDelay time.Duration

	// Surface returns the machine Z where a probe makes contact.
	// Without one, probes never make contact.
	Surface func(x, y float64) float64

	Logger *slog.Logger
}

type pendingLine struct {
	text  string
	size  int
	epoch int
}

// Sim implements io.ReadWriteCloser like a serial port connected to GRBL.
type Sim struct {
	cfg Config
	log *slog.Logger

	mx   sync.Mutex
	cond *sync.Cond

	buf     []byte
	pending []pendingLine
	rx      int
	maxRX   int
	epoch   int
	busy    bool
	held    bool
	alarm   bool
	closed  bool

	state gcode.State
	out   bytes.Buffer
	lines []string
}

var _ io.ReadWriteCloser = &Sim{}

func New(cfg Config) *Sim {
	if cfg.RXBuffer <= 0 {
		cfg.RXBuffer = 128
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Sim{
		cfg:   cfg,
		log:   log,
		state: gcode.NewState(),
	}
	s.cond = sync.NewCond(&s.mx)
	go s.run()
	return s
}

func (s *Sim) emit(format string, args ...interface{}) {
	fmt.Fprintf(&s.out, format+"\r\n", args...)
	s.cond.Broadcast()
}

func (s *Sim) Read(p []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	for s.out.Len() == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.out.Len() == 0 {
		return 0, io.EOF
	}
	return s.out.Read(p)
}

func (s *Sim) Write(p []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}
	for _, c := range p {
		switch c {
		case '?':
			s.status()
			continue
		case '!':
			if !s.alarm {
				s.held = true
			}
			continue
		case '~':
			s.held = false
			s.cond.Broadcast()
			continue
		case 0x18:
			s.reset()
			continue
		case 0x85:
			continue
		}

		s.rx++
		if s.rx > s.maxRX {
			s.maxRX = s.rx
		}
		if c == '\r' {
			continue
		}
		if c != '\n' {
			s.buf = append(s.buf, c)
			continue
		}
		s.pending = append(s.pending, pendingLine{text: string(s.buf), size: len(s.buf) + 1, epoch: s.epoch})
		s.buf = s.buf[:0]
		s.cond.Broadcast()
	}
	return len(p), nil
}

func (s *Sim) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.closed = true
	s.cond.Broadcast()
	return nil
}

// MaxRX returns the largest number of bytes held in the receive buffer.
func (s *Sim) MaxRX() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.maxRX
}

// Lines returns every line executed since the last reset.
func (s *Sim) Lines() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *Sim) Position() coord.Point {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.state.Pos
}

// Alarm raises an alarm as if triggered by the machine.
func (s *Sim) Alarm(code int) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.alarm = true
	s.emit("ALARM:%d", code)
}

func (s *Sim) stateName() string {
	switch {
	case s.alarm:
		return "Alarm"
	case s.held:
		return "Hold:0"
	case s.busy || len(s.pending) > 0:
		return "Run"
	}
	return "Idle"
}

func (s *Sim) status() {
	pos := s.state.Pos
	wco := s.state.WorkOffset()
	planner := 15 - len(s.pending)
	if planner < 0 {
		planner = 0
	}
	s.emit("<%s|MPos:%.3f,%.3f,%.3f|Bf:%d,%d|FS:%g,%g|WCO:%.3f,%.3f,%.3f>",
		s.stateName(), pos.X, pos.Y, pos.Z,
		planner, s.cfg.RXBuffer-s.rx,
		s.state.Feed, s.state.Speed,
		wco.X, wco.Y, wco.Z,
	)
}

func (s *Sim) reset() {
	moving := s.busy || len(s.pending) > 0
	s.epoch++
	s.pending = nil
	s.buf = s.buf[:0]
	s.rx = 0
	s.held = false
	s.lines = nil
	// position and stored offsets survive a reset
	prev := s.state
	s.state = gcode.NewState()
	s.state.Pos = prev.Pos
	s.state.Offsets = prev.Offsets
	s.state.G28, s.state.G30 = prev.G28, prev.G30
	if moving {
		s.alarm = true
		s.emit("ALARM:3")
	}
	s.emit("")
	s.emit("Grbl %s ['$' for help]", version)
	if s.alarm {
		s.emit("[MSG:'$H'|'$X' to unlock]")
	}
	s.cond.Broadcast()
}

func (s *Sim) run() {
	s.mx.Lock()
	defer s.mx.Unlock()

	for {
		for !s.closed && (len(s.pending) == 0 || s.held) {
			s.cond.Wait()
		}
		if s.closed {
			return
		}

		l := s.pending[0]
		s.pending = s.pending[1:]
		s.rx -= l.size
		s.busy = true
		if s.cfg.LineDelay > 0 {
			s.mx.Unlock()
			time.Sleep(s.cfg.LineDelay)
			s.mx.Lock()
		}
		if l.epoch == s.epoch {
			s.exec(l.text)
		}
		s.busy = false
	}
}

func errorCode(err error) int {
	switch {
	case errors.Is(err, gcode.ErrUnsupportedCode):
		return 20
	case errors.Is(err, gcode.ErrInvalidModalCombination):
		return 21
	case errors.Is(err, geom.ErrArcGeometry):
		return 33
	case errors.Is(err, gcode.ErrMalformedBlock):
		return 2
	}
	return 20
}

func (s *Sim) exec(text string) {
	s.lines = append(s.lines, text)
	s.log.Debug("sim exec", "line", text)

	b, err := gcode.ParseLine(0, text)
	if err != nil {
		s.emit("error:%d", errorCode(err))
		return
	}
	if b.System != "" {
		s.system(b.System)
		return
	}
	if s.alarm {
		s.emit("error:9")
		return
	}
	if b.Empty() {
		s.emit("ok")
		return
	}
	if b.Directive != "" {
		s.emit("error:20")
		return
	}

	next, seg, err := geom.Step(s.state, b)
	if err != nil {
		s.emit("error:%d", errorCode(err))
		return
	}
	s.state = next
	if seg != nil && isProbe(next.Motion()) {
		s.probe(seg, next.Motion())
	}

	if b.Has(gcode.M2) || b.Has(gcode.Word{W: 'M', Arg: 30}) {
		s.emit("[MSG:Pgm End]")
	}
	s.emit("ok")
	if b.Has(gcode.M0) || b.Has(gcode.Word{W: 'M', Arg: 1}) {
		s.held = true
	}
}

func isProbe(w gcode.Word) bool {
	return w.W == 'G' && w.Arg >= 38.2 && w.Arg <= 38.5
}

func (s *Sim) probe(seg *geom.Segment, motion gcode.Word) {
	end := seg.End
	if s.cfg.Surface != nil {
		start := seg.Start
		surface := s.cfg.Surface(end.X, end.Y)
		if start.Z > surface && end.Z <= surface {
			t := (start.Z - surface) / (start.Z - end.Z)
			contact := start.Add(end.Sub(start).Mul(t))
			contact.Z = surface
			s.state.Pos = contact
			s.emit("[PRB:%.3f,%.3f,%.3f:1]", contact.X, contact.Y, contact.Z)
			return
		}
	}

	s.emit("[PRB:%.3f,%.3f,%.3f:0]", end.X, end.Y, end.Z)
	if motion == gcode.G382 || motion.Arg == 38.4 {
		s.alarm = true
		s.emit("ALARM:5")
	}
}

func (s *Sim) system(cmd string) {
	switch {
	case cmd == "$X":
		s.alarm = false
		s.emit("[MSG:Caution: Unlocked]")
	case cmd == "$H":
		s.alarm = false
		s.state.Pos = coord.Point{}
	case cmd == "$G":
		var parts []string
		for _, w := range s.state.Codes() {
			parts = append(parts, w.String())
		}
		s.emit("[GC:%s T%d F%g S%g]", strings.Join(parts, " "), s.state.Tool, s.state.Feed, s.state.Speed)
	case cmd == "$#":
		for i, p := range s.state.Offsets {
			s.emit("[G%d:%.3f,%.3f,%.3f]", 54+i, p.X, p.Y, p.Z)
		}
		for _, p := range []struct {
			name string
			pt   coord.Point
		}{{"G28", s.state.G28}, {"G30", s.state.G30}, {"G92", s.state.G92}} {
			s.emit("[%s:%.3f,%.3f,%.3f]", p.name, p.pt.X, p.pt.Y, p.pt.Z)
		}
		s.emit("[TLO:0.000]")
	case cmd == "$I":
		s.emit("[VER:%s.20190825:]", version)
		s.emit("[OPT:V,15,%d]", s.cfg.RXBuffer)
	case cmd == "$$":
		s.emit("$0=10")
		s.emit("$1=25")
		s.emit("$110=500.000")
	case strings.HasPrefix(cmd, "$J="):
		if s.alarm {
			s.emit("error:9")
			return
		}
		if !s.jog(cmd[len("$J="):]) {
			s.emit("error:16")
			return
		}
	default:
		s.emit("error:3")
		return
	}
	s.emit("ok")
}

// jog moves without changing the parser state.
func (s *Sim) jog(args string) bool {
	b, err := gcode.ParseLine(0, args)
	if err != nil || b.System != "" || b.Directive != "" {
		return false
	}
	if ok, _ := b.Arg('F'); !ok {
		return false
	}
	for _, w := range b.Words {
		if w.ModalGroup() == gcode.ModalGroupMotion {
			return false
		}
	}
	b.Words = append([]gcode.Word{gcode.G1}, b.Words...)
	next, _, err := s.state.Apply(b)
	if err != nil {
		return false
	}
	s.state.Pos = next.Pos
	return true
}
