package grbl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mastercactapus/gsend/coord"
	"github.com/mastercactapus/gsend/gcode"
	"github.com/mastercactapus/gsend/geom"
	"github.com/mastercactapus/gsend/machine"
)

var (
	// ErrTransportLost is returned when the connection to the firmware fails.
	ErrTransportLost = errors.New("transport lost")

	// ErrAborted is returned to waiters when a program is stopped or reset.
	ErrAborted = errors.New("program aborted")

	// ErrDeferred is returned by immediate commands when the receive
	// buffer has no room; the caller may retry.
	ErrDeferred = errors.New("receive buffer full")
)

type Config struct {
	// RXBuffer is the firmware receive buffer size in bytes.
	RXBuffer int

	// StatusInterval is how often `?` is sent. Zero disables polling.
	StatusInterval time.Duration

	// JogTimeout is how long a jog continues without another Jog call.
	JogTimeout time.Duration
	JogStep    float64
	JogFeed    float64

	// BlockDelete skips blocks marked with '/'.
	BlockDelete bool

	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		RXBuffer:       DefaultBufferSize,
		StatusInterval: 250 * time.Millisecond,
		JogTimeout:     300 * time.Millisecond,
		JogStep:        1,
		JogFeed:        1000,
	}
}

// Controller streams programs to a GRBL controller over rw.
type Controller struct {
	cfg Config
	log *slog.Logger
	rw  io.ReadWriter

	wmx        sync.Mutex
	polls      uint64
	resumeMark uint64

	queue *Queue
	fsm   *Recovery
	jog   *Deadline

	kick   chan struct{}
	events chan machine.Snapshot

	mx       sync.Mutex
	program  []gcode.Block
	next     int
	waiting  bool
	run      *programRun
	lastErr  error
	version  string
	firmware string
	fwState  string
	mpos     coord.Point
	wco      coord.Point
	stale    bool
	modal    gcode.State
	probes   []machine.ProbeResult
	message  string
	reports  uint64
	holds    int
}

var _ machine.Adapter = (*Controller)(nil)

// programRun is closed when a started program ends.
type programRun struct {
	done chan struct{}
	err  error
}

func newProgramRun() *programRun { return &programRun{done: make(chan struct{})} }

// NewController creates a Controller; Run must be called to start it.
func NewController(rw io.ReadWriter, cfg Config) *Controller {
	if cfg.RXBuffer <= 0 {
		cfg.RXBuffer = DefaultBufferSize
	}
	if cfg.JogTimeout <= 0 {
		cfg.JogTimeout = DefaultConfig().JogTimeout
	}
	if cfg.JogStep <= 0 {
		cfg.JogStep = DefaultConfig().JogStep
	}
	if cfg.JogFeed <= 0 {
		cfg.JogFeed = DefaultConfig().JogFeed
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	run := newProgramRun()
	close(run.done)
	c := &Controller{
		cfg:    cfg,
		log:    log,
		rw:     rw,
		kick:   make(chan struct{}, 1),
		events: make(chan machine.Snapshot, 16),
		run:    run,
		stale:  true,
		modal:  gcode.NewState(),
	}
	c.queue = NewQueue(cfg.RXBuffer, c.write)
	c.jog = NewDeadline(cfg.JogTimeout, c.jogExpired)
	c.fsm = NewRecovery(RecoveryHooks{
		OnPause: c.queue.Pause,
		OnAbort: func() {
			dropped := c.queue.Abort()
			c.queue.Resume()
			c.jog.Cancel()

			// the next report decides the firmware state afresh
			c.mx.Lock()
			c.fwState = ""
			c.waiting = false
			c.holds = 0
			c.mx.Unlock()
			if len(dropped) > 0 {
				c.log.Warn("dropped unacknowledged blocks", "count", len(dropped))
			}
		},
		OnInvalidate: func() {
			c.mx.Lock()
			c.stale = true
			c.mx.Unlock()
		},
		OnChange: func(from, to State, e Event) {
			c.log.Info("state changed", "from", from, "to", to, "event", e)
		},
	})

	return c
}

func (c *Controller) write(p []byte) error {
	c.wmx.Lock()
	defer c.wmx.Unlock()
	_, err := c.rw.Write(p)
	return err
}

// realtime writes a single-byte command. Status queries are counted so
// a report can be matched to the query that produced it.
func (c *Controller) realtime(b byte) error {
	c.wmx.Lock()
	defer c.wmx.Unlock()
	switch b {
	case CmdStatus:
		c.polls++
	case CmdCycleStart:
		c.resumeMark = c.polls
	}
	_, err := c.rw.Write([]byte{b})
	return err
}

// freshReport reports whether status report n answers a query sent
// after the last cycle start.
func (c *Controller) freshReport(n uint64) bool {
	c.wmx.Lock()
	defer c.wmx.Unlock()
	return n > c.resumeMark
}

func (c *Controller) wake() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Run processes the connection until ctx is cancelled or the
// transport fails.
func (c *Controller) Run(ctx context.Context) error {
	_, err := c.fsm.Fire(EventReconnect)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(ctx) })
	g.Go(func() error { return c.sendLoop(ctx) })
	g.Go(func() error { return c.pollLoop(ctx) })
	g.Go(func() error {
		<-ctx.Done()
		if cl, ok := c.rw.(io.Closer); ok {
			return cl.Close()
		}
		return nil
	})
	c.requestParserState()

	err = g.Wait()
	c.fsm.Fire(EventTransportLost)
	c.finish(ErrTransportLost)
	c.publish()

	return err
}

func (c *Controller) readLoop(ctx context.Context) error {
	scan := bufio.NewScanner(c.rw)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		c.handleLine(line)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	err := scan.Err()
	if err == nil {
		err = io.EOF
	}
	c.log.Error("read from port", "err", err)
	return fmt.Errorf("%w: %v", ErrTransportLost, err)
}

func (c *Controller) sendLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.kick:
		}

		fault, err := c.fill()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransportLost, err)
		}
		if fault != nil {
			c.fault(fault)
		}
		c.publish()
	}
}

func (c *Controller) pollLoop(ctx context.Context) error {
	if c.cfg.StatusInterval <= 0 {
		return nil
	}
	t := time.NewTicker(c.cfg.StatusInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		err := c.realtime(CmdStatus)
		if err != nil {
			c.log.Error("status query", "err", err)
		}
	}
}

// fill admits program blocks until the buffer is full. A non-nil
// fault stops the program; a non-nil error means the port failed.
func (c *Controller) fill() (fault, err error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	for !c.waiting && c.next < len(c.program) && c.fsm.State() == StateRunning {
		b := c.program[c.next]
		switch {
		case b.Directive != "":
			c.next++
			c.directive(b)
			continue
		case b.Empty():
			c.next++
			continue
		case b.Delete && c.cfg.BlockDelete:
			c.next++
			continue
		}

		adm, err := c.queue.Admit(b)
		if errors.Is(err, ErrBlockTooLong) {
			return &gcode.BlockError{Err: err, Line: b.Line, Source: b.Source, Reason: "line too long"}, nil
		}
		if err != nil {
			return nil, err
		}
		if adm == Deferred {
			return nil, nil
		}
		c.log.Debug("sent", "line", b.Line, "block", b.String())
		c.next++
	}

	return nil, nil
}

func (c *Controller) directive(b gcode.Block) {
	name, arg, _ := strings.Cut(b.Directive, " ")
	switch name {
	case "%wait":
		c.waiting = true
	case "%msg":
		c.log.Info("program message", "line", b.Line, "msg", arg)
		c.message = arg
	default:
		c.log.Warn("skipping unknown directive", "line", b.Line, "directive", b.Directive)
	}
}

func (c *Controller) requestParserState() {
	_, err := c.queue.Priority(gcode.Block{System: "$G"})
	if err != nil {
		c.log.Error("request parser state", "err", err)
	}
}

func (c *Controller) handleLine(line string) {
	r, err := ParseReport(line)
	if err != nil {
		c.log.Warn("unrecognized report", "err", err)
		return
	}

	switch r := r.(type) {
	case Ack:
		e, err := c.queue.OnAcknowledge()
		if err != nil {
			c.log.Warn("unexpected ack", "err", err)
			break
		}
		c.acked(e)
		c.wake()
	case ErrorReport:
		_, err := c.queue.OnError(r.Code)
		c.log.Error("firmware error", "err", err)
		c.fault(err)
		c.wake()
	case AlarmReport:
		err := NewAlarmError(r.Code)
		c.log.Error("firmware alarm", "err", err)
		c.fault(err)
	case Welcome:
		c.log.Info("firmware reset", "version", r.Version)
		c.mx.Lock()
		c.version = r.Version
		c.mx.Unlock()
		c.fsm.Fire(EventReset)
		c.finish(ErrAborted)
		c.requestParserState()
	case StatusReport:
		c.handleStatus(r)
	case ProbeReport:
		c.mx.Lock()
		c.probes = append(c.probes, machine.ProbeResult{Point: r.Point(), Valid: r.Success()})
		c.mx.Unlock()
	case ParserStateReport:
		c.mx.Lock()
		c.modal = c.modal.Assert(r.Words)
		c.mx.Unlock()
	case ParamReport:
		c.handleParam(r)
	case MessageReport:
		c.log.Info("firmware message", "kind", r.Kind, "text", r.Text)
		if r.Kind == "MSG" {
			c.mx.Lock()
			c.message = r.Text
			c.mx.Unlock()
		}
	case SettingReport:
		c.log.Debug("setting", "id", r.ID, "value", r.Value)
	}

	c.publish()
}

func (c *Controller) acked(e Entry) {
	c.mx.Lock()
	defer c.mx.Unlock()

	b := e.Block
	if len(b.Words) == 0 {
		return
	}
	next, _, err := c.modal.Apply(b)
	if err == nil {
		c.modal = next
	}
	if b.Has(gcode.M0) {
		c.holds++
		if b.Comment != "" {
			c.message = b.Comment
		}
	}
}

func (c *Controller) handleParam(r ParamReport) {
	c.mx.Lock()
	defer c.mx.Unlock()

	switch r.Name {
	case "G28":
		c.modal.G28 = r.Point
	case "G30":
		c.modal.G30 = r.Point
	case "G92":
		c.modal.G92 = r.Point
	case "TLO":
	default:
		var n int
		_, err := fmt.Sscanf(r.Name, "G%d", &n)
		if err == nil && n >= 54 && n <= 59 {
			c.modal.Offsets[n-54] = r.Point
		}
	}
}

func (c *Controller) handleStatus(r StatusReport) {
	c.mx.Lock()
	if wco, ok := r.WCO.Get(); ok {
		c.wco = wco
	}
	if p, ok := r.Position(c.wco); ok {
		c.mpos = p
		c.stale = false
	}
	c.firmware = r.State
	if n, ok := r.SubState.Get(); ok {
		c.firmware = fmt.Sprintf("%s:%d", r.State, n)
	}

	// only a change of firmware state counts, so a report queued
	// before a resume does not hold the program again
	changed := c.fwState != r.State
	c.fwState = r.State
	c.reports++
	n := c.reports
	c.mx.Unlock()

	state := c.fsm.State()
	switch r.State {
	case "Hold":
		// M0 or a hold from the machine's own controls. Back to back
		// M0 holds show no change, so an acknowledged M0 also counts
		// once the report is newer than the last resume.
		if state != StateRunning {
			break
		}
		c.mx.Lock()
		hold := changed || (c.holds > 0 && c.freshReport(n))
		if hold && c.holds > 0 {
			c.holds--
		}
		c.mx.Unlock()
		if hold {
			c.fsm.Fire(EventPause)
		}
	case "Door":
		if changed && state != StateDoor && state != StateAlarm {
			c.fsm.Fire(EventDoorOpen)
		}
	case "Alarm":
		if changed && state != StateAlarm {
			c.fault(errors.New("controller reported alarm state"))
		}
	case "Idle":
		c.idle()
	}
}

// idle releases a %wait and completes the program once every block
// has been acknowledged.
func (c *Controller) idle() {
	if c.queue.Pending() > 0 {
		return
	}

	c.mx.Lock()
	if c.waiting {
		c.waiting = false
		c.mx.Unlock()
		c.wake()
		return
	}
	complete := c.next >= len(c.program)
	c.mx.Unlock()
	if !complete || c.fsm.State() != StateRunning {
		return
	}

	_, err := c.fsm.Fire(EventComplete)
	if err != nil {
		return
	}
	c.log.Info("program complete")
	c.finish(nil)
}

func (c *Controller) fault(err error) {
	c.fsm.Fire(EventFault)

	c.mx.Lock()
	c.lastErr = err
	c.mx.Unlock()
	c.finish(err)
}

// finish releases everyone waiting on the current program.
func (c *Controller) finish(err error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	select {
	case <-c.run.done:
		return
	default:
	}
	c.run.err = err
	close(c.run.done)
}

func (c *Controller) publish() {
	s := c.Snapshot()
	select {
	case c.events <- s:
	default:
	}
}

func (c *Controller) Events() <-chan machine.Snapshot { return c.events }

func (c *Controller) Snapshot() machine.Snapshot {
	c.mx.Lock()
	defer c.mx.Unlock()

	codes := c.modal.Codes()
	s := machine.Snapshot{
		Status:      c.fsm.State().String(),
		Firmware:    c.firmware,
		MPos:        c.mpos,
		WCO:         c.wco,
		Stale:       c.stale,
		Modal:       c.modal,
		Codes:       make([]string, len(codes)),
		Sent:        c.next,
		Total:       len(c.program),
		Outstanding: c.queue.Outstanding(),
		Capacity:    c.queue.Capacity(),
		Probes:      append([]machine.ProbeResult(nil), c.probes...),
		Message:     c.message,
	}
	for i, w := range codes {
		s.Codes[i] = w.String()
	}
	if c.lastErr != nil {
		s.Error = c.lastErr.Error()
	}
	return s
}

// resolved returns the parser state at the reported machine position.
// c.mx must be held.
func (c *Controller) resolved() gcode.State {
	s := c.modal
	s.Pos = c.mpos
	s.Offsets[s.WCS()] = c.wco.Sub(s.G92)
	return s
}

// Load validates blocks against the current state and makes them the
// program run by Start.
func (c *Controller) Load(blocks []gcode.Block) error {
	if c.fsm.State() != StateIdle {
		return machine.ErrNotIdle
	}

	c.mx.Lock()
	defer c.mx.Unlock()

	s := c.resolved()
	for _, b := range blocks {
		if b.Empty() || b.System != "" || b.Directive != "" || (b.Delete && c.cfg.BlockDelete) {
			continue
		}
		next, _, err := geom.Step(s, b)
		if err != nil {
			return err
		}
		s = next
		if len(serialize(b)) > c.queue.Capacity() {
			return &gcode.BlockError{Err: ErrBlockTooLong, Line: b.Line, Source: b.Source, Reason: "line too long"}
		}
	}

	c.program = blocks
	c.next = 0
	c.log.Info("program loaded", "blocks", len(blocks))
	return nil
}

func (c *Controller) Start() error {
	c.mx.Lock()
	if c.fsm.State() != StateIdle {
		c.mx.Unlock()
		return machine.ErrNotIdle
	}
	c.next = 0
	c.waiting = false
	c.holds = 0
	c.lastErr = nil
	c.run = newProgramRun()
	c.mx.Unlock()

	_, err := c.fsm.Fire(EventStart)
	if err != nil {
		c.finish(err)
		return err
	}
	c.queue.Resume()
	c.wake()
	return nil
}

func (c *Controller) Pause() error {
	if c.fsm.State() != StateRunning {
		return fmt.Errorf("%w: pause in state %s", ErrInvalidTransition, c.fsm.State())
	}
	err := c.realtime(CmdFeedHold)
	if err != nil {
		return err
	}
	_, err = c.fsm.Fire(EventPause)
	return err
}

func (c *Controller) Resume() error {
	_, err := c.fsm.Fire(EventResume)
	if err != nil {
		return err
	}
	c.queue.Resume()
	c.wake()
	return c.realtime(CmdCycleStart)
}

// Stop aborts the program and resets the controller.
func (c *Controller) Stop() error {
	err := c.Reset()
	if err != nil {
		return err
	}
	c.mx.Lock()
	c.program = nil
	c.next = 0
	c.mx.Unlock()
	return nil
}

func (c *Controller) Reset() error {
	if !c.fsm.State().connected() {
		return fmt.Errorf("%w: reset while disconnected", ErrInvalidTransition)
	}
	err := c.realtime(CmdReset)
	if err != nil {
		return err
	}
	c.fsm.Fire(EventReset)
	c.finish(ErrAborted)
	c.publish()
	return nil
}

func (c *Controller) Unlock() error {
	if c.fsm.State() != StateAlarm {
		return fmt.Errorf("%w: unlock in state %s", ErrInvalidTransition, c.fsm.State())
	}
	err := c.immediate(gcode.Block{System: "$X"})
	if err != nil {
		return err
	}
	_, err = c.fsm.Fire(EventUnlock)
	if err != nil {
		return err
	}
	c.mx.Lock()
	c.lastErr = nil
	c.mx.Unlock()
	c.queue.Resume()
	c.publish()
	return nil
}

// Send transmits b outside of the loaded program.
func (c *Controller) Send(b gcode.Block) error {
	switch c.fsm.State() {
	case StateRunning:
		return machine.ErrNotIdle
	case StateDisconnected:
		return fmt.Errorf("%w: send while disconnected", ErrInvalidTransition)
	}
	if b.Directive != "" {
		return fmt.Errorf("directive %q cannot be sent directly", b.Directive)
	}
	if b.Empty() {
		return nil
	}
	if b.System == "" {
		c.mx.Lock()
		_, _, err := geom.Step(c.resolved(), b)
		c.mx.Unlock()
		if err != nil {
			return err
		}
	}
	return c.immediate(b)
}

func (c *Controller) immediate(b gcode.Block) error {
	adm, err := c.queue.Priority(b)
	if err != nil {
		return err
	}
	if adm == Deferred {
		return ErrDeferred
	}
	return nil
}

func (c *Controller) QueryStatus() error { return c.realtime(CmdStatus) }

// Jog moves axis by one step in dir and keeps the jog alive for
// JogTimeout. When no further Jog call arrives in time, the jog is
// cancelled.
func (c *Controller) Jog(axis byte, dir int) error {
	switch axis {
	case 'X', 'Y', 'Z':
	default:
		return fmt.Errorf("invalid jog axis %q", axis)
	}
	if dir != 1 && dir != -1 {
		return fmt.Errorf("invalid jog direction %d", dir)
	}
	state := c.fsm.State()
	if state != StateIdle && state != StateJog {
		return machine.ErrNotIdle
	}

	cmd := "$J=G91G21" +
		gcode.Word{W: axis, Arg: float64(dir) * c.cfg.JogStep}.String() +
		gcode.Word{W: 'F', Arg: c.cfg.JogFeed}.String()
	err := c.immediate(gcode.Block{System: cmd})
	if errors.Is(err, ErrDeferred) && state == StateJog {
		// the planner is already full of jog steps
		c.jog.Arm()
		return nil
	}
	if err != nil {
		return err
	}

	_, err = c.fsm.Fire(EventJogStart)
	if err != nil {
		return err
	}
	c.jog.Arm()
	return nil
}

func (c *Controller) StopJog() error {
	if !c.jog.Cancel() {
		return nil
	}
	return c.cancelJog()
}

func (c *Controller) jogExpired() {
	err := c.cancelJog()
	if err != nil {
		c.log.Error("cancel jog", "err", err)
	}
}

func (c *Controller) cancelJog() error {
	err := c.realtime(CmdJogCancel)
	if err != nil {
		return err
	}
	_, err = c.fsm.Fire(EventJogStop)
	c.publish()
	return err
}

func (c *Controller) Wait(ctx context.Context) error {
	c.mx.Lock()
	run := c.run
	c.mx.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-run.done:
	}

	c.mx.Lock()
	defer c.mx.Unlock()
	return run.err
}

func (c *Controller) Probes() []machine.ProbeResult {
	c.mx.Lock()
	defer c.mx.Unlock()
	return append([]machine.ProbeResult(nil), c.probes...)
}

func (c *Controller) ResetProbes() {
	c.mx.Lock()
	c.probes = nil
	c.mx.Unlock()
}
