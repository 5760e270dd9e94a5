package grbl

import (
	"errors"
	"sync"
	"time"

	"github.com/mastercactapus/gsend/gcode"
)

// DefaultBufferSize is the size of the GRBL serial receive buffer.
const DefaultBufferSize = 128

var (
	// ErrBlockTooLong is returned for blocks that can never fit the receive buffer.
	ErrBlockTooLong = errors.New("block exceeds receive buffer")

	// ErrUnexpectedAck is returned when an ack arrives with nothing pending.
	ErrUnexpectedAck = errors.New("ack without pending block")
)

type Admission int

const (
	Deferred Admission = iota
	Accepted
)

func (a Admission) String() string {
	if a == Accepted {
		return "accepted"
	}
	return "deferred"
}

// Entry is a block that was sent and awaits its ack.
type Entry struct {
	Block gcode.Block

	// Size is the number of bytes sent, including the line terminator.
	Size int

	Pending  bool
	Enqueued time.Time
}

// Queue tracks blocks sent to the firmware using character counting
// flow control: the sum of the sizes of unacknowledged blocks never
// exceeds the receive buffer capacity.
//
// Acks are matched in send order.
type Queue struct {
	mx sync.Mutex

	capacity    int
	outstanding int
	entries     []Entry
	paused      bool

	send func([]byte) error
	now  func() time.Time
}

// NewQueue creates a Queue that transmits admitted lines using send.
func NewQueue(capacity int, send func([]byte) error) *Queue {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Queue{
		capacity: capacity,
		send:     send,
		now:      time.Now,
	}
}

func serialize(b gcode.Block) []byte {
	return append([]byte(b.String()), '\n')
}

// Admit sends b if it fits in the remaining buffer space.
//
// Deferred is returned while the queue is paused or full; the caller
// should retry after the next ack.
func (q *Queue) Admit(b gcode.Block) (Admission, error) {
	q.mx.Lock()
	defer q.mx.Unlock()

	if q.paused {
		return Deferred, nil
	}
	return q.admit(b)
}

// Priority is like Admit but ignores a paused queue. It is used for
// commands the caller needs to reach the firmware during a hold, such
// as jogging and unlock.
func (q *Queue) Priority(b gcode.Block) (Admission, error) {
	q.mx.Lock()
	defer q.mx.Unlock()

	return q.admit(b)
}

func (q *Queue) admit(b gcode.Block) (Admission, error) {
	data := serialize(b)
	if len(data) > q.capacity {
		return Deferred, ErrBlockTooLong
	}
	if q.outstanding+len(data) > q.capacity {
		return Deferred, nil
	}

	// the send happens under the lock so the wire order matches
	// the order of entries
	err := q.send(data)
	if err != nil {
		return Deferred, err
	}

	q.outstanding += len(data)
	q.entries = append(q.entries, Entry{
		Block:    b,
		Size:     len(data),
		Pending:  true,
		Enqueued: q.now(),
	})

	return Accepted, nil
}

func (q *Queue) pop() (Entry, bool) {
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	q.outstanding -= e.Size
	e.Pending = false
	return e, true
}

// OnAcknowledge releases the oldest pending entry.
func (q *Queue) OnAcknowledge() (Entry, error) {
	q.mx.Lock()
	defer q.mx.Unlock()

	e, ok := q.pop()
	if !ok {
		return Entry{}, ErrUnexpectedAck
	}
	return e, nil
}

// OnError releases the oldest pending entry and pauses the queue. The
// returned error is always a *FirmwareError.
func (q *Queue) OnError(code int) (Entry, error) {
	q.mx.Lock()
	defer q.mx.Unlock()

	q.paused = true
	e, ok := q.pop()
	if !ok {
		return Entry{}, errors.Join(NewFirmwareError(code, gcode.Block{}), ErrUnexpectedAck)
	}
	return e, NewFirmwareError(code, e.Block)
}

// Pause stops new admissions. Entries already sent stay pending.
func (q *Queue) Pause() {
	q.mx.Lock()
	q.paused = true
	q.mx.Unlock()
}

func (q *Queue) Resume() {
	q.mx.Lock()
	q.paused = false
	q.mx.Unlock()
}

func (q *Queue) Paused() bool {
	q.mx.Lock()
	defer q.mx.Unlock()
	return q.paused
}

// Abort drops all entries and returns them. What the firmware did with
// them is unknown until it is reset.
func (q *Queue) Abort() []Entry {
	q.mx.Lock()
	defer q.mx.Unlock()

	dropped := q.entries
	q.entries = nil
	q.outstanding = 0
	return dropped
}

// Outstanding returns the number of unacknowledged bytes.
func (q *Queue) Outstanding() int {
	q.mx.Lock()
	defer q.mx.Unlock()
	return q.outstanding
}

// Pending returns the number of unacknowledged blocks.
func (q *Queue) Pending() int {
	q.mx.Lock()
	defer q.mx.Unlock()
	return len(q.entries)
}

func (q *Queue) Capacity() int { return q.capacity }
