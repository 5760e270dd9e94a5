package grbl

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned when an event is not valid in the current state.
var ErrInvalidTransition = errors.New("invalid state transition")

type State int

const (
	StateDisconnected State = iota
	StateIdle
	StateRunning
	StateHold
	StateJog
	StateAlarm
	StateDoor
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateHold:
		return "Hold"
	case StateJog:
		return "Jog"
	case StateAlarm:
		return "Alarm"
	case StateDoor:
		return "Door"
	}
	return "Unknown"
}

func (s State) connected() bool { return s != StateDisconnected }

type Event int

const (
	EventStart Event = iota
	EventPause
	EventResume
	EventDoorOpen
	EventFault
	EventUnlock
	EventReset
	EventJogStart
	EventJogStop
	EventComplete
	EventTransportLost
	EventReconnect
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventPause:
		return "pause"
	case EventResume:
		return "resume"
	case EventDoorOpen:
		return "door-open"
	case EventFault:
		return "fault"
	case EventUnlock:
		return "unlock"
	case EventReset:
		return "reset"
	case EventJogStart:
		return "jog-start"
	case EventJogStop:
		return "jog-stop"
	case EventComplete:
		return "complete"
	case EventTransportLost:
		return "transport-lost"
	case EventReconnect:
		return "reconnect"
	}
	return "unknown"
}

// RecoveryHooks are called after a transition, outside the lock.
type RecoveryHooks struct {
	// OnPause is called when entering Alarm, Hold or Door.
	OnPause func()

	// OnAbort is called on Reset and TransportLost.
	OnAbort func()

	// OnInvalidate is called when known positions become stale.
	OnInvalidate func()

	OnChange func(from, to State, e Event)
}

// Recovery is the sender's fault handling state machine.
type Recovery struct {
	mx        sync.Mutex
	state     State
	streaming bool

	hooks RecoveryHooks
}

func NewRecovery(hooks RecoveryHooks) *Recovery {
	return &Recovery{hooks: hooks}
}

func (r *Recovery) State() State {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.state
}

// Streaming reports whether a program stream is active (running or held).
func (r *Recovery) Streaming() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.streaming
}

func (r *Recovery) next(e Event) (State, error) {
	s := r.state
	switch e {
	case EventStart:
		if s == StateIdle {
			r.streaming = true
			return StateRunning, nil
		}
	case EventPause:
		if s == StateRunning {
			return StateHold, nil
		}
	case EventResume:
		if s == StateHold || s == StateDoor {
			if r.streaming {
				return StateRunning, nil
			}
			return StateIdle, nil
		}
	case EventDoorOpen:
		switch s {
		case StateIdle, StateRunning, StateHold, StateJog, StateDoor:
			return StateDoor, nil
		}
	case EventFault:
		if s.connected() {
			r.streaming = false
			return StateAlarm, nil
		}
	case EventUnlock:
		if s == StateAlarm {
			return StateIdle, nil
		}
	case EventReset:
		if s.connected() {
			r.streaming = false
			return StateIdle, nil
		}
	case EventJogStart:
		if s == StateIdle || s == StateJog {
			return StateJog, nil
		}
	case EventJogStop:
		if s == StateJog {
			return StateIdle, nil
		}
	case EventComplete:
		if s == StateRunning {
			r.streaming = false
			return StateIdle, nil
		}
	case EventTransportLost:
		r.streaming = false
		return StateDisconnected, nil
	case EventReconnect:
		if s == StateDisconnected {
			return StateIdle, nil
		}
	}

	return s, fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, e, s)
}

// Fire applies e and runs the hooks for the resulting transition.
func (r *Recovery) Fire(e Event) (State, error) {
	r.mx.Lock()
	from := r.state
	to, err := r.next(e)
	if err != nil {
		r.mx.Unlock()
		return from, err
	}
	r.state = to
	r.mx.Unlock()

	switch {
	case e == EventReset || e == EventTransportLost:
		if r.hooks.OnAbort != nil {
			r.hooks.OnAbort()
		}
	case to == StateAlarm || to == StateHold || to == StateDoor:
		if r.hooks.OnPause != nil {
			r.hooks.OnPause()
		}
	}
	if e == EventTransportLost && r.hooks.OnInvalidate != nil {
		r.hooks.OnInvalidate()
	}
	if from != to && r.hooks.OnChange != nil {
		r.hooks.OnChange(from, to, e)
	}

	return to, nil
}
