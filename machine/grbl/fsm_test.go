package grbl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hookLog struct {
	pause, abort, invalidate int
	changes                  []State
}

func newTestRecovery(h *hookLog) *Recovery {
	return NewRecovery(RecoveryHooks{
		OnPause:      func() { h.pause++ },
		OnAbort:      func() { h.abort++ },
		OnInvalidate: func() { h.invalidate++ },
		OnChange:     func(_, to State, _ Event) { h.changes = append(h.changes, to) },
	})
}

func fire(t *testing.T, r *Recovery, events ...Event) {
	t.Helper()
	for _, e := range events {
		_, err := r.Fire(e)
		require.NoError(t, err, e.String())
	}
}

func TestRecovery_Stream(t *testing.T) {
	var h hookLog
	r := newTestRecovery(&h)
	assert.Equal(t, StateDisconnected, r.State())

	fire(t, r, EventReconnect, EventStart, EventPause)
	assert.Equal(t, StateHold, r.State())
	assert.Equal(t, 1, h.pause)
	assert.True(t, r.Streaming())

	fire(t, r, EventResume)
	assert.Equal(t, StateRunning, r.State())

	fire(t, r, EventComplete)
	assert.Equal(t, StateIdle, r.State())
	assert.False(t, r.Streaming())
	assert.Equal(t, []State{StateIdle, StateRunning, StateHold, StateRunning, StateIdle}, h.changes)
}

func TestRecovery_Alarm(t *testing.T) {
	var h hookLog
	r := newTestRecovery(&h)
	fire(t, r, EventReconnect, EventStart, EventFault)
	assert.Equal(t, StateAlarm, r.State())
	assert.Equal(t, 1, h.pause)
	assert.False(t, r.Streaming())

	// only an explicit unlock or reset leaves alarm
	for _, e := range []Event{EventStart, EventResume, EventComplete, EventJogStart} {
		_, err := r.Fire(e)
		assert.ErrorIs(t, err, ErrInvalidTransition, e.String())
		assert.Equal(t, StateAlarm, r.State())
	}

	fire(t, r, EventUnlock)
	assert.Equal(t, StateIdle, r.State())
}

func TestRecovery_Door(t *testing.T) {
	var h hookLog
	r := newTestRecovery(&h)
	fire(t, r, EventReconnect, EventDoorOpen, EventResume)
	assert.Equal(t, StateIdle, r.State())

	fire(t, r, EventStart, EventDoorOpen)
	assert.Equal(t, StateDoor, r.State())
	fire(t, r, EventResume)
	assert.Equal(t, StateRunning, r.State())
}

func TestRecovery_TransportLost(t *testing.T) {
	var h hookLog
	r := newTestRecovery(&h)
	fire(t, r, EventReconnect, EventStart, EventTransportLost)
	assert.Equal(t, StateDisconnected, r.State())
	assert.Equal(t, 1, h.abort)
	assert.Equal(t, 1, h.invalidate)

	_, err := r.Fire(EventReset)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = r.Fire(EventFault)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	fire(t, r, EventReconnect)
	assert.Equal(t, StateIdle, r.State())
}

func TestRecovery_Reset(t *testing.T) {
	var h hookLog
	r := newTestRecovery(&h)
	fire(t, r, EventReconnect, EventStart, EventPause, EventReset)
	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, 1, h.abort)
	assert.False(t, r.Streaming())
}

func TestRecovery_Jog(t *testing.T) {
	var h hookLog
	r := newTestRecovery(&h)
	fire(t, r, EventReconnect, EventJogStart, EventJogStart)
	assert.Equal(t, StateJog, r.State())

	_, err := r.Fire(EventStart)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	fire(t, r, EventJogStop)
	assert.Equal(t, StateIdle, r.State())
}

func TestDeadline(t *testing.T) {
	fired := make(chan struct{}, 10)
	dl := NewDeadline(100*time.Millisecond, func() { fired <- struct{}{} })
	assert.False(t, dl.Armed())

	dl.Arm()
	assert.True(t, dl.Armed())
	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		dl.Arm()
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("deadline never fired")
	}
	assert.False(t, dl.Armed())

	// exactly once per arm
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, fired, 0)
}

func TestDeadline_Cancel(t *testing.T) {
	fired := make(chan struct{}, 1)
	dl := NewDeadline(10*time.Millisecond, func() { fired <- struct{}{} })

	dl.Arm()
	assert.True(t, dl.Cancel())
	assert.False(t, dl.Cancel())

	time.Sleep(40 * time.Millisecond)
	assert.Len(t, fired, 0)
}
