package service

import (
	"sync"
	"time"
)

// MeetingTimers holds one in-process completion timer per running meeting.
// Timers are only a fast path; the expiry sweep completes anything a timer
// missed, including meetings started before a restart.
type MeetingTimers struct {
	mu       sync.Mutex
	timers   map[uint64]*time.Timer
	onChange func(n int)
}

func NewMeetingTimers(onChange func(n int)) *MeetingTimers {
	return &MeetingTimers{
		timers:   make(map[uint64]*time.Timer),
		onChange: onChange,
	}
}

// Schedule arms fn to run at the given time, replacing any timer already
// armed for bookingID. Past times fire immediately.
func (t *MeetingTimers) Schedule(bookingID uint64, at time.Time, fn func()) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.timers[bookingID]; ok {
		existing.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(time.Until(at), func() {
		t.mu.Lock()
		if current, ok := t.timers[bookingID]; ok && current == timer {
			delete(t.timers, bookingID)
			t.changedLocked()
		}
		t.mu.Unlock()
		fn()
	})
	t.timers[bookingID] = timer
	t.changedLocked()
}

func (t *MeetingTimers) Cancel(bookingID uint64) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[bookingID]; ok {
		timer.Stop()
		delete(t.timers, bookingID)
		t.changedLocked()
	}
}

func (t *MeetingTimers) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Stop disarms every timer. Used on shutdown.
func (t *MeetingTimers) Stop() {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.changedLocked()
}

func (t *MeetingTimers) changedLocked() {
	if t.onChange != nil {
		t.onChange(len(t.timers))
	}
}
