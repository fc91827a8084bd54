package chatsession

import (
	"time"

	"github.com/cenkalti/backoff"
)

// stopper is a cancellable timer handle.
type stopper interface {
	Stop() bool
}

// clock schedules the timers of the session components. The session's
// implementation runs every callback on its event loop, so components never
// need their own locking.
type clock interface {
	backoff.Clock
	AfterFunc(d time.Duration, f func()) stopper
}

// loopClock runs timer callbacks on the session loop.
type loopClock struct {
	post func(func()) bool
}

func (loopClock) Now() time.Time { return time.Now() }

func (c loopClock) AfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, func() { c.post(f) })
}

// timerSlot holds at most one live timer. Arming a slot cancels whatever it
// held before; callbacks from a superseded arming are ignored even if they
// were already queued on the loop.
type timerSlot struct {
	timer stopper
	gen   uint64
}

func (t *timerSlot) arm(clk clock, d time.Duration, f func()) {
	t.stop()
	gen := t.gen
	t.timer = clk.AfterFunc(d, func() {
		if t.gen != gen || t.timer == nil {
			return
		}
		t.timer = nil
		f()
	})
}

func (t *timerSlot) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

func (t *timerSlot) armed() bool { return t.timer != nil }
