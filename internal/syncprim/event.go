package syncprim

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/vmio/internal/handle"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

type eventWaiter struct {
	wake  chan struct{}
	clear bool
}

type event struct {
	mu      sync.Mutex
	set     bool
	waiters []*eventWaiter
}

// EventAlloc creates an event variable and returns its handle.
func (m *Manager) EventAlloc() (handle.Handle, error) {
	return m.events.Put(&event{})
}

// EventFree retires an event handle.
func (m *Manager) EventFree(h handle.Handle) error {
	return m.events.Delete(h)
}

// EventWait waits for the event to be posted, until the absolute deadline.
// If clearOnReturn is set, a successful wait clears the event. A past
// deadline polls: it clears a set event (when requested) without waiting
// and reports Timeout on a clear one.
func (m *Manager) EventWait(h handle.Handle, deadline time.Time, clearOnReturn bool) error {
	ev, err := m.events.Get(h)
	if err != nil {
		return err
	}

	ev.mu.Lock()
	if ev.set {
		if clearOnReturn {
			ev.set = false
		}
		ev.mu.Unlock()
		return nil
	}
	if expired(deadline) {
		ev.mu.Unlock()
		return vmerr.E(vmerr.Timeout, "syncprim.EventWait")
	}

	w := &eventWaiter{wake: make(chan struct{}), clear: clearOnReturn}
	ev.waiters = append(ev.waiters, w)
	ev.mu.Unlock()

	tc, stop := timer(deadline)
	defer stop()
	select {
	case <-w.wake:
		return nil
	case <-tc:
		ev.mu.Lock()
		for i, q := range ev.waiters {
			if q == w {
				ev.waiters = append(ev.waiters[:i], ev.waiters[i+1:]...)
				break
			}
		}
		ev.mu.Unlock()
		// The post may have won the race; honor it.
		select {
		case <-w.wake:
			return nil
		default:
			return vmerr.E(vmerr.Timeout, "syncprim.EventWait")
		}
	}
}

// EventPost posts the event. With wakeFirst and at least one waiter, only
// the first waiter wakes and the event stays clear. Otherwise the event is
// set and all waiters wake; if any of them asked for clear-on-return the
// event is left clear. With no waiters the event simply stays set.
func (m *Manager) EventPost(h handle.Handle, wakeFirst bool) error {
	ev, err := m.events.Get(h)
	if err != nil {
		return err
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()

	if len(ev.waiters) == 0 {
		ev.set = true
		return nil
	}

	if wakeFirst {
		w := ev.waiters[0]
		ev.waiters = ev.waiters[1:]
		close(w.wake)
		ev.set = false
		return nil
	}

	ev.set = true
	for _, w := range ev.waiters {
		if w.clear {
			ev.set = false
		}
		close(w.wake)
	}
	ev.waiters = nil
	return nil
}
