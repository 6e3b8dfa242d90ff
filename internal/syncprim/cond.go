package syncprim

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/vmio/internal/handle"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

type cond struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

// CondAlloc creates a condition variable and returns its handle.
func (m *Manager) CondAlloc() (handle.Handle, error) {
	return m.conds.Put(&cond{})
}

// CondFree retires a condition variable handle.
func (m *Manager) CondFree(h handle.Handle) error {
	return m.conds.Delete(h)
}

// CondWait atomically releases the mutex named by lockH and waits for a
// signal or broadcast, until the absolute deadline. The mutex is
// reacquired before return regardless of outcome, so a Timeout return
// still leaves the caller holding the lock.
func (m *Manager) CondWait(lockH, condH handle.Handle, deadline time.Time) error {
	cv, err := m.conds.Get(condH)
	if err != nil {
		return err
	}
	if _, err := m.mutexes.Get(lockH); err != nil {
		return err
	}

	wake := make(chan struct{})
	cv.mu.Lock()
	cv.waiters = append(cv.waiters, wake)
	cv.mu.Unlock()

	if err := m.MutexRelease(lockH); err != nil {
		cv.mu.Lock()
		cv.removeWaiter(wake)
		cv.mu.Unlock()
		return err
	}

	var waitErr error
	if expired(deadline) {
		waitErr = vmerr.E(vmerr.Timeout, "syncprim.CondWait")
	} else {
		tc, stop := timer(deadline)
		select {
		case <-wake:
		case <-tc:
			waitErr = vmerr.E(vmerr.Timeout, "syncprim.CondWait")
		}
		stop()
	}

	if waitErr != nil {
		cv.mu.Lock()
		cv.removeWaiter(wake)
		cv.mu.Unlock()
		// A signal may have slipped in before removal.
		select {
		case <-wake:
			waitErr = nil
		default:
		}
	}

	if err := m.MutexAcquire(lockH, NoLimit); err != nil {
		return err
	}
	return waitErr
}

// removeWaiter drops wake from the waiter list. Caller holds cv.mu.
func (cv *cond) removeWaiter(wake chan struct{}) {
	for i, w := range cv.waiters {
		if w == wake {
			cv.waiters = append(cv.waiters[:i], cv.waiters[i+1:]...)
			return
		}
	}
}

// CondSignal wakes the first waiter, if any.
func (m *Manager) CondSignal(h handle.Handle) error {
	cv, err := m.conds.Get(h)
	if err != nil {
		return err
	}
	cv.mu.Lock()
	defer cv.mu.Unlock()
	if len(cv.waiters) > 0 {
		close(cv.waiters[0])
		cv.waiters = cv.waiters[1:]
	}
	return nil
}

// CondBroadcast wakes every waiter.
func (m *Manager) CondBroadcast(h handle.Handle) error {
	cv, err := m.conds.Get(h)
	if err != nil {
		return err
	}
	cv.mu.Lock()
	defer cv.mu.Unlock()
	for _, w := range cv.waiters {
		close(w)
	}
	cv.waiters = nil
	return nil
}

// Now returns the timebase used for deadlines.
func Now() time.Time {
	return time.Now()
}

// Deadline converts a relative wait into an absolute deadline on the
// runtime timebase.
func Deadline(d time.Duration) time.Time {
	return time.Now().Add(d)
}
