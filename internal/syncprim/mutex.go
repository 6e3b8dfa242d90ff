package syncprim

import (
	"time"

	"github.com/GriffinCanCode/vmio/internal/handle"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// mutex is a channel-based lock so acquisition can race a deadline.
// The slot holds a token when the mutex is free.
type mutex struct {
	slot chan struct{}
}

// MutexAlloc creates a mutex and returns its handle.
func (m *Manager) MutexAlloc() (handle.Handle, error) {
	mu := &mutex{slot: make(chan struct{}, 1)}
	mu.slot <- struct{}{}
	return m.mutexes.Put(mu)
}

// MutexFree retires a mutex handle. Freeing a held mutex abandons it;
// blocked acquirers keep their deadline behavior.
func (m *Manager) MutexFree(h handle.Handle) error {
	return m.mutexes.Delete(h)
}

// MutexAcquire acquires the mutex, waiting until the absolute deadline.
// A past deadline polls once; NoLimit waits forever. Expiry reports
// Timeout without acquiring.
func (m *Manager) MutexAcquire(h handle.Handle, deadline time.Time) error {
	mu, err := m.mutexes.Get(h)
	if err != nil {
		return err
	}

	select {
	case <-mu.slot:
		return nil
	default:
	}
	if expired(deadline) {
		return vmerr.E(vmerr.Timeout, "syncprim.MutexAcquire")
	}

	tc, stop := timer(deadline)
	defer stop()
	select {
	case <-mu.slot:
		return nil
	case <-tc:
		return vmerr.E(vmerr.Timeout, "syncprim.MutexAcquire")
	}
}

// MutexTryAcquire acquires the mutex only if it is immediately available.
func (m *Manager) MutexTryAcquire(h handle.Handle) error {
	mu, err := m.mutexes.Get(h)
	if err != nil {
		return err
	}
	select {
	case <-mu.slot:
		return nil
	default:
		return vmerr.E(vmerr.Timeout, "syncprim.MutexTryAcquire")
	}
}

// MutexRelease releases the mutex, waking one blocked acquirer if any.
func (m *Manager) MutexRelease(h handle.Handle) error {
	mu, err := m.mutexes.Get(h)
	if err != nil {
		return err
	}
	select {
	case mu.slot <- struct{}{}:
		return nil
	default:
		// Releasing an unheld mutex is caller error.
		return vmerr.E(vmerr.InvalidArgument, "syncprim.MutexRelease")
	}
}
