package syncprim

import (
	"time"

	"github.com/GriffinCanCode/vmio/internal/handle"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// NoLimit is the zero deadline, meaning wait forever.
var NoLimit = time.Time{}

// Manager owns every primitive handed out to plugins. Each primitive kind
// lives in its own handle table, so handles of one kind never resolve as
// another.
type Manager struct {
	mutexes *handle.Table[*mutex]
	events  *handle.Table[*event]
	conds   *handle.Table[*cond]
	threads *handle.Table[*thread]
}

// NewManager creates a Manager with empty primitive tables.
func NewManager() *Manager {
	return &Manager{
		mutexes: handle.NewTable[*mutex](),
		events:  handle.NewTable[*event](),
		conds:   handle.NewTable[*cond](),
		threads: handle.NewTable[*thread](),
	}
}

// expired reports whether the deadline has passed. The zero deadline never
// expires.
func expired(deadline time.Time) bool {
	return !deadline.IsZero() && !deadline.After(time.Now())
}

// timer returns a channel that fires at deadline, or nil for NoLimit.
// The cleanup func must be called to release the timer.
func timer(deadline time.Time) (<-chan time.Time, func()) {
	if deadline.IsZero() {
		return nil, func() {}
	}
	t := time.NewTimer(time.Until(deadline))
	return t.C, func() { t.Stop() }
}

type thread struct {
	done chan struct{}
}

// ThreadFunc is the main function of a runtime-managed thread. It receives
// the thread's own handle plus the private value supplied at spawn; the
// thread terminates when it returns.
type ThreadFunc func(h handle.Handle, private interface{})

// SpawnThread starts fn on a new goroutine identified by a thread handle.
func (m *Manager) SpawnThread(fn ThreadFunc, private interface{}) (handle.Handle, error) {
	if fn == nil {
		return handle.None, vmerr.E(vmerr.InvalidArgument, "syncprim.SpawnThread")
	}
	th := &thread{done: make(chan struct{})}
	h, err := m.threads.Put(th)
	if err != nil {
		return handle.None, err
	}
	go func() {
		defer close(th.done)
		fn(h, private)
	}()
	return h, nil
}

// JoinThread blocks until the thread has returned, then retires its handle.
func (m *Manager) JoinThread(h handle.Handle) error {
	th, err := m.threads.Get(h)
	if err != nil {
		return err
	}
	<-th.done
	return m.threads.Delete(h)
}
