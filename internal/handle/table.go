package handle

import (
	"sync"

	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// Handle is an opaque reference to a runtime object. The zero value never
// refers to an object.
type Handle uint32

// None is the reserved null handle.
const None Handle = 0

// A handle packs a 16-bit slot index (biased by one so that 0 stays null)
// and a 16-bit slot generation. The generation changes every time a slot is
// freed, so a held-over handle stops resolving.
const (
	slotBits = 16
	slotMask = (1 << slotBits) - 1
	maxSlots = slotMask - 1
)

func pack(slot int, gen uint16) Handle {
	return Handle(uint32(gen)<<slotBits | uint32(slot+1))
}

func (h Handle) slot() int   { return int(uint32(h)&slotMask) - 1 }
func (h Handle) gen() uint16 { return uint16(uint32(h) >> slotBits) }

// IsNone reports whether h is the null handle.
func (h Handle) IsNone() bool { return h == None }

type slot[T any] struct {
	value T
	gen   uint16
	live  bool
}

// Table owns objects of one kind and hands out handles for them.
type Table[T any] struct {
	mu    sync.RWMutex
	slots []slot[T]
	free  []int
}

// NewTable creates an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{}
}

// Put stores value and returns its handle. Fails with Resource when the
// table's numeric space is exhausted.
func (t *Table[T]) Put(value T) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx int
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		if len(t.slots) >= maxSlots {
			return None, vmerr.E(vmerr.Resource, "handle.Put")
		}
		t.slots = append(t.slots, slot[T]{})
		idx = len(t.slots) - 1
	}

	t.slots[idx].value = value
	t.slots[idx].live = true
	return pack(idx, t.slots[idx].gen), nil
}

// Get resolves h to its object. A null handle is InvalidArgument; a stale
// or unknown handle is NotFound.
func (t *Table[T]) Get(h Handle) (T, error) {
	var zero T
	if h.IsNone() {
		return zero, vmerr.E(vmerr.InvalidArgument, "handle.Get")
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := h.slot()
	if idx < 0 || idx >= len(t.slots) {
		return zero, vmerr.E(vmerr.NotFound, "handle.Get")
	}
	s := &t.slots[idx]
	if !s.live || s.gen != h.gen() {
		return zero, vmerr.E(vmerr.NotFound, "handle.Get")
	}
	return s.value, nil
}

// Delete removes the object named by h and retires the handle. The slot's
// generation advances so the handle cannot resolve again.
func (t *Table[T]) Delete(h Handle) error {
	if h.IsNone() {
		return vmerr.E(vmerr.InvalidArgument, "handle.Delete")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := h.slot()
	if idx < 0 || idx >= len(t.slots) {
		return vmerr.E(vmerr.NotFound, "handle.Delete")
	}
	s := &t.slots[idx]
	if !s.live || s.gen != h.gen() {
		return vmerr.E(vmerr.NotFound, "handle.Delete")
	}

	var zero T
	s.value = zero
	s.live = false
	s.gen++
	t.free = append(t.free, idx)
	return nil
}

// Len reports the number of live objects.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots) - len(t.free)
}

// Range calls fn for every live object until fn returns false. The table
// lock is held across calls; fn must not call back into the table.
func (t *Table[T]) Range(fn func(Handle, T) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.slots {
		s := &t.slots[i]
		if !s.live {
			continue
		}
		if !fn(pack(i, s.gen), s.value) {
			return
		}
	}
}
