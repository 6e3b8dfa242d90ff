package buffer

import (
	"sync/atomic"

	"github.com/GriffinCanCode/vmio/internal/types"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// MaxDataSize caps a single buffer's payload. Requests beyond it report
// resource exhaustion rather than attempting the allocation.
const MaxDataSize = 1 << 30

// Element is one (data, length) record of a buffer. The slice length is the
// element length.
type Element struct {
	Data []byte
}

// ReleaseFunc releases a buffer whose reference count reached zero.
type ReleaseFunc func(*Buffer) error

// Buffer is a reference-counted container of one or more data elements,
// tagged with the plugin classes it travels between. Source and destination
// classes are fixed at allocation.
type Buffer struct {
	src types.Class
	dst types.Class

	refs     atomic.Int32
	elements []Element
	release  ReleaseFunc

	discardConfig atomic.Bool
}

// Alloc allocates a buffer with the given element count and total payload
// size. The first element views the whole payload region; remaining
// elements start empty and are assigned by the producer. The caller holds
// the initial reference.
func Alloc(src, dst types.Class, elementCount, dataSize int) (*Buffer, error) {
	if elementCount < 1 || !src.Valid() || !dst.Valid() || dataSize < 0 {
		return nil, vmerr.E(vmerr.InvalidArgument, "buffer.Alloc")
	}
	if dataSize > MaxDataSize {
		return nil, vmerr.E(vmerr.Resource, "buffer.Alloc")
	}

	b := &Buffer{
		src:      src,
		dst:      dst,
		elements: make([]Element, elementCount),
		release:  Free,
	}
	if dataSize > 0 {
		b.elements[0].Data = make([]byte, dataSize)
	}
	b.refs.Store(1)
	return b, nil
}

// Free is the default release: drop the element storage so stale holders
// fault loudly instead of reading freed payloads. Release wrappers that
// add accounting finish by calling it.
func Free(b *Buffer) error {
	b.elements = nil
	return nil
}

// SetRelease substitutes the release function, for buffers wrapping storage
// the runtime does not own. Only legal while the caller holds a reference.
func (b *Buffer) SetRelease(fn ReleaseFunc) error {
	if b == nil || fn == nil || b.refs.Load() <= 0 {
		return vmerr.E(vmerr.InvalidArgument, "buffer.SetRelease")
	}
	b.release = fn
	return nil
}

// Hold adds a reference. It fails on a nil buffer or one already released,
// and never resurrects a buffer racing with its final release.
func (b *Buffer) Hold() error {
	if b == nil {
		return vmerr.E(vmerr.InvalidArgument, "buffer.Hold")
	}
	for {
		n := b.refs.Load()
		if n <= 0 {
			return vmerr.E(vmerr.InvalidArgument, "buffer.Hold")
		}
		if b.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a reference. The transition to zero runs the release
// function exactly once; afterwards every operation on the buffer fails.
func (b *Buffer) Release() error {
	if b == nil {
		return vmerr.E(vmerr.InvalidArgument, "buffer.Release")
	}
	n := b.refs.Add(-1)
	switch {
	case n > 0:
		return nil
	case n == 0:
		return b.release(b)
	default:
		// Underflow: release of a never-allocated or already-freed buffer.
		b.refs.Add(1)
		return vmerr.E(vmerr.InvalidArgument, "buffer.Release")
	}
}

// Refs reports the current reference count. Diagnostics only; the value may
// be stale by the time the caller looks at it.
func (b *Buffer) Refs() int {
	return int(b.refs.Load())
}

// Valid reports whether the buffer still holds at least one reference.
func (b *Buffer) Valid() bool {
	return b != nil && b.refs.Load() > 0
}

// SourceClass returns the class the buffer originated from.
func (b *Buffer) SourceClass() types.Class { return b.src }

// DestinationClass returns the class the buffer is addressed to.
func (b *Buffer) DestinationClass() types.Class { return b.dst }

// Count returns the number of elements.
func (b *Buffer) Count() int { return len(b.elements) }

// Element returns the i'th element. Out-of-range indexes report a range
// error; a released buffer has no elements.
func (b *Buffer) Element(i int) (Element, error) {
	if !b.Valid() {
		return Element{}, vmerr.E(vmerr.InvalidArgument, "buffer.Element")
	}
	if i < 0 || i >= len(b.elements) {
		return Element{}, vmerr.E(vmerr.Range, "buffer.Element")
	}
	return b.elements[i], nil
}

// SetElement assigns the i'th element, for producers splitting a payload
// across several records.
func (b *Buffer) SetElement(i int, data []byte) error {
	if !b.Valid() {
		return vmerr.E(vmerr.InvalidArgument, "buffer.SetElement")
	}
	if i < 0 || i >= len(b.elements) {
		return vmerr.E(vmerr.Range, "buffer.SetElement")
	}
	b.elements[i].Data = data
	return nil
}

// Bytes returns the first element's payload, the common single-element
// case.
func (b *Buffer) Bytes() []byte {
	if !b.Valid() || len(b.elements) == 0 {
		return nil
	}
	return b.elements[0].Data
}

// SetDiscardConfig flags that cached configuration state should be dropped
// by the consumer, without a separate message type.
func (b *Buffer) SetDiscardConfig(v bool) { b.discardConfig.Store(v) }

// DiscardConfig reports the discard-config flag.
func (b *Buffer) DiscardConfig() bool { return b.discardConfig.Load() }
