package hostenv

import (
	"context"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/vmio/internal/handle"
)

// PageSize is the guest page granularity of the in-memory environment.
const PageSize = 4096

// AccessOp distinguishes reads from writes in an emulation access.
type AccessOp int

const (
	// OpRead is a guest read of an emulated register.
	OpRead AccessOp = iota
	// OpWrite is a guest write to an emulated register.
	OpWrite
)

// Space identifies the address space of an emulation access.
type Space int

const (
	// SpaceConfig is PCI configuration space.
	SpaceConfig Space = iota
	// SpaceIO is port I/O space.
	SpaceIO
	// SpaceMMIO is memory-mapped I/O space.
	SpaceMMIO
)

// String returns the space name.
func (s Space) String() string {
	switch s {
	case SpaceConfig:
		return "config"
	case SpaceIO:
		return "io"
	case SpaceMMIO:
		return "mmio"
	default:
		return "undefined"
	}
}

// Cacheability is the handler's verdict on whether the host may cache the
// accessed range and elide future callbacks for it.
type Cacheability int

const (
	// CacheNone forbids caching; every access reaches the handler.
	CacheNone Cacheability = iota
	// CacheNormal permits the host to cache the range.
	CacheNormal
)

// Access is one guest access to an emulated device register. Data holds
// the write payload for OpWrite and receives the read result for OpRead;
// its length is the access width.
type Access struct {
	Op     AccessOp
	Space  Space
	Offset uint64
	Data   []byte
}

// EmulHandler services one emulation access. The context is marked as
// callback scope; pin operations invoked on it fail.
type EmulHandler func(ctx context.Context, acc *Access) (Cacheability, error)

// PageRun is a run of contiguous guest page frames.
type PageRun struct {
	First uint64
	Count uint64
}

// InterruptMode selects the line interrupt edge.
type InterruptMode int

const (
	// IntAssert raises the line.
	IntAssert InterruptMode = iota
	// IntDeassert lowers the line.
	IntDeassert
)

// Memory is guest address-space access.
type Memory interface {
	// GuestPageSize returns the guest page size in bytes.
	GuestPageSize() uint64

	// MapGuestMemory maps length bytes of guest physical memory at base
	// into the plugin's address space and returns a mapping handle.
	MapGuestMemory(base, length uint64, readOnly bool) (handle.Handle, error)

	// MapGuestPages maps a scattered set of guest page frames as one
	// contiguous mapping.
	MapGuestPages(pfns []uint64, readOnly bool) (handle.Handle, error)

	// MappingBytes exposes the backing bytes of a mapping.
	MappingBytes(h handle.Handle) ([]byte, error)

	// UnmapGuestMemory releases a mapping.
	UnmapGuestMemory(h handle.Handle) error

	// PinGuestPages locks guest page frames into host memory. Illegal in
	// callback scope.
	PinGuestPages(ctx context.Context, pfns []uint64) error

	// UnpinGuestPages releases pinned page frames. Illegal in callback
	// scope.
	UnpinGuestPages(ctx context.Context, pfns []uint64) error

	// SetGuestDirtyPages reports guest pages the device wrote, for
	// pre-copy tracking.
	SetGuestDirtyPages(runs []PageRun) error
}

// Emulation is device-emulation registration and guest-region management.
type Emulation interface {
	// RegisterEmulDevice attaches a handler for an emulated device's
	// register accesses and returns a device handle. Registration on a
	// running guest surfaces as config-space hotplug.
	RegisterEmulDevice(h EmulHandler, label string) (handle.Handle, error)

	// UnregisterEmulDevice detaches an emulated device.
	UnregisterEmulDevice(dev handle.Handle) error

	// CreateGuestRegion creates a guest-visible memory region of length
	// bytes at base.
	CreateGuestRegion(id uint32, base, length uint64) error

	// RelocateGuestRegion moves a region to a new base, preserving
	// contents.
	RelocateGuestRegion(id uint32, base uint64) error

	// DeleteGuestRegion removes a region.
	DeleteGuestRegion(id uint32) error

	// MapGuestRegion exposes a region's backing bytes.
	MapGuestRegion(id uint32) ([]byte, error)
}

// Interrupts is guest interrupt delivery.
type Interrupts interface {
	// ControlInterrupt asserts or deasserts a line interrupt of the
	// emulated device.
	ControlInterrupt(dev handle.Handle, line uint32, mode InterruptMode) error

	// ControlInterruptMSI posts a message-signaled interrupt.
	ControlInterruptMSI(dev handle.Handle, addr uint64, data uint32) error
}

// Identity is guest identity and per-plugin configuration.
type Identity interface {
	// GuestID returns the stable identifier of the guest VM.
	GuestID() uuid.UUID

	// ConfigGet looks a key up in the plugin's read-only configuration
	// dictionary.
	ConfigGet(plugin handle.Handle, key string) (string, error)
}

// Host is the full service surface a hosting environment provides.
type Host interface {
	Memory
	Emulation
	Interrupts
	Identity
}
