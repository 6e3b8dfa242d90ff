package hostenv

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vmio/internal/handle"
	"github.com/GriffinCanCode/vmio/internal/logging"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// DefaultGuestMemory is the guest physical memory size of an Env when the
// caller does not choose one.
const DefaultGuestMemory = 16 << 20

// Options configures an Env.
type Options struct {
	Logger *logging.Logger
	// GuestMemory is the emulated guest physical memory size in bytes.
	// Zero means DefaultGuestMemory. Rounded is not attempted; pass a
	// page multiple.
	GuestMemory uint64
}

// mapping is one live guest-memory mapping.
type mapping struct {
	data     []byte
	readOnly bool
	// pfns is set for scattered page mappings; the bytes are a gather
	// copy written back on unmap.
	pfns []uint64
}

type emulDevice struct {
	handler EmulHandler
	label   string
}

type region struct {
	base uint64
	data []byte
}

// InterruptEvent is one recorded interrupt delivery.
type InterruptEvent struct {
	Device handle.Handle
	MSI    bool
	Line   uint32
	Mode   InterruptMode
	Addr   uint64
	Data   uint32
}

// Env is the in-memory host environment. Guest physical memory is one
// byte slice; interrupts and dirty pages are recorded rather than
// delivered.
type Env struct {
	log     *logging.Logger
	guestID uuid.UUID

	mu       sync.Mutex
	memory   []byte
	mappings *handle.Table[*mapping]
	pinned   map[uint64]int
	dirty    []PageRun
	devices  *handle.Table[*emulDevice]
	regions  map[uint32]*region
	configs  map[handle.Handle]map[string]string
	irqs     []InterruptEvent
}

// NewEnv creates an in-memory host environment with a fresh guest ID.
func NewEnv(opts Options) *Env {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.GuestMemory == 0 {
		opts.GuestMemory = DefaultGuestMemory
	}
	return &Env{
		log:      opts.Logger.Named("hostenv"),
		guestID:  uuid.New(),
		memory:   make([]byte, opts.GuestMemory),
		mappings: handle.NewTable[*mapping](),
		pinned:   make(map[uint64]int),
		devices:  handle.NewTable[*emulDevice](),
		regions:  make(map[uint32]*region),
		configs:  make(map[handle.Handle]map[string]string),
	}
}

// GuestPageSize returns the guest page size.
func (e *Env) GuestPageSize() uint64 { return PageSize }

// GuestID returns the guest's identifier.
func (e *Env) GuestID() uuid.UUID { return e.guestID }

// MapGuestMemory maps a contiguous guest physical range. The returned
// mapping views the backing memory directly, so writes through it are
// immediately guest-visible.
func (e *Env) MapGuestMemory(base, length uint64, readOnly bool) (handle.Handle, error) {
	if length == 0 {
		return handle.None, vmerr.E(vmerr.InvalidArgument, "hostenv.MapGuestMemory")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if base+length < base || base+length > uint64(len(e.memory)) {
		return handle.None, vmerr.Ef(vmerr.NoAddressSpace,
			"hostenv.MapGuestMemory: [%#x,%#x) outside guest memory", base, base+length)
	}
	return e.mappings.Put(&mapping{
		data:     e.memory[base : base+length],
		readOnly: readOnly,
	})
}

// MapGuestPages maps scattered guest page frames. The mapping is a gather
// copy; writable mappings scatter back to the frames on unmap.
func (e *Env) MapGuestPages(pfns []uint64, readOnly bool) (handle.Handle, error) {
	if len(pfns) == 0 {
		return handle.None, vmerr.E(vmerr.InvalidArgument, "hostenv.MapGuestPages")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	data := make([]byte, uint64(len(pfns))*PageSize)
	for i, pfn := range pfns {
		base := pfn * PageSize
		if base+PageSize > uint64(len(e.memory)) {
			return handle.None, vmerr.Ef(vmerr.NoAddressSpace,
				"hostenv.MapGuestPages: pfn %#x outside guest memory", pfn)
		}
		copy(data[uint64(i)*PageSize:], e.memory[base:base+PageSize])
	}
	return e.mappings.Put(&mapping{data: data, readOnly: readOnly, pfns: pfns})
}

// MappingBytes exposes a mapping's bytes.
func (e *Env) MappingBytes(h handle.Handle) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.mappings.Get(h)
	if err != nil {
		return nil, err
	}
	return m.data, nil
}

// UnmapGuestMemory releases a mapping, scattering page-mapped writes back
// to guest memory.
func (e *Env) UnmapGuestMemory(h handle.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.mappings.Get(h)
	if err != nil {
		return err
	}
	if m.pfns != nil && !m.readOnly {
		for i, pfn := range m.pfns {
			copy(e.memory[pfn*PageSize:(pfn+1)*PageSize], m.data[uint64(i)*PageSize:])
		}
	}
	return e.mappings.Delete(h)
}

// PinGuestPages locks page frames. Pinning can stall on host memory
// pressure, so callback scope is rejected.
func (e *Env) PinGuestPages(ctx context.Context, pfns []uint64) error {
	if InCallback(ctx) {
		return vmerr.E(vmerr.NotAllowedInCallback, "hostenv.PinGuestPages")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, pfn := range pfns {
		if (pfn+1)*PageSize > uint64(len(e.memory)) {
			return vmerr.Ef(vmerr.NoAddressSpace, "hostenv.PinGuestPages: pfn %#x", pfn)
		}
	}
	for _, pfn := range pfns {
		e.pinned[pfn]++
	}
	return nil
}

// UnpinGuestPages releases pinned frames. Unpinning a frame that is not
// pinned is an error.
func (e *Env) UnpinGuestPages(ctx context.Context, pfns []uint64) error {
	if InCallback(ctx) {
		return vmerr.E(vmerr.NotAllowedInCallback, "hostenv.UnpinGuestPages")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, pfn := range pfns {
		if e.pinned[pfn] == 0 {
			return vmerr.Ef(vmerr.InvalidArgument, "hostenv.UnpinGuestPages: pfn %#x not pinned", pfn)
		}
	}
	for _, pfn := range pfns {
		e.pinned[pfn]--
		if e.pinned[pfn] == 0 {
			delete(e.pinned, pfn)
		}
	}
	return nil
}

// PinCount reports a frame's pin count, for tests.
func (e *Env) PinCount(pfn uint64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pinned[pfn]
}

// SetGuestDirtyPages records pages the device wrote.
func (e *Env) SetGuestDirtyPages(runs []PageRun) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range runs {
		if r.Count == 0 {
			return vmerr.E(vmerr.InvalidArgument, "hostenv.SetGuestDirtyPages")
		}
	}
	e.dirty = append(e.dirty, runs...)
	return nil
}

// DirtyPages drains the recorded dirty runs, for pre-copy polls and
// tests.
func (e *Env) DirtyPages() []PageRun {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.dirty
	e.dirty = nil
	return out
}

// RegisterEmulDevice attaches an emulation handler.
func (e *Env) RegisterEmulDevice(h EmulHandler, label string) (handle.Handle, error) {
	if h == nil {
		return handle.None, vmerr.E(vmerr.InvalidArgument, "hostenv.RegisterEmulDevice")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	dev, err := e.devices.Put(&emulDevice{handler: h, label: label})
	if err != nil {
		return handle.None, err
	}
	e.log.Debug("emulated device registered", zap.String("label", label))
	return dev, nil
}

// UnregisterEmulDevice detaches an emulated device.
func (e *Env) UnregisterEmulDevice(dev handle.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.devices.Delete(dev)
}

// Dispatch routes one guest access to the device's handler with the
// context marked as callback scope.
func (e *Env) Dispatch(ctx context.Context, dev handle.Handle, acc *Access) (Cacheability, error) {
	if acc == nil || len(acc.Data) == 0 {
		return CacheNone, vmerr.E(vmerr.InvalidArgument, "hostenv.Dispatch")
	}

	e.mu.Lock()
	d, err := e.devices.Get(dev)
	e.mu.Unlock()
	if err != nil {
		return CacheNone, err
	}
	return d.handler(MarkCallback(ctx), acc)
}

// CreateGuestRegion creates a guest-visible region.
func (e *Env) CreateGuestRegion(id uint32, base, length uint64) error {
	if length == 0 {
		return vmerr.E(vmerr.InvalidArgument, "hostenv.CreateGuestRegion")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.regions[id]; ok {
		return vmerr.Ef(vmerr.InvalidArgument, "hostenv.CreateGuestRegion: region %d exists", id)
	}
	e.regions[id] = &region{base: base, data: make([]byte, length)}
	return nil
}

// RelocateGuestRegion moves a region, preserving contents.
func (e *Env) RelocateGuestRegion(id uint32, base uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.regions[id]
	if !ok {
		return vmerr.Ef(vmerr.NotFound, "hostenv.RelocateGuestRegion: region %d", id)
	}
	r.base = base
	return nil
}

// DeleteGuestRegion removes a region.
func (e *Env) DeleteGuestRegion(id uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.regions[id]; !ok {
		return vmerr.Ef(vmerr.NotFound, "hostenv.DeleteGuestRegion: region %d", id)
	}
	delete(e.regions, id)
	return nil
}

// MapGuestRegion exposes a region's backing bytes.
func (e *Env) MapGuestRegion(id uint32) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.regions[id]
	if !ok {
		return nil, vmerr.Ef(vmerr.NotFound, "hostenv.MapGuestRegion: region %d", id)
	}
	return r.data, nil
}

// RegionBase reports a region's current base address.
func (e *Env) RegionBase(id uint32) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.regions[id]
	if !ok {
		return 0, vmerr.Ef(vmerr.NotFound, "hostenv.RegionBase: region %d", id)
	}
	return r.base, nil
}

// ControlInterrupt records a line interrupt edge.
func (e *Env) ControlInterrupt(dev handle.Handle, line uint32, mode InterruptMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.devices.Get(dev); err != nil {
		return err
	}
	e.irqs = append(e.irqs, InterruptEvent{Device: dev, Line: line, Mode: mode})
	return nil
}

// ControlInterruptMSI records a message-signaled interrupt.
func (e *Env) ControlInterruptMSI(dev handle.Handle, addr uint64, data uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.devices.Get(dev); err != nil {
		return err
	}
	e.irqs = append(e.irqs, InterruptEvent{Device: dev, MSI: true, Addr: addr, Data: data})
	return nil
}

// Interrupts drains the recorded interrupt events, for tests.
func (e *Env) Interrupts() []InterruptEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.irqs
	e.irqs = nil
	return out
}

// SetPluginConfig installs a plugin's read-only configuration dictionary.
func (e *Env) SetPluginConfig(plugin handle.Handle, cfg map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs[plugin] = cfg
}

// ConfigGet looks a key up in the plugin's configuration dictionary.
func (e *Env) ConfigGet(plugin handle.Handle, key string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.configs[plugin][key]
	if !ok {
		return "", vmerr.Ef(vmerr.NotFound, "hostenv.ConfigGet: %q", key)
	}
	return v, nil
}

var _ Host = (*Env)(nil)
