package pipeline

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/vmio/internal/buffer"
	"github.com/GriffinCanCode/vmio/internal/handle"
	"github.com/GriffinCanCode/vmio/internal/logging"
	"github.com/GriffinCanCode/vmio/internal/telemetry"
	"github.com/GriffinCanCode/vmio/internal/types"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// DefaultShutdownTimeout bounds how long Stop and hotplug removal wait for
// one plugin's Shutdown to return.
const DefaultShutdownTimeout = 10 * time.Second

// entry is one registered plugin and its chain position bookkeeping.
type entry struct {
	desc   Descriptor
	plugin Plugin
	label  string
	handle handle.Handle
	seq    buffer.Sequencer
	inited bool
}

// Options configures a Registry.
type Options struct {
	Logger          *logging.Logger
	Metrics         *telemetry.Metrics
	ShutdownTimeout time.Duration
}

// Registry is the ordered set of plugins forming the pipeline.
type Registry struct {
	mu      sync.RWMutex
	chain   []*entry // index 0 is the device end; higher is toward the guest
	table   *handle.Table[*entry]
	running bool

	log             *logging.Logger
	metrics         *telemetry.Metrics
	shutdownTimeout time.Duration
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewMetrics()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Registry{
		table:           handle.NewTable[*entry](),
		log:             opts.Logger.Named("pipeline"),
		metrics:         opts.Metrics,
		shutdownTimeout: opts.ShutdownTimeout,
	}
}

// Register attaches a plugin at the top of the chain. Before Start this
// yields a boot-time device; afterwards it is a hotplug add and Init runs
// immediately. The optional label names the registration instance for
// configuration lookup.
func (r *Registry) Register(desc Descriptor, p Plugin, label string) (handle.Handle, error) {
	if err := desc.validate(p); err != nil {
		return handle.None, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if top := r.top(); top != nil {
		if !top.desc.ConnectUpAllowed {
			return handle.None, vmerr.Ef(vmerr.InvalidArgument,
				"pipeline.Register: %s does not allow connections above it", top.desc.Name)
		}
		if !desc.ConnectDownAllowed {
			return handle.None, vmerr.Ef(vmerr.InvalidArgument,
				"pipeline.Register: %s does not allow connections below it", desc.Name)
		}
	}

	e := &entry{desc: desc, plugin: p, label: label}
	h, err := r.table.Put(e)
	if err != nil {
		return handle.None, err
	}
	e.handle = h
	r.chain = append(r.chain, e)
	r.metrics.SetPluginsAttached(len(r.chain))

	r.log.Info("plugin registered",
		zap.String("name", desc.Name),
		zap.String("class", desc.Class.String()),
		zap.String("label", label),
		zap.Bool("running", r.running))

	if r.running {
		// Hotplug add: the device joins a live machine.
		r.metrics.RecordHotplug("add")
		if err := p.Init(h); err != nil {
			r.removeLocked(e)
			return handle.None, err
		}
		e.inited = true
	}
	return h, nil
}

// Unregister detaches the plugin named by h. On a running machine this is
// a hotplug removal and the plugin is shut down; callers unregister
// top-down so dependents leave before their dependencies.
func (r *Registry) Unregister(h handle.Handle) error {
	r.mu.Lock()
	e, err := r.table.Get(h)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	running := r.running
	wasInited := e.inited
	r.removeLocked(e)
	r.mu.Unlock()

	if running {
		r.metrics.RecordHotplug("remove")
	}
	r.log.Info("plugin unregistered",
		zap.String("name", e.desc.Name),
		zap.Bool("hotplug", running))

	if wasInited {
		return r.shutdownEntry(e)
	}
	return nil
}

// removeLocked drops e from the chain and the handle table. Caller holds
// r.mu.
func (r *Registry) removeLocked(e *entry) {
	for i, c := range r.chain {
		if c == e {
			r.chain = append(r.chain[:i], r.chain[i+1:]...)
			break
		}
	}
	_ = r.table.Delete(e.handle)
	r.metrics.SetPluginsAttached(len(r.chain))
}

// Start initializes every registered plugin bottom-up and marks the
// machine running. A plugin failing Init aborts the start; already-inited
// plugins are shut down again.
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return vmerr.E(vmerr.InvalidArgument, "pipeline.Start")
	}

	for _, e := range r.chain {
		if err := e.plugin.Init(e.handle); err != nil {
			r.log.Error("plugin init failed",
				zap.String("name", e.desc.Name), zap.Error(err))
			for _, done := range r.chain {
				if done == e {
					break
				}
				_ = r.shutdownEntry(done)
				done.inited = false
			}
			return err
		}
		e.inited = true
		r.log.Info("plugin initialized", zap.String("name", e.desc.Name))
	}
	r.running = true
	return nil
}

// Stop shuts every plugin down top-down and marks the machine stopped.
// The first shutdown failure is reported but the walk continues, so one
// stuck plugin cannot strand the rest.
func (r *Registry) Stop() error {
	r.mu.Lock()
	entries := make([]*entry, len(r.chain))
	copy(entries, r.chain)
	r.running = false
	r.mu.Unlock()

	var firstErr error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if !e.inited {
			continue
		}
		if err := r.shutdownEntry(e); err != nil && firstErr == nil {
			firstErr = err
		}
		e.inited = false
	}
	return firstErr
}

// shutdownEntry runs one plugin's Shutdown under the registry's timeout.
func (r *Registry) shutdownEntry(e *entry) error {
	done := make(chan error, 1)
	go func() { done <- e.plugin.Shutdown() }()

	select {
	case err := <-done:
		return err
	case <-time.After(r.shutdownTimeout):
		r.log.Error("plugin shutdown timed out", zap.String("name", e.desc.Name))
		return vmerr.Ef(vmerr.Timeout, "pipeline.Shutdown: %s", e.desc.Name)
	}
}

// NewBuffer allocates a message buffer accounted in the runtime's
// telemetry. The matching free is recorded when the last reference
// drops.
func (r *Registry) NewBuffer(src, dst types.Class, elementCount, dataSize int) (*buffer.Buffer, error) {
	buf, err := buffer.Alloc(src, dst, elementCount, dataSize)
	if err != nil {
		return nil, err
	}
	r.metrics.RecordBufferAlloc()
	_ = buf.SetRelease(func(b *buffer.Buffer) error {
		r.metrics.RecordBufferFree()
		return buffer.Free(b)
	})
	return buf, nil
}

// Reset resets the plugin named by h.
func (r *Registry) Reset(h handle.Handle) error {
	e, err := r.lookup(h)
	if err != nil {
		return err
	}
	return e.plugin.Reset()
}

// ResetAll resets every plugin, device end first.
func (r *Registry) ResetAll() error {
	r.mu.RLock()
	entries := make([]*entry, len(r.chain))
	copy(entries, r.chain)
	r.mu.RUnlock()

	var firstErr error
	for _, e := range entries {
		if err := e.plugin.Reset(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Plugin resolves h to its plugin.
func (r *Registry) Plugin(h handle.Handle) (Plugin, error) {
	e, err := r.lookup(h)
	if err != nil {
		return nil, err
	}
	return e.plugin, nil
}

// Describe resolves h to its descriptor and label.
func (r *Registry) Describe(h handle.Handle) (Descriptor, string, error) {
	e, err := r.lookup(h)
	if err != nil {
		return Descriptor{}, "", err
	}
	return e.desc, e.label, nil
}

// Sequencer returns the per-source message sequencer for h.
func (r *Registry) Sequencer(h handle.Handle) (*buffer.Sequencer, error) {
	e, err := r.lookup(h)
	if err != nil {
		return nil, err
	}
	return &e.seq, nil
}

// Running reports whether Start has succeeded and Stop has not run.
func (r *Registry) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Len reports the number of attached plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chain)
}

// Chain returns the descriptors bottom-up, for the admin surface.
func (r *Registry) Chain() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, len(r.chain))
	for i, e := range r.chain {
		out[i] = e.desc
	}
	return out
}

// Handles returns the plugin handles bottom-up.
func (r *Registry) Handles() []handle.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]handle.Handle, len(r.chain))
	for i, e := range r.chain {
		out[i] = e.handle
	}
	return out
}

func (r *Registry) lookup(h handle.Handle) (*entry, error) {
	return r.table.Get(h)
}

// top returns the guest-end entry, or nil. Caller holds r.mu.
func (r *Registry) top() *entry {
	if len(r.chain) == 0 {
		return nil
	}
	return r.chain[len(r.chain)-1]
}

// neighbor returns the entry adjacent to e in the given direction, or nil
// at the chain end. Caller holds r.mu.
func (r *Registry) neighborLocked(e *entry, up bool) *entry {
	for i, c := range r.chain {
		if c != e {
			continue
		}
		if up {
			if i+1 < len(r.chain) {
				return r.chain[i+1]
			}
		} else if i > 0 {
			return r.chain[i-1]
		}
		return nil
	}
	return nil
}
