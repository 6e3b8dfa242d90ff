package pipeline

import (
	"github.com/GriffinCanCode/vmio/internal/attr"
	"github.com/GriffinCanCode/vmio/internal/buffer"
	"github.com/GriffinCanCode/vmio/internal/handle"
	"github.com/GriffinCanCode/vmio/internal/types"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// Plugin is the runtime's view of one device-emulation plugin. One
// implementation exists per plugin kind; the registry resolves it at
// registration time.
type Plugin interface {
	// Init is called exactly once after registration, before the
	// machine starts (or immediately, for a hotplugged device). The
	// handle identifies this plugin in all later runtime calls.
	Init(h handle.Handle) error

	// Shutdown is called exactly once at teardown. It must block until
	// the plugin's internal threads and resources are released, or fail
	// with a timeout.
	Shutdown() error

	// GetAttribute returns a named attribute in the requested kind.
	GetAttribute(name string, kind attr.Kind) (attr.Value, error)

	// SetAttribute sets a named attribute. Read-only attributes fail
	// with the read-only code.
	SetAttribute(name string, value attr.Value) error

	// PutMessage accepts a buffer delivered by a neighbor. The caller
	// holds a reference across the call; the plugin takes its own hold
	// to keep the buffer past return. PutMessage runs on the sender's
	// goroutine and must not block indefinitely.
	PutMessage(buf *buffer.Buffer) error

	// Reset returns the device to its power-on state. It may be called
	// any number of times between Init and Shutdown.
	Reset() error

	// NotifyStage informs the plugin of a migration stage transition.
	NotifyStage(stage types.Stage) error

	// ReadDeviceBuffer fills p with up to len(p) bytes of serialized
	// device state and reports how many bytes were written this call
	// and how many remain overall. Legal from the start of pre-copy
	// through the end of stop-and-copy.
	ReadDeviceBuffer(p []byte) (written, remaining uint64, err error)

	// WriteDeviceBuffer restores device state from one chunk of the
	// stream produced by ReadDeviceBuffer. Callable as soon as the
	// instance exists; implementations may block until initialization
	// completes.
	WriteDeviceBuffer(p []byte) error
}

// StateSaver is the legacy whole-state suspend/resume interface. Plugins
// that predate chunked device-buffer streaming implement it in addition to
// Plugin; the migration package bridges it onto the same byte stream.
type StateSaver interface {
	// SaveState writes the full device state through put and returns
	// the total length written.
	SaveState(put func(p []byte) error) (total uint64, err error)

	// RestoreState reads total bytes of device state through get.
	RestoreState(get func(p []byte) (int, error), total uint64) error
}

// Descriptor declares a plugin's identity and chaining constraints.
type Descriptor struct {
	// Name labels the plugin in logs and the admin surface.
	Name string
	// Class is the plugin's role in the pipeline.
	Class types.Class
	// InputClasses is the set of source classes this plugin accepts
	// buffers from.
	InputClasses types.ClassSet
	// ConnectUpAllowed permits another plugin to attach above this one.
	ConnectUpAllowed bool
	// ConnectDownAllowed permits another plugin to attach below this
	// one.
	ConnectDownAllowed bool
}

// validate checks the descriptor against the registration rules.
func (d *Descriptor) validate(p Plugin) error {
	if p == nil || d.Name == "" {
		return vmerr.E(vmerr.InvalidArgument, "pipeline.Register")
	}
	if !d.Class.Valid() {
		return vmerr.Ef(vmerr.InvalidArgument, "pipeline.Register: class %d out of range", d.Class)
	}
	return nil
}
