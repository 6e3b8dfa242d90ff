// Package display implements a graphics device emulation plugin. It owns
// a guest-visible framebuffer, registers register emulation with the host
// environment, and publishes frames upstream as display-class messages.
package display

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/vmio/internal/attr"
	"github.com/GriffinCanCode/vmio/internal/buffer"
	"github.com/GriffinCanCode/vmio/internal/handle"
	"github.com/GriffinCanCode/vmio/internal/hostenv"
	"github.com/GriffinCanCode/vmio/internal/logging"
	"github.com/GriffinCanCode/vmio/internal/pipeline"
	"github.com/GriffinCanCode/vmio/internal/types"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// Register offsets in the emulated MMIO window.
const (
	regWidth  = 0x00
	regHeight = 0x04
	regFormat = 0x08
	regFrame  = 0x0c // write any value to publish a frame
)

// Default mode when the topology does not configure one.
const (
	defaultWidth  = 1024
	defaultHeight = 768
)

// Sender connects the plugin to its pipeline: it hands out accounted
// message buffers and delivers them to the neighbor plugin.
type Sender interface {
	NewBuffer(src, dst types.Class, elementCount, dataSize int) (*buffer.Buffer, error)
	Deliver(caller handle.Handle, buf *buffer.Buffer, dir types.Direction) error
}

// Plugin is the display device.
type Plugin struct {
	log    *logging.Logger
	env    hostenv.Host
	sender Sender
	seq    buffer.Sequencer

	mu     sync.Mutex
	handle handle.Handle
	dev    handle.Handle
	config buffer.DisplayConfig
	fb     []byte
	edid   []byte
	frames uint64
	stage  types.Stage

	save    *saveStream
	restore *restoreStream
}

// New creates a display plugin. The sender is how emitted frames reach
// the plugin above; it may be nil for an unchained device.
func New(env hostenv.Host, sender Sender, log *logging.Logger) *Plugin {
	if log == nil {
		log = logging.NewNop()
	}
	p := &Plugin{
		log:    log.Named("display"),
		env:    env,
		sender: sender,
	}
	p.setMode(defaultWidth, defaultHeight, buffer.Pixel32)
	return p
}

// Descriptor returns the plugin's pipeline descriptor. A display plugin
// accepts presentation-class replies and allows a plugin above it but
// none below.
func Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:               "display",
		Class:              types.ClassDisplay,
		InputClasses:       types.ClassSetOf(types.ClassPresentation),
		ConnectUpAllowed:   true,
		ConnectDownAllowed: false,
	}
}

// setMode sizes the framebuffer for a mode. Caller holds p.mu or has
// exclusive access.
func (p *Plugin) setMode(width, height uint32, format buffer.PixelFormat) {
	bpp := format.BytesPerPixel()
	if bpp == 0 {
		return
	}
	p.config = buffer.DisplayConfig{
		VNum:   0,
		Width:  width,
		Height: height,
		Format: format,
		Pitch:  width * uint32(bpp),
	}
	p.fb = make([]byte, int(height)*int(p.config.Pitch))
}

// Init registers the device's MMIO emulation and applies per-instance
// configuration from the host dictionary.
func (p *Plugin) Init(h handle.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handle = h

	width, height := uint32(defaultWidth), uint32(defaultHeight)
	if v, err := p.env.ConfigGet(h, "width"); err == nil {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			width = uint32(n)
		}
	}
	if v, err := p.env.ConfigGet(h, "height"); err == nil {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			height = uint32(n)
		}
	}
	p.setMode(width, height, buffer.Pixel32)

	dev, err := p.env.RegisterEmulDevice(p.emulAccess, "display")
	if err != nil {
		return err
	}
	p.dev = dev

	p.log.Info("display initialized",
		zap.Uint32("width", p.config.Width),
		zap.Uint32("height", p.config.Height))
	return nil
}

// Shutdown unregisters the emulated device.
func (p *Plugin) Shutdown() error {
	p.mu.Lock()
	dev := p.dev
	p.dev = handle.None
	p.mu.Unlock()

	if dev == handle.None {
		return nil
	}
	return p.env.UnregisterEmulDevice(dev)
}

// emulAccess services guest register accesses. Mode registers read back
// the current configuration; a write to the frame register publishes the
// framebuffer upstream.
func (p *Plugin) emulAccess(ctx context.Context, acc *hostenv.Access) (hostenv.Cacheability, error) {
	if acc.Space != hostenv.SpaceMMIO || len(acc.Data) != 4 {
		return hostenv.CacheNone, vmerr.E(vmerr.InvalidArgument, "display.emulAccess")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if acc.Op == hostenv.OpRead {
		var v uint32
		switch acc.Offset {
		case regWidth:
			v = p.config.Width
		case regHeight:
			v = p.config.Height
		case regFormat:
			v = uint32(p.config.Format)
		case regFrame:
			v = uint32(p.frames)
		default:
			return hostenv.CacheNone, vmerr.Ef(vmerr.Range, "display.emulAccess: offset %#x", acc.Offset)
		}
		putUint32(acc.Data, v)
		// Mode registers only change through this handler, so reads may
		// be cached until the next write.
		return hostenv.CacheNormal, nil
	}

	switch acc.Offset {
	case regFrame:
		return hostenv.CacheNone, p.emitFrameLocked()
	default:
		return hostenv.CacheNone, vmerr.Ef(vmerr.Range, "display.emulAccess: offset %#x", acc.Offset)
	}
}

func putUint32(p []byte, v uint32) {
	p[0] = byte(v)
	p[1] = byte(v >> 8)
	p[2] = byte(v >> 16)
	p[3] = byte(v >> 24)
}

// WriteFramebuffer writes pixels at the given offset, reporting the
// touched guest pages as dirty so pre-copy tracking sees them.
func (p *Plugin) WriteFramebuffer(offset uint64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if offset+uint64(len(data)) > uint64(len(p.fb)) {
		return vmerr.E(vmerr.Range, "display.WriteFramebuffer")
	}
	copy(p.fb[offset:], data)

	pageSize := p.env.GuestPageSize()
	first := offset / pageSize
	last := (offset + uint64(len(data)) + pageSize - 1) / pageSize
	return p.env.SetGuestDirtyPages([]hostenv.PageRun{{First: first, Count: last - first}})
}

// EmitFrame publishes the current framebuffer upstream.
func (p *Plugin) EmitFrame() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.emitFrameLocked()
}

// emitFrameLocked builds and delivers one frame message. Caller holds
// p.mu.
func (p *Plugin) emitFrameLocked() error {
	if p.sender == nil {
		return vmerr.E(vmerr.NotFound, "display.EmitFrame")
	}

	size := buffer.DisplayHeaderSize + buffer.DisplayConfigSize + len(p.fb)
	buf, err := p.sender.NewBuffer(types.ClassDisplay, types.ClassPresentation, 1, size)
	if err != nil {
		return err
	}

	hdr := buffer.DisplayHeader{
		Common:        buffer.NewCommon(types.ClassDisplay, buffer.DisplayHeaderSize, &p.seq),
		TypeCode:      buffer.DisplayFrame,
		ContentLength: uint32(buffer.DisplayConfigSize + len(p.fb)),
		DisplayNumber: p.config.VNum,
	}
	out := hdr.Encode(buf.Bytes()[:0])
	out = p.config.Encode(out)
	copy(buf.Bytes()[len(out):], p.fb)

	if err := p.sender.Deliver(p.handle, buf, types.Up); err != nil {
		_ = buf.Release()
		return err
	}
	p.frames++
	_ = buf.Release()

	if p.dev != handle.None {
		// Frame consumed; tell the guest via the vblank line.
		_ = p.env.ControlInterrupt(p.dev, 0, hostenv.IntAssert)
	}
	return nil
}

// PutMessage accepts presentation-class replies.
func (p *Plugin) PutMessage(buf *buffer.Buffer) error {
	if !buf.Valid() {
		return vmerr.E(vmerr.InvalidArgument, "display.PutMessage")
	}

	hdr, err := buffer.DecodePresentation(buf.Bytes())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if buf.DiscardConfig() {
		p.edid = nil
	}

	switch hdr.TypeCode {
	case buffer.PresentationEDIDReport:
		payload := buf.Bytes()[hdr.Common.HeaderLength:]
		if uint32(len(payload)) < hdr.ContentLength {
			return vmerr.E(vmerr.Range, "display.PutMessage")
		}
		p.edid = append([]byte(nil), payload[:hdr.ContentLength]...)
		p.log.Debug("edid report received", zap.Int("bytes", len(p.edid)))
		return nil
	case buffer.PresentationNull:
		return nil
	default:
		return vmerr.Ef(vmerr.NotFound, "display.PutMessage: type %d", hdr.TypeCode)
	}
}

// EDID returns the most recent EDID report, or nil.
func (p *Plugin) EDID() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.edid == nil {
		return nil
	}
	return append([]byte(nil), p.edid...)
}

// Frames reports the number of frames published.
func (p *Plugin) Frames() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// Reset returns the device to power-on state.
func (p *Plugin) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.setMode(p.config.Width, p.config.Height, p.config.Format)
	p.edid = nil
	p.frames = 0
	p.save = nil
	p.restore = nil
	return nil
}

// GetAttribute serves the device's attributes.
func (p *Plugin) GetAttribute(name string, kind attr.Kind) (attr.Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var v attr.Value
	switch name {
	case attr.NameCapabilities:
		v = attr.UnsignedValue(attr.CapMigration)
	case "framebuffer_size":
		v = attr.UnsignedValue(uint64(len(p.fb)))
	case "frames_emitted":
		v = attr.UnsignedValue(p.frames)
	default:
		return attr.Value{}, vmerr.Ef(vmerr.NotFound, "display.GetAttribute: %q", name)
	}
	return attr.Convert(v, kind, 0)
}

// SetAttribute rejects writes; every display attribute is read-only.
func (p *Plugin) SetAttribute(name string, value attr.Value) error {
	switch name {
	case attr.NameCapabilities, "framebuffer_size", "frames_emitted":
		return vmerr.Ef(vmerr.ReadOnly, "display.SetAttribute: %q", name)
	default:
		return vmerr.Ef(vmerr.NotFound, "display.SetAttribute: %q", name)
	}
}
