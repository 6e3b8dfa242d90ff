// Package presentation implements the presentation plugin sitting above a
// display device. It consumes frame messages, answers EDID requests on
// the device's behalf, and mirrors frames to attached websocket viewers.
package presentation

import (
	"encoding/binary"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/vmio/internal/attr"
	"github.com/GriffinCanCode/vmio/internal/buffer"
	"github.com/GriffinCanCode/vmio/internal/handle"
	"github.com/GriffinCanCode/vmio/internal/logging"
	"github.com/GriffinCanCode/vmio/internal/pipeline"
	"github.com/GriffinCanCode/vmio/internal/types"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// Sender connects the plugin to its pipeline: it hands out accounted
// message buffers and delivers them to the neighbor plugin.
type Sender interface {
	NewBuffer(src, dst types.Class, elementCount, dataSize int) (*buffer.Buffer, error)
	Deliver(caller handle.Handle, buf *buffer.Buffer, dir types.Direction) error
}

// Plugin is the presentation endpoint of a display chain.
type Plugin struct {
	log    *logging.Logger
	sender Sender
	seq    buffer.Sequencer
	hub    *Hub

	mu         sync.Mutex
	handle     handle.Handle
	edid       []byte
	lastConfig buffer.DisplayConfig
	frameCount uint64
	restore    []byte
	save       []byte
	savePos    int
}

// New creates a presentation plugin advertising the given EDID. A nil
// edid falls back to a minimal 128-byte block.
func New(sender Sender, log *logging.Logger, edid []byte) *Plugin {
	if log == nil {
		log = logging.NewNop()
	}
	if edid == nil {
		edid = defaultEDID()
	}
	return &Plugin{
		log:    log.Named("presentation"),
		sender: sender,
		hub:    NewHub(log),
		edid:   edid,
	}
}

// Descriptor returns the plugin's pipeline descriptor. It accepts
// display-class messages and closes the top of the chain.
func Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:               "presentation",
		Class:              types.ClassPresentation,
		InputClasses:       types.ClassSetOf(types.ClassDisplay),
		ConnectUpAllowed:   false,
		ConnectDownAllowed: true,
	}
}

// defaultEDID builds a bare EDID 1.3 block: the fixed 8-byte header, a
// generic vendor block, and a valid checksum.
func defaultEDID() []byte {
	e := make([]byte, 128)
	copy(e, []byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00})
	e[18] = 1 // EDID version
	e[19] = 3
	var sum byte
	for _, b := range e[:127] {
		sum += b
	}
	e[127] = -sum
	return e
}

// Viewers returns the viewer hub for transport wiring.
func (p *Plugin) Viewers() *Hub { return p.hub }

// Init records the runtime handle.
func (p *Plugin) Init(h handle.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handle = h
	return nil
}

// Shutdown detaches every viewer.
func (p *Plugin) Shutdown() error {
	p.hub.Close()
	return nil
}

// Reset drops presentation state; the advertised EDID survives resets.
func (p *Plugin) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastConfig = buffer.DisplayConfig{}
	p.frameCount = 0
	p.save = nil
	p.restore = nil
	return nil
}

// PutMessage accepts display-class messages from the device below.
func (p *Plugin) PutMessage(buf *buffer.Buffer) error {
	if !buf.Valid() {
		return vmerr.E(vmerr.InvalidArgument, "presentation.PutMessage")
	}

	hdr, err := buffer.DecodeDisplay(buf.Bytes())
	if err != nil {
		return err
	}
	payload := buf.Bytes()[hdr.Common.HeaderLength:]
	if uint32(len(payload)) < hdr.ContentLength {
		return vmerr.E(vmerr.Range, "presentation.PutMessage")
	}
	payload = payload[:hdr.ContentLength]

	switch hdr.TypeCode {
	case buffer.DisplayFrame:
		return p.onFrame(payload)
	case buffer.DisplayEDIDRequest:
		return p.sendEDID(hdr.DisplayNumber)
	case buffer.DisplayGetConfiguration, buffer.DisplaySetConfiguration:
		cfg, err := buffer.DecodeDisplayConfig(payload)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.lastConfig = cfg
		p.mu.Unlock()
		return nil
	case buffer.DisplayNull:
		return nil
	default:
		return vmerr.Ef(vmerr.NotFound, "presentation.PutMessage: type %d", hdr.TypeCode)
	}
}

// onFrame records the display configuration and mirrors the frame to
// viewers.
func (p *Plugin) onFrame(payload []byte) error {
	cfg, err := buffer.DecodeDisplayConfig(payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.lastConfig = cfg
	p.frameCount++
	n := p.frameCount
	p.mu.Unlock()

	// Viewers get the frame payload, configuration record included, so
	// they can size their canvas from the stream alone. The payload views
	// the caller's buffer, which the caller may release and reuse as soon
	// as PutMessage returns, while viewer rings drain asynchronously.
	frame := append([]byte(nil), payload...)
	p.hub.Broadcast(frame)
	p.log.Debug("frame received",
		zap.Uint64("count", n),
		zap.Uint32("width", cfg.Width),
		zap.Uint32("height", cfg.Height))
	return nil
}

// sendEDID replies to an EDID request with an EDID report sent back down.
func (p *Plugin) sendEDID(displayNumber uint32) error {
	if p.sender == nil {
		return vmerr.E(vmerr.NotFound, "presentation.sendEDID")
	}

	p.mu.Lock()
	edid := p.edid
	h := p.handle
	p.mu.Unlock()

	size := buffer.PresentationHeaderSize + len(edid)
	buf, err := p.sender.NewBuffer(types.ClassPresentation, types.ClassDisplay, 1, size)
	if err != nil {
		return err
	}
	hdr := buffer.PresentationHeader{
		Common:        buffer.NewCommon(types.ClassPresentation, buffer.PresentationHeaderSize, &p.seq),
		TypeCode:      buffer.PresentationEDIDReport,
		ContentLength: uint32(len(edid)),
		DisplayNumber: displayNumber,
	}
	out := hdr.Encode(buf.Bytes()[:0])
	copy(buf.Bytes()[len(out):], edid)

	err = p.sender.Deliver(h, buf, types.Down)
	_ = buf.Release()
	return err
}

// FrameCount reports frames received since init or reset.
func (p *Plugin) FrameCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frameCount
}

// LastConfig reports the most recent display configuration seen.
func (p *Plugin) LastConfig() buffer.DisplayConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastConfig
}

// GetAttribute serves the plugin's attributes.
func (p *Plugin) GetAttribute(name string, kind attr.Kind) (attr.Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var v attr.Value
	switch name {
	case attr.NameCapabilities:
		v = attr.UnsignedValue(attr.CapMigration)
	case "frames_received":
		v = attr.UnsignedValue(p.frameCount)
	case "viewers":
		v = attr.UnsignedValue(uint64(p.hub.Len()))
	default:
		return attr.Value{}, vmerr.Ef(vmerr.NotFound, "presentation.GetAttribute: %q", name)
	}
	return attr.Convert(v, kind, 0)
}

// SetAttribute rejects writes.
func (p *Plugin) SetAttribute(name string, value attr.Value) error {
	switch name {
	case attr.NameCapabilities, "frames_received", "viewers":
		return vmerr.Ef(vmerr.ReadOnly, "presentation.SetAttribute: %q", name)
	default:
		return vmerr.Ef(vmerr.NotFound, "presentation.SetAttribute: %q", name)
	}
}

// NotifyStage handles migration transitions. State here is small, so
// entering resume installs whatever restore bytes accumulated.
func (p *Plugin) NotifyStage(stage types.Stage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch stage {
	case types.StagePreCopy:
		p.save = nil
		p.savePos = 0
	case types.StageResume:
		if p.restore != nil {
			if len(p.restore) < 8 {
				return vmerr.E(vmerr.InvalidArgument, "presentation.restore")
			}
			p.frameCount = binary.LittleEndian.Uint64(p.restore)
			p.restore = nil
		}
	case types.StageNone:
		p.save = nil
		p.restore = nil
	}
	return nil
}

// ReadDeviceBuffer drains the serialized state: just the frame counter.
func (p *Plugin) ReadDeviceBuffer(out []byte) (uint64, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.save == nil {
		p.save = binary.LittleEndian.AppendUint64(nil, p.frameCount)
		p.savePos = 0
	}
	n := copy(out, p.save[p.savePos:])
	p.savePos += n
	remaining := uint64(len(p.save) - p.savePos)
	if remaining == 0 {
		p.save = nil
		p.savePos = 0
	}
	return uint64(n), remaining, nil
}

// WriteDeviceBuffer accumulates restore bytes until resume.
func (p *Plugin) WriteDeviceBuffer(chunk []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restore = append(p.restore, chunk...)
	return nil
}
