package buffer

import (
	"encoding/binary"
	"math/bits"
	"sync/atomic"

	"github.com/GriffinCanCode/vmio/internal/types"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// Wire constants for the common message header.
const (
	// Signature detects byte-order mismatches between endpoints.
	Signature uint32 = 0x4f494d56
	// HeaderVersion is version 1.0.0 encoded one byte per element.
	HeaderVersion uint32 = 0x00010000

	// CommonHeaderSize is the encoded size of CommonHeader.
	CommonHeaderSize = 24
	// DisplayHeaderSize is the encoded size of DisplayHeader.
	DisplayHeaderSize = CommonHeaderSize + 12
	// PresentationHeaderSize is the encoded size of PresentationHeader.
	PresentationHeaderSize = CommonHeaderSize + 12
)

// wire is the byte order of every header on the wire.
var wire = binary.LittleEndian

// CommonHeader prefixes every inter-plugin message. The sequence number
// increases by one per message from a given source and exists for
// diagnostics and ordering checks, not correctness.
type CommonHeader struct {
	Signature    uint32
	Version      uint32
	HeaderLength uint32
	MessageClass types.Class
	Sequence     uint32
	Pad          uint32
}

// Encode appends the header to dst and returns the extended slice.
func (h *CommonHeader) Encode(dst []byte) []byte {
	dst = wire.AppendUint32(dst, h.Signature)
	dst = wire.AppendUint32(dst, h.Version)
	dst = wire.AppendUint32(dst, h.HeaderLength)
	dst = wire.AppendUint32(dst, uint32(h.MessageClass))
	dst = wire.AppendUint32(dst, h.Sequence)
	dst = wire.AppendUint32(dst, h.Pad)
	return dst
}

// DecodeCommon parses a common header. A byte-swapped signature means the
// peer has mismatched endianness and is reported as InvalidArgument; a
// short buffer is a Range error.
func DecodeCommon(p []byte) (CommonHeader, error) {
	if len(p) < CommonHeaderSize {
		return CommonHeader{}, vmerr.E(vmerr.Range, "buffer.DecodeCommon")
	}
	h := CommonHeader{
		Signature:    wire.Uint32(p[0:]),
		Version:      wire.Uint32(p[4:]),
		HeaderLength: wire.Uint32(p[8:]),
		MessageClass: types.Class(wire.Uint32(p[12:])),
		Sequence:     wire.Uint32(p[16:]),
		Pad:          wire.Uint32(p[20:]),
	}
	if h.Signature != Signature {
		return CommonHeader{}, vmerr.Ef(vmerr.InvalidArgument,
			"buffer.DecodeCommon: signature %#x (byte-swapped: %t)",
			h.Signature, bits.ReverseBytes32(h.Signature) == Signature)
	}
	return h, nil
}

// DisplayType codes the display messages a display plugin emits.
type DisplayType uint32

const (
	DisplayNull             DisplayType = 0
	DisplayFrame            DisplayType = 1
	DisplayEDIDRequest      DisplayType = 2
	DisplayGetConfiguration DisplayType = 3
	DisplaySetConfiguration DisplayType = 4
	DisplayHDCPRequest      DisplayType = 5
	DisplayGetMemoryOptInfo DisplayType = 6
	DisplaySetVNCConsole    DisplayType = 7
)

// AllDisplays addresses every display of the guest.
const AllDisplays uint32 = ^uint32(0)

// DisplayHeader follows the common header on display-class messages.
type DisplayHeader struct {
	Common        CommonHeader
	TypeCode      DisplayType
	ContentLength uint32
	DisplayNumber uint32
}

// Encode appends the header to dst and returns the extended slice.
func (h *DisplayHeader) Encode(dst []byte) []byte {
	dst = h.Common.Encode(dst)
	dst = wire.AppendUint32(dst, uint32(h.TypeCode))
	dst = wire.AppendUint32(dst, h.ContentLength)
	dst = wire.AppendUint32(dst, h.DisplayNumber)
	return dst
}

// DecodeDisplay parses a display message header.
func DecodeDisplay(p []byte) (DisplayHeader, error) {
	common, err := DecodeCommon(p)
	if err != nil {
		return DisplayHeader{}, err
	}
	if len(p) < DisplayHeaderSize {
		return DisplayHeader{}, vmerr.E(vmerr.Range, "buffer.DecodeDisplay")
	}
	return DisplayHeader{
		Common:        common,
		TypeCode:      DisplayType(wire.Uint32(p[CommonHeaderSize:])),
		ContentLength: wire.Uint32(p[CommonHeaderSize+4:]),
		DisplayNumber: wire.Uint32(p[CommonHeaderSize+8:]),
	}, nil
}

// PresentationType codes the messages a presentation plugin sends back.
type PresentationType uint32

const (
	PresentationNull       PresentationType = 0
	PresentationEDIDReport PresentationType = 1
)

// PresentationHeader follows the common header on presentation-class
// messages.
type PresentationHeader struct {
	Common        CommonHeader
	TypeCode      PresentationType
	ContentLength uint32
	DisplayNumber uint32
}

// Encode appends the header to dst and returns the extended slice.
func (h *PresentationHeader) Encode(dst []byte) []byte {
	dst = h.Common.Encode(dst)
	dst = wire.AppendUint32(dst, uint32(h.TypeCode))
	dst = wire.AppendUint32(dst, h.ContentLength)
	dst = wire.AppendUint32(dst, h.DisplayNumber)
	return dst
}

// DecodePresentation parses a presentation message header.
func DecodePresentation(p []byte) (PresentationHeader, error) {
	common, err := DecodeCommon(p)
	if err != nil {
		return PresentationHeader{}, err
	}
	if len(p) < PresentationHeaderSize {
		return PresentationHeader{}, vmerr.E(vmerr.Range, "buffer.DecodePresentation")
	}
	return PresentationHeader{
		Common:        common,
		TypeCode:      PresentationType(wire.Uint32(p[CommonHeaderSize:])),
		ContentLength: wire.Uint32(p[CommonHeaderSize+4:]),
		DisplayNumber: wire.Uint32(p[CommonHeaderSize+8:]),
	}, nil
}

// PixelFormat codes the supported frame pixel layouts.
type PixelFormat uint32

const (
	PixelInvalid PixelFormat = 0
	Pixel8       PixelFormat = 1 // 256 colors via palette
	Pixel15      PixelFormat = 2 // X1R5G5B5
	Pixel16      PixelFormat = 3 // R5G6B5
	Pixel32      PixelFormat = 4 // A8R8G8B8
	Pixel32BGR   PixelFormat = 5 // A8B8G8R8
)

// BytesPerPixel returns the storage width of the format, or 0 when the
// format is unknown.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case Pixel8:
		return 1
	case Pixel15, Pixel16:
		return 2
	case Pixel32, Pixel32BGR:
		return 4
	default:
		return 0
	}
}

// DisplayConfigSize is the encoded size of DisplayConfig.
const DisplayConfigSize = 20

// DisplayConfig describes one guest display surface, carried in frame and
// set-configuration messages.
type DisplayConfig struct {
	VNum   uint32
	Height uint32
	Width  uint32
	Format PixelFormat
	Pitch  uint32
}

// Encode appends the record to dst and returns the extended slice.
func (c *DisplayConfig) Encode(dst []byte) []byte {
	dst = wire.AppendUint32(dst, c.VNum)
	dst = wire.AppendUint32(dst, c.Height)
	dst = wire.AppendUint32(dst, c.Width)
	dst = wire.AppendUint32(dst, uint32(c.Format))
	dst = wire.AppendUint32(dst, c.Pitch)
	return dst
}

// DecodeDisplayConfig parses a display configuration record.
func DecodeDisplayConfig(p []byte) (DisplayConfig, error) {
	if len(p) < DisplayConfigSize {
		return DisplayConfig{}, vmerr.E(vmerr.Range, "buffer.DecodeDisplayConfig")
	}
	return DisplayConfig{
		VNum:   wire.Uint32(p[0:]),
		Height: wire.Uint32(p[4:]),
		Width:  wire.Uint32(p[8:]),
		Format: PixelFormat(wire.Uint32(p[12:])),
		Pitch:  wire.Uint32(p[16:]),
	}, nil
}

// Sequencer hands out the per-source message sequence, starting at 0.
type Sequencer struct {
	n atomic.Uint32
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint32 {
	return s.n.Add(1) - 1
}

// NewCommon builds a common header for a message from class, stamping the
// next sequence number from seq.
func NewCommon(class types.Class, headerLength uint32, seq *Sequencer) CommonHeader {
	return CommonHeader{
		Signature:    Signature,
		Version:      HeaderVersion,
		HeaderLength: headerLength,
		MessageClass: class,
		Sequence:     seq.Next(),
	}
}
