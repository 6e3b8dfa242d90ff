package display

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/vmio/internal/attr"
	"github.com/GriffinCanCode/vmio/internal/buffer"
	"github.com/GriffinCanCode/vmio/internal/handle"
	"github.com/GriffinCanCode/vmio/internal/hostenv"
	"github.com/GriffinCanCode/vmio/internal/types"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// captureSender records delivered payloads.
type captureSender struct {
	frames [][]byte
	dirs   []types.Direction
	err    error
}

func (c *captureSender) NewBuffer(src, dst types.Class, elementCount, dataSize int) (*buffer.Buffer, error) {
	return buffer.Alloc(src, dst, elementCount, dataSize)
}

func (c *captureSender) Deliver(caller handle.Handle, buf *buffer.Buffer, dir types.Direction) error {
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, append([]byte(nil), buf.Bytes()...))
	c.dirs = append(c.dirs, dir)
	return nil
}

func newTestPlugin(t *testing.T, opts map[string]string) (*Plugin, *hostenv.Env, *captureSender) {
	t.Helper()
	env := hostenv.NewEnv(hostenv.Options{})
	sender := &captureSender{}
	p := New(env, sender, nil)

	h := handle.Handle(0x10001)
	if opts != nil {
		env.SetPluginConfig(h, opts)
	}
	require.NoError(t, p.Init(h))
	return p, env, sender
}

func TestInitAppliesOptions(t *testing.T) {
	p, _, _ := newTestPlugin(t, map[string]string{"width": "640", "height": "480"})

	v, err := p.GetAttribute("framebuffer_size", attr.Unsigned)
	require.NoError(t, err)
	assert.Equal(t, uint64(640*480*4), v.U)
}

func TestEmitFrameWireFormat(t *testing.T) {
	p, _, sender := newTestPlugin(t, map[string]string{"width": "16", "height": "2"})

	require.NoError(t, p.WriteFramebuffer(0, []byte{1, 2, 3, 4}))
	require.NoError(t, p.EmitFrame())
	require.NoError(t, p.EmitFrame())
	require.Len(t, sender.frames, 2)
	assert.Equal(t, types.Up, sender.dirs[0])

	hdr, err := buffer.DecodeDisplay(sender.frames[0])
	require.NoError(t, err)
	assert.Equal(t, buffer.Signature, hdr.Common.Signature)
	assert.Equal(t, types.ClassDisplay, hdr.Common.MessageClass)
	assert.Equal(t, buffer.DisplayFrame, hdr.TypeCode)
	assert.Equal(t, uint32(0), hdr.Common.Sequence)

	// Sequence advances per message from this source.
	hdr2, err := buffer.DecodeDisplay(sender.frames[1])
	require.NoError(t, err)
	assert.Equal(t, uint32(1), hdr2.Common.Sequence)

	cfg, err := buffer.DecodeDisplayConfig(sender.frames[0][buffer.DisplayHeaderSize:])
	require.NoError(t, err)
	assert.Equal(t, uint32(16), cfg.Width)
	assert.Equal(t, uint32(2), cfg.Height)

	pixels := sender.frames[0][buffer.DisplayHeaderSize+buffer.DisplayConfigSize:]
	assert.Equal(t, byte(1), pixels[0])
	assert.Equal(t, byte(4), pixels[3])
	assert.Equal(t, uint64(2), p.Frames())
}

func TestEmitFrameWithoutSender(t *testing.T) {
	env := hostenv.NewEnv(hostenv.Options{})
	p := New(env, nil, nil)
	require.NoError(t, p.Init(handle.Handle(0x10001)))
	assert.True(t, vmerr.Is(p.EmitFrame(), vmerr.NotFound))
}

func TestEmulatedRegisters(t *testing.T) {
	p, env, sender := newTestPlugin(t, map[string]string{"width": "8", "height": "8"})
	ctx := context.Background()

	// Dispatch through the env so callback scope is applied.
	dev := p.dev

	acc := &hostenv.Access{Op: hostenv.OpRead, Space: hostenv.SpaceMMIO, Offset: regWidth, Data: make([]byte, 4)}
	cache, err := env.Dispatch(ctx, dev, acc)
	require.NoError(t, err)
	assert.Equal(t, hostenv.CacheNormal, cache)
	assert.Equal(t, []byte{8, 0, 0, 0}, acc.Data)

	// Writing the frame register publishes a frame and raises the vblank
	// line.
	acc = &hostenv.Access{Op: hostenv.OpWrite, Space: hostenv.SpaceMMIO, Offset: regFrame, Data: []byte{1, 0, 0, 0}}
	_, err = env.Dispatch(ctx, dev, acc)
	require.NoError(t, err)
	require.Len(t, sender.frames, 1)

	irqs := env.Interrupts()
	require.Len(t, irqs, 1)
	assert.Equal(t, uint32(0), irqs[0].Line)

	// Unknown offsets are range errors.
	acc = &hostenv.Access{Op: hostenv.OpRead, Space: hostenv.SpaceMMIO, Offset: 0x100, Data: make([]byte, 4)}
	_, err = env.Dispatch(ctx, dev, acc)
	assert.True(t, vmerr.Is(err, vmerr.Range))
}

func TestWriteFramebufferMarksDirtyPages(t *testing.T) {
	p, env, _ := newTestPlugin(t, map[string]string{"width": "64", "height": "64"})

	require.NoError(t, p.WriteFramebuffer(hostenv.PageSize, make([]byte, hostenv.PageSize+1)))
	runs := env.DirtyPages()
	require.Len(t, runs, 1)
	assert.Equal(t, uint64(1), runs[0].First)
	assert.Equal(t, uint64(2), runs[0].Count)

	err := p.WriteFramebuffer(1<<30, []byte{1})
	assert.True(t, vmerr.Is(err, vmerr.Range))
}

func edidMessage(t *testing.T, seq *buffer.Sequencer, edid []byte, discard bool) *buffer.Buffer {
	t.Helper()
	size := buffer.PresentationHeaderSize + len(edid)
	buf, err := buffer.Alloc(types.ClassPresentation, types.ClassDisplay, 1, size)
	require.NoError(t, err)

	hdr := buffer.PresentationHeader{
		Common:        buffer.NewCommon(types.ClassPresentation, buffer.PresentationHeaderSize, seq),
		TypeCode:      buffer.PresentationEDIDReport,
		ContentLength: uint32(len(edid)),
		DisplayNumber: 0,
	}
	out := hdr.Encode(buf.Bytes()[:0])
	copy(buf.Bytes()[len(out):], edid)
	buf.SetDiscardConfig(discard)
	return buf
}

func TestPutMessageEDID(t *testing.T) {
	p, _, _ := newTestPlugin(t, nil)
	var seq buffer.Sequencer

	edid := []byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}
	msg := edidMessage(t, &seq, edid, false)
	require.NoError(t, p.PutMessage(msg))
	assert.Equal(t, edid, p.EDID())
	require.NoError(t, msg.Release())

	// A discard-config message drops the cached report before applying
	// its own content.
	empty := edidMessage(t, &seq, nil, true)
	require.NoError(t, p.PutMessage(empty))
	assert.Empty(t, p.EDID())
	require.NoError(t, empty.Release())
}

func TestPutMessageRejectsGarbage(t *testing.T) {
	p, _, _ := newTestPlugin(t, nil)

	buf, err := buffer.Alloc(types.ClassPresentation, types.ClassDisplay, 1, buffer.PresentationHeaderSize)
	require.NoError(t, err)
	// No signature encoded.
	assert.True(t, vmerr.Is(p.PutMessage(buf), vmerr.InvalidArgument))

	short, err := buffer.Alloc(types.ClassPresentation, types.ClassDisplay, 1, 4)
	require.NoError(t, err)
	assert.True(t, vmerr.Is(p.PutMessage(short), vmerr.Range))
}

func TestAttributes(t *testing.T) {
	p, _, _ := newTestPlugin(t, nil)

	caps, err := p.GetAttribute(attr.NameCapabilities, attr.Unsigned)
	require.NoError(t, err)
	assert.Equal(t, attr.CapMigration, caps.U&attr.CapMigration)

	// Conversion applies on the way out.
	s, err := p.GetAttribute("frames_emitted", attr.String)
	require.NoError(t, err)
	assert.Equal(t, "0", s.S)

	_, err = p.GetAttribute("no_such", attr.Unsigned)
	assert.True(t, vmerr.Is(err, vmerr.NotFound))

	err = p.SetAttribute(attr.NameCapabilities, attr.UnsignedValue(0))
	assert.True(t, vmerr.Is(err, vmerr.ReadOnly))
	err = p.SetAttribute("no_such", attr.UnsignedValue(0))
	assert.True(t, vmerr.Is(err, vmerr.NotFound))
}

func TestMigrationRoundTrip(t *testing.T) {
	src, _, _ := newTestPlugin(t, map[string]string{"width": "32", "height": "4"})

	pattern := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 32)
	require.NoError(t, src.WriteFramebuffer(64, pattern))
	var seq buffer.Sequencer
	msg := edidMessage(t, &seq, []byte{1, 2, 3}, false)
	require.NoError(t, src.PutMessage(msg))

	require.NoError(t, src.NotifyStage(types.StagePreCopy))
	require.NoError(t, src.NotifyStage(types.StageStopAndCopy))

	// Drain the checkpoint in small chunks.
	var stream []byte
	chunk := make([]byte, 48)
	for {
		n, remaining, err := src.ReadDeviceBuffer(chunk)
		require.NoError(t, err)
		stream = append(stream, chunk[:n]...)
		if remaining == 0 {
			break
		}
	}

	// Feed the destination with a different chunking, then resume.
	dst, _, _ := newTestPlugin(t, nil)
	for off := 0; off < len(stream); off += 100 {
		end := off + 100
		if end > len(stream) {
			end = len(stream)
		}
		require.NoError(t, dst.WriteDeviceBuffer(stream[off:end]))
	}
	require.NoError(t, dst.NotifyStage(types.StageResume))
	require.NoError(t, dst.NotifyStage(types.StageNone))

	v, err := dst.GetAttribute("framebuffer_size", attr.Unsigned)
	require.NoError(t, err)
	assert.Equal(t, uint64(32*4*4), v.U)
	assert.Equal(t, []byte{1, 2, 3}, dst.EDID())

	// Spot-check the restored pixels through a fresh frame.
	require.NoError(t, dst.EmitFrame())
}

func TestRestoreGarbageFails(t *testing.T) {
	p, _, _ := newTestPlugin(t, nil)
	require.NoError(t, p.WriteDeviceBuffer([]byte("definitely not gzip")))
	err := p.NotifyStage(types.StageResume)
	assert.True(t, vmerr.Is(err, vmerr.InvalidArgument))
}

func TestResetDropsPendingRestore(t *testing.T) {
	p, _, _ := newTestPlugin(t, nil)

	require.NoError(t, p.WriteDeviceBuffer([]byte("stale restore bytes")))
	require.NoError(t, p.Reset())
	// With the accumulated stream gone, resume installs nothing instead
	// of choking on the stale bytes.
	require.NoError(t, p.NotifyStage(types.StageResume))
}

func TestReset(t *testing.T) {
	p, _, _ := newTestPlugin(t, map[string]string{"width": "8", "height": "2"})

	require.NoError(t, p.WriteFramebuffer(0, []byte{9, 9, 9}))
	var seq buffer.Sequencer
	msg := edidMessage(t, &seq, []byte{5}, false)
	require.NoError(t, p.PutMessage(msg))
	require.NoError(t, p.EmitFrame())

	require.NoError(t, p.Reset())
	assert.Nil(t, p.EDID())
	assert.Equal(t, uint64(0), p.Frames())

	require.NoError(t, p.Shutdown())
	// Shutdown is safe to repeat.
	require.NoError(t, p.Shutdown())
}
