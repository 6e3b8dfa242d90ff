package display

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vmio/internal/buffer"
	"github.com/GriffinCanCode/vmio/internal/types"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// stateVersion tags the serialized state layout.
const stateVersion uint32 = 1

// saveStream is a built checkpoint being drained by ReadDeviceBuffer.
type saveStream struct {
	data bytes.Buffer
}

// restoreStream accumulates WriteDeviceBuffer chunks until resume.
type restoreStream struct {
	data bytes.Buffer
}

// NotifyStage tracks migration stage transitions. Entering pre-copy
// invalidates any previous checkpoint; entering resume installs the
// accumulated restore stream.
func (p *Plugin) NotifyStage(stage types.Stage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch stage {
	case types.StagePreCopy:
		p.save = nil
	case types.StageResume:
		if p.restore != nil {
			if err := p.installLocked(p.restore.data.Bytes()); err != nil {
				return err
			}
			p.restore = nil
		}
	case types.StageNone:
		p.save = nil
		p.restore = nil
	}
	p.stage = stage
	return nil
}

// ReadDeviceBuffer drains the checkpoint stream. The framebuffer
// compresses well, so the stream is gzip-framed.
func (p *Plugin) ReadDeviceBuffer(out []byte) (uint64, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.save == nil {
		s := &saveStream{}
		if err := p.serializeLocked(&s.data); err != nil {
			return 0, 0, err
		}
		p.save = s
		p.log.Debug("checkpoint built", zap.Int("compressed_bytes", s.data.Len()))
	}

	n, err := p.save.data.Read(out)
	if err != nil && err != io.EOF {
		return 0, 0, err
	}
	remaining := uint64(p.save.data.Len())
	if remaining == 0 {
		p.save = nil
	}
	return uint64(n), remaining, nil
}

// WriteDeviceBuffer accumulates one restore chunk.
func (p *Plugin) WriteDeviceBuffer(chunk []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.restore == nil {
		p.restore = &restoreStream{}
	}
	p.restore.data.Write(chunk)
	return nil
}

// serializeLocked writes the gzip-framed device state. Caller holds p.mu.
func (p *Plugin) serializeLocked(w io.Writer) error {
	zw := gzip.NewWriter(w)
	fields := []uint32{
		stateVersion,
		p.config.Width,
		p.config.Height,
		uint32(p.config.Format),
		uint32(len(p.edid)),
	}
	for _, f := range fields {
		if err := binary.Write(zw, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	if err := binary.Write(zw, binary.LittleEndian, uint64(len(p.fb))); err != nil {
		return err
	}
	if _, err := zw.Write(p.edid); err != nil {
		return err
	}
	if _, err := zw.Write(p.fb); err != nil {
		return err
	}
	return zw.Close()
}

// installLocked decodes a serialized state blob and replaces the device
// state. Caller holds p.mu.
func (p *Plugin) installLocked(blob []byte) error {
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return vmerr.Ef(vmerr.InvalidArgument, "display.restore: %v", err)
	}
	defer zr.Close()

	var version, width, height, format, edidLen uint32
	var fbLen uint64
	for _, dst := range []interface{}{&version, &width, &height, &format, &edidLen} {
		if err := binary.Read(zr, binary.LittleEndian, dst); err != nil {
			return vmerr.Ef(vmerr.InvalidArgument, "display.restore: %v", err)
		}
	}
	if err := binary.Read(zr, binary.LittleEndian, &fbLen); err != nil {
		return vmerr.Ef(vmerr.InvalidArgument, "display.restore: %v", err)
	}
	if version != stateVersion {
		return vmerr.Ef(vmerr.InvalidArgument, "display.restore: state version %d", version)
	}

	edid := make([]byte, edidLen)
	if _, err := io.ReadFull(zr, edid); err != nil {
		return vmerr.Ef(vmerr.InvalidArgument, "display.restore: %v", err)
	}
	p.setMode(width, height, buffer.PixelFormat(format))
	if fbLen != uint64(len(p.fb)) {
		return vmerr.Ef(vmerr.InvalidArgument,
			"display.restore: framebuffer length %d does not match mode", fbLen)
	}
	if _, err := io.ReadFull(zr, p.fb); err != nil {
		return vmerr.Ef(vmerr.InvalidArgument, "display.restore: %v", err)
	}
	if edidLen > 0 {
		p.edid = edid
	} else {
		p.edid = nil
	}

	p.log.Info("device state restored",
		zap.Uint32("width", width),
		zap.Uint32("height", height))
	return nil
}
