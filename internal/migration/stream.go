package migration

import (
	"io"

	"github.com/GriffinCanCode/vmio/internal/pipeline"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// DefaultChunkSize is the transfer chunk used when a caller does not pick
// one.
const DefaultChunkSize = 64 * 1024

// Reader is the source side of a state stream.
type Reader interface {
	ReadDeviceBuffer(p []byte) (written, remaining uint64, err error)
}

// Writer is the destination side of a state stream.
type Writer interface {
	WriteDeviceBuffer(p []byte) error
}

// Save drains src into w in chunkSize pieces and returns the total byte
// count. The loop ends on the first call that reports zero remaining, so
// the end-of-stream condition is observed exactly once.
func Save(src Reader, w io.Writer, chunkSize int) (uint64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	var total uint64
	for {
		written, remaining, err := src.ReadDeviceBuffer(buf)
		if err != nil {
			return total, err
		}
		if written > uint64(len(buf)) {
			return total, vmerr.E(vmerr.Range, "migration.Save")
		}
		if written > 0 {
			if _, err := w.Write(buf[:written]); err != nil {
				return total, err
			}
			total += written
		}
		if remaining == 0 {
			return total, nil
		}
		if written == 0 {
			// Remaining state with no progress would loop forever.
			return total, vmerr.E(vmerr.Resource, "migration.Save")
		}
	}
}

// Restore feeds r into dst in chunkSize pieces until EOF and returns the
// total byte count. Chunking here is independent of the chunking used on
// the save side.
func Restore(dst Writer, r io.Reader, chunkSize int) (uint64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	var total uint64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if err := dst.WriteDeviceBuffer(buf[:n]); err != nil {
				return total, err
			}
			total += uint64(n)
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

// SaveLegacy runs a whole-state suspend through the legacy interface,
// writing the state to w and returning the length the plugin reported.
func SaveLegacy(s pipeline.StateSaver, w io.Writer) (uint64, error) {
	return s.SaveState(func(p []byte) error {
		_, err := w.Write(p)
		return err
	})
}

// RestoreLegacy runs a whole-state resume through the legacy interface,
// feeding total bytes from r.
func RestoreLegacy(s pipeline.StateSaver, r io.Reader, total uint64) error {
	return s.RestoreState(r.Read, total)
}

// SavePlugin saves p's device state to w, preferring the legacy
// whole-state interface when the plugin implements it.
func SavePlugin(p pipeline.Plugin, w io.Writer, chunkSize int) (uint64, error) {
	if ss, ok := p.(pipeline.StateSaver); ok {
		return SaveLegacy(ss, w)
	}
	return Save(p, w, chunkSize)
}

// RestorePlugin restores p's device state from r. The legacy interface
// needs the total length up front; streaming plugins ignore it.
func RestorePlugin(p pipeline.Plugin, r io.Reader, total uint64, chunkSize int) error {
	if ss, ok := p.(pipeline.StateSaver); ok {
		return RestoreLegacy(ss, r, total)
	}
	_, err := Restore(p, r, chunkSize)
	return err
}
