package pipeline

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vmio/internal/buffer"
	"github.com/GriffinCanCode/vmio/internal/handle"
	"github.com/GriffinCanCode/vmio/internal/types"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// Deliver hands buf from the plugin named by caller to its immediate
// neighbor in the given direction. The neighbor must list the buffer's
// source class among its accepted input classes; otherwise, or when the
// caller sits at the chain end, the delivery fails with not-found and the
// buffer is not consumed. Delivery is synchronous: the neighbor's
// PutMessage runs on the caller's goroutine, and the caller's reference
// covers the call.
func (r *Registry) Deliver(caller handle.Handle, buf *buffer.Buffer, dir types.Direction) error {
	if buf == nil || !buf.Valid() {
		return vmerr.E(vmerr.InvalidArgument, "pipeline.Deliver")
	}
	if dir != types.Up && dir != types.Down {
		return vmerr.E(vmerr.InvalidArgument, "pipeline.Deliver")
	}

	r.mu.RLock()
	e, err := r.table.Get(caller)
	if err != nil {
		r.mu.RUnlock()
		return err
	}
	next := r.neighborLocked(e, dir == types.Up)
	r.mu.RUnlock()

	src := buf.SourceClass()
	if next == nil {
		r.metrics.RecordDrop(src.String(), dir.String(), "chain-end")
		return vmerr.Ef(vmerr.NotFound, "pipeline.Deliver: no plugin %s of %s", dir, e.desc.Name)
	}
	if !next.desc.InputClasses.Contains(src) {
		r.metrics.RecordDrop(src.String(), dir.String(), "filtered")
		r.log.Debug("delivery filtered",
			zap.String("from", e.desc.Name),
			zap.String("to", next.desc.Name),
			zap.String("source_class", src.String()))
		return vmerr.Ef(vmerr.NotFound, "pipeline.Deliver: %s does not accept %s input", next.desc.Name, src)
	}

	if err := next.plugin.PutMessage(buf); err != nil {
		return err
	}
	r.metrics.RecordDelivery(src.String(), dir.String())
	return nil
}
