package migration

import (
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/vmio/internal/logging"
	"github.com/GriffinCanCode/vmio/internal/pipeline"
	"github.com/GriffinCanCode/vmio/internal/telemetry"
	"github.com/GriffinCanCode/vmio/internal/types"
	"github.com/GriffinCanCode/vmio/internal/vmerr"
)

// DefaultPendingWrites is the number of restore chunks buffered before a
// writer blocks waiting for plugin initialization.
const DefaultPendingWrites = 64

// Options configures a Controller.
type Options struct {
	Logger  *logging.Logger
	Metrics *telemetry.Metrics
	// PendingWrites bounds the early-write queue. Zero means
	// DefaultPendingWrites.
	PendingWrites int
}

// Controller drives the migration protocol for one device. It owns the
// stage state machine and gates state reads and writes on it.
type Controller struct {
	device string
	plugin pipeline.Plugin

	log     *logging.Logger
	metrics *telemetry.Metrics

	// transition serializes NotifyStage end to end, so two callers cannot
	// both validate against the same previous stage and hand the plugin
	// duplicate or out-of-order notifications.
	transition sync.Mutex

	mu      sync.Mutex
	stage   types.Stage
	ready   bool
	closed  bool
	pending *queue.Queue
	cap     int

	readyCh chan struct{}
	closeCh chan struct{}
}

// NewController creates a controller for the named device. The plugin is
// not assumed initialized yet; writes arriving before Ready is called are
// buffered or blocked.
func NewController(device string, p pipeline.Plugin, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewMetrics()
	}
	if opts.PendingWrites <= 0 {
		opts.PendingWrites = DefaultPendingWrites
	}
	return &Controller{
		device:  device,
		plugin:  p,
		log:     opts.Logger.Named("migration"),
		metrics: opts.Metrics,
		stage:   types.StageNone,
		pending: queue.New(),
		cap:     opts.PendingWrites,
		readyCh: make(chan struct{}),
		closeCh: make(chan struct{}),
	}
}

// Stage returns the device's current migration stage.
func (c *Controller) Stage() types.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// NotifyStage advances the device to the given stage. Transitions that do
// not follow the protocol cycle are rejected with invalid-argument without
// reaching the plugin; a fall back to the idle stage is always legal.
// Concurrent callers are serialized, so the plugin sees transitions in
// commit order.
func (c *Controller) NotifyStage(stage types.Stage) error {
	c.transition.Lock()
	defer c.transition.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return vmerr.Ef(vmerr.Timeout, "migration.NotifyStage: %s closed", c.device)
	}
	if !stage.Valid() || !stage.CanFollow(c.stage) {
		prev := c.stage
		c.mu.Unlock()
		return vmerr.Ef(vmerr.InvalidArgument,
			"migration.NotifyStage: %s cannot enter %s from %s", c.device, stage, prev)
	}
	c.mu.Unlock()

	if err := c.plugin.NotifyStage(stage); err != nil {
		return err
	}

	c.mu.Lock()
	c.stage = stage
	c.mu.Unlock()

	c.metrics.SetMigrationStage(c.device, int(stage))
	c.log.Info("stage transition",
		zap.String("device", c.device),
		zap.String("stage", stage.String()))
	return nil
}

// ReadDeviceBuffer reads a chunk of serialized device state. It is legal
// only while the device is in pre-copy or stop-and-copy.
func (c *Controller) ReadDeviceBuffer(p []byte) (uint64, uint64, error) {
	c.mu.Lock()
	stage := c.stage
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return 0, 0, vmerr.Ef(vmerr.Timeout, "migration.ReadDeviceBuffer: %s closed", c.device)
	}
	if stage != types.StagePreCopy && stage != types.StageStopAndCopy {
		return 0, 0, vmerr.Ef(vmerr.InvalidArgument,
			"migration.ReadDeviceBuffer: %s not in a copy stage (in %s)", c.device, stage)
	}

	written, remaining, err := c.plugin.ReadDeviceBuffer(p)
	if err != nil {
		return written, remaining, err
	}
	c.metrics.AddBytesSaved(int(written))
	return written, remaining, nil
}

// WriteDeviceBuffer restores one chunk of device state. It is accepted as
// soon as the controller exists: chunks arriving before Ready are queued,
// and once the queue fills the writer blocks until the plugin finishes
// initializing. Close releases blocked writers with a timeout error.
func (c *Controller) WriteDeviceBuffer(p []byte) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return vmerr.Ef(vmerr.Timeout, "migration.WriteDeviceBuffer: %s closed", c.device)
		}
		if c.ready {
			c.mu.Unlock()
			return c.writeThrough(p)
		}
		if c.pending.Length() < c.cap {
			// The plugin may not look at the chunk until after this
			// call returns, so it gets its own copy.
			chunk := make([]byte, len(p))
			copy(chunk, p)
			c.pending.Add(chunk)
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		select {
		case <-c.readyCh:
		case <-c.closeCh:
			return vmerr.Ef(vmerr.Timeout, "migration.WriteDeviceBuffer: %s closed", c.device)
		}
	}
}

// writeThrough hands one chunk to the plugin and accounts for it.
func (c *Controller) writeThrough(p []byte) error {
	if err := c.plugin.WriteDeviceBuffer(p); err != nil {
		return err
	}
	c.metrics.AddBytesRestored(len(p))
	return nil
}

// Ready marks the plugin initialized. Queued early writes flush to the
// plugin in arrival order before any blocked writer proceeds.
func (c *Controller) Ready() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return vmerr.Ef(vmerr.Timeout, "migration.Ready: %s closed", c.device)
	}
	if c.ready {
		c.mu.Unlock()
		return nil
	}

	var flush [][]byte
	for c.pending.Length() > 0 {
		flush = append(flush, c.pending.Remove().([]byte))
	}
	c.ready = true
	close(c.readyCh)
	c.mu.Unlock()

	for _, chunk := range flush {
		if err := c.writeThrough(chunk); err != nil {
			return err
		}
	}
	if len(flush) > 0 {
		c.log.Debug("flushed early restore writes",
			zap.String("device", c.device),
			zap.Int("chunks", len(flush)))
	}
	return nil
}

// Close tears the controller down. Queued chunks are dropped and writers
// blocked on the queue fail with a timeout error. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for c.pending.Length() > 0 {
		c.pending.Remove()
	}
	close(c.closeCh)
}
