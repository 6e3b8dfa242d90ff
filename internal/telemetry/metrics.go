package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for one runtime instance.
type Metrics struct {
	// Pipeline metrics
	Deliveries      *prometheus.CounterVec
	DeliveryDrops   *prometheus.CounterVec
	PluginsAttached prometheus.Gauge
	HotplugEvents   *prometheus.CounterVec

	// Buffer metrics
	BuffersAllocated prometheus.Counter
	BuffersFreed     prometheus.Counter
	BuffersInFlight  prometheus.Gauge

	// Migration metrics
	MigrationStage *prometheus.GaugeVec
	BytesSaved     prometheus.Counter
	BytesRestored  prometheus.Counter

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector on its own registry, so parallel
// runtimes in one process (and tests) never collide on metric names.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := func(c prometheus.Collector) prometheus.Collector {
		reg.MustRegister(c)
		return c
	}

	m := &Metrics{
		startTime: time.Now(),
		registry:  reg,

		Deliveries: factory(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmio_pipeline_deliveries_total",
				Help: "Messages delivered to a neighbor plugin",
			},
			[]string{"source_class", "direction"},
		)).(*prometheus.CounterVec),
		DeliveryDrops: factory(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmio_pipeline_drops_total",
				Help: "Deliveries that found no eligible neighbor",
			},
			[]string{"source_class", "direction", "reason"},
		)).(*prometheus.CounterVec),
		PluginsAttached: factory(prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vmio_plugins_attached",
				Help: "Plugins currently registered in the pipeline",
			},
		)).(prometheus.Gauge),
		HotplugEvents: factory(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vmio_hotplug_events_total",
				Help: "Hotplug add/remove events while the machine is running",
			},
			[]string{"kind"},
		)).(*prometheus.CounterVec),

		BuffersAllocated: factory(prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vmio_buffers_allocated_total",
				Help: "Message buffers allocated",
			},
		)).(prometheus.Counter),
		BuffersFreed: factory(prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vmio_buffers_freed_total",
				Help: "Message buffers whose last reference was dropped",
			},
		)).(prometheus.Counter),
		BuffersInFlight: factory(prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vmio_buffers_in_flight",
				Help: "Message buffers currently alive",
			},
		)).(prometheus.Gauge),

		MigrationStage: factory(prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vmio_migration_stage",
				Help: "Current migration stage per device (0=none 1=pre-copy 2=stop-and-copy 3=resume)",
			},
			[]string{"device"},
		)).(*prometheus.GaugeVec),
		BytesSaved: factory(prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vmio_migration_bytes_saved_total",
				Help: "Device state bytes read out during checkpoint/migration",
			},
		)).(prometheus.Counter),
		BytesRestored: factory(prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vmio_migration_bytes_restored_total",
				Help: "Device state bytes written back during restore",
			},
		)).(prometheus.Counter),

		Uptime: factory(prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vmio_uptime_seconds",
				Help: "Runtime uptime in seconds",
			},
		)).(prometheus.Gauge),
	}

	return m
}

// Registry returns the prometheus registry backing the collector, for
// handler wiring.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// TickUptime refreshes the uptime gauge.
func (m *Metrics) TickUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}

// RecordDelivery records a successful neighbor delivery.
func (m *Metrics) RecordDelivery(sourceClass, direction string) {
	m.Deliveries.WithLabelValues(sourceClass, direction).Inc()
}

// RecordDrop records a delivery that found no eligible neighbor.
func (m *Metrics) RecordDrop(sourceClass, direction, reason string) {
	m.DeliveryDrops.WithLabelValues(sourceClass, direction, reason).Inc()
}

// RecordHotplug records a hotplug add or remove.
func (m *Metrics) RecordHotplug(kind string) {
	m.HotplugEvents.WithLabelValues(kind).Inc()
}

// RecordBufferAlloc records one buffer allocation.
func (m *Metrics) RecordBufferAlloc() {
	m.BuffersAllocated.Inc()
	m.BuffersInFlight.Inc()
}

// RecordBufferFree records one buffer reaching zero references.
func (m *Metrics) RecordBufferFree() {
	m.BuffersFreed.Inc()
	m.BuffersInFlight.Dec()
}

// SetPluginsAttached sets the attached-plugin gauge.
func (m *Metrics) SetPluginsAttached(n int) {
	m.PluginsAttached.Set(float64(n))
}

// SetMigrationStage records the stage a device is in.
func (m *Metrics) SetMigrationStage(device string, stage int) {
	m.MigrationStage.WithLabelValues(device).Set(float64(stage))
}

// AddBytesSaved accumulates checkpoint read output.
func (m *Metrics) AddBytesSaved(n int) {
	m.BytesSaved.Add(float64(n))
}

// AddBytesRestored accumulates restore write input.
func (m *Metrics) AddBytesRestored(n int) {
	m.BytesRestored.Add(float64(n))
}
