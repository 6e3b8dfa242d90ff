// Package telemetry exposes Prometheus metrics for the plugin runtime:
// pipeline delivery and drop counters, buffer accounting, migration byte
// counters and stage gauges, and hotplug events.
package telemetry
