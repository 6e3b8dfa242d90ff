// Package config provides 12-factor configuration for the plugin runtime
// daemon.
//
// Runtime settings load from environment variables with sensible
// defaults; the pipeline topology (which plugins to attach, in what
// order, with what options) loads from a YAML file so operators can edit
// the chain without rebuilding.
//
// Configuration Sections:
//   - Admin: admin HTTP server settings (port, host)
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting on the admin surface
//   - Migration: state-stream chunk size and early-write queue depth
//   - Guest: emulated guest memory size
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	topo, err := config.LoadTopology(cfg.TopologyPath)
//
// Environment Variables:
//   - VMIO_PORT, VMIO_HOST, VMIO_TOPOLOGY
//   - VMIO_LOG_LEVEL, VMIO_LOG_DEV
//   - VMIO_RATE_LIMIT_RPS, VMIO_RATE_LIMIT_BURST
//   - VMIO_MIGRATION_CHUNK, VMIO_MIGRATION_PENDING
//   - VMIO_GUEST_MEMORY, VMIO_SHUTDOWN_TIMEOUT
package config
