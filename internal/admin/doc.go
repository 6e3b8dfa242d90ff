// Package admin exposes the runtime's operational surface over HTTP: a
// health probe, the live pipeline layout, migration stage control, the
// Prometheus metrics endpoint, and the websocket frame stream for
// presentation viewers.
//
// The surface is operator-facing, not guest-facing; it carries CORS and
// per-IP rate limiting and nothing on it is required for the pipeline to
// run.
package admin
