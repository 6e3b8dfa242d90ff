// Package hostenv defines the services the hosting environment provides
// to device-emulation plugins: guest memory access, device-emulation
// registration, interrupt delivery, and per-plugin configuration.
//
// The runtime consumes these through interfaces; a hypervisor embedding
// the runtime supplies the real implementation. The in-memory Env in this
// package backs guest memory with byte slices and records interrupt and
// dirty-page activity, which is enough for the demo daemon and for tests.
//
// Pinning guest pages can stall on host memory pressure, so it is illegal
// from inside an emulation or message callback. Callback scope travels in
// the context: dispatch paths mark the context they hand to handlers, and
// the pin operations check the mark.
package hostenv
