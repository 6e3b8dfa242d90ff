// Package pipeline manages the ordered chain of device-emulation plugins
// attached to a virtual machine and routes message buffers along it.
//
// Plugins register bottom-up: each new registration attaches above the
// previous one, with the lowest plugin nearest the emulated device and the
// highest nearest the guest. Registration before Start yields a boot-time
// device; registration or unregistration while the machine runs surfaces
// as a hotplug event.
//
// The router delivers a buffer from a plugin to its immediate neighbor in
// the requested direction, subject to the neighbor's accepted-input-class
// set. Delivery is synchronous on the caller's goroutine, so a plugin's
// message callback must not block indefinitely.
package pipeline
