// Package migration implements the checkpoint and live-migration protocol
// for device-emulation plugins.
//
// Each migratable device gets a Controller that enforces the stage cycle
// (none, pre-copy, stop-and-copy, resume, back to none) and the windows in
// which device state may be read out or written back. State travels as an
// opaque byte stream: the concatenation of all reads on the source equals
// the concatenation of all writes on the destination, independent of how
// either side chunks it.
//
// Writes may arrive before the destination plugin has finished
// initializing. The controller absorbs them into a bounded queue and, once
// the queue fills, blocks the writer until the plugin is ready. Tearing a
// controller down mid-stream releases blocked writers with a timeout
// error.
package migration
