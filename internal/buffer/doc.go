// Package buffer implements the reference-counted message buffers passed
// between pipeline plugins, plus the fixed wire headers carried in their
// payloads.
//
// A buffer starts with one reference held by its allocator. Any goroutine
// may add or drop holds; the drop that takes the count to zero releases the
// backing storage exactly once, and the buffer is poisoned against further
// use. Buffers wrapping foreign storage (guest-mapped memory) substitute
// their own release function instead of the default free.
package buffer
