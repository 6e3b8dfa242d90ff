// Package handle maps opaque numeric handles to owned runtime objects.
//
// Handles are how plugins name runtime objects without holding pointers into
// the runtime. Each object kind (plugin, mutex, event, ...) gets its own
// Table and therefore its own numeric space, with 0 reserved to mean "no
// object". Slots carry generation counters, so a handle that outlives its
// object resolves to not-found even if the slot has been reused.
package handle
