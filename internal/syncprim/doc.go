// Package syncprim provides the handle-addressed synchronization primitives
// plugins coordinate with: mutexes, events, condition variables, and
// runtime-managed threads.
//
// All waits take an absolute deadline, not a relative duration. The zero
// time means "no limit"; a deadline already in the past degenerates to a
// zero-wait poll. Expired waits report a timeout code, never a hang.
//
// Events support two wake policies chosen by the poster: wake the first
// waiter and leave the event clear, or set the event and wake everyone.
// An event posted with no waiters stays set for the next one.
package syncprim
