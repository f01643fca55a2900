// Package bytequeue owns the two single-producer/single-consumer byte buffers
// that bridge HTTP worker goroutines and application goroutines.
//
// Bounded is the inbound side: fixed capacity, blocking reads, graceful end.
// Growable is the outbound side: unbounded writes, drained whole on flush.
//
// Both queues call their handler without holding the queue lock, so a
// handler may call back into the queue.
package bytequeue
