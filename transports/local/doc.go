// Package local implements the single-process voicebus engine.
//
// Every topic gets two lazily started workers:
//   - an event worker draining a bounded FIFO; events are broadcast to all
//     matching handlers, failures are logged and never retried, and events
//     that do not fit the queue are dropped with a warning
//   - a command worker draining a bounded priority queue ordered by
//     (priority, sequence); failures are retried with exponential backoff and
//     exhausted commands are moved to the dead-letter store
//
// Publishers never block: a full command queue fails the publish with
// *contracts.QueueFullError. Delivery is at-most-once per attempt; work still
// queued when Stop is called is abandoned.
package local
