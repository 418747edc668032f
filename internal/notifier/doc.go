// Package notifier is the async push pipeline for outbound chat messages.
//
// Notify only enqueues. A worker pool drains the queue through a shared
// token-bucket limiter, retries transient send errors with jittered
// exponential backoff and reports the outcome on the event bus
// (notifier.queued, notifier.sent, notifier.failed, notifier.dropped).
package notifier
