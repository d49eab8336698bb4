// Package notifier delivers chat messages through a transport adapter.
//
// Two paths share one rate limiter and one retry policy:
//
//   - Send / SendObserved deliver synchronously. The monitor's dispatcher
//     uses them so that every attempt can be recorded and sends for one
//     scan stay ordered.
//   - Notify enqueues a fire-and-forget message (health advisories) for
//     the worker pool, with optional dedup that survives restarts when a
//     store is configured.
//
// Retries back off exponentially with 0.7..1.3 jitter. A transport
// RetryAfterError stretches the delay to what the platform asked for; a
// PermanentError is never retried.
package notifier
