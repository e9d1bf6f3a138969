// Package store is the durable coordination point between the foreground
// scheduler and the background monitor.
//
// It holds exactly one schedule record (the single source of truth) plus two
// side tables:
//   - ring_log: every fired alert, for the statistics surface
//   - push_subscriptions: Web Push endpoints for the platform alert channel
//
// The contexts share no memory, so every schedule mutation goes through
// Update(), a full read-modify-write inside one transaction. Interleaved
// partial-field writes would corrupt the consumed markers and cause a
// missed or doubled alert.
package store
