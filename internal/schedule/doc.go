// Package schedule computes alarm due instants from a recurrence rule.
//
// Everything here is pure: no I/O, no state, no clocks. Callers pass the
// reference instant explicitly, which keeps the math testable and makes
// recomputation idempotent (same config + same "from" = same result).
//
// # DST and day counting
//
// The alarm time is stored as local wall-clock hour/minute, never as an
// absolute timestamp, so it survives timezone and DST shifts. Day parity for
// every-other-day recurrence is computed on UTC-normalized midnights: a DST
// transition day is 23h or 25h long in local time, and dividing a local
// difference by 24h would corrupt the parity check.
package schedule
