// Package scheduler runs cron-triggered automated actions against servers.
//
// Schedules live in the store; the scheduler holds the active ones in
// memory with their parsed cron expressions and evaluates the whole set
// against wall-clock time once per tick. A job fires when all five cron
// fields (minute, hour, day-of-month, month, day-of-week) match the
// current instant, so with the default one-minute tick a job runs at most
// once per matching minute.
//
// # Job Lifecycle
//
//	Loaded ──▶ Scheduled ──▶ Due ──▶ Executing ──▶ Scheduled
//	              │
//	              └──▶ Removed (deleted or deactivated)
//
// Active schedules are loaded at Start. AddJob, RemoveJob, and UpdateJob
// keep the in-memory set in sync as the admin API mutates schedule
// records; deactivating a schedule removes it from the set immediately.
// ExecuteJob triggers a schedule outside its cadence.
//
// # Execution
//
// Due jobs run concurrently, one goroutine each, so a slow backend call
// for one server never delays other jobs or the next tick. A per-job
// in-flight flag prevents the same job from overlapping itself when an
// execution outlives the tick interval; the skipped occurrence is logged
// and dropped, not queued.
//
// Each execution updates the schedule's bookkeeping: last_run always,
// run_count on success, last_error on failure. A failing job stays
// active: its next cron match is its retry; there is no separate
// backoff path.
//
// # Cron Dialect
//
// Fields support `*`, exact integers, comma lists, inclusive ranges, and
// `*/n` steps. Steps match values divisible by n (so `*/15` fires at
// minutes 0, 15, 30, 45), and list members may mix integers and ranges.
// Names (JAN, MON) are not supported.
package scheduler
