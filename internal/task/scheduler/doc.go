// Package scheduler owns time-based triggers: cron expressions, fixed
// intervals, daily HH:MM jobs and one-shot timers keyed by name.
//
// Jobs run on goroutines owned by a runtime supervisor, with a per-job
// timeout and panic recovery. Recurring jobs never overlap with themselves;
// a trigger that fires while the previous run is still active is skipped.
//
// One-shot timers survive Stop/Start: the definition is kept and the timer is
// re-armed on the next Start. Registering a name again replaces the previous
// definition, which makes AddOnce an upsert.
package scheduler
