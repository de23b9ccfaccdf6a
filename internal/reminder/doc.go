// Package reminder turns accepted appointments into one-shot reminder
// triggers and keeps a notification gateway in sync with them.
//
// # Compute
//
// Compute is pure: given an appointment, the current time and a set of
// offsets it returns the triggers whose fire time is still in the future.
// Each trigger carries a deterministic identifier ({appointmentID}-{label})
// that doubles as the idempotency key everywhere downstream.
//
// # Reconcile
//
// Reconciler is the imperative shell. On every snapshot it plans the desired
// triggers, diffs them against the persisted ledger and issues the minimal
// cancel/schedule calls. Appointments that leave the snapshot (or stop being
// accepted) are cancelled.
package reminder
