// Package notifier is the async delivery pipeline for reminders and operator
// notices.
//
// Notify enqueues a transport.Notification; a small worker pool sends it
// through the configured transport.Sender under a shared rate limit, retrying
// with jittered exponential backoff.
//
// # Dedup
//
// A notification carrying a Key (reminders use their {appointmentID}-{label}
// identifier) is suppressed while a previous delivery with the same key is
// inside the dedup window. Without a Key the channel, target and text are
// hashed instead. With PersistDedup the marks are also written to storage so
// a restart right around a fire time does not deliver twice.
//
// # Delivery log
//
// Every successful send is appended to storage as a DeliveryRecord.
package notifier
