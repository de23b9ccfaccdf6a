// Package storage persists pawremind's runtime state.
//
// It holds:
//   - The ledger of currently scheduled reminder identifiers
//   - Notifier dedup state (to survive restarts)
//   - An append-only delivery log
//
// Drivers: "memory", "file" (jsonl journal + snapshot), "sqlite" and "redis".
package storage
