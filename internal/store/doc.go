// Package store provides the SQLite-backed local log of one agent.
//
// The store is append-only and content-addressed:
//   - private_events: signed event envelopes keyed by EventID
//   - acknowledgements: proofs of receipt, keyed by their own content id
//   - events_sent_to_recipients: delivery attempts, with one row per
//     recipient in event_sent_recipients for last-sent lookups
//   - awaiting_dependencies: entries parked on absent event ids, plus
//     awaiting_outcomes recording when a parked entry was admitted or
//     rejected
//
// Nothing is updated or deleted. Inserting an existing id is a no-op
// (ON CONFLICT DO NOTHING), so every write is idempotent.
//
// # Deterministic Scans
//
// All queries end with a total order, by default
// ORDER BY seq ASC, id COLLATE BINARY ASC, so repeated scans return rows
// in the same order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The store never validates or interprets records. Callers compute ids in
// package ir and decide what may be admitted.
package store
