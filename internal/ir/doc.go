// Package ir holds the data model shared by every other privlog package:
// agent and event identifiers, signed envelopes, acknowledgements,
// sent-to-recipients receipts, parked entries and the bundles exchanged
// between agents.
//
// All other internal packages import ir; ir imports nothing internal.
//
// Key constraints:
//   - Records are immutable once signed; nothing here mutates a record
//   - Signatures cover the canonical JSON of the signed content only
//   - Identifiers are BLAKE3 keyed hashes of the canonical JSON of the
//     whole envelope, separated per record kind
//   - Timestamps are int64 microseconds since the Unix epoch; no floats
//   - All JSON and CBOR field names use snake_case
package ir
