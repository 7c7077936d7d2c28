package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/privlog/internal/ir"
)

// Outcome is the terminal state of a parked entry.
type Outcome string

const (
	OutcomeAdmitted Outcome = "admitted"
	OutcomeRejected Outcome = "rejected"
)

// InsertPrivateEvent appends an event under its content id.
// Uses ON CONFLICT(id) DO NOTHING for idempotency; inserted reports whether
// a new row was written.
//
// The caller computes id with ir.HashEvent and is responsible for having
// validated the entry; the store never interprets content.
func (s *Store) InsertPrivateEvent(ctx context.Context, id ir.EventID, e ir.PrivateEventEntry) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO private_events (id, author, event_type, timestamp, signature, content)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		string(id),
		string(e.Author),
		e.Event.EventType,
		int64(e.Event.Timestamp),
		e.Signature,
		nonNilBytes(e.Event.Content),
	)
	if err != nil {
		return false, fmt.Errorf("write private event: %w", err)
	}
	return rowsInserted(res)
}

// InsertAcknowledgement appends an acknowledgement. Duplicates, compared by
// their full signed value, are silently ignored.
func (s *Store) InsertAcknowledgement(ctx context.Context, a ir.Acknowledgement) (bool, error) {
	id, err := ir.HashAcknowledgement(a)
	if err != nil {
		return false, fmt.Errorf("write acknowledgement: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO acknowledgements (id, author, private_event_hash, timestamp, signature)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		id,
		string(a.Author),
		string(a.PrivateEventHash),
		int64(a.Timestamp),
		nonNilBytes(a.Signature),
	)
	if err != nil {
		return false, fmt.Errorf("write acknowledgement: %w", err)
	}
	return rowsInserted(res)
}

// InsertEventSent appends a sent-to-recipients record together with its
// per-recipient rows, in one transaction.
func (s *Store) InsertEventSent(ctx context.Context, rec ir.EventSentToRecipients) (bool, error) {
	id, err := ir.HashEventSent(rec)
	if err != nil {
		return false, fmt.Errorf("write event sent: %w", err)
	}
	recipients, err := marshalRecipients(rec.Recipients)
	if err != nil {
		return false, fmt.Errorf("write event sent: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write event sent: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events_sent_to_recipients (id, author, event_hash, timestamp, signature, recipients)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		id,
		string(rec.Author),
		string(rec.EventHash),
		int64(rec.Timestamp),
		nonNilBytes(rec.Signature),
		recipients,
	)
	if err != nil {
		return false, fmt.Errorf("write event sent: %w", err)
	}
	inserted, err := rowsInserted(res)
	if err != nil || !inserted {
		return false, err
	}

	for _, r := range rec.Recipients {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO event_sent_recipients (sent_id, event_hash, recipient, timestamp)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, id, string(rec.EventHash), string(r), int64(rec.Timestamp)); err != nil {
			return false, fmt.Errorf("write event sent recipient: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write event sent: commit: %w", err)
	}
	return true, nil
}

// InsertAwaiting parks an entry together with the event ids it waits on.
// Parking the same entry twice is a no-op.
func (s *Store) InsertAwaiting(ctx context.Context, a ir.AwaitingDependencies) (bool, error) {
	id, err := ir.HashAwaiting(a)
	if err != nil {
		return false, fmt.Errorf("write awaiting: %w", err)
	}
	record, err := marshalAwaiting(a)
	if err != nil {
		return false, fmt.Errorf("write awaiting: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write awaiting: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO awaiting_dependencies (id, kind, timestamp, record)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, string(a.Kind), int64(a.Timestamp()), record)
	if err != nil {
		return false, fmt.Errorf("write awaiting: %w", err)
	}
	inserted, err := rowsInserted(res)
	if err != nil || !inserted {
		return false, err
	}

	for _, dep := range a.Dependencies() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO awaiting_dependency_refs (awaiting_id, event_id)
			VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, id, string(dep)); err != nil {
			return false, fmt.Errorf("write awaiting ref: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write awaiting: commit: %w", err)
	}
	return true, nil
}

// ResolveAwaiting records the terminal outcome of a parked entry. Only the
// first outcome counts; later calls are ignored.
func (s *Store) ResolveAwaiting(ctx context.Context, awaitingID string, outcome Outcome, reason string, at ir.Timestamp) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO awaiting_outcomes (awaiting_id, outcome, reason, decided_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(awaiting_id) DO NOTHING
	`, awaitingID, string(outcome), reason, int64(at))
	if err != nil {
		return fmt.Errorf("write awaiting outcome: %w", err)
	}
	return nil
}

func rowsInserted(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// nonNilBytes keeps NOT NULL BLOB columns happy when a slice is nil.
func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
