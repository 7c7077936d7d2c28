package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/privlog/internal/ir"
)

// StoredEvent pairs an entry with the content id it was stored under.
type StoredEvent struct {
	ID    ir.EventID
	Entry ir.PrivateEventEntry
}

// StoredAwaiting pairs a parked entry with its content id.
type StoredAwaiting struct {
	ID    string
	Entry ir.AwaitingDependencies
}

// GetPrivateEvent returns the event stored under id.
// Returns (entry, true, nil) if found, (zero, false, nil) if not found.
func (s *Store) GetPrivateEvent(ctx context.Context, id ir.EventID) (ir.PrivateEventEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, author, event_type, timestamp, signature, content
		FROM private_events
		WHERE id = ?
	`, string(id))
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.PrivateEventEntry{}, false, nil
	}
	if err != nil {
		return ir.PrivateEventEntry{}, false, fmt.Errorf("get private event: %w", err)
	}
	return ev.Entry, true, nil
}

// HasPrivateEvent reports whether id is stored.
func (s *Store) HasPrivateEvent(ctx context.Context, id ir.EventID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM private_events WHERE id = ?`, string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has private event: %w", err)
	}
	return true, nil
}

// PrivateEvents scans events matching f.
// Returns empty slice (not nil) if none match.
func (s *Store) PrivateEvents(ctx context.Context, f EventFilter) ([]StoredEvent, error) {
	suffix, params := f.compile()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, author, event_type, timestamp, signature, content
		FROM private_events`+suffix, params...)
	if err != nil {
		return nil, fmt.Errorf("query private events: %w", err)
	}
	defer rows.Close()

	events := []StoredEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate private events: %w", err)
	}
	return events, nil
}

// PrivateEventIDs returns every stored event id in insertion order.
func (s *Store) PrivateEventIDs(ctx context.Context) ([]ir.EventID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM private_events ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query event ids: %w", err)
	}
	defer rows.Close()

	ids := []ir.EventID{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event id: %w", err)
		}
		ids = append(ids, ir.EventID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event ids: %w", err)
	}
	return ids, nil
}

// Acknowledgements returns every stored acknowledgement in insertion order.
func (s *Store) Acknowledgements(ctx context.Context) ([]ir.Acknowledgement, error) {
	return s.queryAcknowledgements(ctx, `
		SELECT author, private_event_hash, timestamp, signature
		FROM acknowledgements
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
}

// AcknowledgementsFor returns the acknowledgements of one event.
func (s *Store) AcknowledgementsFor(ctx context.Context, eventID ir.EventID) ([]ir.Acknowledgement, error) {
	return s.queryAcknowledgements(ctx, `
		SELECT author, private_event_hash, timestamp, signature
		FROM acknowledgements
		WHERE private_event_hash = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, string(eventID))
}

// FindAcknowledgement returns the earliest acknowledgement of eventID by author.
func (s *Store) FindAcknowledgement(ctx context.Context, author ir.AgentID, eventID ir.EventID) (ir.Acknowledgement, bool, error) {
	acks, err := s.queryAcknowledgements(ctx, `
		SELECT author, private_event_hash, timestamp, signature
		FROM acknowledgements
		WHERE private_event_hash = ? AND author = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
		LIMIT 1
	`, string(eventID), string(author))
	if err != nil || len(acks) == 0 {
		return ir.Acknowledgement{}, false, err
	}
	return acks[0], true, nil
}

// AcknowledgedBy returns, per event id, the set of agents that acknowledged it.
func (s *Store) AcknowledgedBy(ctx context.Context) (map[ir.EventID]ir.AgentSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT private_event_hash, author
		FROM acknowledgements
		ORDER BY private_event_hash COLLATE BINARY ASC, author COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query acknowledged by: %w", err)
	}
	defer rows.Close()

	out := make(map[ir.EventID]ir.AgentSet)
	for rows.Next() {
		var event, author string
		if err := rows.Scan(&event, &author); err != nil {
			return nil, fmt.Errorf("scan acknowledged by: %w", err)
		}
		// Rows arrive sorted, so appending keeps each set sorted.
		out[ir.EventID(event)] = append(out[ir.EventID(event)], ir.AgentID(author))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate acknowledged by: %w", err)
	}
	return out, nil
}

func (s *Store) queryAcknowledgements(ctx context.Context, query string, args ...any) ([]ir.Acknowledgement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query acknowledgements: %w", err)
	}
	defer rows.Close()

	acks := []ir.Acknowledgement{}
	for rows.Next() {
		var a ir.Acknowledgement
		var author, event string
		var ts int64
		if err := rows.Scan(&author, &event, &ts, &a.Signature); err != nil {
			return nil, fmt.Errorf("scan acknowledgement: %w", err)
		}
		a.Author = ir.AgentID(author)
		a.PrivateEventHash = ir.EventID(event)
		a.Timestamp = ir.Timestamp(ts)
		acks = append(acks, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate acknowledgements: %w", err)
	}
	return acks, nil
}

// EventsSent returns every sent-to-recipients record in insertion order.
func (s *Store) EventsSent(ctx context.Context) ([]ir.EventSentToRecipients, error) {
	return s.queryEventsSent(ctx, `
		SELECT author, event_hash, timestamp, signature, recipients
		FROM events_sent_to_recipients
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
}

// EventsSentFor returns the sent-to-recipients records of one event.
func (s *Store) EventsSentFor(ctx context.Context, eventID ir.EventID) ([]ir.EventSentToRecipients, error) {
	return s.queryEventsSent(ctx, `
		SELECT author, event_hash, timestamp, signature, recipients
		FROM events_sent_to_recipients
		WHERE event_hash = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, string(eventID))
}

// LastSent returns, per recipient, the most recent timestamp at which
// eventID was recorded as sent to them.
func (s *Store) LastSent(ctx context.Context, eventID ir.EventID) (map[ir.AgentID]ir.Timestamp, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT recipient, MAX(timestamp)
		FROM event_sent_recipients
		WHERE event_hash = ?
		GROUP BY recipient
		ORDER BY recipient COLLATE BINARY ASC
	`, string(eventID))
	if err != nil {
		return nil, fmt.Errorf("query last sent: %w", err)
	}
	defer rows.Close()

	out := make(map[ir.AgentID]ir.Timestamp)
	for rows.Next() {
		var recipient string
		var ts int64
		if err := rows.Scan(&recipient, &ts); err != nil {
			return nil, fmt.Errorf("scan last sent: %w", err)
		}
		out[ir.AgentID(recipient)] = ir.Timestamp(ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate last sent: %w", err)
	}
	return out, nil
}

func (s *Store) queryEventsSent(ctx context.Context, query string, args ...any) ([]ir.EventSentToRecipients, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events sent: %w", err)
	}
	defer rows.Close()

	records := []ir.EventSentToRecipients{}
	for rows.Next() {
		var rec ir.EventSentToRecipients
		var author, event, recipients string
		var ts int64
		if err := rows.Scan(&author, &event, &ts, &rec.Signature, &recipients); err != nil {
			return nil, fmt.Errorf("scan event sent: %w", err)
		}
		rec.Author = ir.AgentID(author)
		rec.EventHash = ir.EventID(event)
		rec.Timestamp = ir.Timestamp(ts)
		if rec.Recipients, err = unmarshalRecipients(recipients); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events sent: %w", err)
	}
	return records, nil
}

// PendingAwaiting returns parked entries that have no outcome yet, sorted
// by timestamp ascending with the content id as tiebreaker.
func (s *Store) PendingAwaiting(ctx context.Context) ([]StoredAwaiting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.record
		FROM awaiting_dependencies a
		WHERE NOT EXISTS (SELECT 1 FROM awaiting_outcomes o WHERE o.awaiting_id = a.id)
		ORDER BY a.timestamp ASC, a.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query awaiting: %w", err)
	}
	defer rows.Close()

	entries := []StoredAwaiting{}
	for rows.Next() {
		var id, record string
		if err := rows.Scan(&id, &record); err != nil {
			return nil, fmt.Errorf("scan awaiting: %w", err)
		}
		a, err := unmarshalAwaiting(record)
		if err != nil {
			return nil, err
		}
		entries = append(entries, StoredAwaiting{ID: id, Entry: a})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate awaiting: %w", err)
	}
	return entries, nil
}

// AwaitingOutcome returns the recorded outcome of a parked entry, if any.
func (s *Store) AwaitingOutcome(ctx context.Context, awaitingID string) (Outcome, string, bool, error) {
	var outcome, reason string
	err := s.db.QueryRowContext(ctx, `
		SELECT outcome, reason FROM awaiting_outcomes WHERE awaiting_id = ?
	`, awaitingID).Scan(&outcome, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("get awaiting outcome: %w", err)
	}
	return Outcome(outcome), reason, true, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (StoredEvent, error) {
	var ev StoredEvent
	var id, author string
	var ts int64
	if err := sc.Scan(&id, &author, &ev.Entry.Event.EventType, &ts, &ev.Entry.Signature, &ev.Entry.Event.Content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StoredEvent{}, err
		}
		return StoredEvent{}, fmt.Errorf("scan private event: %w", err)
	}
	ev.ID = ir.EventID(id)
	ev.Entry.Author = ir.AgentID(author)
	ev.Entry.Event.Timestamp = ir.Timestamp(ts)
	return ev, nil
}
