package engine

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/privlog/internal/ir"
)

// Receive admits a Message bundle that provenance delivered. Entries are
// processed independently: an invalid entry is reported in the returned
// error but does not stop the rest of the bundle.
func (e *Engine) Receive(ctx context.Context, provenance ir.AgentID, msg ir.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.receive(ctx, provenance, msg)
}

// ReceiveBatch admits private events alone, as Receive does.
func (e *Engine) ReceiveBatch(ctx context.Context, provenance ir.AgentID, entries []ir.PrivateEventEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.receive(ctx, provenance, ir.Message{PrivateEvents: entries})
}

func (e *Engine) receive(ctx context.Context, provenance ir.AgentID, msg ir.Message) error {
	var errs []error

	admitted, err := e.receiveEvents(ctx, provenance, msg.PrivateEvents)
	if err != nil {
		errs = append(errs, err)
	}
	for _, rec := range msg.EventsSentToRecipients {
		if err := e.receiveEventSent(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	for _, ack := range msg.Acknowledgements {
		if err := e.receiveAcknowledgement(ctx, ack); err != nil {
			errs = append(errs, err)
		}
	}

	if admitted > 0 {
		if err := e.attemptCommitAwaitingDeps(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(fmt.Sprintf("receive from %s", provenance.Short()), errs)
}

type incoming struct {
	id    ir.EventID
	entry ir.PrivateEventEntry
}

// receiveEvents validates and admits entries in (timestamp, id) order and
// returns how many were newly admitted.
func (e *Engine) receiveEvents(ctx context.Context, provenance ir.AgentID, entries []ir.PrivateEventEntry) (int, error) {
	var errs []error
	batch := make([]incoming, 0, len(entries))
	for _, entry := range entries {
		id, err := ir.HashEvent(entry)
		if err != nil {
			errs = append(errs, newError(ErrCodeSerializationFailure, "", err, "hash received entry"))
			continue
		}
		batch = append(batch, incoming{id: id, entry: entry})
	}
	slices.SortFunc(batch, func(a, b incoming) int {
		if c := cmp.Compare(a.entry.Timestamp(), b.entry.Timestamp()); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	batch = slices.CompactFunc(batch, func(a, b incoming) bool { return a.id == b.id })

	admitted := 0
	for _, in := range batch {
		ok, err := e.receiveEvent(ctx, provenance, in)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			admitted++
		}
	}
	return admitted, joinErrors("private events", errs)
}

func (e *Engine) receiveEvent(ctx context.Context, provenance ir.AgentID, in incoming) (bool, error) {
	known, err := e.store.HasPrivateEvent(ctx, in.id)
	if err != nil {
		return false, err
	}
	if known {
		// Having the event is not the same as having told this peer so.
		if in.entry.Author != e.Self() && provenance != e.Self() {
			ev, _ := e.registry.Decode(in.entry.Event.Content)
			if err := e.acknowledge(ctx, in.id, in.entry, ev, provenance); err != nil {
				e.logger.Warn("re-acknowledgement failed", "id", shortID(in.id), "error", err)
			}
		}
		e.logger.Debug("duplicate event skipped", "id", shortID(in.id), "from", provenance.Short())
		return false, nil
	}

	_, ev, verdict, err := e.validateEntry(ctx, in.entry, in.id)
	if err != nil {
		return false, err
	}
	switch verdict.Kind {
	case VerdictValid:
		return e.admit(ctx, in.id, in.entry, ev)
	case VerdictUnresolved:
		parked, err := e.store.InsertAwaiting(ctx, ir.AwaitingEventEntry(in.entry, verdict.Dependencies))
		if err != nil {
			return false, fmt.Errorf("park %s: %w", shortID(in.id), err)
		}
		if parked {
			e.logger.Info("event awaiting dependencies",
				"id", shortID(in.id),
				"dependencies", len(verdict.Dependencies),
			)
		}
		return false, nil
	default:
		e.logger.Warn("rejected received event",
			"id", shortID(in.id),
			"from", provenance.Short(),
			"code", verdict.Code,
			"reason", verdict.Reason,
		)
		return false, verdictError(in.id, verdict)
	}
}

func (e *Engine) receiveAcknowledgement(ctx context.Context, ack ir.Acknowledgement) error {
	if err := e.verifyAcknowledgement(ack); err != nil {
		return err
	}
	present, err := e.store.HasPrivateEvent(ctx, ack.PrivateEventHash)
	if err != nil {
		return err
	}
	if !present {
		if _, err := e.store.InsertAwaiting(ctx, ir.AwaitingAck(ack)); err != nil {
			return fmt.Errorf("park acknowledgement: %w", err)
		}
		return nil
	}
	inserted, err := e.store.InsertAcknowledgement(ctx, ack)
	if err != nil {
		return fmt.Errorf("store acknowledgement: %w", err)
	}
	if inserted {
		e.logger.Info("acknowledgement received", "id", shortID(ack.PrivateEventHash), "by", ack.Author.Short())
	}
	return nil
}

func (e *Engine) receiveEventSent(ctx context.Context, rec ir.EventSentToRecipients) error {
	if err := e.verifyEventSent(rec); err != nil {
		return err
	}
	present, err := e.store.HasPrivateEvent(ctx, rec.EventHash)
	if err != nil {
		return err
	}
	if !present {
		if _, err := e.store.InsertAwaiting(ctx, ir.AwaitingSent(rec)); err != nil {
			return fmt.Errorf("park sent record: %w", err)
		}
		return nil
	}
	if _, err := e.store.InsertEventSent(ctx, rec); err != nil {
		return fmt.Errorf("store sent record: %w", err)
	}
	return nil
}
