package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/privlog/internal/ir"
	"github.com/roach88/privlog/internal/store"
	"github.com/roach88/privlog/internal/transport"
)

// ackMessageID is the durable message id of the acknowledgement for an
// event, so that re-sending it replaces the pending copy.
func ackMessageID(id ir.EventID) string { return "ack/" + string(id) }

// ownAcknowledgement returns the local agent's acknowledgement of id,
// creating and storing it when absent.
func (e *Engine) ownAcknowledgement(ctx context.Context, id ir.EventID) (ir.Acknowledgement, bool, error) {
	self := e.Self()
	existing, found, err := e.store.FindAcknowledgement(ctx, self, id)
	if err != nil {
		return ir.Acknowledgement{}, false, err
	}
	if found {
		return existing, false, nil
	}

	ack := ir.Acknowledgement{Author: self, Timestamp: e.clock.Now(), PrivateEventHash: id}
	sig, err := e.sign(ack.Content())
	if err != nil {
		return ir.Acknowledgement{}, false, err
	}
	ack.Signature = sig
	if _, err := e.store.InsertAcknowledgement(ctx, ack); err != nil {
		return ir.Acknowledgement{}, false, fmt.Errorf("store acknowledgement: %w", err)
	}
	return ack, true, nil
}

// acknowledge sends the local acknowledgement of an event to its author
// and its other recipients, plus extra when set. Nothing happens for
// events the local agent authored.
func (e *Engine) acknowledge(ctx context.Context, id ir.EventID, entry ir.PrivateEventEntry, ev PrivateEvent, extra ir.AgentID) error {
	self := e.Self()
	if entry.Author == self {
		return nil
	}
	ack, created, err := e.ownAcknowledgement(ctx, id)
	if err != nil {
		return err
	}

	recipients := ir.NewAgentSet(entry.Author)
	if ev != nil {
		others, err := e.recipientsOf(ctx, entry, ev)
		if err != nil {
			// The author alone still terminates the resend loop.
			e.logger.Debug("acknowledgement recipients fall back to author", "id", shortID(id), "error", err)
		} else {
			recipients = recipients.Union(others)
		}
	}
	if extra != "" {
		recipients = recipients.Union(ir.NewAgentSet(extra))
	}
	recipients = recipients.Without(self)

	if e.transport == nil {
		return nil
	}
	msg := ir.Message{Acknowledgements: []ir.Acknowledgement{ack}}
	if err := e.transport.SendSignal(ctx, msg, recipients); err != nil {
		e.logger.Debug("acknowledgement signal failed", "id", shortID(id), "error", err)
	}
	if err := e.transport.SendDurable(ctx, msg, recipients, ackMessageID(id)); err != nil && !errors.Is(err, transport.ErrUnavailable) {
		return fmt.Errorf("send acknowledgement %s: %w", shortID(id), err)
	}
	e.logger.Debug("acknowledgement sent",
		"id", shortID(id),
		"new", created,
		"recipients", len(recipients),
	)
	return nil
}

// CreateAcknowledgements acknowledges every stored event from another
// author that the local agent has not acknowledged yet.
func (e *Engine) CreateAcknowledgements(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createAcknowledgements(ctx)
}

func (e *Engine) createAcknowledgements(ctx context.Context) error {
	self := e.Self()
	events, err := e.store.PrivateEvents(ctx, store.EventFilter{ByTimestamp: true})
	if err != nil {
		return fmt.Errorf("acknowledgement sweep: %w", err)
	}
	acked, err := e.store.AcknowledgedBy(ctx)
	if err != nil {
		return fmt.Errorf("acknowledgement sweep: %w", err)
	}

	var errs []error
	for _, stored := range events {
		if stored.Entry.Author == self || acked[stored.ID].Contains(self) {
			continue
		}
		// An event that no longer decodes is still acknowledged to its author.
		ev, _ := e.registry.Decode(stored.Entry.Event.Content)
		if err := e.acknowledge(ctx, stored.ID, stored.Entry, ev, ""); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors("acknowledgement sweep", errs)
}
