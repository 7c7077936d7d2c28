package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/privlog/internal/ir"
	"github.com/roach88/privlog/internal/store"
	"github.com/roach88/privlog/internal/transport"
)

// recipientsOf computes who should hold an event: the application's
// recipients plus the author's linked devices, minus the author and the
// local agent.
func (e *Engine) recipientsOf(ctx context.Context, entry ir.PrivateEventEntry, ev PrivateEvent) (ir.AgentSet, error) {
	appRecipients, err := ev.Recipients(ctx, view{e}, entry.Author, entry.Event.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("recipients of %s: %w", entry.Event.EventType, err)
	}
	devices, err := e.linkedDevices(ctx, entry.Author)
	if err != nil {
		return nil, err
	}
	return appRecipients.Union(devices).Without(entry.Author, e.Self()), nil
}

func (e *Engine) linkedDevices(ctx context.Context, agent ir.AgentID) (ir.AgentSet, error) {
	if e.directory == nil {
		return nil, nil
	}
	devices, err := e.directory.LinkedDevices(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("linked devices of %s: %w", agent.Short(), err)
	}
	return devices, nil
}

// newSentRecord signs a fresh EventSentToRecipients.
func (e *Engine) newSentRecord(id ir.EventID, recipients ir.AgentSet) (ir.EventSentToRecipients, error) {
	rec := ir.EventSentToRecipients{
		Author:     e.Self(),
		Timestamp:  e.clock.Now(),
		EventHash:  id,
		Recipients: recipients,
	}
	sig, err := e.sign(rec.Content())
	if err != nil {
		return ir.EventSentToRecipients{}, err
	}
	rec.Signature = sig
	return rec, nil
}

// sendNewEvent delivers a just-created event to all its recipients. The
// bundle carries the entry and the sent record that is stored once the
// durable hand-off succeeds.
func (e *Engine) sendNewEvent(ctx context.Context, id ir.EventID, entry ir.PrivateEventEntry, ev PrivateEvent) error {
	recipients, err := e.recipientsOf(ctx, entry, ev)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}
	rec, err := e.newSentRecord(id, recipients)
	if err != nil {
		return err
	}
	msg := ir.Message{
		PrivateEvents:          []ir.PrivateEventEntry{entry},
		EventsSentToRecipients: []ir.EventSentToRecipients{rec},
	}
	return e.deliver(ctx, id, msg, rec)
}

// deliver sends msg over both channels and stores rec when the durable
// channel accepted it. A missing durable channel counts as accepted when
// the signal went out, so a signal-only deployment still throttles.
func (e *Engine) deliver(ctx context.Context, id ir.EventID, msg ir.Message, rec ir.EventSentToRecipients) error {
	if e.transport == nil {
		e.logger.Debug("no transport, delivery skipped", "id", shortID(id))
		return newError(ErrCodeTransportUnavailable, id, nil, "no transport configured")
	}

	signalErr := e.transport.SendSignal(ctx, msg, rec.Recipients)
	if signalErr != nil {
		e.logger.Debug("signal failed", "id", shortID(id), "error", signalErr)
	}

	durableErr := e.transport.SendDurable(ctx, msg, rec.Recipients, string(id))
	switch {
	case durableErr == nil:
	case errors.Is(durableErr, transport.ErrUnavailable) && signalErr == nil:
		e.logger.Debug("durable channel unavailable, signal only", "id", shortID(id))
	case errors.Is(durableErr, transport.ErrUnavailable):
		return newError(ErrCodeTransportUnavailable, id, errors.Join(signalErr, durableErr), "no channel accepted the message")
	default:
		return fmt.Errorf("durable send %s: %w", shortID(id), durableErr)
	}

	if _, err := e.store.InsertEventSent(ctx, rec); err != nil {
		return fmt.Errorf("record sent %s: %w", shortID(id), err)
	}
	e.logger.Info("event sent",
		"id", shortID(id),
		"recipients", len(rec.Recipients),
	)
	return nil
}

// ResendEventsIfNecessary re-delivers locally authored events to every
// recipient that has not acknowledged them and was last sent them more
// than the resend interval ago (or never).
func (e *Engine) ResendEventsIfNecessary(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resendEventsIfNecessary(ctx)
}

func (e *Engine) resendEventsIfNecessary(ctx context.Context) error {
	self := e.Self()
	events, err := e.store.PrivateEvents(ctx, store.EventFilter{Author: self})
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	acked, err := e.store.AcknowledgedBy(ctx)
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	now := e.clock.Now()

	var errs []error
	for _, stored := range events {
		if err := e.resendOne(ctx, stored, acked[stored.ID], now); err != nil {
			// Unreachable peers are retried on the next tick.
			e.logger.Warn("resend failed", "id", shortID(stored.ID), "error", err)
			if !IsTransportUnavailable(err) {
				errs = append(errs, err)
			}
		}
	}
	return joinErrors("resend", errs)
}

func (e *Engine) resendOne(ctx context.Context, stored store.StoredEvent, acked ir.AgentSet, now ir.Timestamp) error {
	ev, err := e.registry.Decode(stored.Entry.Event.Content)
	if err != nil {
		e.logger.Warn("stored event no longer decodes, not resending", "id", shortID(stored.ID), "error", err)
		return nil
	}
	recipients, err := e.recipientsOf(ctx, stored.Entry, ev)
	if err != nil {
		return err
	}
	pending := recipients.Minus(acked)
	if len(pending) == 0 {
		return nil
	}

	lastSent, err := e.store.LastSent(ctx, stored.ID)
	if err != nil {
		return err
	}
	var due []ir.AgentID
	for _, r := range pending {
		last, sent := lastSent[r]
		if !sent || now.Sub(last) > e.resendInterval {
			due = append(due, r)
		}
	}
	if len(due) == 0 {
		return nil
	}

	msg, err := e.eventBundle(ctx, stored.ID, stored.Entry)
	if err != nil {
		return err
	}
	rec, err := e.newSentRecord(stored.ID, ir.NewAgentSet(due...))
	if err != nil {
		return err
	}
	msg.EventsSentToRecipients = append(msg.EventsSentToRecipients, rec)

	e.logger.Info("resending event", "id", shortID(stored.ID), "recipients", len(due))
	return e.deliver(ctx, stored.ID, msg, rec)
}

// eventBundle packs an entry with every sent record and acknowledgement
// held for it.
func (e *Engine) eventBundle(ctx context.Context, id ir.EventID, entry ir.PrivateEventEntry) (ir.Message, error) {
	sent, err := e.store.EventsSentFor(ctx, id)
	if err != nil {
		return ir.Message{}, err
	}
	acks, err := e.store.AcknowledgementsFor(ctx, id)
	if err != nil {
		return ir.Message{}, err
	}
	return ir.Message{
		PrivateEvents:          []ir.PrivateEventEntry{entry},
		EventsSentToRecipients: sent,
		Acknowledgements:       acks,
	}, nil
}
