package engine

import (
	"context"
	"fmt"

	"github.com/roach88/privlog/internal/ir"
	"github.com/roach88/privlog/internal/store"
)

// SynchronizeWith sends agent every stored event it should hold and is not
// known to hold: not acknowledged by it and not listed in its published
// summary. Events reach agent when it is a computed recipient, or when it
// is one of the local agent's linked devices.
func (e *Engine) SynchronizeWith(ctx context.Context, agent ir.AgentID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	devices, err := e.linkedDevices(ctx, e.Self())
	if err != nil {
		return err
	}
	return e.synchronizeWith(ctx, agent, devices.Contains(agent))
}

// SynchronizeWithLinkedDevice sends a full copy of the local log to one
// linked device as a best-effort signal.
func (e *Engine) SynchronizeWithLinkedDevice(ctx context.Context, device ir.AgentID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.transport == nil {
		return newError(ErrCodeTransportUnavailable, "", nil, "no transport configured")
	}
	msg, err := e.fullMessage(ctx)
	if err != nil {
		return err
	}
	if msg.Empty() {
		return nil
	}
	if err := e.transport.SendSignal(ctx, msg, ir.NewAgentSet(device)); err != nil {
		return fmt.Errorf("sync device %s: %w", device.Short(), err)
	}
	e.logger.Info("synchronized linked device", "device", device.Short(), "events", len(msg.PrivateEvents))
	return nil
}

// SynchronizeWithLinkedDevices catches every linked device up with the
// events missing from its published summary.
func (e *Engine) SynchronizeWithLinkedDevices(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	devices, err := e.linkedDevices(ctx, e.Self())
	if err != nil {
		return err
	}
	var errs []error
	for _, d := range devices {
		if err := e.synchronizeWith(ctx, d, true); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors("sync linked devices", errs)
}

func (e *Engine) synchronizeWith(ctx context.Context, agent ir.AgentID, everything bool) error {
	if agent == e.Self() {
		return nil
	}
	events, err := e.store.PrivateEvents(ctx, store.EventFilter{ByTimestamp: true})
	if err != nil {
		return fmt.Errorf("sync %s: %w", agent.Short(), err)
	}
	acked, err := e.store.AcknowledgedBy(ctx)
	if err != nil {
		return fmt.Errorf("sync %s: %w", agent.Short(), err)
	}
	summary, err := e.summaryOf(ctx, agent)
	if err != nil {
		return err
	}

	var msg ir.Message
	for _, stored := range events {
		if stored.Entry.Author == agent || acked[stored.ID].Contains(agent) || summary.Contains(stored.ID) {
			continue
		}
		if !everything {
			ev, err := e.registry.Decode(stored.Entry.Event.Content)
			if err != nil {
				continue
			}
			recipients, err := e.recipientsOf(ctx, stored.Entry, ev)
			if err != nil {
				return err
			}
			if !recipients.Contains(agent) {
				continue
			}
		}
		bundle, err := e.eventBundle(ctx, stored.ID, stored.Entry)
		if err != nil {
			return err
		}
		msg = appendMessage(msg, bundle)
	}
	if msg.Empty() {
		e.logger.Debug("nothing to synchronize", "agent", agent.Short())
		return nil
	}
	return e.sendBundle(ctx, msg, ir.NewAgentSet(agent), "sync/"+string(e.Self()))
}

// sendBundle sends msg over both channels without recording anything.
func (e *Engine) sendBundle(ctx context.Context, msg ir.Message, recipients ir.AgentSet, messageID string) error {
	if e.transport == nil {
		return newError(ErrCodeTransportUnavailable, "", nil, "no transport configured")
	}
	signalErr := e.transport.SendSignal(ctx, msg, recipients)
	durableErr := e.transport.SendDurable(ctx, msg, recipients, messageID)
	if durableErr != nil && signalErr != nil {
		return fmt.Errorf("send %s: %w", messageID, durableErr)
	}
	e.logger.Info("bundle sent",
		"message_id", messageID,
		"events", len(msg.PrivateEvents),
		"recipients", len(recipients),
	)
	return nil
}

// deliverToNewRecipients recomputes recipients of every locally authored
// event and delivers each to the recipients not already known to have it.
func (e *Engine) deliverToNewRecipients(ctx context.Context, trigger ir.EventID) error {
	events, err := e.store.PrivateEvents(ctx, store.EventFilter{Author: e.Self(), ByTimestamp: true})
	if err != nil {
		return err
	}
	acked, err := e.store.AcknowledgedBy(ctx)
	if err != nil {
		return err
	}

	summaries := make(map[ir.AgentID]ir.EventHistorySummary)
	var errs []error
	for _, stored := range events {
		if stored.ID == trigger {
			continue
		}
		ev, err := e.registry.Decode(stored.Entry.Event.Content)
		if err != nil {
			continue
		}
		recipients, err := e.recipientsOf(ctx, stored.Entry, ev)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		lastSent, err := e.store.LastSent(ctx, stored.ID)
		if err != nil {
			return err
		}

		var fresh []ir.AgentID
		for _, r := range recipients.Minus(acked[stored.ID]) {
			if _, sent := lastSent[r]; sent {
				continue
			}
			sum, ok := summaries[r]
			if !ok {
				if sum, err = e.summaryOf(ctx, r); err != nil {
					return err
				}
				summaries[r] = sum
			}
			if sum.Contains(stored.ID) {
				continue
			}
			fresh = append(fresh, r)
		}
		if len(fresh) == 0 {
			continue
		}

		msg, err := e.eventBundle(ctx, stored.ID, stored.Entry)
		if err != nil {
			return err
		}
		rec, err := e.newSentRecord(stored.ID, ir.NewAgentSet(fresh...))
		if err != nil {
			return err
		}
		msg.EventsSentToRecipients = append(msg.EventsSentToRecipients, rec)
		e.logger.Info("delivering event to new recipients",
			"id", shortID(stored.ID),
			"trigger", shortID(trigger),
			"recipients", len(fresh),
		)
		if err := e.deliver(ctx, stored.ID, msg, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors("retroactive delivery", errs)
}

func (e *Engine) summaryOf(ctx context.Context, agent ir.AgentID) (ir.EventHistorySummary, error) {
	if e.directory == nil {
		return ir.EventHistorySummary{}, nil
	}
	sum, _, err := e.directory.Summary(ctx, agent)
	if err != nil {
		return ir.EventHistorySummary{}, fmt.Errorf("summary of %s: %w", agent.Short(), err)
	}
	return sum, nil
}

// publishSummary publishes the ids of every locally held event.
func (e *Engine) publishSummary(ctx context.Context) error {
	if e.directory == nil {
		return nil
	}
	ids, err := e.store.PrivateEventIDs(ctx)
	if err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	summary := ir.NewEventHistorySummary(e.Self(), e.clock.Now(), ids)
	if err := e.directory.PublishSummary(ctx, summary); err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	return nil
}

// fullMessage bundles the whole local log.
func (e *Engine) fullMessage(ctx context.Context) (ir.Message, error) {
	events, err := e.store.PrivateEvents(ctx, store.EventFilter{ByTimestamp: true})
	if err != nil {
		return ir.Message{}, err
	}
	sent, err := e.store.EventsSent(ctx)
	if err != nil {
		return ir.Message{}, err
	}
	acks, err := e.store.Acknowledgements(ctx)
	if err != nil {
		return ir.Message{}, err
	}
	msg := ir.Message{EventsSentToRecipients: sent, Acknowledgements: acks}
	for _, ev := range events {
		msg.PrivateEvents = append(msg.PrivateEvents, ev.Entry)
	}
	return msg, nil
}

func appendMessage(dst, src ir.Message) ir.Message {
	dst.PrivateEvents = append(dst.PrivateEvents, src.PrivateEvents...)
	dst.EventsSentToRecipients = append(dst.EventsSentToRecipients, src.EventsSentToRecipients...)
	dst.Acknowledgements = append(dst.Acknowledgements, src.Acknowledgements...)
	return dst
}
