package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/privlog/internal/ir"
)

// CreatePrivateEvent signs ev as the local agent, admits it and delivers
// it to its recipients. A locally created event must pass its own
// validator: Invalid and Unresolved verdicts fail the call and nothing is
// stored.
func (e *Engine) CreatePrivateEvent(ctx context.Context, ev PrivateEvent) (ir.EventID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	self := e.Self()
	ts := e.clock.Now()

	if !e.registry.Known(ev.EventType()) {
		return "", newError(ErrCodeMalformedEnvelope, "", nil, "event type %q is not registered", ev.EventType())
	}

	switch v := ev.Validate(ctx, view{e}, self, ts); v.Kind {
	case VerdictValid:
	case VerdictUnresolved:
		deps := make([]string, len(v.Dependencies))
		for i, d := range v.Dependencies {
			deps[i] = shortID(d)
		}
		return "", newError(ErrCodeUnresolvedDependency, "", nil, "%s depends on absent events [%s]", ev.EventType(), strings.Join(deps, ", "))
	default:
		return "", newError(ErrCodeApplicationRejected, "", nil, "%s: %s", ev.EventType(), v.Reason)
	}

	content, err := e.registry.Encode(ev)
	if err != nil {
		return "", newError(ErrCodeSerializationFailure, "", err, "encode %s", ev.EventType())
	}
	// Follow-ups run on the registry's decoding, as they do for received
	// entries.
	eventType := ev.EventType()
	ev, err = e.registry.Decode(content)
	if err != nil {
		return "", newError(ErrCodeSerializationFailure, "", err, "decode %s", eventType)
	}
	signed := ir.SignedContent{Timestamp: ts, EventType: ev.EventType(), Content: content}
	sig, err := e.sign(signed)
	if err != nil {
		return "", err
	}
	entry := ir.PrivateEventEntry{Author: self, Signature: sig, Event: signed}
	id, err := ir.HashEvent(entry)
	if err != nil {
		return "", newError(ErrCodeSerializationFailure, "", err, "hash entry")
	}

	if _, err := e.admit(ctx, id, entry, ev); err != nil {
		return "", err
	}
	e.logger.Info("private event created", "id", shortID(id), "type", ev.EventType())

	// A local admission may unblock parked entries.
	if err := e.attemptCommitAwaitingDeps(ctx); err != nil {
		e.logger.Warn("awaiting drain after create failed", "error", err)
	}
	return id, nil
}

// sign signs the canonical encoding of v.
func (e *Engine) sign(v any) ([]byte, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return nil, newError(ErrCodeSerializationFailure, "", err, "encode for signing")
	}
	sig, err := e.signer.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// admit stores a validated entry and runs its follow-ups: post-commit,
// fan-out when the entry is ours, acknowledgement when it is not.
// Follow-up failures are logged; the entry stays admitted.
func (e *Engine) admit(ctx context.Context, id ir.EventID, entry ir.PrivateEventEntry, ev PrivateEvent) (bool, error) {
	inserted, err := e.store.InsertPrivateEvent(ctx, id, entry)
	if err != nil {
		return false, fmt.Errorf("admit %s: %w", shortID(id), err)
	}
	if !inserted {
		return false, nil
	}
	e.logger.Debug("private event admitted",
		"id", shortID(id),
		"type", entry.Event.EventType,
		"author", entry.Author.Short(),
	)

	if pc, ok := ev.(PostCommitter); ok {
		if err := pc.PostCommit(ctx, view{e}, id, entry); err != nil {
			e.logger.Warn("post commit failed", "id", shortID(id), "type", entry.Event.EventType, "error", err)
		}
	}

	if entry.Author == e.Self() {
		if err := e.sendNewEvent(ctx, id, entry, ev); err != nil {
			// The resend tick retries anything not recorded as sent.
			e.logger.Warn("initial delivery failed", "id", shortID(id), "error", err)
		}
		if rc, ok := ev.(RecipientsChanger); ok && e.retroactive && rc.ChangesRecipients() {
			if err := e.deliverToNewRecipients(ctx, id); err != nil {
				e.logger.Warn("retroactive delivery failed", "trigger", shortID(id), "error", err)
			}
		}
		return true, nil
	}

	if err := e.acknowledge(ctx, id, entry, ev, ""); err != nil {
		e.logger.Warn("acknowledgement failed", "id", shortID(id), "error", err)
	}
	return true, nil
}
