package engine

import (
	"context"
	"fmt"

	"github.com/roach88/privlog/internal/codec"
	"github.com/roach88/privlog/internal/ir"
	"github.com/roach88/privlog/internal/sealed"
)

// ExportEventHistory snapshots the local log: parked entries, events,
// sent records and acknowledgements.
func (e *Engine) ExportEventHistory(ctx context.Context) (ir.EventHistory, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pending, err := e.store.PendingAwaiting(ctx)
	if err != nil {
		return ir.EventHistory{}, fmt.Errorf("export: %w", err)
	}
	msg, err := e.fullMessage(ctx)
	if err != nil {
		return ir.EventHistory{}, fmt.Errorf("export: %w", err)
	}

	h := ir.EventHistory{
		Version:                ir.IRVersion,
		AwaitingDependencies:   make([]ir.AwaitingDependencies, 0, len(pending)),
		PrivateEvents:          msg.PrivateEvents,
		EventsSentToRecipients: msg.EventsSentToRecipients,
		Acknowledgements:       msg.Acknowledgements,
	}
	for _, p := range pending {
		h.AwaitingDependencies = append(h.AwaitingDependencies, p.Entry)
	}
	return h, nil
}

// ImportEventHistory stores a history exported by a trusted agent.
// Signatures are still checked but application validators are not run,
// and no delivery or acknowledgement is triggered.
func (e *Engine) ImportEventHistory(ctx context.Context, h ir.EventHistory) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if h.Version != "" && h.Version != ir.IRVersion {
		return newError(ErrCodeMalformedEnvelope, "", nil, "history version %q, want %q", h.Version, ir.IRVersion)
	}

	var errs []error
	imported := 0
	for _, entry := range h.PrivateEvents {
		signed, err := ir.MarshalCanonical(entry.Event)
		if err != nil {
			errs = append(errs, newError(ErrCodeSerializationFailure, "", err, "encode imported entry"))
			continue
		}
		id, err := ir.HashEvent(entry)
		if err != nil {
			errs = append(errs, newError(ErrCodeSerializationFailure, "", err, "hash imported entry"))
			continue
		}
		if !e.verifier.Verify(entry.Author, entry.Signature, signed) {
			errs = append(errs, newError(ErrCodeSignatureInvalid, id, nil, "imported entry does not verify"))
			continue
		}
		inserted, err := e.store.InsertPrivateEvent(ctx, id, entry)
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		if inserted {
			imported++
		}
	}

	// Records whose event is absent are parked like received ones.
	for _, rec := range h.EventsSentToRecipients {
		if err := e.receiveEventSent(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	for _, ack := range h.Acknowledgements {
		if err := e.receiveAcknowledgement(ctx, ack); err != nil {
			errs = append(errs, err)
		}
	}
	for _, a := range h.AwaitingDependencies {
		if _, err := e.store.InsertAwaiting(ctx, a); err != nil {
			return fmt.Errorf("import awaiting: %w", err)
		}
	}

	e.logger.Info("history imported",
		"events", imported,
		"sent_records", len(h.EventsSentToRecipients),
		"acknowledgements", len(h.Acknowledgements),
		"awaiting", len(h.AwaitingDependencies),
	)
	return joinErrors("import", errs)
}

// SealEventHistory encodes h as CBOR and encrypts it to the age
// recipients.
func SealEventHistory(h ir.EventHistory, recipients []string) ([]byte, error) {
	data, err := codec.Marshal(h)
	if err != nil {
		return nil, newError(ErrCodeSerializationFailure, "", err, "encode history")
	}
	out, err := sealed.Encrypt(data, recipients)
	if err != nil {
		return nil, fmt.Errorf("seal history: %w", err)
	}
	return out, nil
}

// OpenEventHistory reverses SealEventHistory.
func OpenEventHistory(data []byte, privateKey string) (ir.EventHistory, error) {
	plain, err := sealed.Decrypt(data, privateKey)
	if err != nil {
		return ir.EventHistory{}, fmt.Errorf("open history: %w", err)
	}
	var h ir.EventHistory
	if err := codec.Unmarshal(plain, &h); err != nil {
		return ir.EventHistory{}, newError(ErrCodeMalformedEnvelope, "", err, "decode history")
	}
	return h, nil
}
