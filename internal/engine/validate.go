package engine

import (
	"context"
	"fmt"

	"github.com/roach88/privlog/internal/ir"
)

// ValidateEntry runs the full admission check on an entry: signature,
// optional claimed id, content decoding, type tag and the application
// validator. The returned error reports infrastructure failures only;
// rejections are Invalid verdicts.
func (e *Engine) ValidateEntry(ctx context.Context, entry ir.PrivateEventEntry, claimed ...ir.EventID) (Verdict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var claim ir.EventID
	if len(claimed) > 0 {
		claim = claimed[0]
	}
	_, _, verdict, err := e.validateEntry(ctx, entry, claim)
	return verdict, err
}

// validateEntry returns the computed id and, when decoding succeeded, the
// application event.
func (e *Engine) validateEntry(ctx context.Context, entry ir.PrivateEventEntry, claimed ir.EventID) (ir.EventID, PrivateEvent, Verdict, error) {
	if !entry.Event.Timestamp.Exact() {
		return "", nil, invalidWith(ErrCodeMalformedEnvelope, "timestamp %d outside the canonical range", entry.Event.Timestamp), nil
	}
	signed, err := ir.MarshalCanonical(entry.Event)
	if err != nil {
		return "", nil, invalidWith(ErrCodeSerializationFailure, "encode signed content: %v", err), nil
	}
	if !e.verifier.Verify(entry.Author, entry.Signature, signed) {
		return "", nil, invalidWith(ErrCodeSignatureInvalid, "signature does not verify under %s", entry.Author.Short()), nil
	}

	id, err := ir.HashEvent(entry)
	if err != nil {
		return "", nil, invalidWith(ErrCodeSerializationFailure, "hash entry: %v", err), nil
	}
	if claimed != "" && claimed != id {
		return id, nil, invalidWith(ErrCodeMalformedEnvelope, "claimed id %s does not match %s", shortID(claimed), shortID(id)), nil
	}

	ev, err := e.registry.Decode(entry.Event.Content)
	if err != nil {
		return id, nil, invalidWith(ErrCodeMalformedEnvelope, "%v", err), nil
	}
	if ev.EventType() != entry.Event.EventType {
		return id, nil, invalidWith(ErrCodeMalformedEnvelope, "content is %q, envelope declares %q", ev.EventType(), entry.Event.EventType), nil
	}

	verdict := ev.Validate(ctx, view{e}, entry.Author, entry.Event.Timestamp)
	switch verdict.Kind {
	case VerdictValid, VerdictUnresolved:
		return id, ev, verdict, nil
	case VerdictInvalid:
		if verdict.Code == "" {
			verdict.Code = ErrCodeApplicationRejected
		}
		return id, ev, verdict, nil
	default:
		return id, ev, Verdict{}, fmt.Errorf("validator for %s returned unknown verdict %v", entry.Event.EventType, verdict.Kind)
	}
}

func (e *Engine) verifyAcknowledgement(a ir.Acknowledgement) error {
	data, err := ir.MarshalCanonical(a.Content())
	if err != nil {
		return newError(ErrCodeSerializationFailure, a.PrivateEventHash, err, "encode acknowledgement")
	}
	if !e.verifier.Verify(a.Author, a.Signature, data) {
		return newError(ErrCodeSignatureInvalid, a.PrivateEventHash, nil, "acknowledgement by %s does not verify", a.Author.Short())
	}
	return nil
}

func (e *Engine) verifyEventSent(s ir.EventSentToRecipients) error {
	data, err := ir.MarshalCanonical(s.Content())
	if err != nil {
		return newError(ErrCodeSerializationFailure, s.EventHash, err, "encode sent record")
	}
	if !e.verifier.Verify(s.Author, s.Signature, data) {
		return newError(ErrCodeSignatureInvalid, s.EventHash, nil, "sent record by %s does not verify", s.Author.Short())
	}
	return nil
}

// verdictError converts an Invalid verdict to an *Error.
func verdictError(id ir.EventID, v Verdict) *Error {
	code := v.Code
	if code == "" {
		code = ErrCodeApplicationRejected
	}
	return &Error{Code: code, Message: v.Reason, EventID: id}
}
