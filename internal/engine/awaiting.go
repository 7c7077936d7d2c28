package engine

import (
	"context"
	"fmt"

	"github.com/roach88/privlog/internal/ir"
	"github.com/roach88/privlog/internal/store"
)

// maxAwaitingPasses bounds how many times one drain re-scans the queue
// while entries keep unblocking each other.
const maxAwaitingPasses = 16

// AttemptCommitAwaitingDeps re-validates parked entries in timestamp
// order. Events that now validate are admitted, events that now fail are
// dropped for good, acknowledgements and sent records whose event arrived
// are promoted. Passes repeat while a pass admits something.
func (e *Engine) AttemptCommitAwaitingDeps(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attemptCommitAwaitingDeps(ctx)
}

func (e *Engine) attemptCommitAwaitingDeps(ctx context.Context) error {
	for pass := 0; pass < maxAwaitingPasses; pass++ {
		progressed, err := e.awaitingPass(ctx)
		if err != nil {
			return fmt.Errorf("awaiting pass %d: %w", pass, err)
		}
		if !progressed {
			return nil
		}
	}
	e.logger.Debug("awaiting drain stopped at pass limit, next tick continues", "passes", maxAwaitingPasses)
	return nil
}

// awaitingPass makes one linear scan and reports whether any event was
// admitted.
func (e *Engine) awaitingPass(ctx context.Context) (bool, error) {
	pending, err := e.store.PendingAwaiting(ctx)
	if err != nil {
		return false, err
	}

	progressed := false
	for _, p := range pending {
		var admitted bool
		var err error
		switch p.Entry.Kind {
		case ir.AwaitingEvent:
			admitted, err = e.retryAwaitingEvent(ctx, p)
		case ir.AwaitingAcknowledgement:
			err = e.retryAwaitingAck(ctx, p)
		case ir.AwaitingEventSent:
			err = e.retryAwaitingSent(ctx, p)
		default:
			err = e.resolve(ctx, p.ID, store.OutcomeRejected, fmt.Sprintf("unknown kind %q", p.Entry.Kind))
		}
		if err != nil {
			return progressed, err
		}
		progressed = progressed || admitted
	}
	return progressed, nil
}

func (e *Engine) retryAwaitingEvent(ctx context.Context, p store.StoredAwaiting) (bool, error) {
	if p.Entry.Event == nil {
		return false, e.resolve(ctx, p.ID, store.OutcomeRejected, "empty event record")
	}
	entry := *p.Entry.Event

	missing, err := e.missing(ctx, p.Entry.Unresolved)
	if err != nil {
		return false, err
	}
	if len(missing) > 0 {
		return false, nil
	}

	id, ev, verdict, err := e.validateEntry(ctx, entry, "")
	if err != nil {
		return false, err
	}
	switch verdict.Kind {
	case VerdictValid:
		admitted, err := e.admit(ctx, id, entry, ev)
		if err != nil {
			return false, err
		}
		return admitted, e.resolve(ctx, p.ID, store.OutcomeAdmitted, "")
	case VerdictUnresolved:
		// New dependencies surfaced; park again under them.
		if _, err := e.store.InsertAwaiting(ctx, ir.AwaitingEventEntry(entry, verdict.Dependencies)); err != nil {
			return false, err
		}
		next, err := ir.HashAwaiting(ir.AwaitingEventEntry(entry, verdict.Dependencies))
		if err != nil || next == p.ID {
			return false, err
		}
		return false, e.resolve(ctx, p.ID, store.OutcomeRejected, "superseded by "+next)
	default:
		e.logger.Warn("dropping awaiting event that no longer validates",
			"id", shortID(id),
			"code", verdict.Code,
			"reason", verdict.Reason,
		)
		return false, e.resolve(ctx, p.ID, store.OutcomeRejected, verdict.Reason)
	}
}

func (e *Engine) retryAwaitingAck(ctx context.Context, p store.StoredAwaiting) error {
	ack := p.Entry.Acknowledgement
	if ack == nil {
		return e.resolve(ctx, p.ID, store.OutcomeRejected, "empty acknowledgement record")
	}
	present, err := e.store.HasPrivateEvent(ctx, ack.PrivateEventHash)
	if err != nil || !present {
		return err
	}
	if _, err := e.store.InsertAcknowledgement(ctx, *ack); err != nil {
		return err
	}
	return e.resolve(ctx, p.ID, store.OutcomeAdmitted, "")
}

func (e *Engine) retryAwaitingSent(ctx context.Context, p store.StoredAwaiting) error {
	rec := p.Entry.EventSent
	if rec == nil {
		return e.resolve(ctx, p.ID, store.OutcomeRejected, "empty sent record")
	}
	present, err := e.store.HasPrivateEvent(ctx, rec.EventHash)
	if err != nil || !present {
		return err
	}
	if _, err := e.store.InsertEventSent(ctx, *rec); err != nil {
		return err
	}
	return e.resolve(ctx, p.ID, store.OutcomeAdmitted, "")
}

// missing returns the ids in deps that are not stored yet.
func (e *Engine) missing(ctx context.Context, deps []ir.EventID) ([]ir.EventID, error) {
	var absent []ir.EventID
	for _, d := range deps {
		present, err := e.store.HasPrivateEvent(ctx, d)
		if err != nil {
			return nil, err
		}
		if !present {
			absent = append(absent, d)
		}
	}
	return absent, nil
}

func (e *Engine) resolve(ctx context.Context, awaitingID string, outcome store.Outcome, reason string) error {
	return e.store.ResolveAwaiting(ctx, awaitingID, outcome, reason, e.clock.Now())
}
