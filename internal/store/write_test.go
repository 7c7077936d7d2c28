package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/privlog/internal/ir"
)

func TestInsertPrivateEvent_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id, e := createTestEvent("alice", "SharedEntry", 100)

	inserted, err := s.InsertPrivateEvent(ctx, id, e)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertPrivateEvent(ctx, id, e)
	require.NoError(t, err)
	assert.False(t, inserted, "second insert of the same id must be a no-op")

	events, err := s.PrivateEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
	assert.Equal(t, e, events[0].Entry)
}

func TestInsertAcknowledgement_DedupByFullValue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ack := ir.Acknowledgement{Author: "bob", Signature: []byte("s1"), Timestamp: 5, PrivateEventHash: "e1"}

	inserted, err := s.InsertAcknowledgement(ctx, ack)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertAcknowledgement(ctx, ack)
	require.NoError(t, err)
	assert.False(t, inserted)

	// Same acker and event, different signed value: both are kept.
	later := ack
	later.Timestamp = 6
	later.Signature = []byte("s2")
	inserted, err = s.InsertAcknowledgement(ctx, later)
	require.NoError(t, err)
	assert.True(t, inserted)

	acks, err := s.AcknowledgementsFor(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, acks, 2)

	first, found, err := s.FindAcknowledgement(ctx, "bob", "e1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ack, first)
}

func TestInsertEventSent_LastSent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := ir.EventSentToRecipients{
		Author: "alice", Signature: []byte("s1"), Timestamp: 10, EventHash: "e1",
		Recipients: ir.NewAgentSet("bob", "carol"),
	}
	second := ir.EventSentToRecipients{
		Author: "alice", Signature: []byte("s2"), Timestamp: 20, EventHash: "e1",
		Recipients: ir.NewAgentSet("bob"),
	}

	for _, rec := range []ir.EventSentToRecipients{first, second, first} {
		_, err := s.InsertEventSent(ctx, rec)
		require.NoError(t, err)
	}

	last, err := s.LastSent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, map[ir.AgentID]ir.Timestamp{"bob": 20, "carol": 10}, last)

	records, err := s.EventsSentFor(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first, records[0])
	assert.Equal(t, second, records[1])
}

func TestInsertEventSent_EmptyRecipients(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.InsertEventSent(ctx, ir.EventSentToRecipients{Author: "a", Signature: []byte("s"), Timestamp: 1, EventHash: "e"})
	require.NoError(t, err)

	records, err := s.EventsSent(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].Recipients)
}

func TestAwaiting_Lifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, late := createTestEvent("alice", "SharedEntry", 200)
	_, early := createTestEvent("alice", "SharedEntry", 100)

	parkedLate := ir.AwaitingEventEntry(late, []ir.EventID{"dep"})
	parkedEarly := ir.AwaitingEventEntry(early, []ir.EventID{"dep"})
	parkedAck := ir.AwaitingAck(ir.Acknowledgement{Author: "bob", Signature: []byte("s"), Timestamp: 150, PrivateEventHash: "dep"})

	for _, a := range []ir.AwaitingDependencies{parkedLate, parkedEarly, parkedAck, parkedLate} {
		_, err := s.InsertAwaiting(ctx, a)
		require.NoError(t, err)
	}

	pending, err := s.PendingAwaiting(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, ir.Timestamp(100), pending[0].Entry.Timestamp(), "sorted by timestamp ascending")
	assert.Equal(t, ir.AwaitingAcknowledgement, pending[1].Entry.Kind)
	assert.Equal(t, ir.Timestamp(200), pending[2].Entry.Timestamp())
	assert.Equal(t, parkedEarly, pending[0].Entry)

	require.NoError(t, s.ResolveAwaiting(ctx, pending[0].ID, OutcomeAdmitted, "", 300))
	require.NoError(t, s.ResolveAwaiting(ctx, pending[2].ID, OutcomeRejected, "bad", 300))
	// First outcome wins.
	require.NoError(t, s.ResolveAwaiting(ctx, pending[2].ID, OutcomeAdmitted, "", 400))

	outcome, reason, found, err := s.AwaitingOutcome(ctx, pending[2].ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Equal(t, "bad", reason)

	pending, err = s.PendingAwaiting(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ir.AwaitingAcknowledgement, pending[0].Entry.Kind)

	c, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.AwaitingPending)
}
