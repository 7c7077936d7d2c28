package engine

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/privlog/internal/identity"
	"github.com/roach88/privlog/internal/ir"
	"github.com/roach88/privlog/internal/store"
	"github.com/roach88/privlog/internal/testutil"
)

// note is a test event: delivered to To, optionally depending on After.
type note struct {
	Text   string       `cbor:"text"`
	To     []ir.AgentID `cbor:"to"`
	After  ir.EventID   `cbor:"after,omitempty"`
	Also   ir.EventID   `cbor:"also,omitempty"`
	Reject bool         `cbor:"reject,omitempty"`

	commits *[]ir.EventID
}

func (note) EventType() string { return "note" }

func (n note) Validate(ctx context.Context, v View, _ ir.AgentID, _ ir.Timestamp) Verdict {
	if n.After != "" {
		_, found, err := v.GetPrivateEvent(ctx, n.After)
		if err != nil {
			return Invalid(err.Error())
		}
		if !found {
			return Unresolved(n.After)
		}
	}
	// Also is only looked at once After is present.
	if n.Also != "" {
		_, found, err := v.GetPrivateEvent(ctx, n.Also)
		if err != nil {
			return Invalid(err.Error())
		}
		if !found {
			return Unresolved(n.Also)
		}
	}
	if n.Reject {
		return Invalid("note marked as rejected")
	}
	if n.Text == "" {
		return Invalid("empty note")
	}
	return Valid()
}

func (n note) Recipients(context.Context, View, ir.AgentID, ir.Timestamp) (ir.AgentSet, error) {
	return ir.NewAgentSet(n.To...), nil
}

func (n note) PostCommit(_ context.Context, _ View, id ir.EventID, _ ir.PrivateEventEntry) error {
	if n.commits != nil {
		*n.commits = append(*n.commits, id)
	}
	return nil
}

// share goes to every friend its author has added, at any time.
type share struct {
	Text string `cbor:"text"`
}

func (share) EventType() string { return "share" }

func (s share) Validate(context.Context, View, ir.AgentID, ir.Timestamp) Verdict {
	if s.Text == "" {
		return Invalid("empty share")
	}
	return Valid()
}

func (share) Recipients(ctx context.Context, v View, author ir.AgentID, _ ir.Timestamp) (ir.AgentSet, error) {
	return friendsOf(ctx, v, author)
}

// friend adds Friend as a recipient of the author's shares.
type friend struct {
	Friend ir.AgentID `cbor:"friend"`
}

func (friend) EventType() string { return "friend" }

func (f friend) Validate(_ context.Context, _ View, author ir.AgentID, _ ir.Timestamp) Verdict {
	if f.Friend == author {
		return Invalid("cannot befriend yourself")
	}
	return Valid()
}

func (f friend) Recipients(context.Context, View, ir.AgentID, ir.Timestamp) (ir.AgentSet, error) {
	return ir.NewAgentSet(f.Friend), nil
}

func (friend) ChangesRecipients() bool { return true }

func friendsOf(ctx context.Context, v View, author ir.AgentID) (ir.AgentSet, error) {
	stored, err := v.PrivateEvents(ctx, store.EventFilter{EventType: "friend", Author: author})
	if err != nil {
		return nil, err
	}
	var out []ir.AgentID
	for _, s := range stored {
		ev, err := v.Decode(s.Entry)
		if err != nil {
			return nil, err
		}
		out = append(out, ev.(*friend).Friend)
	}
	return ir.NewAgentSet(out...), nil
}

func newTestRegistry(commits *[]ir.EventID) *Registry {
	r := NewRegistry()
	r.Register("note", func() PrivateEvent { return &note{commits: commits} })
	r.Register("share", func() PrivateEvent { return &share{} })
	r.Register("friend", func() PrivateEvent { return &friend{} })
	return r
}

// testAgent is one engine wired to the in-memory network.
type testAgent struct {
	id      *identity.Identity
	store   *store.Store
	eng     *Engine
	ep      *testutil.Endpoint
	commits []ir.EventID
}

func (a *testAgent) ID() ir.AgentID { return a.id.ID() }

type testNet struct {
	t     *testing.T
	net   *testutil.Network
	clock *testutil.FakeClock
}

func newTestNet(t *testing.T) *testNet {
	t.Helper()
	return &testNet{t: t, net: testutil.NewNetwork(), clock: testutil.NewFakeClock()}
}

func (n *testNet) agent(opts ...Option) *testAgent {
	n.t.Helper()
	id, err := identity.Generate(nil)
	require.NoError(n.t, err)
	s, err := store.Open(filepath.Join(n.t.TempDir(), "agent.db"))
	require.NoError(n.t, err)
	n.t.Cleanup(func() { s.Close() })

	a := &testAgent{id: id, store: s, ep: n.net.Join(id)}
	base := []Option{WithTransport(a.ep), WithClock(n.clock)}
	a.eng = New(s, id, newTestRegistry(&a.commits), append(base, opts...)...)
	return a
}

// pump delivers signals and mailbox messages until the network is quiet.
func (n *testNet) pump(agents ...*testAgent) {
	n.t.Helper()
	ctx := context.Background()
	for round := 0; round < 20; round++ {
		moved := false
		for _, a := range agents {
			inbound := a.ep.DrainSignals()
			polled, err := a.ep.Poll(ctx)
			require.NoError(n.t, err)
			inbound = append(inbound, polled...)
			for _, in := range inbound {
				moved = true
				require.NoError(n.t, a.eng.Receive(ctx, in.From, in.Message))
			}
		}
		if !moved {
			return
		}
	}
	n.t.Fatal("network did not settle")
}

func (a *testAgent) eventIDs(t *testing.T) []ir.EventID {
	t.Helper()
	ids, err := a.store.PrivateEventIDs(context.Background())
	require.NoError(t, err)
	slices.Sort(ids)
	return ids
}

func (a *testAgent) ackers(t *testing.T, id ir.EventID) ir.AgentSet {
	t.Helper()
	acked, err := a.store.AcknowledgedBy(context.Background())
	require.NoError(t, err)
	return acked[id]
}

// signedEntry builds a valid entry for ev authored by signer, outside any
// engine.
func signedEntry(t *testing.T, signer *identity.Identity, ev PrivateEvent, ts ir.Timestamp) (ir.EventID, ir.PrivateEventEntry) {
	t.Helper()
	content, err := newTestRegistry(nil).Encode(ev)
	require.NoError(t, err)
	signed := ir.SignedContent{Timestamp: ts, EventType: ev.EventType(), Content: content}
	sig, err := signer.Sign(ir.MustMarshalCanonical(signed))
	require.NoError(t, err)
	entry := ir.PrivateEventEntry{Author: signer.ID(), Signature: sig, Event: signed}
	return ir.MustHashEvent(entry), entry
}
