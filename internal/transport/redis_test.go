package transport

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/privlog/internal/channel"
	"github.com/roach88/privlog/internal/identity"
	"github.com/roach88/privlog/internal/ir"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func newIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate(nil)
	require.NoError(t, err)
	return id
}

func sampleMessage(author ir.AgentID, size int) ir.Message {
	return ir.Message{PrivateEvents: []ir.PrivateEventEntry{{
		Author:    author,
		Signature: bytes.Repeat([]byte{7}, 64),
		Event:     ir.SignedContent{Timestamp: 42, EventType: "SharedEntry", Content: bytes.Repeat([]byte("c"), size)},
	}}}
}

func TestSendDurable_PollRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	alice, bob := newIdentity(t), newIdentity(t)

	ta := NewRedis(client, alice, Options{Durable: true})
	tb := NewRedis(client, bob, Options{Durable: true})

	small := sampleMessage(alice.ID(), 10)
	large := sampleMessage(alice.ID(), 6000)
	require.NoError(t, ta.SendDurable(ctx, small, ir.NewAgentSet(bob.ID()), "e-small"))
	require.NoError(t, ta.SendDurable(ctx, large, ir.NewAgentSet(bob.ID()), "e-large"))

	inbound, err := tb.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, inbound, 2)
	got := map[string]ir.Message{}
	for _, in := range inbound {
		assert.Equal(t, alice.ID(), in.From)
		got[in.MessageID] = in.Message
	}
	assert.Equal(t, small, got["e-small"])
	assert.Equal(t, large, got["e-large"])

	again, err := tb.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, again, "mailbox is drained after poll")
}

func TestSendDurable_DedupByMessageID(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	alice, bob := newIdentity(t), newIdentity(t)
	ta := NewRedis(client, alice, Options{Durable: true})

	for range 3 {
		require.NoError(t, ta.SendDurable(ctx, sampleMessage(alice.ID(), 5), ir.NewAgentSet(bob.ID()), "same"))
	}

	keys := Keys{}
	fields, err := mr.HKeys(keys.Mailbox(bob.ID()))
	require.NoError(t, err)
	assert.Len(t, fields, 1, "resends replace the pending pointer")
}

func TestSendDurable_Unavailable(t *testing.T) {
	_, client := newRedis(t)
	alice := newIdentity(t)
	ta := NewRedis(client, alice, Options{Durable: false})

	err := ta.SendDurable(context.Background(), ir.Message{}, ir.NewAgentSet("x"), "m")
	assert.ErrorIs(t, err, ErrUnavailable)

	inbound, err := ta.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, inbound)
}

func TestSendDurable_RateLimited(t *testing.T) {
	_, client := newRedis(t)
	alice, bob, carol := newIdentity(t), newIdentity(t), newIdentity(t)
	ta := NewRedis(client, alice, Options{Durable: true, RatePerSecond: 1, Burst: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// The second recipient has to wait a full second for a token.
	err := ta.SendDurable(ctx, sampleMessage(alice.ID(), 5), ir.NewAgentSet(bob.ID(), carol.ID()), "m")
	assert.Error(t, err)
}

func TestSignal_SubscribeReceives(t *testing.T) {
	_, client := newRedis(t)
	alice, bob := newIdentity(t), newIdentity(t)
	ta := NewRedis(client, alice, Options{})
	tb := NewRedis(client, bob, Options{})
	defer tb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound, err := tb.Subscribe(ctx)
	require.NoError(t, err)

	msg := sampleMessage(alice.ID(), 20)
	require.NoError(t, ta.SendSignal(ctx, msg, ir.NewAgentSet(bob.ID())))

	select {
	case in := <-inbound:
		assert.Equal(t, alice.ID(), in.From)
		assert.Equal(t, msg, in.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("signal not received")
	}
}

func TestSignal_OfflineRecipientLosesIt(t *testing.T) {
	_, client := newRedis(t)
	alice, bob := newIdentity(t), newIdentity(t)
	ta := NewRedis(client, alice, Options{})

	// Nobody subscribed: publish succeeds and the signal is gone.
	require.NoError(t, ta.SendSignal(context.Background(), sampleMessage(alice.ID(), 1), ir.NewAgentSet(bob.ID())))
}

func TestRedisMailbox_DeleteKeepsNewerPointer(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	mb := NewRedisMailbox(client, Keys{Prefix: "test"}, 0)

	old := channel.Pointer{ID: "old", Sender: "a", Recipient: "b", MessageID: "m", Inline: []byte{1}}
	newer := channel.Pointer{ID: "new", Sender: "a", Recipient: "b", MessageID: "m", Inline: []byte{2}}

	require.NoError(t, mb.PutPointer(ctx, old))
	require.NoError(t, mb.PutPointer(ctx, newer))
	require.NoError(t, mb.DeletePointer(ctx, old))

	pointers, err := mb.Pointers(ctx, "b")
	require.NoError(t, err)
	require.Len(t, pointers, 1)
	assert.Equal(t, newer, pointers[0])

	require.NoError(t, mb.DeletePointer(ctx, newer))
	pointers, err = mb.Pointers(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, pointers)
}

func TestRedisMailbox_Blobs(t *testing.T) {
	ctx := context.Background()
	_, client := newRedis(t)
	mb := NewRedisMailbox(client, Keys{}, time.Hour)

	_, found, err := mb.GetBlob(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, mb.PutBlob(ctx, "b1", []byte("data")))
	require.NoError(t, mb.PutBlob(ctx, "b1", []byte("ignored")))
	got, found, err := mb.GetBlob(ctx, "b1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("data"), got, "blobs are immutable")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "privlog:signal:abc", Keys{}.Signal("abc"))
	assert.Equal(t, "x:mailbox:abc", Keys{Prefix: "x"}.Mailbox("abc"))
	assert.Equal(t, "privlog:devices:abc", Keys{}.Devices("abc"))
}
