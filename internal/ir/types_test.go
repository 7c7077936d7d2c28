package ir

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentIDRoundTrip(t *testing.T) {
	sign := bytes.Repeat([]byte{1}, SigningKeySize)
	box := bytes.Repeat([]byte{2}, BoxKeySize)

	id, err := NewAgentID(sign, box)
	require.NoError(t, err)

	parsed, err := ParseAgentID(string(id))
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	gotSign, gotBox, err := parsed.Keys()
	require.NoError(t, err)
	assert.Equal(t, sign, gotSign)
	assert.Equal(t, box, gotBox[:])
}

func TestParseAgentIDRejectsGarbage(t *testing.T) {
	_, err := ParseAgentID("not-hex")
	assert.Error(t, err)

	_, err = ParseAgentID("abcd")
	assert.Error(t, err)
}

func TestParseAgentIDRejectsUppercase(t *testing.T) {
	id, err := NewAgentID(bytes.Repeat([]byte{0xab}, SigningKeySize), bytes.Repeat([]byte{0xcd}, BoxKeySize))
	require.NoError(t, err)

	_, err = ParseAgentID(strings.ToUpper(string(id)))
	assert.Error(t, err)

	_, _, err = AgentID(strings.ToUpper(string(id))).Keys()
	assert.Error(t, err)
}

func TestTimestampExact(t *testing.T) {
	assert.True(t, Timestamp(0).Exact())
	assert.True(t, MaxExactTimestamp.Exact())
	assert.True(t, (-MaxExactTimestamp).Exact())
	assert.False(t, (MaxExactTimestamp + 1).Exact())
	assert.False(t, (-MaxExactTimestamp - 1).Exact())
}

func TestAgentSetOperations(t *testing.T) {
	s := NewAgentSet("c", "a", "b", "a")
	assert.Equal(t, AgentSet{"a", "b", "c"}, s)
	assert.True(t, s.Contains("b"))
	assert.False(t, s.Contains("d"))

	assert.Equal(t, AgentSet{"a", "b", "c", "d"}, s.Union(NewAgentSet("d", "a")))
	assert.Equal(t, AgentSet{"a", "c"}, s.Without("b"))
	assert.Equal(t, AgentSet{"c"}, s.Minus(NewAgentSet("a", "b")))
}

func TestTimestampConversions(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)
	ts := TimestampOf(now)
	assert.Equal(t, now, ts.Time())
	assert.Equal(t, time.Second, (ts + 1_000_000).Sub(ts))
}

func TestAwaitingDependencies(t *testing.T) {
	e := sampleEntry(7)
	parked := AwaitingEventEntry(e, []EventID{"z", "a", "z"})
	assert.Equal(t, AwaitingEvent, parked.Kind)
	assert.Equal(t, []EventID{"a", "z"}, parked.Dependencies())
	assert.Equal(t, Timestamp(7), parked.Timestamp())

	ack := AwaitingAck(Acknowledgement{Timestamp: 9, PrivateEventHash: "e"})
	assert.Equal(t, []EventID{"e"}, ack.Dependencies())
	assert.Equal(t, Timestamp(9), ack.Timestamp())

	sent := AwaitingSent(EventSentToRecipients{Timestamp: 11, EventHash: "f"})
	assert.Equal(t, []EventID{"f"}, sent.Dependencies())
	assert.Equal(t, Timestamp(11), sent.Timestamp())
}

func TestEventHistorySummaryContains(t *testing.T) {
	s := NewEventHistorySummary("me", 1, []EventID{"c", "a", "b", "a"})
	assert.Equal(t, []EventID{"a", "b", "c"}, s.EventIDs)
	assert.True(t, s.Contains("b"))
	assert.False(t, s.Contains("d"))
}
