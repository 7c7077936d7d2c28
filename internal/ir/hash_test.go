package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry(ts Timestamp) PrivateEventEntry {
	return PrivateEventEntry{
		Author:    "author",
		Signature: []byte("signature"),
		Event:     SignedContent{Timestamp: ts, EventType: "SharedEntry", Content: []byte("hello")},
	}
}

func TestHashEventDeterminism(t *testing.T) {
	id1, err := HashEvent(sampleEntry(1))
	require.NoError(t, err)
	id2, err := HashEvent(sampleEntry(1))
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "HashEvent must be deterministic")
	assert.Len(t, string(id1), 64, "BLAKE3-256 hex is 64 characters")
}

func TestHashEventChangesWithInput(t *testing.T) {
	base := sampleEntry(1)

	otherTime := sampleEntry(2)
	otherSig := sampleEntry(1)
	otherSig.Signature = []byte("other")
	otherAuthor := sampleEntry(1)
	otherAuthor.Author = "someone-else"

	id := MustHashEvent(base)
	assert.NotEqual(t, id, MustHashEvent(otherTime))
	assert.NotEqual(t, id, MustHashEvent(otherSig))
	assert.NotEqual(t, id, MustHashEvent(otherAuthor))
}

func TestDomainSeparation(t *testing.T) {
	data := []byte("same bytes")
	assert.NotEqual(t, hashWithDomain(eventKey, data), hashWithDomain(ackKey, data))
	assert.NotEqual(t, hashWithDomain(ackKey, data), hashWithDomain(sentKey, data))
	assert.NotEqual(t, hashWithDomain(eventKey, data), HashBlob(data))
}

func TestHashAcknowledgementIgnoresNothing(t *testing.T) {
	a := Acknowledgement{Author: "b", Signature: []byte("s"), Timestamp: 5, PrivateEventHash: "e1"}
	b := a
	b.PrivateEventHash = "e2"

	ha, err := HashAcknowledgement(a)
	require.NoError(t, err)
	hb, err := HashAcknowledgement(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestNewDomainKeyPanicsOnLongName(t *testing.T) {
	assert.Panics(t, func() { newDomainKey("this/domain/name/is/far/too/long/for/a/key") })
}
