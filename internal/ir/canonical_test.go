package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalSortsKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": true, "y": false}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":{"y":false,"z":true}}`, string(got))
}

func TestMarshalCanonicalNoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"s": "<a & b>"})
	require.NoError(t, err)
	assert.Equal(t, `{"s":"<a & b>"}`, string(got))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	// "é" as e + combining acute accent vs precomposed U+00E9
	decomposed, err := MarshalCanonical(map[string]any{"s": "e\u0301"})
	require.NoError(t, err)
	composed, err := MarshalCanonical(map[string]any{"s": "\u00e9"})
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonicalStructFields(t *testing.T) {
	c := SignedContent{Timestamp: 42, EventType: "SharedEntry", Content: []byte{1, 2, 3}}
	got, err := MarshalCanonical(c)
	require.NoError(t, err)
	assert.Equal(t, `{"content":"AQID","event_type":"SharedEntry","timestamp":42}`, string(got))
}

func TestMarshalCanonicalDeterministic(t *testing.T) {
	e := PrivateEventEntry{
		Author:    "aa",
		Signature: []byte("sig"),
		Event:     SignedContent{Timestamp: 1, EventType: "x", Content: []byte("payload")},
	}
	first := MustMarshalCanonical(e)
	for range 10 {
		assert.Equal(t, first, MustMarshalCanonical(e))
	}
}
