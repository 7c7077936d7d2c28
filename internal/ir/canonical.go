package ir

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON for signing and hashing.
// This is the ONLY serialization used for signatures and content-addressed
// identity. Wire transfer uses the CBOR codec instead.
//
// Pipeline:
//  1. encoding/json with HTML escaping disabled
//  2. NFC normalization of the encoded text
//  3. RFC 8785 transform (key order by UTF-16 code units, number and
//     string normalization)
//
// Byte slices encode as base64 strings. Callers never pass floats: every
// numeric field in the data model is an int64.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical: encode: %w", err)
	}

	// NFC never touches the ASCII JSON structure, only string contents.
	normalized := norm.NFC.Bytes(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))

	out, err := jcs.Transform(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// MustMarshalCanonical is like MarshalCanonical but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustMarshalCanonical(v any) []byte {
	b, err := MarshalCanonical(v)
	if err != nil {
		panic(err)
	}
	return b
}
