package channel

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: Decrypt(Encrypt(p)) == p for any payload and chunk size.
func TestEncryptDecryptRoundTripProperty(t *testing.T) {
	alice, bob := newIdentity(t), newIdentity(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("chunked encryption round-trips", prop.ForAll(
		func(payload []byte, chunkSize int) bool {
			enc, err := New(alice, nil, WithChunkSize(chunkSize)).Encrypt(bob.ID(), payload)
			if err != nil {
				return false
			}
			got, err := New(bob, nil).Decrypt(alice.ID(), enc)
			if err != nil {
				return false
			}
			return bytes.Equal(payload, got)
		},
		gen.SliceOf(gen.UInt8()),
		gen.IntRange(1, 64),
	))

	properties.Property("split preserves bytes and bounds chunk size", prop.ForAll(
		func(payload []byte, size int) bool {
			chunks := split(payload, size)
			for _, c := range chunks {
				if len(c) > size {
					return false
				}
			}
			return bytes.Equal(bytes.Join(chunks, nil), payload)
		},
		gen.SliceOf(gen.UInt8()),
		gen.IntRange(1, 32),
	))

	properties.TestingRun(t)
}
