// Package identity holds an agent's key material and the signing,
// verification and box encryption primitives built on it.
//
// An agent has two key pairs: Ed25519 for signatures and X25519 for
// authenticated encryption (NaCl box, XSalsa20-Poly1305). Both public keys
// are packed into the agent's ir.AgentID, so any peer can verify and
// encrypt knowing only the id.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"github.com/roach88/privlog/internal/ir"
)

const nonceSize = 24

// ErrDecrypt is returned when a box cannot be opened: wrong keys, a
// tampered ciphertext or a truncated nonce.
var ErrDecrypt = errors.New("identity: box authentication failed")

// Identity is an agent's private key material. It is safe for concurrent
// use; all methods are read-only.
type Identity struct {
	signing ed25519.PrivateKey
	boxPub  *[32]byte
	boxPriv *[32]byte
	ageKey  string
	id      ir.AgentID
}

// Generate creates a fresh identity. A nil reader uses crypto/rand.
func Generate(random io.Reader) (*Identity, error) {
	if random == nil {
		random = rand.Reader
	}
	_, signing, err := ed25519.GenerateKey(random)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	_, boxPriv, err := box.GenerateKey(random)
	if err != nil {
		return nil, fmt.Errorf("generate box key: %w", err)
	}
	return FromKeys(signing.Seed(), boxPriv[:], "")
}

// FromKeys rebuilds an identity from a 32-byte Ed25519 seed and a 32-byte
// X25519 private key. ageKey is the optional AGE-SECRET-KEY used to open
// sealed history exports.
func FromKeys(signingSeed, boxPrivate []byte, ageKey string) (*Identity, error) {
	if len(signingSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(signingSeed))
	}
	if len(boxPrivate) != 32 {
		return nil, fmt.Errorf("box private key must be 32 bytes, got %d", len(boxPrivate))
	}

	signing := ed25519.NewKeyFromSeed(signingSeed)
	var priv, pub [32]byte
	copy(priv[:], boxPrivate)
	pubBytes, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive box public key: %w", err)
	}
	copy(pub[:], pubBytes)

	id, err := ir.NewAgentID(signing.Public().(ed25519.PublicKey), pub[:])
	if err != nil {
		return nil, err
	}
	return &Identity{signing: signing, boxPub: &pub, boxPriv: &priv, ageKey: ageKey, id: id}, nil
}

// ID returns the agent id derived from the public keys.
func (i *Identity) ID() ir.AgentID { return i.id }

// AgeKey returns the AGE-SECRET-KEY string, or "" if none is configured.
func (i *Identity) AgeKey() string { return i.ageKey }

// WithAgeKey returns a copy of the identity carrying ageKey.
func (i *Identity) WithAgeKey(ageKey string) *Identity {
	c := *i
	c.ageKey = ageKey
	return &c
}

// Sign produces a detached Ed25519 signature over data.
func (i *Identity) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(i.signing, data), nil
}

// Verify checks sig over data under agent's signing key. A malformed
// agent id never verifies.
func Verify(agent ir.AgentID, sig, data []byte) bool {
	pub, _, err := agent.Keys()
	if err != nil {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
}

// Verifier adapts the package-level Verify to an interface value.
type Verifier struct{}

// Verify implements signature verification for any agent.
func (Verifier) Verify(agent ir.AgentID, sig, data []byte) bool {
	return Verify(agent, sig, data)
}

// ContentHash hashes already-encoded bytes into an event id.
func (Verifier) ContentHash(data []byte) ir.EventID {
	return ir.ContentHash(data)
}

// Seal encrypts plaintext for recipient with NaCl box. The random nonce is
// prepended to the ciphertext.
func (i *Identity) Seal(recipient ir.AgentID, plaintext []byte) ([]byte, error) {
	_, peer, err := recipient.Keys()
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	return box.Seal(nonce[:], plaintext, &nonce, peer, i.boxPriv), nil
}

// Open decrypts a ciphertext produced by sender's Seal.
func (i *Identity) Open(sender ir.AgentID, ciphertext []byte) ([]byte, error) {
	_, peer, err := sender.Keys()
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if len(ciphertext) < nonceSize+box.Overhead {
		return nil, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	out, ok := box.Open(nil, ciphertext[nonceSize:], &nonce, peer, i.boxPriv)
	if !ok {
		return nil, ErrDecrypt
	}
	return out, nil
}
