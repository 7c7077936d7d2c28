package ir

import (
	"encoding/hex"
	"fmt"
	"slices"
)

// Key sizes packed into an AgentID.
const (
	SigningKeySize = 32
	BoxKeySize     = 32
	agentIDBytes   = SigningKeySize + BoxKeySize
)

// AgentID identifies an agent: lowercase hex of its Ed25519 signing
// public key followed by its X25519 box public key.
type AgentID string

// NewAgentID packs a signing key and a box key into an AgentID.
func NewAgentID(signingKey, boxKey []byte) (AgentID, error) {
	if len(signingKey) != SigningKeySize {
		return "", fmt.Errorf("agent id: signing key must be %d bytes, got %d", SigningKeySize, len(signingKey))
	}
	if len(boxKey) != BoxKeySize {
		return "", fmt.Errorf("agent id: box key must be %d bytes, got %d", BoxKeySize, len(boxKey))
	}
	raw := make([]byte, 0, agentIDBytes)
	raw = append(raw, signingKey...)
	raw = append(raw, boxKey...)
	return AgentID(hex.EncodeToString(raw)), nil
}

// ParseAgentID validates the textual form of an AgentID.
func ParseAgentID(s string) (AgentID, error) {
	id := AgentID(s)
	if _, _, err := id.Keys(); err != nil {
		return "", err
	}
	return id, nil
}

// Keys unpacks the signing and box public keys.
func (a AgentID) Keys() (signingKey []byte, boxKey *[BoxKeySize]byte, err error) {
	raw, err := hex.DecodeString(string(a))
	if err != nil {
		return nil, nil, fmt.Errorf("agent id %q: %w", a.Short(), err)
	}
	if len(raw) != agentIDBytes {
		return nil, nil, fmt.Errorf("agent id %q: want %d bytes, got %d", a.Short(), agentIDBytes, len(raw))
	}
	// One key pair has exactly one id: lowercase hex only.
	if hex.EncodeToString(raw) != string(a) {
		return nil, nil, fmt.Errorf("agent id %q: not lowercase hex", a.Short())
	}
	var box [BoxKeySize]byte
	copy(box[:], raw[SigningKeySize:])
	return raw[:SigningKeySize], &box, nil
}

// Short returns an abbreviated form for logs.
func (a AgentID) Short() string {
	if len(a) <= 12 {
		return string(a)
	}
	return string(a[:12])
}

// AgentSet is a sorted, duplicate-free list of agents. Sorted order keeps
// its canonical encoding stable.
type AgentSet []AgentID

// NewAgentSet builds a set from any list of agents.
func NewAgentSet(agents ...AgentID) AgentSet {
	s := slices.Clone(agents)
	slices.Sort(s)
	return AgentSet(slices.Compact(s))
}

// Contains reports membership.
func (s AgentSet) Contains(a AgentID) bool {
	_, found := slices.BinarySearch(s, a)
	return found
}

// Union returns s ∪ other.
func (s AgentSet) Union(other AgentSet) AgentSet {
	merged := make([]AgentID, 0, len(s)+len(other))
	merged = append(merged, s...)
	merged = append(merged, other...)
	return NewAgentSet(merged...)
}

// Without returns s minus every agent in drop.
func (s AgentSet) Without(drop ...AgentID) AgentSet {
	out := make(AgentSet, 0, len(s))
	for _, a := range s {
		if !slices.Contains(drop, a) {
			out = append(out, a)
		}
	}
	return out
}

// Minus returns s \ other.
func (s AgentSet) Minus(other AgentSet) AgentSet {
	out := make(AgentSet, 0, len(s))
	for _, a := range s {
		if !other.Contains(a) {
			out = append(out, a)
		}
	}
	return out
}
