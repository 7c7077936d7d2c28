package ir

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// domainKey is a 32-byte key for BLAKE3 keyed hashing. The same canonical
// bytes hash differently per record kind, so an acknowledgement can never
// collide with an event id.
type domainKey [32]byte

// newDomainKey pads an ASCII domain name with zeros to 32 bytes.
func newDomainKey(domain string) domainKey {
	if len(domain) > 32 {
		panic("ir: domain name longer than 32 bytes: " + domain)
	}
	var k domainKey
	copy(k[:], domain)
	return k
}

// Domain names for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainEvent    = "privlog/event/v1"
	DomainAck      = "privlog/ack/v1"
	DomainSent     = "privlog/sent/v1"
	DomainAwaiting = "privlog/awaiting/v1"
	DomainBlob     = "privlog/blob/v1"
)

var (
	eventKey    = newDomainKey(DomainEvent)
	ackKey      = newDomainKey(DomainAck)
	sentKey     = newDomainKey(DomainSent)
	awaitingKey = newDomainKey(DomainAwaiting)
	blobKey     = newDomainKey(DomainBlob)
)

// hashWithDomain computes a BLAKE3 keyed hash and hex-encodes it.
func hashWithDomain(key domainKey, data []byte) string {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("ir: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalHash marshals v canonically and hashes it under key.
func canonicalHash(what string, key domainKey, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("%s: failed to marshal: %w", what, err)
	}
	return hashWithDomain(key, canonical), nil
}

// HashEvent computes the EventID of a private event entry.
// The whole envelope is hashed: author, signature and signed content.
// Ed25519 signatures are deterministic, so re-signing the same content
// yields the same id.
func HashEvent(e PrivateEventEntry) (EventID, error) {
	h, err := canonicalHash("HashEvent", eventKey, e)
	return EventID(h), err
}

// HashAcknowledgement computes the content id of an acknowledgement.
func HashAcknowledgement(a Acknowledgement) (string, error) {
	return canonicalHash("HashAcknowledgement", ackKey, a)
}

// HashEventSent computes the content id of a sent-to-recipients record.
func HashEventSent(s EventSentToRecipients) (string, error) {
	return canonicalHash("HashEventSent", sentKey, s)
}

// HashAwaiting computes the content id of a parked entry.
func HashAwaiting(a AwaitingDependencies) (string, error) {
	return canonicalHash("HashAwaiting", awaitingKey, a)
}

// HashBlob computes the id of an opaque ciphertext blob.
func HashBlob(data []byte) string {
	return hashWithDomain(blobKey, data)
}

// ContentHash is the plain keyed digest of arbitrary bytes in the event
// domain, exposed for collaborators that hash pre-encoded content.
func ContentHash(data []byte) EventID {
	return EventID(hashWithDomain(eventKey, data))
}

// MustHashEvent is like HashEvent but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustHashEvent(e PrivateEventEntry) EventID {
	id, err := HashEvent(e)
	if err != nil {
		panic(err)
	}
	return id
}
