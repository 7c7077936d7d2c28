package ir

import (
	"slices"
	"time"
)

// EventID is the content hash of a PrivateEventEntry's canonical encoding.
type EventID string

// Timestamp is microseconds since the Unix epoch.
type Timestamp int64

// MaxExactTimestamp bounds timestamps whose canonical JSON form is exact.
// RFC 8785 writes numbers as IEEE doubles, so larger values collide.
const MaxExactTimestamp Timestamp = 1 << 53

// Exact reports whether t survives canonical encoding unchanged.
func (t Timestamp) Exact() bool {
	return t >= -MaxExactTimestamp && t <= MaxExactTimestamp
}

// TimestampOf converts a wall-clock time to a Timestamp.
func TimestampOf(t time.Time) Timestamp {
	return Timestamp(t.UnixMicro())
}

// Time converts the timestamp back to wall-clock time (UTC).
func (t Timestamp) Time() time.Time {
	return time.UnixMicro(int64(t)).UTC()
}

// Sub returns t - u as a duration.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(int64(t)-int64(u)) * time.Microsecond
}

// SignedContent is the part of a private event covered by the author's
// signature.
type SignedContent struct {
	Timestamp Timestamp `json:"timestamp" cbor:"timestamp"`
	EventType string    `json:"event_type" cbor:"event_type"`
	Content   []byte    `json:"content" cbor:"content"`
}

// PrivateEventEntry is a signed envelope around opaque application bytes,
// as stored in the local log. It is never mutated and never deleted.
type PrivateEventEntry struct {
	Author    AgentID       `json:"author" cbor:"author"`
	Signature []byte        `json:"signature" cbor:"signature"`
	Event     SignedContent `json:"event" cbor:"event"`
}

// Timestamp returns the signed creation time.
func (e PrivateEventEntry) Timestamp() Timestamp { return e.Event.Timestamp }

// AcknowledgementContent is the signed part of an Acknowledgement.
type AcknowledgementContent struct {
	Timestamp        Timestamp `json:"timestamp" cbor:"timestamp"`
	PrivateEventHash EventID   `json:"private_event_hash" cbor:"private_event_hash"`
}

// Acknowledgement proves that Author holds the event PrivateEventHash.
// It is signed by the acknowledging agent, not by the event's author.
type Acknowledgement struct {
	Author           AgentID   `json:"author" cbor:"author"`
	Signature        []byte    `json:"signature" cbor:"signature"`
	Timestamp        Timestamp `json:"timestamp" cbor:"timestamp"`
	PrivateEventHash EventID   `json:"private_event_hash" cbor:"private_event_hash"`
}

// Content returns the signed part of the acknowledgement.
func (a Acknowledgement) Content() AcknowledgementContent {
	return AcknowledgementContent{Timestamp: a.Timestamp, PrivateEventHash: a.PrivateEventHash}
}

// EventSentContent is the signed part of an EventSentToRecipients record.
type EventSentContent struct {
	Timestamp  Timestamp `json:"timestamp" cbor:"timestamp"`
	EventHash  EventID   `json:"event_hash" cbor:"event_hash"`
	Recipients AgentSet  `json:"recipients" cbor:"recipients"`
}

// EventSentToRecipients records that Author attempted delivery of
// EventHash to Recipients at Timestamp.
type EventSentToRecipients struct {
	Author     AgentID   `json:"author" cbor:"author"`
	Signature  []byte    `json:"signature" cbor:"signature"`
	Timestamp  Timestamp `json:"timestamp" cbor:"timestamp"`
	EventHash  EventID   `json:"event_hash" cbor:"event_hash"`
	Recipients AgentSet  `json:"recipients" cbor:"recipients"`
}

// Content returns the signed part of the record.
func (s EventSentToRecipients) Content() EventSentContent {
	return EventSentContent{Timestamp: s.Timestamp, EventHash: s.EventHash, Recipients: s.Recipients}
}

// AwaitingKind discriminates the AwaitingDependencies union.
type AwaitingKind string

const (
	AwaitingEvent           AwaitingKind = "event"
	AwaitingAcknowledgement AwaitingKind = "acknowledgement"
	AwaitingEventSent       AwaitingKind = "event_sent_to_recipients"
)

// AwaitingDependencies holds anything that referenced an EventID not yet
// present locally. Exactly one of Event, Acknowledgement or EventSent is
// set, matching Kind.
type AwaitingDependencies struct {
	Kind            AwaitingKind           `json:"kind" cbor:"kind"`
	Event           *PrivateEventEntry     `json:"event,omitempty" cbor:"event,omitempty"`
	Unresolved      []EventID              `json:"unresolved,omitempty" cbor:"unresolved,omitempty"`
	Acknowledgement *Acknowledgement       `json:"acknowledgement,omitempty" cbor:"acknowledgement,omitempty"`
	EventSent       *EventSentToRecipients `json:"event_sent,omitempty" cbor:"event_sent,omitempty"`
}

// AwaitingEventEntry parks a private event on its unresolved dependencies.
func AwaitingEventEntry(e PrivateEventEntry, unresolved []EventID) AwaitingDependencies {
	deps := slices.Clone(unresolved)
	slices.Sort(deps)
	return AwaitingDependencies{Kind: AwaitingEvent, Event: &e, Unresolved: slices.Compact(deps)}
}

// AwaitingAck parks an acknowledgement whose event is absent.
func AwaitingAck(a Acknowledgement) AwaitingDependencies {
	return AwaitingDependencies{Kind: AwaitingAcknowledgement, Acknowledgement: &a}
}

// AwaitingSent parks a sent-to-recipients record whose event is absent.
func AwaitingSent(s EventSentToRecipients) AwaitingDependencies {
	return AwaitingDependencies{Kind: AwaitingEventSent, EventSent: &s}
}

// Timestamp returns the timestamp of the wrapped record.
func (a AwaitingDependencies) Timestamp() Timestamp {
	switch a.Kind {
	case AwaitingEvent:
		if a.Event != nil {
			return a.Event.Timestamp()
		}
	case AwaitingAcknowledgement:
		if a.Acknowledgement != nil {
			return a.Acknowledgement.Timestamp
		}
	case AwaitingEventSent:
		if a.EventSent != nil {
			return a.EventSent.Timestamp
		}
	}
	return 0
}

// Dependencies returns the event ids this entry waits on.
func (a AwaitingDependencies) Dependencies() []EventID {
	switch a.Kind {
	case AwaitingEvent:
		return a.Unresolved
	case AwaitingAcknowledgement:
		if a.Acknowledgement != nil {
			return []EventID{a.Acknowledgement.PrivateEventHash}
		}
	case AwaitingEventSent:
		if a.EventSent != nil {
			return []EventID{a.EventSent.EventHash}
		}
	}
	return nil
}

// Message is the bundle exchanged between agents. A single message
// carries events together with their proof-of-receipt state.
type Message struct {
	PrivateEvents          []PrivateEventEntry     `json:"private_events" cbor:"private_events"`
	EventsSentToRecipients []EventSentToRecipients `json:"events_sent_to_recipients" cbor:"events_sent_to_recipients"`
	Acknowledgements       []Acknowledgement       `json:"acknowledgements" cbor:"acknowledgements"`
}

// Empty reports whether the message carries nothing.
func (m Message) Empty() bool {
	return len(m.PrivateEvents) == 0 && len(m.EventsSentToRecipients) == 0 && len(m.Acknowledgements) == 0
}

// EventHistory is a full snapshot of an agent's log, used for migration
// between identities.
type EventHistory struct {
	Version                string                  `json:"version" cbor:"version"`
	AwaitingDependencies   []AwaitingDependencies  `json:"awaiting_dependencies" cbor:"awaiting_dependencies"`
	PrivateEvents          []PrivateEventEntry     `json:"private_events" cbor:"private_events"`
	EventsSentToRecipients []EventSentToRecipients `json:"events_sent_to_recipients" cbor:"events_sent_to_recipients"`
	Acknowledgements       []Acknowledgement       `json:"acknowledgements" cbor:"acknowledgements"`
}

// EventHistorySummary lists the event ids an agent holds. Agents publish
// it to the directory so peers can skip events already received.
type EventHistorySummary struct {
	Agent     AgentID   `json:"agent" cbor:"agent"`
	Timestamp Timestamp `json:"timestamp" cbor:"timestamp"`
	EventIDs  []EventID `json:"events_ids" cbor:"events_ids"`
}

// Contains reports whether the summary lists id.
func (s EventHistorySummary) Contains(id EventID) bool {
	_, found := slices.BinarySearch(s.EventIDs, id)
	return found
}

// NewEventHistorySummary builds a summary with sorted, unique ids.
func NewEventHistorySummary(agent AgentID, ts Timestamp, ids []EventID) EventHistorySummary {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return EventHistorySummary{Agent: agent, Timestamp: ts, EventIDs: slices.Compact(sorted)}
}
