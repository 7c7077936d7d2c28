package engine

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/roach88/privlog/internal/codec"
	"github.com/roach88/privlog/internal/ir"
	"github.com/roach88/privlog/internal/store"
)

// PrivateEvent is an application event type. The engine never inspects
// its fields; it only calls these callbacks.
type PrivateEvent interface {
	// EventType is the type tag stored in the envelope.
	EventType() string

	// Validate decides whether the event may be admitted when authored by
	// author at ts.
	Validate(ctx context.Context, view View, author ir.AgentID, ts ir.Timestamp) Verdict

	// Recipients lists the agents that should receive the event.
	Recipients(ctx context.Context, view View, author ir.AgentID, ts ir.Timestamp) (ir.AgentSet, error)
}

// PostCommitter is implemented by events that react to their own
// admission.
type PostCommitter interface {
	PostCommit(ctx context.Context, view View, id ir.EventID, entry ir.PrivateEventEntry) error
}

// RecipientsChanger is implemented by events whose admission may change
// the recipients of earlier events (for example, adding a contact).
type RecipientsChanger interface {
	ChangesRecipients() bool
}

// View is the read-only local state exposed to event callbacks.
type View interface {
	Self() ir.AgentID
	GetPrivateEvent(ctx context.Context, id ir.EventID) (ir.PrivateEventEntry, bool, error)
	PrivateEvents(ctx context.Context, f store.EventFilter) ([]store.StoredEvent, error)
	Decode(entry ir.PrivateEventEntry) (PrivateEvent, error)
}

// VerdictKind is the outcome of validating an event.
type VerdictKind int

const (
	VerdictValid VerdictKind = iota + 1
	VerdictInvalid
	VerdictUnresolved
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictValid:
		return "valid"
	case VerdictInvalid:
		return "invalid"
	case VerdictUnresolved:
		return "unresolved"
	default:
		return fmt.Sprintf("VerdictKind(%d)", int(k))
	}
}

// Verdict is returned by validation. Reason and Code are set for Invalid,
// Dependencies for Unresolved.
type Verdict struct {
	Kind         VerdictKind
	Reason       string
	Code         ErrorCode
	Dependencies []ir.EventID
}

// Valid admits the event.
func Valid() Verdict { return Verdict{Kind: VerdictValid} }

// Invalid rejects the event with a reason.
func Invalid(reason string) Verdict {
	return Verdict{Kind: VerdictInvalid, Reason: reason, Code: ErrCodeApplicationRejected}
}

// Unresolved parks the event until every id in deps is present.
func Unresolved(deps ...ir.EventID) Verdict {
	sorted := slices.Clone(deps)
	slices.Sort(sorted)
	return Verdict{Kind: VerdictUnresolved, Dependencies: slices.Compact(sorted)}
}

func invalidWith(code ErrorCode, format string, args ...any) Verdict {
	return Verdict{Kind: VerdictInvalid, Reason: fmt.Sprintf(format, args...), Code: code}
}

// payload is the encoding of PrivateEventEntry content: a type tag and
// the CBOR encoding of the event value.
type payload struct {
	Type  string           `cbor:"type"`
	Event codec.RawMessage `cbor:"event"`
}

// Registry maps event type tags to constructors.
//
// Thread-safety: Register may race with Decode; both lock.
type Registry struct {
	mu    sync.RWMutex
	types map[string]func() PrivateEvent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]func() PrivateEvent)}
}

// Register adds an event type. newEvent must return a pointer that
// codec.Unmarshal can decode into. Registering a type twice panics.
func (r *Registry) Register(eventType string, newEvent func() PrivateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.types[eventType]; dup {
		panic(fmt.Sprintf("engine: event type %q registered twice", eventType))
	}
	r.types[eventType] = newEvent
}

// Known reports whether eventType is registered.
func (r *Registry) Known(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[eventType]
	return ok
}

// Types returns the registered type tags, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// New returns a zero event of eventType, ready to be decoded into.
func (r *Registry) New(eventType string) (PrivateEvent, error) {
	r.mu.RLock()
	newEvent, ok := r.types[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	return newEvent(), nil
}

// Encode produces envelope content for ev.
func (r *Registry) Encode(ev PrivateEvent) ([]byte, error) {
	if !r.Known(ev.EventType()) {
		return nil, fmt.Errorf("unregistered event type %q", ev.EventType())
	}
	body, err := codec.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	return codec.Marshal(payload{Type: ev.EventType(), Event: body})
}

// Decode reconstructs the application event carried by content.
func (r *Registry) Decode(content []byte) (PrivateEvent, error) {
	var p payload
	if err := codec.Unmarshal(content, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	ev, err := r.New(p.Type)
	if err != nil {
		return nil, err
	}
	if err := codec.Unmarshal(p.Event, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.Type, err)
	}
	if ev.EventType() != p.Type {
		return nil, fmt.Errorf("payload tagged %q decodes as %q", p.Type, ev.EventType())
	}
	return ev, nil
}
