package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/privlog/internal/identity"
	"github.com/roach88/privlog/internal/ir"
	"github.com/roach88/privlog/internal/store"
)

// DefaultResendInterval is the minimum time between two deliveries of the
// same event to the same unacknowledged recipient.
const DefaultResendInterval = 1000 * 24 * time.Hour

// Store is the append-only local log. *store.Store implements it.
type Store interface {
	InsertPrivateEvent(ctx context.Context, id ir.EventID, e ir.PrivateEventEntry) (bool, error)
	GetPrivateEvent(ctx context.Context, id ir.EventID) (ir.PrivateEventEntry, bool, error)
	HasPrivateEvent(ctx context.Context, id ir.EventID) (bool, error)
	PrivateEvents(ctx context.Context, f store.EventFilter) ([]store.StoredEvent, error)
	PrivateEventIDs(ctx context.Context) ([]ir.EventID, error)

	InsertAcknowledgement(ctx context.Context, a ir.Acknowledgement) (bool, error)
	Acknowledgements(ctx context.Context) ([]ir.Acknowledgement, error)
	AcknowledgementsFor(ctx context.Context, eventID ir.EventID) ([]ir.Acknowledgement, error)
	FindAcknowledgement(ctx context.Context, author ir.AgentID, eventID ir.EventID) (ir.Acknowledgement, bool, error)
	AcknowledgedBy(ctx context.Context) (map[ir.EventID]ir.AgentSet, error)

	InsertEventSent(ctx context.Context, rec ir.EventSentToRecipients) (bool, error)
	EventsSent(ctx context.Context) ([]ir.EventSentToRecipients, error)
	EventsSentFor(ctx context.Context, eventID ir.EventID) ([]ir.EventSentToRecipients, error)
	LastSent(ctx context.Context, eventID ir.EventID) (map[ir.AgentID]ir.Timestamp, error)

	InsertAwaiting(ctx context.Context, a ir.AwaitingDependencies) (bool, error)
	PendingAwaiting(ctx context.Context) ([]store.StoredAwaiting, error)
	ResolveAwaiting(ctx context.Context, awaitingID string, outcome store.Outcome, reason string, at ir.Timestamp) error
}

// Signer signs on behalf of the local agent. *identity.Identity
// implements it.
type Signer interface {
	ID() ir.AgentID
	Sign(data []byte) ([]byte, error)
}

// Verifier checks signatures of any agent. identity.Verifier implements it.
type Verifier interface {
	Verify(agent ir.AgentID, sig, data []byte) bool
}

// Transport carries Message bundles. *transport.Redis implements it.
//
// SendDurable returns transport.ErrUnavailable when durable messaging is
// not deployed.
type Transport interface {
	SendSignal(ctx context.Context, msg ir.Message, recipients ir.AgentSet) error
	SendDurable(ctx context.Context, msg ir.Message, recipients ir.AgentSet, messageID string) error
}

// Directory resolves linked devices and published history summaries.
type Directory interface {
	LinkedDevices(ctx context.Context, agent ir.AgentID) (ir.AgentSet, error)
	Summary(ctx context.Context, agent ir.AgentID) (ir.EventHistorySummary, bool, error)
	PublishSummary(ctx context.Context, summary ir.EventHistorySummary) error
}

// Engine admits, stores and delivers private events for one agent.
//
// Every exported operation runs to completion under a single mutex, so
// ticks, inbound messages and local creation never interleave.
type Engine struct {
	mu sync.Mutex

	store     Store
	signer    Signer
	verifier  Verifier
	registry  *Registry
	transport Transport
	directory Directory
	clock     Clock
	logger    *slog.Logger

	resendInterval time.Duration
	retroactive    bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithTransport sets the delivery transport. Without one, nothing is sent.
func WithTransport(t Transport) Option {
	return func(e *Engine) { e.transport = t }
}

// WithDirectory sets the linked-devices directory.
func WithDirectory(d Directory) Option {
	return func(e *Engine) { e.directory = d }
}

// WithVerifier replaces the default ed25519 verifier.
func WithVerifier(v Verifier) Option {
	return func(e *Engine) { e.verifier = v }
}

// WithClock sets the clock used to stamp envelopes and throttle resends.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithResendInterval overrides DefaultResendInterval.
func WithResendInterval(d time.Duration) Option {
	return func(e *Engine) { e.resendInterval = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRetroactiveRecipients enables recomputing recipients of earlier
// events when an event implementing RecipientsChanger is created.
func WithRetroactiveRecipients() Option {
	return func(e *Engine) { e.retroactive = true }
}

// New creates an Engine for the agent behind signer.
func New(s Store, signer Signer, registry *Registry, opts ...Option) *Engine {
	e := &Engine{
		store:          s,
		signer:         signer,
		verifier:       identity.Verifier{},
		registry:       registry,
		clock:          NewSystemClock(),
		logger:         slog.Default(),
		resendInterval: DefaultResendInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Self returns the local agent id.
func (e *Engine) Self() ir.AgentID { return e.signer.ID() }

// Registry returns the event type registry.
func (e *Engine) Registry() *Registry { return e.registry }

// QueryEvents returns stored private events matching f, keyed by id.
func (e *Engine) QueryEvents(ctx context.Context, f store.EventFilter) (map[ir.EventID]ir.PrivateEventEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	events, err := e.store.PrivateEvents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	out := make(map[ir.EventID]ir.PrivateEventEntry, len(events))
	for _, ev := range events {
		out[ev.ID] = ev.Entry
	}
	return out, nil
}

// ScheduledTasks is the periodic tick: drain the awaiting queue, sweep
// acknowledgements, resend what is due and publish the history summary.
// Failures of individual steps are joined; every step runs.
func (e *Engine) ScheduledTasks(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if err := e.attemptCommitAwaitingDeps(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.createAcknowledgements(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.resendEventsIfNecessary(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.publishSummary(ctx); err != nil {
		errs = append(errs, err)
	}
	return joinErrors("scheduled tasks", errs)
}

// view adapts the engine to View for event callbacks. It never locks; it
// is only handed out while e.mu is held.
type view struct{ e *Engine }

func (v view) Self() ir.AgentID { return v.e.Self() }

func (v view) GetPrivateEvent(ctx context.Context, id ir.EventID) (ir.PrivateEventEntry, bool, error) {
	return v.e.store.GetPrivateEvent(ctx, id)
}

func (v view) PrivateEvents(ctx context.Context, f store.EventFilter) ([]store.StoredEvent, error) {
	return v.e.store.PrivateEvents(ctx, f)
}

func (v view) Decode(entry ir.PrivateEventEntry) (PrivateEvent, error) {
	return v.e.registry.Decode(entry.Event.Content)
}
