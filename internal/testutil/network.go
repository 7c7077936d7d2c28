package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/privlog/internal/channel"
	"github.com/roach88/privlog/internal/ir"
	"github.com/roach88/privlog/internal/transport"
)

// ErrDurableDown is returned by SendDurable while the durable path is
// made to fail.
var ErrDurableDown = errors.New("testutil: durable delivery failing")

// Network is an in-memory transport shared by test agents.
//
// Signals reach only agents that are online at send time; they are
// queued per recipient until DrainSignals. Durable messages go through a
// shared encrypted MemoryMailbox and wait for Poll regardless of online
// state, exactly like the Redis mailbox.
type Network struct {
	mu          sync.Mutex
	mailbox     *channel.MemoryMailbox
	offline     map[ir.AgentID]bool
	signals     map[ir.AgentID][]signal
	durableOff  bool
	durableFail bool
	stats       map[ir.AgentID]*Stats
}

type signal struct {
	from   ir.AgentID
	sealed []byte
}

// Stats counts what one agent sent.
type Stats struct {
	Signals        int
	SignalsDropped int
	Durable        int
}

// NewNetwork creates an empty network with durable messaging enabled.
func NewNetwork() *Network {
	return &Network{
		mailbox: channel.NewMemoryMailbox(),
		offline: make(map[ir.AgentID]bool),
		signals: make(map[ir.AgentID][]signal),
		stats:   make(map[ir.AgentID]*Stats),
	}
}

// Endpoint is one agent's view of the network. It implements
// engine.Transport.
type Endpoint struct {
	net *Network
	ch  *channel.Channel
}

// Join attaches an agent. Pointer ids come from a per-agent sequence so
// runs are reproducible.
func (n *Network) Join(keys channel.Keys, opts ...channel.Option) *Endpoint {
	opts = append([]channel.Option{channel.WithIDGenerator(channel.NewSequenceGenerator(keys.ID().Short()))}, opts...)
	return &Endpoint{net: n, ch: channel.New(keys, n.mailbox, opts...)}
}

// SetOnline toggles whether agent receives signals.
func (n *Network) SetOnline(agent ir.AgentID, online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline[agent] = !online
}

// SetDurable enables or removes the durable channel. Removed, SendDurable
// returns transport.ErrUnavailable.
func (n *Network) SetDurable(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.durableOff = !enabled
}

// FailDurable makes SendDurable return ErrDurableDown.
func (n *Network) FailDurable(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.durableFail = fail
}

// Stats returns a copy of agent's send counters.
func (n *Network) Stats(agent ir.AgentID) Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := n.stats[agent]; ok {
		return *s
	}
	return Stats{}
}

// PendingDurable reports how many mailbox pointers wait for agent.
func (n *Network) PendingDurable(agent ir.AgentID) int {
	return n.mailbox.Pending(agent)
}

func (n *Network) statsFor(agent ir.AgentID) *Stats {
	s, ok := n.stats[agent]
	if !ok {
		s = &Stats{}
		n.stats[agent] = s
	}
	return s
}

// Self returns the agent behind the endpoint.
func (e *Endpoint) Self() ir.AgentID { return e.ch.Self() }

func (e *Endpoint) SendSignal(_ context.Context, msg ir.Message, recipients ir.AgentSet) error {
	self := e.ch.Self()
	for _, r := range recipients {
		sealed, err := e.ch.SealMessage(r, msg)
		if err != nil {
			return fmt.Errorf("signal %s: %w", r.Short(), err)
		}
		e.net.mu.Lock()
		st := e.net.statsFor(self)
		if e.net.offline[r] {
			st.SignalsDropped++
		} else {
			st.Signals++
			e.net.signals[r] = append(e.net.signals[r], signal{from: self, sealed: sealed})
		}
		e.net.mu.Unlock()
	}
	return nil
}

func (e *Endpoint) SendDurable(ctx context.Context, msg ir.Message, recipients ir.AgentSet, messageID string) error {
	e.net.mu.Lock()
	off, fail := e.net.durableOff, e.net.durableFail
	e.net.mu.Unlock()
	if off {
		return transport.ErrUnavailable
	}
	if fail {
		return ErrDurableDown
	}
	for _, r := range recipients {
		if err := e.ch.Post(ctx, r, messageID, msg); err != nil {
			return err
		}
		e.net.mu.Lock()
		e.net.statsFor(e.ch.Self()).Durable++
		e.net.mu.Unlock()
	}
	return nil
}

// DrainSignals returns and clears the signals queued for this agent.
func (e *Endpoint) DrainSignals() []channel.Inbound {
	self := e.ch.Self()
	e.net.mu.Lock()
	queued := e.net.signals[self]
	delete(e.net.signals, self)
	e.net.mu.Unlock()

	out := make([]channel.Inbound, 0, len(queued))
	for _, s := range queued {
		msg, err := e.ch.OpenMessage(s.from, s.sealed)
		if err != nil {
			continue
		}
		out = append(out, channel.Inbound{From: s.from, Message: msg})
	}
	return out
}

// Poll drains this agent's durable mailbox.
func (e *Endpoint) Poll(ctx context.Context) ([]channel.Inbound, error) {
	return e.ch.Collect(ctx)
}

// SignalPollInterval is how often Subscribe checks for queued signals.
const SignalPollInterval = 5 * time.Millisecond

// Subscribe streams queued signals until ctx is done.
func (e *Endpoint) Subscribe(ctx context.Context) (<-chan channel.Inbound, error) {
	out := make(chan channel.Inbound, 16)
	go func() {
		defer close(out)
		t := time.NewTicker(SignalPollInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			for _, in := range e.DrainSignals() {
				select {
				case out <- in:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
