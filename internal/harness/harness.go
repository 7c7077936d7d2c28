package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/roach88/privlog/internal/directory"
	"github.com/roach88/privlog/internal/engine"
	"github.com/roach88/privlog/internal/identity"
	"github.com/roach88/privlog/internal/ir"
	"github.com/roach88/privlog/internal/notes"
	"github.com/roach88/privlog/internal/sealed"
	"github.com/roach88/privlog/internal/store"
	"github.com/roach88/privlog/internal/testutil"
)

// maxDeliverRounds bounds one deliver step. Each round lets every agent
// receive what the previous round sent.
const maxDeliverRounds = 32

// agent is one scenario participant.
type agent struct {
	name   string
	id     *identity.Identity
	store  *store.Store
	engine *engine.Engine
	ep     *testutil.Endpoint
	feed   *notes.Feed
}

// Harness holds the agents of one scenario run.
type Harness struct {
	scenario *Scenario
	net      *testutil.Network
	clock    *testutil.FakeClock
	dir      *directory.Static
	agents   []*agent
	byName   map[string]*agent
	labels   map[string]ir.EventID
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each agent gets a fresh in-memory store. Steps run in order; a step
// that fails unexpectedly is recorded and the run continues so later
// assertions still report.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	for i, step := range scenario.Steps {
		outcome, err := h.execute(ctx, step)
		if err != nil {
			result.AddError(fmt.Sprintf("steps[%d] (%s): %v", i, step.Do, err))
			outcome = "error"
		}
		result.AddTrace(step.Do, step.Agent, step.Label, outcome)
	}

	for _, msg := range h.evaluate(ctx, scenario.Assertions) {
		result.AddError(msg)
	}
	for _, a := range h.agents {
		state, err := h.snapshot(ctx, a)
		if err != nil {
			return nil, err
		}
		result.State[a.name] = state
	}
	return result, nil
}

func newHarness(s *Scenario) (*Harness, error) {
	h := &Harness{
		scenario: s,
		net:      testutil.NewNetwork(),
		clock:    testutil.NewFakeClock(),
		dir:      &directory.Static{},
		byName:   make(map[string]*agent, len(s.Agents)),
		labels:   make(map[string]ir.EventID),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, name := range s.Agents {
		id, err := identity.Generate(agentSeed(s.Name, name))
		if err != nil {
			h.close()
			return nil, fmt.Errorf("agent %s: %w", name, err)
		}
		kp, err := sealed.GenerateKeypair()
		if err != nil {
			h.close()
			return nil, fmt.Errorf("agent %s: %w", name, err)
		}
		id = id.WithAgeKey(kp.PrivateKey)

		st, err := store.Open(":memory:")
		if err != nil {
			h.close()
			return nil, fmt.Errorf("agent %s: failed to create in-memory store: %w", name, err)
		}
		a := &agent{name: name, id: id, store: st, ep: h.net.Join(id), feed: &notes.Feed{}}
		h.agents = append(h.agents, a)
		h.byName[name] = a
	}

	for _, group := range s.Linked {
		ids := make([]ir.AgentID, 0, len(group))
		for _, name := range group {
			ids = append(ids, h.byName[name].id.ID())
		}
		set := ir.NewAgentSet(ids...)
		for _, id := range set {
			h.dir.Link(id, set.Without(id)...)
		}
	}

	for _, a := range h.agents {
		opts := []engine.Option{
			engine.WithTransport(a.ep),
			engine.WithDirectory(h.dir),
			engine.WithClock(h.clock),
			engine.WithLogger(h.logger.With("agent", a.name)),
			engine.WithRetroactiveRecipients(),
		}
		if s.ResendInterval > 0 {
			opts = append(opts, engine.WithResendInterval(s.ResendInterval))
		}
		a.engine = engine.New(a.store, a.id, notes.NewRegistry(a.feed), opts...)
	}
	return h, nil
}

// agentSeed derives a deterministic key stream for one agent.
func agentSeed(scenario, name string) io.Reader {
	h := blake3.NewDeriveKey("privlog harness agent keys v1")
	_, _ = h.Write([]byte(scenario))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(name))
	return h.Digest()
}

func (h *Harness) close() {
	for _, a := range h.agents {
		_ = a.store.Close()
	}
}

// execute runs one step and returns its outcome for the trace.
func (h *Harness) execute(ctx context.Context, step Step) (string, error) {
	switch step.Do {
	case StepCreate:
		return h.create(ctx, step)

	case StepDeliver:
		return "ok", h.deliver(ctx)

	case StepTick:
		for _, a := range h.agents {
			if step.Agent != "" && a.name != step.Agent {
				continue
			}
			if err := a.engine.ScheduledTasks(ctx); err != nil {
				return "", fmt.Errorf("%s: %w", a.name, err)
			}
		}
		return "ok", nil

	case StepAdvance:
		h.clock.Advance(step.By)
		return "ok", nil

	case StepSetOnline:
		h.net.SetOnline(h.byName[step.Agent].id.ID(), *step.Online)
		return "ok", nil

	case StepSetDurable:
		h.net.SetDurable(*step.Enabled)
		return "ok", nil

	case StepFailDurable:
		h.net.FailDurable(*step.Enabled)
		return "ok", nil

	case StepSync:
		a, with := h.byName[step.Agent], h.byName[step.With]
		return "ok", a.engine.SynchronizeWith(ctx, with.id.ID())

	case StepSyncDevice:
		a, with := h.byName[step.Agent], h.byName[step.With]
		return "ok", a.engine.SynchronizeWithLinkedDevice(ctx, with.id.ID())

	case StepSyncLinked:
		return "ok", h.byName[step.Agent].engine.SynchronizeWithLinkedDevices(ctx)

	case StepRestore:
		return h.restore(ctx, step)

	default:
		return "", fmt.Errorf("unknown step")
	}
}

func (h *Harness) create(ctx context.Context, step Step) (string, error) {
	a := h.byName[step.Agent]

	fields, err := h.resolve(step.Fields)
	if err != nil {
		return "", err
	}
	ev, err := a.engine.Registry().New(step.Type)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("fields: %w", err)
	}
	if err := json.Unmarshal(data, ev); err != nil {
		return "", fmt.Errorf("fields: %w", err)
	}

	id, err := a.engine.CreatePrivateEvent(ctx, ev)
	expect := step.Expect
	if expect == "" {
		expect = ExpectOK
	}

	switch {
	case err == nil && expect == ExpectOK:
		if step.Label != "" {
			h.labels[step.Label] = id
		}
		return "ok", nil
	case err == nil:
		return "", fmt.Errorf("expected %s, event was admitted", expect)
	case expect == ExpectRejected && engine.IsRejectedError(err):
		return "rejected", nil
	default:
		return "", err
	}
}

// resolve substitutes "$agent" and "@label" references in fields.
func (h *Harness) resolve(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		switch {
		case ok && strings.HasPrefix(s, "$"):
			a, found := h.byName[s[1:]]
			if !found {
				return nil, fmt.Errorf("field %s: unknown agent %q", k, s[1:])
			}
			out[k] = string(a.id.ID())
		case ok && strings.HasPrefix(s, "@"):
			id, found := h.labels[s[1:]]
			if !found {
				return nil, fmt.Errorf("field %s: unknown event label %q", k, s[1:])
			}
			out[k] = string(id)
		default:
			out[k] = v
		}
	}
	return out, nil
}

// deliver lets every agent receive until a round moves nothing.
// Receive failures are per entry and do not stop delivery.
func (h *Harness) deliver(ctx context.Context) error {
	var errs []error
	for range maxDeliverRounds {
		moved := false
		for _, a := range h.agents {
			inbound := a.ep.DrainSignals()
			polled, err := a.ep.Poll(ctx)
			if err != nil {
				return fmt.Errorf("%s: poll: %w", a.name, err)
			}
			for _, in := range append(inbound, polled...) {
				moved = true
				if err := a.engine.Receive(ctx, in.From, in.Message); err != nil {
					h.logger.Debug("receive rejected entries", "agent", a.name, "error", err)
					errs = append(errs, err)
				}
			}
		}
		if !moved {
			return nil
		}
	}
	return errors.Join(append(errs, fmt.Errorf("network did not settle after %d rounds", maxDeliverRounds))...)
}

// restore moves agent's sealed history to the "with" agent, as when a
// user migrates to a new device.
func (h *Harness) restore(ctx context.Context, step Step) (string, error) {
	from, to := h.byName[step.Agent], h.byName[step.With]

	history, err := from.engine.ExportEventHistory(ctx)
	if err != nil {
		return "", err
	}
	recipient, err := sealed.PublicKeyOf(to.id.AgeKey())
	if err != nil {
		return "", err
	}
	bundle, err := engine.SealEventHistory(history, []string{recipient})
	if err != nil {
		return "", err
	}
	opened, err := engine.OpenEventHistory(bundle, to.id.AgeKey())
	if err != nil {
		return "", err
	}
	return "ok", to.engine.ImportEventHistory(ctx, opened)
}

func (h *Harness) snapshot(ctx context.Context, a *agent) (AgentState, error) {
	counts, err := a.store.Count(ctx)
	if err != nil {
		return AgentState{}, fmt.Errorf("snapshot %s: %w", a.name, err)
	}
	feed := make([]string, 0)
	for _, it := range a.feed.Items() {
		feed = append(feed, it.Content)
	}
	slices.Sort(feed)
	return AgentState{Events: counts.PrivateEvents, Feed: feed}, nil
}
