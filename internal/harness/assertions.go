package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/privlog/internal/ir"
	"github.com/roach88/privlog/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Agent    string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s at %s\n", e.Type, e.Agent)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// evaluate checks every assertion and returns failure messages.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := h.check(ctx, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func (h *Harness) check(ctx context.Context, a Assertion) error {
	ag := h.byName[a.Agent]

	switch a.Type {
	case AssertHasEvent, AssertLacksEvent:
		id, ok := h.labels[a.Event]
		if !ok {
			return fmt.Errorf("event %q was never created", a.Event)
		}
		has, err := ag.store.HasPrivateEvent(ctx, id)
		if err != nil {
			return err
		}
		if want := a.Type == AssertHasEvent; has != want {
			return &AssertionError{
				Type:     a.Type,
				Agent:    a.Agent,
				Expected: fmt.Sprintf("event %s present=%t", a.Event, want),
				Actual:   fmt.Sprintf("present=%t", has),
			}
		}

	case AssertEventCount:
		events, err := ag.store.PrivateEvents(ctx, store.EventFilter{EventType: a.EventType})
		if err != nil {
			return err
		}
		if len(events) != *a.Count {
			return &AssertionError{
				Type:     a.Type,
				Agent:    a.Agent,
				Expected: fmt.Sprintf("%d event(s) %s", *a.Count, a.EventType),
				Actual:   fmt.Sprintf("%d", len(events)),
			}
		}

	case AssertAcknowledged:
		id, ok := h.labels[a.Event]
		if !ok {
			return fmt.Errorf("event %q was never created", a.Event)
		}
		acks, err := ag.store.AcknowledgementsFor(ctx, id)
		if err != nil {
			return err
		}
		var by ir.AgentSet
		for _, ack := range acks {
			by = by.Union(ir.NewAgentSet(ack.Author))
		}
		var missing []string
		for _, name := range a.By {
			if !by.Contains(h.byName[name].id.ID()) {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return &AssertionError{
				Type:     a.Type,
				Agent:    a.Agent,
				Expected: fmt.Sprintf("acknowledgements of %s from %v", a.Event, a.By),
				Actual:   fmt.Sprintf("missing %v", missing),
			}
		}

	case AssertFeed:
		got := make([]string, 0)
		for _, it := range ag.feed.Items() {
			got = append(got, it.Content)
		}
		want := slices.Clone(a.Contents)
		slices.Sort(got)
		slices.Sort(want)
		if !slices.Equal(got, want) {
			return &AssertionError{
				Type:     a.Type,
				Agent:    a.Agent,
				Expected: fmt.Sprintf("%q", want),
				Actual:   fmt.Sprintf("%q", got),
			}
		}

	case AssertAwaiting:
		counts, err := ag.store.Count(ctx)
		if err != nil {
			return err
		}
		if counts.AwaitingPending != *a.Count {
			return &AssertionError{
				Type:     a.Type,
				Agent:    a.Agent,
				Expected: fmt.Sprintf("%d parked entr(ies)", *a.Count),
				Actual:   fmt.Sprintf("%d", counts.AwaitingPending),
			}
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
