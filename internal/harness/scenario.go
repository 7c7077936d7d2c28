package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run of several agents over one network.
type Scenario struct {
	// Name uniquely identifies this scenario. It also seeds agent keys.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Agents are created in this order; deliver and tick visit them in
	// the same order.
	Agents []string `yaml:"agents"`

	// Linked lists groups of agents that are linked devices of each other.
	Linked [][]string `yaml:"linked,omitempty"`

	// ResendInterval overrides the engine default.
	ResendInterval time.Duration `yaml:"resend_interval,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step kinds.
const (
	StepCreate      = "create"
	StepDeliver     = "deliver"
	StepTick        = "tick"
	StepAdvance     = "advance"
	StepSetOnline   = "set_online"
	StepSetDurable  = "set_durable"
	StepFailDurable = "fail_durable"
	StepSync        = "sync"
	StepSyncDevice  = "sync_device"
	StepSyncLinked  = "sync_linked"
	StepRestore     = "restore"
)

// Expected create outcomes.
const (
	ExpectOK       = "ok"
	ExpectRejected = "rejected"
)

// Step is one scenario action. Which fields apply depends on Do.
type Step struct {
	Do    string `yaml:"do"`
	Agent string `yaml:"agent,omitempty"`

	// create
	Type   string         `yaml:"type,omitempty"`
	Label  string         `yaml:"label,omitempty"`
	Fields map[string]any `yaml:"fields,omitempty"`
	Expect string         `yaml:"expect,omitempty"`

	// set_online
	Online *bool `yaml:"online,omitempty"`

	// set_durable, fail_durable
	Enabled *bool `yaml:"enabled,omitempty"`

	// advance
	By time.Duration `yaml:"by,omitempty"`

	// sync, sync_device, restore
	With string `yaml:"with,omitempty"`
}

// Assertion kinds.
const (
	AssertHasEvent     = "has_event"
	AssertLacksEvent   = "lacks_event"
	AssertEventCount   = "event_count"
	AssertAcknowledged = "acknowledged"
	AssertFeed         = "feed"
	AssertAwaiting     = "awaiting"
)

// Assertion checks an agent's final state.
type Assertion struct {
	Type  string `yaml:"type"`
	Agent string `yaml:"agent"`

	// Event is a create label (has_event, lacks_event, acknowledged).
	Event string `yaml:"event,omitempty"`

	// By lists acknowledging agents (acknowledged).
	By []string `yaml:"by,omitempty"`

	// Count is the expected number (event_count, awaiting).
	Count *int `yaml:"count,omitempty"`

	// EventType narrows event_count.
	EventType string `yaml:"event_type,omitempty"`

	// Contents are the expected feed entries (feed).
	Contents []string `yaml:"contents,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and that
// every agent and label reference resolves.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Agents) == 0 {
		return fmt.Errorf("agents list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	agents := make(map[string]bool, len(s.Agents))
	for _, a := range s.Agents {
		if a == "" || agents[a] {
			return fmt.Errorf("agents: empty or duplicate name %q", a)
		}
		agents[a] = true
	}
	knownAgent := func(where, name string) error {
		if !agents[name] {
			return fmt.Errorf("%s: unknown agent %q", where, name)
		}
		return nil
	}

	for i, group := range s.Linked {
		for _, a := range group {
			if err := knownAgent(fmt.Sprintf("linked[%d]", i), a); err != nil {
				return err
			}
		}
	}

	labels := make(map[string]bool)
	for i, step := range s.Steps {
		where := fmt.Sprintf("steps[%d] (%s)", i, step.Do)
		switch step.Do {
		case StepCreate:
			if err := knownAgent(where, step.Agent); err != nil {
				return err
			}
			if step.Type == "" {
				return fmt.Errorf("%s: type is required", where)
			}
			if step.Expect != "" && step.Expect != ExpectOK && step.Expect != ExpectRejected {
				return fmt.Errorf("%s: expect must be %q or %q", where, ExpectOK, ExpectRejected)
			}
			if step.Label != "" {
				if labels[step.Label] {
					return fmt.Errorf("%s: duplicate label %q", where, step.Label)
				}
				labels[step.Label] = true
			}
		case StepDeliver:
		case StepTick:
			if step.Agent != "" {
				if err := knownAgent(where, step.Agent); err != nil {
					return err
				}
			}
		case StepAdvance:
			if step.By <= 0 {
				return fmt.Errorf("%s: by must be a positive duration", where)
			}
		case StepSetOnline:
			if err := knownAgent(where, step.Agent); err != nil {
				return err
			}
			if step.Online == nil {
				return fmt.Errorf("%s: online is required", where)
			}
		case StepSetDurable, StepFailDurable:
			if step.Enabled == nil {
				return fmt.Errorf("%s: enabled is required", where)
			}
		case StepSync, StepSyncDevice, StepRestore:
			if err := knownAgent(where, step.Agent); err != nil {
				return err
			}
			if err := knownAgent(where, step.With); err != nil {
				return err
			}
		case StepSyncLinked:
			if err := knownAgent(where, step.Agent); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%s: unknown step", where)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, agents, labels); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion, agents, labels map[string]bool) error {
	where := fmt.Sprintf("assertions[%d] (%s)", index, a.Type)
	if !agents[a.Agent] {
		return fmt.Errorf("%s: unknown agent %q", where, a.Agent)
	}

	switch a.Type {
	case AssertHasEvent, AssertLacksEvent:
		if !labels[a.Event] {
			return fmt.Errorf("%s: unknown event label %q", where, a.Event)
		}
	case AssertAcknowledged:
		if !labels[a.Event] {
			return fmt.Errorf("%s: unknown event label %q", where, a.Event)
		}
		if len(a.By) == 0 {
			return fmt.Errorf("%s: by is required", where)
		}
		for _, b := range a.By {
			if !agents[b] {
				return fmt.Errorf("%s: unknown agent %q", where, b)
			}
		}
	case AssertEventCount, AssertAwaiting:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("%s: count must be a non-negative number", where)
		}
	case AssertFeed:
		if a.Contents == nil {
			return fmt.Errorf("%s: contents is required (use [] for none)", where)
		}
	default:
		return fmt.Errorf("%s: unknown assertion type", where)
	}
	return nil
}
