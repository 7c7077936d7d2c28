package harness

// TraceEvent is one executed step.
type TraceEvent struct {
	Seq     int    `json:"seq"`
	Do      string `json:"do"`
	Agent   string `json:"agent,omitempty"`
	Label   string `json:"label,omitempty"`
	Outcome string `json:"outcome"`
}

// AgentState is an agent's log after the last step.
type AgentState struct {
	Events int      `json:"events"`
	Feed   []string `json:"feed"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent          `json:"trace"`
	Errors []string              `json:"errors,omitempty"`
	State  map[string]AgentState `json:"state"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]AgentState),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step outcome.
func (r *Result) AddTrace(do, agent, label, outcome string) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     len(r.Trace) + 1,
		Do:      do,
		Agent:   agent,
		Label:   label,
		Outcome: outcome,
	})
}
