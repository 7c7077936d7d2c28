package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/privlog/internal/ir"
)

// marshalRecipients serializes an agent set to canonical JSON for storage.
// An empty set is stored as [] rather than null.
func marshalRecipients(s ir.AgentSet) (string, error) {
	if s == nil {
		s = ir.AgentSet{}
	}
	data, err := ir.MarshalCanonical(s)
	if err != nil {
		return "", fmt.Errorf("marshal recipients: %w", err)
	}
	return string(data), nil
}

// unmarshalRecipients restores an agent set stored by marshalRecipients.
func unmarshalRecipients(data string) (ir.AgentSet, error) {
	var s ir.AgentSet
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("unmarshal recipients: %w", err)
	}
	return s, nil
}

// marshalAwaiting serializes a parked entry to canonical JSON.
func marshalAwaiting(a ir.AwaitingDependencies) (string, error) {
	data, err := ir.MarshalCanonical(a)
	if err != nil {
		return "", fmt.Errorf("marshal awaiting: %w", err)
	}
	return string(data), nil
}

// unmarshalAwaiting restores a parked entry stored by marshalAwaiting.
func unmarshalAwaiting(data string) (ir.AwaitingDependencies, error) {
	var a ir.AwaitingDependencies
	if err := json.Unmarshal([]byte(data), &a); err != nil {
		return ir.AwaitingDependencies{}, fmt.Errorf("unmarshal awaiting: %w", err)
	}
	return a, nil
}
