package store

import (
	"fmt"
	"strings"

	"github.com/roach88/privlog/internal/ir"
)

// EventFilter narrows a scan of private events. Zero fields match anything.
type EventFilter struct {
	EventType string
	Author    ir.AgentID
	// Since and Until bound the signed timestamp, inclusive.
	Since ir.Timestamp
	Until ir.Timestamp
	// ByTimestamp orders by signed timestamp instead of insertion order.
	ByTimestamp bool
	Limit       int
}

// compile converts the filter to a parameterized WHERE/ORDER BY suffix.
//
// Every query ends with a total order (seq, then id COLLATE BINARY) so scans
// are deterministic. Values are always bound, never interpolated.
func (f EventFilter) compile() (string, []any) {
	var clauses []string
	var params []any

	if f.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		params = append(params, f.EventType)
	}
	if f.Author != "" {
		clauses = append(clauses, "author = ?")
		params = append(params, string(f.Author))
	}
	if f.Since != 0 {
		clauses = append(clauses, "timestamp >= ?")
		params = append(params, int64(f.Since))
	}
	if f.Until != 0 {
		clauses = append(clauses, "timestamp <= ?")
		params = append(params, int64(f.Until))
	}

	var sb strings.Builder
	if len(clauses) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}
	if f.ByTimestamp {
		sb.WriteString(" ORDER BY timestamp ASC, id COLLATE BINARY ASC")
	} else {
		sb.WriteString(" ORDER BY seq ASC, id COLLATE BINARY ASC")
	}
	if f.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", f.Limit))
	}
	return sb.String(), params
}
