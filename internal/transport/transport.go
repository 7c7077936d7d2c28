// Package transport carries Message bundles between agents over Redis.
//
// Two primitives are offered:
//   - SendSignal: best-effort Redis PUBLISH to each recipient's signal
//     channel. Delivered only to subscribers online right now.
//   - SendDurable: encrypted mailbox pointer (and blob when large) stored
//     in Redis until the recipient polls. A resend with the same
//     message id replaces the pending copy.
//
// Both paths encrypt per recipient with the channel package; Redis only
// ever sees ciphertext.
package transport

import (
	"errors"
	"strings"

	"github.com/roach88/privlog/internal/ir"
)

// ErrUnavailable marks a delivery channel that is absent in this
// deployment (for example, durable messaging disabled). Callers treat it
// as "channel missing", not as a delivery failure.
var ErrUnavailable = errors.New("transport: delivery channel unavailable")

// DefaultPrefix namespaces every Redis key privlog writes.
const DefaultPrefix = "privlog"

// Keys builds Redis key names under a prefix.
type Keys struct {
	Prefix string
}

func (k Keys) prefix() string {
	if k.Prefix == "" {
		return DefaultPrefix
	}
	return k.Prefix
}

func (k Keys) join(parts ...string) string {
	return k.prefix() + ":" + strings.Join(parts, ":")
}

// Signal is the pub/sub channel of an agent.
func (k Keys) Signal(agent ir.AgentID) string { return k.join("signal", string(agent)) }

// Mailbox is the hash of pending pointers of an agent.
func (k Keys) Mailbox(agent ir.AgentID) string { return k.join("mailbox", string(agent)) }

// Blob is the key of one ciphertext blob.
func (k Keys) Blob(id string) string { return k.join("blob", id) }

// Devices is the set of linked devices of an agent.
func (k Keys) Devices(agent ir.AgentID) string { return k.join("devices", string(agent)) }

// Summary is the published event history summary of an agent.
func (k Keys) Summary(agent ir.AgentID) string { return k.join("summary", string(agent)) }
