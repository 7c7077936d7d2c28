// Package directory resolves linked devices and published event history
// summaries.
//
// Static serves a fixed device map from configuration. Redis keeps the
// device sets and summaries in Redis so that every node of a deployment
// sees the same view.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/privlog/internal/codec"
	"github.com/roach88/privlog/internal/ir"
	"github.com/roach88/privlog/internal/transport"
)

// Static is an in-process directory. The zero value is empty and usable.
type Static struct {
	mu        sync.RWMutex
	devices   map[ir.AgentID]ir.AgentSet
	summaries map[ir.AgentID]ir.EventHistorySummary
}

// NewStatic builds a directory where every agent in a group lists the
// others as its linked devices.
func NewStatic(groups ...ir.AgentSet) *Static {
	s := &Static{}
	for _, g := range groups {
		for _, a := range g {
			s.Link(a, g.Without(a)...)
		}
	}
	return s
}

// Link adds devices to agent's linked set.
func (s *Static) Link(agent ir.AgentID, devices ...ir.AgentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.devices == nil {
		s.devices = make(map[ir.AgentID]ir.AgentSet)
	}
	s.devices[agent] = s.devices[agent].Union(ir.NewAgentSet(devices...)).Without(agent)
}

func (s *Static) LinkedDevices(_ context.Context, agent ir.AgentID) (ir.AgentSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices[agent], nil
}

func (s *Static) PublishSummary(_ context.Context, summary ir.EventHistorySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summaries == nil {
		s.summaries = make(map[ir.AgentID]ir.EventHistorySummary)
	}
	s.summaries[summary.Agent] = summary
	return nil
}

func (s *Static) Summary(_ context.Context, agent ir.AgentID) (ir.EventHistorySummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[agent]
	return sum, ok, nil
}

// Redis stores device sets and summaries under transport key names.
type Redis struct {
	client redis.UniversalClient
	keys   transport.Keys
}

// NewRedis creates a Redis-backed directory.
func NewRedis(client redis.UniversalClient, keys transport.Keys) *Redis {
	return &Redis{client: client, keys: keys}
}

// Link registers devices as linked to agent, in both directions.
func (r *Redis) Link(ctx context.Context, agent ir.AgentID, devices ...ir.AgentID) error {
	if len(devices) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	members := make([]any, 0, len(devices))
	for _, d := range devices {
		if d == agent {
			continue
		}
		members = append(members, string(d))
		pipe.SAdd(ctx, r.keys.Devices(d), string(agent))
	}
	if len(members) == 0 {
		return nil
	}
	pipe.SAdd(ctx, r.keys.Devices(agent), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("link devices: %w", err)
	}
	return nil
}

func (r *Redis) LinkedDevices(ctx context.Context, agent ir.AgentID) (ir.AgentSet, error) {
	members, err := r.client.SMembers(ctx, r.keys.Devices(agent)).Result()
	if err != nil {
		return nil, fmt.Errorf("linked devices: %w", err)
	}
	ids := make([]ir.AgentID, 0, len(members))
	for _, m := range members {
		ids = append(ids, ir.AgentID(m))
	}
	return ir.NewAgentSet(ids...).Without(agent), nil
}

func (r *Redis) PublishSummary(ctx context.Context, summary ir.EventHistorySummary) error {
	data, err := codec.Marshal(summary)
	if err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	if err := r.client.Set(ctx, r.keys.Summary(summary.Agent), data, 0).Err(); err != nil {
		return fmt.Errorf("publish summary: %w", err)
	}
	return nil
}

func (r *Redis) Summary(ctx context.Context, agent ir.AgentID) (ir.EventHistorySummary, bool, error) {
	data, err := r.client.Get(ctx, r.keys.Summary(agent)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ir.EventHistorySummary{}, false, nil
	}
	if err != nil {
		return ir.EventHistorySummary{}, false, fmt.Errorf("summary: %w", err)
	}
	var sum ir.EventHistorySummary
	if err := codec.Unmarshal(data, &sum); err != nil {
		return ir.EventHistorySummary{}, false, fmt.Errorf("summary: %w", err)
	}
	return sum, true, nil
}
