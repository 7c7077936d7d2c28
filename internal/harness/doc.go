// Package harness runs multi-agent delivery scenarios against real
// engines connected by an in-memory network.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: friend_comes_online
//	description: "An offline friend receives the entry from its mailbox"
//	agents: [alice, bob]
//	steps:
//	  - do: set_online
//	    agent: bob
//	    online: false
//	  - do: create
//	    agent: alice
//	    type: AddFriend
//	    label: f1
//	    fields: { friend: $bob }
//	  - do: deliver
//	assertions:
//	  - type: has_event
//	    agent: bob
//	    event: f1
//
// In create fields, a string "$name" is replaced by that agent's id and
// "@label" by the id of the event created under that label.
//
// # Steps
//
//   - create: agent creates an event of type with fields
//   - deliver: every agent drains signals and its mailbox until quiet
//   - tick: scheduled tasks on agent, or on every agent
//   - advance: move the shared clock forward by "by"
//   - set_online, set_durable, fail_durable: change network conditions
//   - sync, sync_device: agent resynchronizes with "with"
//   - sync_linked: agent catches up its linked devices
//   - restore: agent's exported history is imported by "with"
//
// # Assertions
//
//   - has_event, lacks_event: a labelled event is (not) in agent's log
//   - event_count: number of events in agent's log, optionally of event_type
//   - acknowledged: agent holds acknowledgements of event from every "by"
//   - feed: agent's admitted shared entries, in any order
//   - awaiting: number of parked entries at agent
//
// # Deterministic Runs
//
// Agent keys are derived from the scenario and agent names, every agent
// shares one fake clock and mailbox pointer ids come from per-agent
// sequences, so a scenario produces the same event ids on every run.
// The trace and final state are compared with golden files by
// RunWithGolden.
package harness
