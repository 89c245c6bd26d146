// Package state holds per-peer conversation state consulted by state-aware
// rules and mutated from handler bodies. The default backend is an in-memory
// map; Redis and Postgres backends implement the same three-operation
// interface for bots that need state to survive restarts.
package state

import "context"

// State is the current conversation state of one peer. Group names the
// state machine (e.g. "registration"), Name the concrete step within it.
// Payload carries free-form session memory.
type State struct {
	Group   string                 `json:"group"`
	Name    string                 `json:"name"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Store maps a peer id to its current state. At most one state per peer;
// Get returns (nil, nil) when the peer has no state, which is distinct
// from any concrete state value.
//
// All three operations must be safe under concurrent dispatch.
type Store interface {
	Get(ctx context.Context, peerID int64) (*State, error)
	Set(ctx context.Context, peerID int64, s State) error
	Clear(ctx context.Context, peerID int64) error
}
