// Package sandbox exposes the read-only context handed to target scripts
// and environment hooks.
//
// A Context captures the session instance id at construction. Every
// operation first checks that the captured id is still the host's current
// instance and that the session is running; otherwise it fails with
// OUTDATED_CONTEXT and touches nothing. Views are computed on each call
// from the live mission and carry no mutation surface.
package sandbox

import (
	"sync"
)

// State is the lifecycle state reported by a session host.
type State string

const (
	StateUnstarted State = "unstarted"
	StateStarted   State = "started"
	StateEnded     State = "ended"
)

// Host is the session owner contract.
type Host interface {
	SessionID() string
	InstanceID() string
	State() State
}

// LocalHost is an in-process Host whose state is driven by its owner.
type LocalHost struct {
	mu         sync.RWMutex
	sessionID  string
	instanceID string
	state      State
}

// NewLocalHost returns an unstarted host.
func NewLocalHost(sessionID, instanceID string) *LocalHost {
	return &LocalHost{sessionID: sessionID, instanceID: instanceID, state: StateUnstarted}
}

// SessionID returns the session id.
func (h *LocalHost) SessionID() string { return h.sessionID }

// InstanceID returns the current instance id.
func (h *LocalHost) InstanceID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.instanceID
}

// State returns the current state.
func (h *LocalHost) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// SetState moves the host to state.
func (h *LocalHost) SetState(state State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
}

// Restart assigns a new instance id and resets the state to unstarted.
func (h *LocalHost) Restart(instanceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.instanceID = instanceID
	h.state = StateUnstarted
}
