package mission

import (
	"fmt"
	"slices"
	"strings"
	"time"

	apperrors "github.com/louisbranch/metis/internal/platform/errors"
)

// ExecutionState is derived from a node's in-flight execution and its most
// recent non-aborted outcome.
type ExecutionState string

const (
	StateUnexecuted ExecutionState = "unexecuted"
	StateExecuting  ExecutionState = "executing"
	StateSuccessful ExecutionState = "successful"
	StateFailure    ExecutionState = "failure"
)

// Node is one position of a force's tree. The exported fields are set at
// construction or hydration and treated as read-only afterwards.
type Node struct {
	ID          string
	PrototypeID string
	Name        string
	Description string
	Color       string
	Executable  bool
	Device      bool
	Exclude     bool

	force     *Force
	parent    *Node
	children  []*Node
	actions   []*Action
	opened    bool
	blocked   bool
	execution *Execution
	outcomes  []Outcome
}

// Force returns the owning force.
func (n *Node) Force() *Force { return n.force }

// Parent returns the parent node, or nil for a root.
func (n *Node) Parent() *Node {
	n.lock()
	defer n.unlock()
	return n.parent
}

// Children returns the children in prototype order.
func (n *Node) Children() []*Node {
	n.lock()
	defer n.unlock()
	return slices.Clone(n.children)
}

// Descendants returns the full subtree below n in depth-first order.
func (n *Node) Descendants() []*Node {
	n.lock()
	defer n.unlock()
	return n.appendDescendantsLocked(nil)
}

func (n *Node) appendDescendantsLocked(out []*Node) []*Node {
	for _, child := range n.children {
		out = append(out, child)
		out = child.appendDescendantsLocked(out)
	}
	return out
}

// Opened reports whether the node has been opened.
func (n *Node) Opened() bool {
	n.lock()
	defer n.unlock()
	return n.opened
}

// Blocked reports whether the node is blocked.
func (n *Node) Blocked() bool {
	n.lock()
	defer n.unlock()
	return n.blocked
}

// Revealed reports whether the node is visible: it is a root, its parent is
// open, or its force reveals everything.
func (n *Node) Revealed() bool {
	n.lock()
	defer n.unlock()
	return n.revealedLocked()
}

func (n *Node) revealedLocked() bool {
	if n.force != nil && n.force.RevealAllNodes {
		return true
	}
	return n.parent == nil || n.parent.opened
}

// Openable reports whether Open would succeed. Hidden nodes are openable;
// callers acting for a player check Revealed as well.
func (n *Node) Openable() bool {
	n.lock()
	defer n.unlock()
	return n.openableLocked()
}

func (n *Node) openableLocked() bool {
	return !n.Executable && !n.opened && !n.blocked
}

// Executing reports whether an execution is in flight. It is true exactly
// when Execution is non-nil.
func (n *Node) Executing() bool {
	n.lock()
	defer n.unlock()
	return n.execution != nil
}

// Execution returns the in-flight execution, or nil.
func (n *Node) Execution() *Execution {
	n.lock()
	defer n.unlock()
	return n.execution
}

// Outcomes returns every outcome applied to the node, oldest first.
func (n *Node) Outcomes() []Outcome {
	n.lock()
	defer n.unlock()
	return slices.Clone(n.outcomes)
}

// ExecutionState derives the node's execution state.
func (n *Node) ExecutionState() ExecutionState {
	n.lock()
	defer n.unlock()
	return n.executionStateLocked()
}

func (n *Node) executionStateLocked() ExecutionState {
	if n.execution != nil {
		return StateExecuting
	}
	for i := len(n.outcomes) - 1; i >= 0; i-- {
		switch n.outcomes[i].Status {
		case OutcomeSuccess:
			return StateSuccessful
		case OutcomeFailure:
			return StateFailure
		}
	}
	return StateUnexecuted
}

// ReadyToExecute reports whether an action of the node may be started.
func (n *Node) ReadyToExecute() bool {
	n.lock()
	defer n.unlock()
	return n.readyLocked()
}

func (n *Node) readyLocked() bool {
	if !n.Executable || len(n.actions) == 0 || n.blocked {
		return false
	}
	state := n.executionStateLocked()
	return state == StateUnexecuted || state == StateFailure
}

// Open opens the node and reveals its children.
func (n *Node) Open() error {
	m := n.force.mission
	return m.mutate(func(b *batch) error {
		if !n.openableLocked() {
			return apperrors.WithMetadata(apperrors.CodeNodeNotOpenable,
				fmt.Sprintf("node %s is not openable", n.ID),
				map[string]string{"node_id": n.ID})
		}
		n.openLocked(b)
		return nil
	})
}

func (n *Node) openLocked(b *batch) {
	if n.opened {
		return
	}
	n.opened = true
	n.force.mission.version++
	b.node(NodeOpened, n)
	if n.force.RevealAllNodes {
		return
	}
	for _, child := range n.children {
		b.node(NodeRevealed, child)
	}
}

// Close aborts every in-flight execution on the node and its descendants,
// then closes the node.
func (n *Node) Close() {
	m := n.force.mission
	_ = m.mutate(func(b *batch) error {
		n.closeLocked(b)
		return nil
	})
}

func (n *Node) closeLocked(b *batch) {
	m := n.force.mission
	now := m.clock.Now()
	for _, node := range n.appendDescendantsLocked([]*Node{n}) {
		if node.execution != nil {
			m.abortLocked(node.execution, now, b)
		}
	}
	if !n.opened {
		return
	}
	n.opened = false
	m.version++
	b.node(NodeClosed, n)
}

// Block closes the node and marks it blocked.
func (n *Node) Block() {
	m := n.force.mission
	_ = m.mutate(func(b *batch) error {
		n.closeLocked(b)
		if n.blocked {
			return nil
		}
		n.blocked = true
		m.version++
		b.node(NodeBlocked, n)
		return nil
	})
}

// Unblock clears the blocked flag.
func (n *Node) Unblock() {
	m := n.force.mission
	_ = m.mutate(func(b *batch) error {
		if !n.blocked {
			return nil
		}
		n.blocked = false
		m.version++
		b.node(NodeUnblocked, n)
		return nil
	})
}

// ActionSpec describes an action to add to a node.
type ActionSpec struct {
	ID            string
	Name          string
	Description   string
	SuccessChance float64
	ProcessTime   time.Duration
	ResourceCost  float64
	// OpensNode opens the node when an execution of the action succeeds.
	OpensNode bool
}

// AddAction validates spec and appends a new action to the node. Action ids
// are unique across the mission.
func (n *Node) AddAction(spec ActionSpec) (*Action, error) {
	n.lock()
	defer n.unlock()
	actionID := strings.TrimSpace(spec.ID)
	if actionID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "action id is required")
	}
	if n.actionLocked(actionID) != nil || (n.force != nil && n.force.mission.actionLocked(actionID) != nil) {
		return nil, apperrors.WithMetadata(apperrors.CodeDuplicateID,
			fmt.Sprintf("node %s: duplicate action id %s", n.ID, actionID),
			map[string]string{"node_id": n.ID, "action_id": actionID})
	}
	if err := validateActionFields(actionID, spec.SuccessChance, spec.ProcessTime, spec.ResourceCost); err != nil {
		return nil, err
	}
	a := newAction(n, actionID, spec)
	n.actions = append(n.actions, a)
	return a, nil
}

// Action returns the action with actionID, or nil.
func (n *Node) Action(actionID string) *Action {
	n.lock()
	defer n.unlock()
	return n.actionLocked(actionID)
}

func (n *Node) actionLocked(actionID string) *Action {
	for _, a := range n.actions {
		if a.ID == actionID {
			return a
		}
	}
	return nil
}

// Actions returns the node's actions in declaration order.
func (n *Node) Actions() []*Action {
	n.lock()
	defer n.unlock()
	return slices.Clone(n.actions)
}

// Ghost returns a detached stub carrying only identity, prototype and the
// exclude flag.
func (n *Node) Ghost() *Node {
	return &Node{
		ID:          n.ID,
		PrototypeID: n.PrototypeID,
		Exclude:     n.Exclude,
		force:       n.force,
	}
}

// lock takes the mission mutex. Nodes not yet attached to a force have
// nothing to guard.
func (n *Node) lock() {
	if n.force != nil {
		n.force.mission.mu.Lock()
	}
}

func (n *Node) unlock() {
	if n.force != nil {
		n.force.mission.mu.Unlock()
	}
}
