package mission

// NodeEventKind names a structural change to a node.
type NodeEventKind string

const (
	NodeOpened    NodeEventKind = "node-opened"
	NodeClosed    NodeEventKind = "node-closed"
	NodeRevealed  NodeEventKind = "node-revealed"
	NodeBlocked   NodeEventKind = "node-blocked"
	NodeUnblocked NodeEventKind = "node-unblocked"
)

// NodeEvent reports a structural change. StructureVersion is the mission's
// structure version after the change.
type NodeEvent struct {
	Kind             NodeEventKind
	Node             *Node
	StructureVersion uint64
}

// ExecutionEventKind names an execution lifecycle step.
type ExecutionEventKind string

const (
	ExecutionStarted   ExecutionEventKind = "execution-started"
	ExecutionSucceeded ExecutionEventKind = "execution-succeeded"
	ExecutionFailed    ExecutionEventKind = "execution-failed"
	ExecutionAborted   ExecutionEventKind = "execution-aborted"
)

// ExecutionEvent reports an execution lifecycle step.
type ExecutionEvent struct {
	Kind      ExecutionEventKind
	Execution *Execution
}

// batch collects events while the mission mutex is held; they are
// published in order once it is released.
type batch struct {
	events []any
}

func (b *batch) node(kind NodeEventKind, n *Node) {
	b.events = append(b.events, NodeEvent{Kind: kind, Node: n, StructureVersion: n.force.mission.version})
}

func (b *batch) execution(kind ExecutionEventKind, e *Execution) {
	b.events = append(b.events, ExecutionEvent{Kind: kind, Execution: e})
}

func (m *Mission) flush(b *batch) {
	for _, evt := range b.events {
		switch v := evt.(type) {
		case NodeEvent:
			m.nodeEvents.Publish(v)
		case ExecutionEvent:
			m.executionEvents.Publish(v)
		}
	}
}

// mutate runs fn under the mission mutex and publishes collected events
// after unlocking.
func (m *Mission) mutate(fn func(b *batch) error) error {
	var b batch
	m.mu.Lock()
	err := fn(&b)
	m.mu.Unlock()
	m.flush(&b)
	return err
}
