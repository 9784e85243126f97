package mission

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/metis/internal/clock"
	apperrors "github.com/louisbranch/metis/internal/platform/errors"
)

// Cheats alter how an execution is generated and resolved.
type Cheats struct {
	// ZeroCost skips resource deduction.
	ZeroCost bool
	// Instantaneous resolves the execution without waiting.
	Instantaneous bool
	// GuaranteedSuccess skips the outcome draw.
	GuaranteedSuccess bool
}

// OutcomeStatus tags a terminal outcome.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
	OutcomeAborted OutcomeStatus = "aborted"
)

// Outcome is the immutable result of one execution. AbortedAt is set only
// for aborted outcomes.
type Outcome struct {
	ExecutionID string
	ActionID    string
	NodeID      string
	Status      OutcomeStatus
	AbortedAt   time.Time
}

// ExecutionStatus is the execution state machine position.
type ExecutionStatus string

const (
	StatusExecuting ExecutionStatus = "executing"
	StatusSuccess   ExecutionStatus = "success"
	StatusFailure   ExecutionStatus = "failure"
	StatusAborted   ExecutionStatus = "aborted"
)

// Execution is one timed run of an action.
type Execution struct {
	ID     string
	Start  time.Time
	End    time.Time
	Cheats Cheats

	action  *Action
	node    *Node
	timer   clock.Timer
	outcome *Outcome
	done    chan struct{}
}

// Action returns the executed action.
func (e *Execution) Action() *Action { return e.action }

// Node returns the node the action belongs to.
func (e *Execution) Node() *Node { return e.node }

func (e *Execution) mission() *Mission { return e.node.force.mission }

// Status returns executing until an outcome has been applied.
func (e *Execution) Status() ExecutionStatus {
	m := e.mission()
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.statusLocked()
}

func (e *Execution) statusLocked() ExecutionStatus {
	if e.outcome == nil {
		return StatusExecuting
	}
	return ExecutionStatus(e.outcome.Status)
}

// Outcome returns the applied outcome, if any.
func (e *Execution) Outcome() (Outcome, bool) {
	m := e.mission()
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.outcome == nil {
		return Outcome{}, false
	}
	return *e.outcome, true
}

// TimeRemaining returns the time left until End, or zero once an outcome
// has been applied.
func (e *Execution) TimeRemaining() time.Duration {
	m := e.mission()
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.outcome != nil {
		return 0
	}
	return max(e.End.Sub(m.clock.Now()), 0)
}

// Done is closed when an outcome is applied.
func (e *Execution) Done() <-chan struct{} { return e.done }

// Wait blocks until an outcome is applied or ctx is done.
func (e *Execution) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-e.done:
		o, _ := e.Outcome()
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Abort stops an executing execution and records an aborted outcome.
func (e *Execution) Abort() error {
	m := e.mission()
	return m.mutate(func(b *batch) error {
		if e.outcome != nil {
			return apperrors.WithMetadata(apperrors.CodeExecutionNotAbortable,
				fmt.Sprintf("execution %s is already %s", e.ID, e.outcome.Status),
				map[string]string{"execution_id": e.ID})
		}
		m.abortLocked(e, m.clock.Now(), b)
		return nil
	})
}

// ApplyOutcome applies an outcome produced elsewhere, such as one
// replicated from another host. It reports false, logging a warning, when
// the execution already has an outcome.
func (e *Execution) ApplyOutcome(o Outcome) bool {
	m := e.mission()
	applied := false
	_ = m.mutate(func(b *batch) error {
		o.ExecutionID = e.ID
		o.ActionID = e.action.ID
		o.NodeID = e.node.ID
		if o.Status != OutcomeAborted {
			o.AbortedAt = time.Time{}
		}
		applied = m.applyOutcomeLocked(e, o, b)
		return nil
	})
	return applied
}

// Execute starts an execution of actionID on the node.
func (n *Node) Execute(actionID string, cheats Cheats) (*Execution, error) {
	m := n.force.mission
	var started *Execution
	err := m.mutate(func(b *batch) error {
		a := n.actionLocked(actionID)
		if a == nil {
			return apperrors.WithMetadata(apperrors.CodeActionNotFound,
				fmt.Sprintf("node %s has no action %s", n.ID, actionID),
				map[string]string{"node_id": n.ID, "action_id": actionID})
		}
		if n.execution != nil || !n.revealedLocked() || !n.readyLocked() {
			return apperrors.WithMetadata(apperrors.CodeNodeNotReady,
				fmt.Sprintf("node %s is not ready to execute", n.ID),
				map[string]string{"node_id": n.ID, "state": string(n.executionStateLocked())})
		}
		e, err := m.generateExecutionLocked(a, cheats)
		if err != nil {
			return err
		}
		b.execution(ExecutionStarted, e)
		started = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return started, nil
}

func (m *Mission) generateExecutionLocked(a *Action, cheats Cheats) (*Execution, error) {
	n := a.node
	f := n.force
	if !cheats.ZeroCost && !m.infiniteResources {
		if !f.AllowNegativeResources && f.resourcesRemaining < a.resourceCost {
			return nil, apperrors.WithMetadata(apperrors.CodeInsufficientResources,
				fmt.Sprintf("force %s has %v resources, action %s costs %v", f.ID, f.resourcesRemaining, a.ID, a.resourceCost),
				map[string]string{"force_id": f.ID, "action_id": a.ID})
		}
	}
	executionID, err := m.newID()
	if err != nil {
		return nil, fmt.Errorf("generate execution id: %w", err)
	}
	start := m.clock.Now()
	end := start.Add(a.processTime)
	if cheats.Instantaneous {
		end = start
	}
	if !cheats.ZeroCost && !m.infiniteResources {
		f.resourcesRemaining -= a.resourceCost
	}
	e := &Execution{
		ID:     executionID,
		Start:  start,
		End:    end,
		Cheats: cheats,
		action: a,
		node:   n,
		done:   make(chan struct{}),
	}
	n.execution = e
	m.armLocked(e, end.Sub(start))
	return e, nil
}

func (m *Mission) armLocked(e *Execution, d time.Duration) {
	e.timer = m.clock.AfterFunc(max(d, 0), func() { m.complete(e) })
}

// complete is the timer path. It is a no-op when Abort won the race.
func (m *Mission) complete(e *Execution) {
	_ = m.mutate(func(b *batch) error {
		if e.outcome != nil {
			return nil
		}
		status := OutcomeFailure
		if e.Cheats.GuaranteedSuccess || m.rng.Float64() < e.action.successChance {
			status = OutcomeSuccess
		}
		m.applyOutcomeLocked(e, Outcome{
			ExecutionID: e.ID,
			ActionID:    e.action.ID,
			NodeID:      e.node.ID,
			Status:      status,
		}, b)
		return nil
	})
}

func (m *Mission) abortLocked(e *Execution, at time.Time, b *batch) {
	m.applyOutcomeLocked(e, Outcome{
		ExecutionID: e.ID,
		ActionID:    e.action.ID,
		NodeID:      e.node.ID,
		Status:      OutcomeAborted,
		AbortedAt:   at,
	}, b)
}

func (m *Mission) applyOutcomeLocked(e *Execution, o Outcome, b *batch) bool {
	if e.outcome != nil {
		m.logger.Warn("outcome already applied, ignoring",
			"execution_id", e.ID,
			"node_id", e.node.ID,
			"applied_status", string(e.outcome.Status),
			"ignored_status", string(o.Status))
		return false
	}
	e.outcome = &o
	if e.timer != nil {
		e.timer.Stop()
	}
	n := e.node
	n.outcomes = append(n.outcomes, o)
	if n.execution == e {
		n.execution = nil
	}
	close(e.done)

	switch o.Status {
	case OutcomeSuccess:
		b.execution(ExecutionSucceeded, e)
		if e.action.opensNode {
			n.openLocked(b)
		}
	case OutcomeFailure:
		b.execution(ExecutionFailed, e)
	case OutcomeAborted:
		b.execution(ExecutionAborted, e)
	}
	return true
}
