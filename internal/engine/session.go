package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/louisbranch/metis/internal/dispatch"
	"github.com/louisbranch/metis/internal/effect"
	"github.com/louisbranch/metis/internal/mission"
	apperrors "github.com/louisbranch/metis/internal/platform/errors"
	"github.com/louisbranch/metis/internal/pubsub"
	"github.com/louisbranch/metis/internal/sandbox"
	"github.com/louisbranch/metis/internal/target"
)

// Session is one running instance of a mission on a session host.
type Session struct {
	engine  *Engine
	host    sandbox.Host
	mission *mission.Mission
	outputs *pubsub.Channel[sandbox.Output]
	settled *pubsub.Channel[mission.ExecutionEvent]
	request dispatch.Request
	refs    []dispatch.Reference
	ctx     context.Context

	// serial keeps effect dispatch for the session to one at a time, so
	// initiation effects finish before the outcome effects of the same
	// execution start.
	serial sync.Mutex

	mu          sync.Mutex
	tornDown    bool
	unsubscribe func()
}

// Setup starts a session for m on host. The host must be started; the
// instance id it reports now is the one every context of the session
// captures. Setup runs environment-setup hooks, then target-setup hooks for
// each target the mission references, then session-setup effects. Hook and
// effect failures are logged and do not abort the setup. Executions restored
// from a snapshot are resumed once the session listens for outcomes.
func (e *Engine) Setup(ctx context.Context, host sandbox.Host, m *mission.Mission) (*Session, error) {
	if host.State() != sandbox.StateStarted {
		return nil, apperrors.WithMetadata(apperrors.CodeSessionNotStarted,
			fmt.Sprintf("session %s is %s", host.SessionID(), host.State()),
			map[string]string{"session_id": host.SessionID()})
	}
	outputs := pubsub.New[sandbox.Output]()
	s := &Session{
		engine:  e,
		host:    host,
		mission: m,
		outputs: outputs,
		settled: pubsub.New[mission.ExecutionEvent](),
		request: dispatch.Request{
			Host:       host,
			InstanceID: host.InstanceID(),
			Mission:    m,
			Outputs:    outputs,
		},
		ctx: context.WithoutCancel(ctx),
	}
	s.refs = e.dispatcher.References(s.request)

	s.serial.Lock()
	defer s.serial.Unlock()
	_ = e.dispatcher.RunHooks(ctx, s.request, target.HookEnvironmentSetup, s.refs)
	_ = e.dispatcher.RunHooks(ctx, s.request, target.HookTargetSetup, s.refs)
	_ = e.dispatcher.DispatchSessionEffects(ctx, s.request, effect.TriggerSessionSetup)

	s.unsubscribe = m.ExecutionEvents().Subscribe(s.onExecutionEvent)
	resumed := m.Resume()
	e.logger.Info("session set up",
		"session_id", host.SessionID(),
		"instance_id", s.request.InstanceID,
		"mission_id", m.ID,
		"targets", len(s.refs),
		"resumed", resumed)
	return s, nil
}

// Mission returns the session's mission.
func (s *Session) Mission() *mission.Mission { return s.mission }

// InstanceID returns the instance id captured at setup.
func (s *Session) InstanceID() string { return s.request.InstanceID }

// Outputs returns the channel of messages scripts send to forces.
func (s *Session) Outputs() *pubsub.Channel[sandbox.Output] { return s.outputs }

// Settled publishes each success or failure once its outcome effects have
// run, and each abort as it happens.
func (s *Session) Settled() *pubsub.Channel[mission.ExecutionEvent] { return s.settled }

// Open opens a node on behalf of a player. Players only see revealed
// nodes, so hidden ones are not openable here.
func (s *Session) Open(nodeID string) error {
	if err := s.active(); err != nil {
		return err
	}
	n, err := s.node(nodeID)
	if err != nil {
		return err
	}
	if !n.Revealed() {
		return apperrors.WithMetadata(apperrors.CodeNodeNotOpenable,
			fmt.Sprintf("node %s is not revealed", nodeID),
			map[string]string{"node_id": nodeID})
	}
	return n.Open()
}

// Execute starts actionID on nodeID and runs the action's
// execution-initiation effects before returning.
func (s *Session) Execute(ctx context.Context, nodeID, actionID string, cheats mission.Cheats) (*mission.Execution, error) {
	if err := s.active(); err != nil {
		return nil, err
	}
	n, err := s.node(nodeID)
	if err != nil {
		return nil, err
	}

	s.serial.Lock()
	defer s.serial.Unlock()
	execution, err := n.Execute(actionID, cheats)
	if err != nil {
		return nil, err
	}
	_ = s.engine.dispatcher.DispatchExecutionEffects(ctx, s.request, execution, effect.TriggerExecutionInitiation)
	return execution, nil
}

// Abort aborts the in-flight execution on nodeID.
func (s *Session) Abort(nodeID string) error {
	if err := s.active(); err != nil {
		return err
	}
	n, err := s.node(nodeID)
	if err != nil {
		return err
	}
	execution := n.Execution()
	if execution == nil {
		return apperrors.WithMetadata(apperrors.CodeExecutionNotAbortable,
			fmt.Sprintf("node %s has no execution in flight", nodeID),
			map[string]string{"node_id": nodeID})
	}
	return execution.Abort()
}

// Teardown aborts in-flight executions, runs session-teardown effects,
// target-teardown hooks and environment-teardown hooks, then drops the
// session's stores. Call it before the host leaves the started state, or
// the teardown scripts see an outdated context and are skipped.
func (s *Session) Teardown(ctx context.Context) error {
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return apperrors.WithMetadata(apperrors.CodeSessionAlreadyTornDown,
			fmt.Sprintf("session %s is already torn down", s.host.SessionID()),
			map[string]string{"session_id": s.host.SessionID()})
	}
	s.tornDown = true
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	aborted := s.mission.AbortAll()
	if unsubscribe != nil {
		unsubscribe()
	}

	s.serial.Lock()
	defer s.serial.Unlock()
	d := s.engine.dispatcher
	errs := []error{
		d.DispatchSessionEffects(ctx, s.request, effect.TriggerSessionTeardown),
		d.RunHooks(ctx, s.request, target.HookTargetTeardown, s.refs),
		d.RunHooks(ctx, s.request, target.HookEnvironmentTeardown, s.refs),
	}
	dropped := s.engine.stores.CleanUp(s.host.SessionID())
	s.engine.logger.Info("session torn down",
		"session_id", s.host.SessionID(),
		"instance_id", s.request.InstanceID,
		"aborted", aborted,
		"stores", dropped)
	return errors.Join(errs...)
}

// onExecutionEvent runs outcome effects. Events arrive after the mission
// lock is released, so scripts may mutate the graph. Aborts carry no
// effects and may be raised by a script that already holds serial.
func (s *Session) onExecutionEvent(ev mission.ExecutionEvent) {
	var trigger effect.Trigger
	switch ev.Kind {
	case mission.ExecutionSucceeded:
		trigger = effect.TriggerExecutionSuccess
	case mission.ExecutionFailed:
		trigger = effect.TriggerExecutionFailure
	case mission.ExecutionAborted:
		s.settled.Publish(ev)
		return
	default:
		return
	}
	s.serial.Lock()
	_ = s.engine.dispatcher.DispatchExecutionEffects(s.ctx, s.request, ev.Execution, trigger)
	s.serial.Unlock()
	s.settled.Publish(ev)
}

func (s *Session) active() error {
	s.mu.Lock()
	tornDown := s.tornDown
	s.mu.Unlock()
	if tornDown {
		return apperrors.WithMetadata(apperrors.CodeSessionAlreadyTornDown,
			fmt.Sprintf("session %s is torn down", s.host.SessionID()),
			map[string]string{"session_id": s.host.SessionID()})
	}
	if s.host.InstanceID() != s.request.InstanceID {
		return apperrors.WithMetadata(apperrors.CodeOutdatedContext,
			fmt.Sprintf("session %s restarted as instance %s", s.host.SessionID(), s.host.InstanceID()),
			map[string]string{"session_id": s.host.SessionID(), "instance_id": s.request.InstanceID})
	}
	if state := s.host.State(); state != sandbox.StateStarted {
		return apperrors.WithMetadata(apperrors.CodeSessionNotStarted,
			fmt.Sprintf("session %s is %s", s.host.SessionID(), state),
			map[string]string{"session_id": s.host.SessionID()})
	}
	return nil
}

func (s *Session) node(nodeID string) (*mission.Node, error) {
	n := s.mission.Node(nodeID)
	if n == nil {
		return nil, apperrors.WithMetadata(apperrors.CodeNodeNotFound,
			fmt.Sprintf("node %q not found", nodeID),
			map[string]string{"node_id": nodeID})
	}
	return n, nil
}
