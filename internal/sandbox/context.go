package sandbox

import (
	"fmt"
	"time"

	"github.com/louisbranch/metis/internal/clock"
	"github.com/louisbranch/metis/internal/effect"
	"github.com/louisbranch/metis/internal/mission"
	apperrors "github.com/louisbranch/metis/internal/platform/errors"
	"github.com/louisbranch/metis/internal/pubsub"
	"github.com/louisbranch/metis/internal/sessionstore"
)

// Scope is the part of the graph a context was built for. Only Mission is
// required; hooks run with no effect and session effects have no node.
type Scope struct {
	Mission       *mission.Mission
	Force         *mission.Force
	Node          *mission.Node
	Action        *mission.Action
	Execution     *mission.Execution
	Effect        *effect.Effect
	EnvironmentID string
	TargetID      string
}

// Output is a message sent by a script to a force's output panel.
type Output struct {
	ForceID string
	Prefix  string
	Message string
	Time    time.Time
}

// Deps are the shared collaborators of every context of a session.
type Deps struct {
	Stores  *sessionstore.Registry
	Outputs *pubsub.Channel[Output]
	Clock   clock.Clock
}

// Context is the immutable view a script runs against.
type Context struct {
	host       Host
	instanceID string
	scope      Scope
	deps       Deps
}

// New builds a context bound to instanceID.
func New(host Host, instanceID string, scope Scope, deps Deps) *Context {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	return &Context{host: host, instanceID: instanceID, scope: scope, deps: deps}
}

// SessionID returns the host's session id.
func (c *Context) SessionID() string { return c.host.SessionID() }

// InstanceID returns the instance id captured at construction.
func (c *Context) InstanceID() string { return c.instanceID }

// EnvironmentID returns the environment the context runs in.
func (c *Context) EnvironmentID() string { return c.scope.EnvironmentID }

// TargetID returns the target the context runs for, if any.
func (c *Context) TargetID() string { return c.scope.TargetID }

// Current reports OUTDATED_CONTEXT when the captured instance is no longer
// the host's running instance.
func (c *Context) Current() error {
	current := c.host.InstanceID()
	state := c.host.State()
	if current == c.instanceID && state == StateStarted {
		return nil
	}
	return apperrors.WithMetadata(apperrors.CodeOutdatedContext,
		fmt.Sprintf("context for instance %s is outdated (current %s, state %s)", c.instanceID, current, state),
		map[string]string{
			"session_id":          c.host.SessionID(),
			"instance_id":         c.instanceID,
			"current_instance_id": current,
			"state":               string(state),
		})
}

// Args returns a copy of the effect's arguments, or nil for hooks.
func (c *Context) Args() map[string]any {
	if c.scope.Effect == nil {
		return nil
	}
	return effect.CloneArgs(c.scope.Effect.Args)
}

// OpenNode opens nodeID, or the scope node when nodeID is empty.
func (c *Context) OpenNode(nodeID string) error {
	n, err := c.node(nodeID)
	if err != nil {
		return err
	}
	return n.Open()
}

// BlockNode blocks nodeID, or the scope node when nodeID is empty.
func (c *Context) BlockNode(nodeID string) error {
	n, err := c.node(nodeID)
	if err != nil {
		return err
	}
	n.Block()
	return nil
}

// UnblockNode unblocks nodeID, or the scope node when nodeID is empty.
func (c *Context) UnblockNode(nodeID string) error {
	n, err := c.node(nodeID)
	if err != nil {
		return err
	}
	n.Unblock()
	return nil
}

// ModifySuccessChance adjusts an action's success chance and returns the
// clamped result.
func (c *Context) ModifySuccessChance(actionID string, delta float64) (float64, error) {
	a, err := c.action(actionID)
	if err != nil {
		return 0, err
	}
	return a.ModifySuccessChance(delta), nil
}

// ModifyProcessTime adjusts an action's process time.
func (c *Context) ModifyProcessTime(actionID string, delta time.Duration) (time.Duration, error) {
	a, err := c.action(actionID)
	if err != nil {
		return 0, err
	}
	return a.ModifyProcessTime(delta), nil
}

// ModifyResourceCost adjusts an action's resource cost.
func (c *Context) ModifyResourceCost(actionID string, delta float64) (float64, error) {
	a, err := c.action(actionID)
	if err != nil {
		return 0, err
	}
	return a.ModifyResourceCost(delta), nil
}

// ModifyResourcePool adjusts a force's resource pool.
func (c *Context) ModifyResourcePool(forceID string, delta float64) (float64, error) {
	f, err := c.force(forceID)
	if err != nil {
		return 0, err
	}
	return f.ModifyResourcePool(delta), nil
}

// SendOutput publishes message to a force's output channel.
func (c *Context) SendOutput(forceID, message string) error {
	f, err := c.force(forceID)
	if err != nil {
		return err
	}
	prefix := c.scope.TargetID
	if c.scope.Effect != nil && c.scope.Effect.Name != "" {
		prefix = c.scope.Effect.Name
	}
	if c.deps.Outputs != nil {
		c.deps.Outputs.Publish(Output{
			ForceID: f.ID,
			Prefix:  prefix,
			Message: message,
			Time:    c.deps.Clock.Now(),
		})
	}
	return nil
}

// Store returns the session store private to the context's environment.
func (c *Context) Store() (*sessionstore.Store, error) {
	return c.store(c.scope.EnvironmentID)
}

// GlobalStore returns the session store shared by every environment.
func (c *Context) GlobalStore() (*sessionstore.Store, error) {
	return c.store(sessionstore.GlobalNamespace)
}

func (c *Context) store(namespace string) (*sessionstore.Store, error) {
	if err := c.Current(); err != nil {
		return nil, err
	}
	if c.deps.Stores == nil {
		return nil, apperrors.New(apperrors.CodeNotFound, "session stores are not configured")
	}
	return c.deps.Stores.Store(c.host.SessionID(), c.instanceID, namespace), nil
}

func (c *Context) node(nodeID string) (*mission.Node, error) {
	if err := c.Current(); err != nil {
		return nil, err
	}
	if nodeID == "" && c.scope.Node != nil {
		return c.scope.Node, nil
	}
	if n := c.scope.Mission.Node(nodeID); n != nil {
		return n, nil
	}
	return nil, apperrors.WithMetadata(apperrors.CodeNodeNotFound,
		fmt.Sprintf("node %q not found", nodeID),
		map[string]string{"node_id": nodeID})
}

func (c *Context) action(actionID string) (*mission.Action, error) {
	if err := c.Current(); err != nil {
		return nil, err
	}
	if actionID == "" && c.scope.Action != nil {
		return c.scope.Action, nil
	}
	if a := c.scope.Mission.Action(actionID); a != nil {
		return a, nil
	}
	return nil, apperrors.WithMetadata(apperrors.CodeActionNotFound,
		fmt.Sprintf("action %q not found", actionID),
		map[string]string{"action_id": actionID})
}

func (c *Context) force(forceID string) (*mission.Force, error) {
	if err := c.Current(); err != nil {
		return nil, err
	}
	if forceID == "" && c.scope.Force != nil {
		return c.scope.Force, nil
	}
	if f := c.scope.Mission.Force(forceID); f != nil {
		return f, nil
	}
	return nil, apperrors.WithMetadata(apperrors.CodeNotFound,
		fmt.Sprintf("force %q not found", forceID),
		map[string]string{"force_id": forceID})
}
