package sandbox

import (
	"time"

	"github.com/louisbranch/metis/internal/mission"
)

// MissionView is a read-only copy of mission state.
type MissionView struct {
	ID                string
	Name              string
	InfiniteResources bool
	StructureVersion  uint64
}

// ForceView is a read-only copy of force state.
type ForceView struct {
	ID                 string
	Name               string
	Color              string
	InitialResources   float64
	ResourcesRemaining float64
}

// NodeView is a read-only copy of node state.
type NodeView struct {
	ID             string
	PrototypeID    string
	Name           string
	Description    string
	Color          string
	Executable     bool
	Device         bool
	Opened         bool
	Blocked        bool
	Revealed       bool
	ExecutionState mission.ExecutionState
}

// ActionView is a read-only copy of action state.
type ActionView struct {
	ID            string
	Name          string
	Description   string
	SuccessChance float64
	ProcessTime   time.Duration
	ResourceCost  float64
}

// EffectView is a read-only copy of the running effect.
type EffectView struct {
	ID                       string
	Name                     string
	TargetID                 string
	EnvironmentID            string
	TargetEnvironmentVersion string
	Trigger                  string
	Order                    int
}

// ExecutionView is a read-only copy of an execution.
type ExecutionView struct {
	ID            string
	ActionID      string
	NodeID        string
	Start         time.Time
	End           time.Time
	Status        mission.ExecutionStatus
	TimeRemaining time.Duration
}

// Mission returns the mission view.
func (c *Context) Mission() MissionView {
	m := c.scope.Mission
	return MissionView{
		ID:                m.ID,
		Name:              m.Name,
		InfiniteResources: m.InfiniteResources(),
		StructureVersion:  m.StructureVersion(),
	}
}

// Force returns the scope force view, if the scope has one.
func (c *Context) Force() (ForceView, bool) {
	f := c.scope.Force
	if f == nil {
		return ForceView{}, false
	}
	return ForceView{
		ID:                 f.ID,
		Name:               f.Name,
		Color:              f.Color,
		InitialResources:   f.InitialResources,
		ResourcesRemaining: f.ResourcesRemaining(),
	}, true
}

// Node returns the scope node view, if the scope has one.
func (c *Context) Node() (NodeView, bool) {
	n := c.scope.Node
	if n == nil {
		return NodeView{}, false
	}
	return NodeView{
		ID:             n.ID,
		PrototypeID:    n.PrototypeID,
		Name:           n.Name,
		Description:    n.Description,
		Color:          n.Color,
		Executable:     n.Executable,
		Device:         n.Device,
		Opened:         n.Opened(),
		Blocked:        n.Blocked(),
		Revealed:       n.Revealed(),
		ExecutionState: n.ExecutionState(),
	}, true
}

// Action returns the scope action view, if the scope has one.
func (c *Context) Action() (ActionView, bool) {
	a := c.scope.Action
	if a == nil {
		return ActionView{}, false
	}
	return ActionView{
		ID:            a.ID,
		Name:          a.Name,
		Description:   a.Description,
		SuccessChance: a.SuccessChance(),
		ProcessTime:   a.ProcessTime(),
		ResourceCost:  a.ResourceCost(),
	}, true
}

// Effect returns the running effect view, if the context runs one.
func (c *Context) Effect() (EffectView, bool) {
	e := c.scope.Effect
	if e == nil {
		return EffectView{}, false
	}
	return EffectView{
		ID:                       e.ID,
		Name:                     e.Name,
		TargetID:                 e.TargetID,
		EnvironmentID:            e.EnvironmentID,
		TargetEnvironmentVersion: e.TargetEnvironmentVersion,
		Trigger:                  string(e.Trigger),
		Order:                    e.Order,
	}, true
}

// Execution returns the scope execution view, if the scope has one.
func (c *Context) Execution() (ExecutionView, bool) {
	e := c.scope.Execution
	if e == nil {
		return ExecutionView{}, false
	}
	return ExecutionView{
		ID:            e.ID,
		ActionID:      e.Action().ID,
		NodeID:        e.Node().ID,
		Start:         e.Start,
		End:           e.End,
		Status:        e.Status(),
		TimeRemaining: e.TimeRemaining(),
	}, true
}
