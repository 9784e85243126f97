package mission

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisbranch/metis/internal/effect"
	"github.com/louisbranch/metis/internal/random"
)

// Snapshot is the persisted JSON shape of a mission.
type Snapshot struct {
	ID                string              `json:"_id"`
	Name              string              `json:"name"`
	Seed              int64               `json:"seed,omitempty"`
	InfiniteResources bool                `json:"infiniteResources"`
	Prototypes        []PrototypeSnapshot `json:"prototypes"`
	Forces            []ForceSnapshot     `json:"forces"`
	Effects           []effect.Snapshot   `json:"effects"`
}

// PrototypeSnapshot is one structure position. ParentID is empty for roots
// and must name an earlier prototype otherwise.
type PrototypeSnapshot struct {
	ID       string `json:"_id"`
	ParentID string `json:"parentId,omitempty"`
}

// ForceSnapshot is the persisted shape of a force. A nil ResourcesRemaining
// starts the pool full.
type ForceSnapshot struct {
	ID                     string         `json:"_id"`
	Name                   string         `json:"name"`
	Color                  string         `json:"color"`
	InitialResources       float64        `json:"initialResources"`
	ResourcesRemaining     *float64       `json:"resourcesRemaining,omitempty"`
	AllowNegativeResources bool           `json:"allowNegativeResources"`
	RevealAllNodes         bool           `json:"revealAllNodes"`
	Nodes                  []NodeSnapshot `json:"nodes"`
}

// NodeSnapshot is the persisted shape of a node. ExecutionState is written
// for consumers and ignored on hydration.
type NodeSnapshot struct {
	ID             string             `json:"_id"`
	PrototypeID    string             `json:"prototypeId"`
	Name           string             `json:"name"`
	Description    string             `json:"description"`
	Color          string             `json:"color,omitempty"`
	Executable     bool               `json:"executable"`
	Device         bool               `json:"device"`
	Exclude        bool               `json:"exclude"`
	Opened         bool               `json:"opened"`
	Blocked        bool               `json:"blocked"`
	ExecutionState ExecutionState     `json:"executionState,omitempty"`
	Actions        []ActionSnapshot   `json:"actions"`
	Execution      *ExecutionSnapshot `json:"execution"`
	Outcomes       []OutcomeSnapshot  `json:"outcomes"`
}

// ActionSnapshot is the persisted shape of an action. ProcessTime is in
// milliseconds; a missing OpensNode defaults to true.
type ActionSnapshot struct {
	ID            string            `json:"_id"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	SuccessChance float64           `json:"successChance"`
	ProcessTime   int64             `json:"processTime"`
	ResourceCost  float64           `json:"resourceCost"`
	OpensNode     *bool             `json:"opensNode,omitempty"`
	Effects       []effect.Snapshot `json:"effects"`
}

// ExecutionSnapshot is the persisted shape of an execution. Start and End
// are Unix milliseconds.
type ExecutionSnapshot struct {
	ID       string           `json:"_id"`
	ActionID string           `json:"actionId"`
	NodeID   string           `json:"nodeId"`
	Start    int64            `json:"start"`
	End      int64            `json:"end"`
	Cheats   CheatsSnapshot   `json:"cheats"`
	Outcome  *OutcomeSnapshot `json:"outcome"`
}

// CheatsSnapshot is the persisted shape of Cheats.
type CheatsSnapshot struct {
	ZeroCost          bool `json:"zeroCost"`
	Instantaneous     bool `json:"instantaneous"`
	GuaranteedSuccess bool `json:"guaranteedSuccess"`
}

// OutcomeSnapshot is the persisted shape of an outcome. AbortedAt is Unix
// milliseconds.
type OutcomeSnapshot struct {
	ExecutionID string        `json:"executionId"`
	ActionID    string        `json:"actionId"`
	NodeID      string        `json:"nodeId"`
	Status      OutcomeStatus `json:"status"`
	AbortedAt   *int64        `json:"abortedAt,omitempty"`
}

// SnapshotOptions controls serialization.
type SnapshotOptions struct {
	// Ghosts replaces excluded nodes with their ghost stubs.
	Ghosts bool
}

// Hydrate decodes a JSON snapshot and builds the mission it describes.
func Hydrate(data []byte, opts Options) (*Mission, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode mission snapshot: %w", err)
	}
	return FromSnapshot(s, opts)
}

// FromSnapshot validates s and builds the mission it describes. In-flight
// executions are restored unarmed until Resume; their resources are not
// deducted again.
func FromSnapshot(s Snapshot, opts Options) (*Mission, error) {
	if err := ValidateSnapshot(s); err != nil {
		return nil, err
	}
	seed, err := random.ResolveSeed(s.Seed, s.ID)
	if err != nil {
		return nil, err
	}
	m := New(s.ID, s.Name, seed, opts)
	m.infiniteResources = s.InfiniteResources

	for _, es := range s.Effects {
		if err := m.restoreEffect(m.Effects, es); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range s.Prototypes {
		m.prototypes = append(m.prototypes, Prototype{ID: p.ID, ParentID: p.ParentID})
	}
	for _, fs := range s.Forces {
		if err := m.hydrateForceLocked(fs); err != nil {
			return nil, fmt.Errorf("hydrate force %s: %w", fs.ID, err)
		}
	}
	return m, nil
}

func (m *Mission) restoreEffect(set *effect.Set, es effect.Snapshot) error {
	e := effect.FromSnapshot(es)
	if m.binder != nil {
		if err := m.binder.BindEffect(e); err != nil {
			return fmt.Errorf("bind effect %s: %w", e.ID, err)
		}
	}
	return set.Restore(e)
}

func (m *Mission) hydrateForceLocked(fs ForceSnapshot) error {
	f := &Force{
		ID:                     fs.ID,
		Name:                   fs.Name,
		Color:                  fs.Color,
		InitialResources:       fs.InitialResources,
		AllowNegativeResources: fs.AllowNegativeResources,
		RevealAllNodes:         fs.RevealAllNodes,
		mission:                m,
		resourcesRemaining:     fs.InitialResources,
		byID:                   make(map[string]*Node),
		byPrototype:            make(map[string]*Node),
	}
	if fs.ResourcesRemaining != nil {
		f.resourcesRemaining = *fs.ResourcesRemaining
	}
	stored := make(map[string]NodeSnapshot, len(fs.Nodes))
	for _, ns := range fs.Nodes {
		stored[ns.PrototypeID] = ns
	}
	for _, p := range m.prototypes {
		ns, ok := stored[p.ID]
		if !ok {
			if _, err := f.spawnLocked(p.ID, p.ParentID); err != nil {
				return err
			}
			continue
		}
		n := &Node{
			ID:          ns.ID,
			PrototypeID: ns.PrototypeID,
			Name:        ns.Name,
			Description: ns.Description,
			Color:       ns.Color,
			Executable:  ns.Executable,
			Device:      ns.Device,
			Exclude:     ns.Exclude,
			opened:      ns.Opened,
			blocked:     ns.Blocked,
		}
		if err := f.attachLocked(n, p.ParentID); err != nil {
			return err
		}
		if err := m.hydrateNodeLocked(n, ns); err != nil {
			return fmt.Errorf("hydrate node %s: %w", n.ID, err)
		}
	}
	m.forces = append(m.forces, f)
	return nil
}

func (m *Mission) hydrateNodeLocked(n *Node, ns NodeSnapshot) error {
	for _, as := range ns.Actions {
		opensNode := true
		if as.OpensNode != nil {
			opensNode = *as.OpensNode
		}
		a := newAction(n, as.ID, ActionSpec{
			Name:          as.Name,
			Description:   as.Description,
			SuccessChance: as.SuccessChance,
			ProcessTime:   time.Duration(as.ProcessTime) * time.Millisecond,
			ResourceCost:  as.ResourceCost,
			OpensNode:     opensNode,
		})
		for _, es := range as.Effects {
			if err := m.restoreEffect(a.Effects, es); err != nil {
				return err
			}
		}
		n.actions = append(n.actions, a)
	}
	for _, os := range ns.Outcomes {
		n.outcomes = append(n.outcomes, outcomeFromSnapshot(os))
	}
	es := ns.Execution
	if es == nil || es.Outcome != nil {
		return nil
	}
	a := n.actionLocked(es.ActionID)
	e := &Execution{
		ID:    es.ID,
		Start: time.UnixMilli(es.Start),
		End:   time.UnixMilli(es.End),
		Cheats: Cheats{
			ZeroCost:          es.Cheats.ZeroCost,
			Instantaneous:     es.Cheats.Instantaneous,
			GuaranteedSuccess: es.Cheats.GuaranteedSuccess,
		},
		action: a,
		node:   n,
		done:   make(chan struct{}),
	}
	n.execution = e
	return nil
}

func outcomeFromSnapshot(os OutcomeSnapshot) Outcome {
	o := Outcome{
		ExecutionID: os.ExecutionID,
		ActionID:    os.ActionID,
		NodeID:      os.NodeID,
		Status:      os.Status,
	}
	if os.AbortedAt != nil {
		o.AbortedAt = time.UnixMilli(*os.AbortedAt)
	}
	return o
}

func outcomeSnapshot(o Outcome) OutcomeSnapshot {
	s := OutcomeSnapshot{
		ExecutionID: o.ExecutionID,
		ActionID:    o.ActionID,
		NodeID:      o.NodeID,
		Status:      o.Status,
	}
	if o.Status == OutcomeAborted {
		at := o.AbortedAt.UnixMilli()
		s.AbortedAt = &at
	}
	return s
}

// Snapshot returns the persisted form of the mission.
func (m *Mission) Snapshot(opts SnapshotOptions) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		ID:                m.ID,
		Name:              m.Name,
		Seed:              m.Seed,
		InfiniteResources: m.infiniteResources,
		Prototypes:        make([]PrototypeSnapshot, 0, len(m.prototypes)),
		Forces:            make([]ForceSnapshot, 0, len(m.forces)),
		Effects:           m.Effects.Snapshots(),
	}
	for _, p := range m.prototypes {
		s.Prototypes = append(s.Prototypes, PrototypeSnapshot{ID: p.ID, ParentID: p.ParentID})
	}
	for _, f := range m.forces {
		remaining := f.resourcesRemaining
		fs := ForceSnapshot{
			ID:                     f.ID,
			Name:                   f.Name,
			Color:                  f.Color,
			InitialResources:       f.InitialResources,
			ResourcesRemaining:     &remaining,
			AllowNegativeResources: f.AllowNegativeResources,
			RevealAllNodes:         f.RevealAllNodes,
		}
		for _, n := range f.nodesLocked() {
			if opts.Ghosts && n.Exclude {
				n = n.Ghost()
			}
			fs.Nodes = append(fs.Nodes, n.snapshotLocked())
		}
		s.Forces = append(s.Forces, fs)
	}
	return s
}

func (n *Node) snapshotLocked() NodeSnapshot {
	ns := NodeSnapshot{
		ID:             n.ID,
		PrototypeID:    n.PrototypeID,
		Name:           n.Name,
		Description:    n.Description,
		Color:          n.Color,
		Executable:     n.Executable,
		Device:         n.Device,
		Exclude:        n.Exclude,
		Opened:         n.opened,
		Blocked:        n.blocked,
		ExecutionState: n.executionStateLocked(),
		Actions:        make([]ActionSnapshot, 0, len(n.actions)),
		Outcomes:       make([]OutcomeSnapshot, 0, len(n.outcomes)),
	}
	for _, a := range n.actions {
		opensNode := a.opensNode
		ns.Actions = append(ns.Actions, ActionSnapshot{
			ID:            a.ID,
			Name:          a.Name,
			Description:   a.Description,
			SuccessChance: a.successChance,
			ProcessTime:   a.processTime.Milliseconds(),
			ResourceCost:  a.resourceCost,
			OpensNode:     &opensNode,
			Effects:       a.Effects.Snapshots(),
		})
	}
	for _, o := range n.outcomes {
		ns.Outcomes = append(ns.Outcomes, outcomeSnapshot(o))
	}
	if e := n.execution; e != nil {
		ns.Execution = &ExecutionSnapshot{
			ID:       e.ID,
			ActionID: e.action.ID,
			NodeID:   n.ID,
			Start:    e.Start.UnixMilli(),
			End:      e.End.UnixMilli(),
			Cheats: CheatsSnapshot{
				ZeroCost:          e.Cheats.ZeroCost,
				Instantaneous:     e.Cheats.Instantaneous,
				GuaranteedSuccess: e.Cheats.GuaranteedSuccess,
			},
		}
	}
	return ns
}

// MarshalSnapshot encodes the mission as JSON.
func (m *Mission) MarshalSnapshot(opts SnapshotOptions) ([]byte, error) {
	data, err := json.Marshal(m.Snapshot(opts))
	if err != nil {
		return nil, fmt.Errorf("encode mission snapshot: %w", err)
	}
	return data, nil
}
