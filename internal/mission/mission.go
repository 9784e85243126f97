package mission

import (
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"strings"
	"sync"

	"github.com/louisbranch/metis/internal/clock"
	"github.com/louisbranch/metis/internal/effect"
	apperrors "github.com/louisbranch/metis/internal/platform/errors"
	"github.com/louisbranch/metis/internal/platform/id"
	"github.com/louisbranch/metis/internal/pubsub"
)

// EffectBinder resolves an effect against the registered targets while a
// mission is hydrated. Implementations may fill in a missing environment id
// or reject effects whose target is unknown.
type EffectBinder interface {
	BindEffect(e *effect.Effect) error
}

// Options configures a mission's collaborators. Zero values fall back to
// the real clock, slog.Default and random ids.
type Options struct {
	Clock  clock.Clock
	Logger *slog.Logger
	NewID  func() (string, error)
	// Effects binds effects while hydrating; nil keeps effects as stored.
	Effects EffectBinder
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.NewID == nil {
		o.NewID = id.NewID
	}
	return o
}

// Prototype is one position in the structure shared by every force.
// Children are ordered by declaration order.
type Prototype struct {
	ID       string
	ParentID string
}

// Mission is the root of the graph.
type Mission struct {
	ID   string
	Name string
	Seed int64
	// Effects holds session-lifecycle effects.
	Effects *effect.Set

	mu                sync.Mutex
	infiniteResources bool
	prototypes        []Prototype
	forces            []*Force
	version           uint64

	rng     *rand.Rand
	clock   clock.Clock
	logger  *slog.Logger
	newID   func() (string, error)
	binder  EffectBinder

	nodeEvents      *pubsub.Channel[NodeEvent]
	executionEvents *pubsub.Channel[ExecutionEvent]
}

// New creates an empty mission whose outcome draws are seeded with seed.
func New(missionID, name string, seed int64, opts Options) *Mission {
	opts = opts.withDefaults()
	return &Mission{
		ID:              missionID,
		Name:            name,
		Seed:            seed,
		Effects:         effect.NewSet(missionID, effect.FamilySession),
		rng:             rand.New(rand.NewSource(seed)),
		clock:           opts.Clock,
		logger:          opts.Logger,
		newID:           opts.NewID,
		binder:          opts.Effects,
		nodeEvents:      pubsub.New[NodeEvent](),
		executionEvents: pubsub.New[ExecutionEvent](),
	}
}

// NodeEvents returns the channel of structural changes.
func (m *Mission) NodeEvents() *pubsub.Channel[NodeEvent] { return m.nodeEvents }

// ExecutionEvents returns the channel of execution lifecycle steps.
func (m *Mission) ExecutionEvents() *pubsub.Channel[ExecutionEvent] { return m.executionEvents }

// Clock returns the mission clock.
func (m *Mission) Clock() clock.Clock { return m.clock }

// Logger returns the mission logger.
func (m *Mission) Logger() *slog.Logger { return m.logger }

// StructureVersion increments on every open, close, block and unblock.
// Callers caching derived state compare it to detect staleness.
func (m *Mission) StructureVersion() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// InfiniteResources reports whether executions skip resource deduction.
func (m *Mission) InfiniteResources() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.infiniteResources
}

// SetInfiniteResources toggles unlimited-resources mode.
func (m *Mission) SetInfiniteResources(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infiniteResources = enabled
}

// Prototypes returns the structure in declaration order.
func (m *Mission) Prototypes() []Prototype {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.prototypes)
}

// AddPrototype appends a prototype under parentID ("" for a root) and
// spawns a default node for it in every force.
func (m *Mission) AddPrototype(prototypeID, parentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addPrototypeLocked(prototypeID, parentID)
}

func (m *Mission) addPrototypeLocked(prototypeID, parentID string) error {
	prototypeID = strings.TrimSpace(prototypeID)
	if prototypeID == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "prototype id is required")
	}
	if m.prototypeIndexLocked(prototypeID) >= 0 {
		return apperrors.WithMetadata(apperrors.CodeDuplicateID,
			fmt.Sprintf("duplicate prototype id %s", prototypeID),
			map[string]string{"prototype_id": prototypeID})
	}
	if parentID != "" && m.prototypeIndexLocked(parentID) < 0 {
		return apperrors.WithMetadata(apperrors.CodeMissingPrototype,
			fmt.Sprintf("prototype %s references missing parent %s", prototypeID, parentID),
			map[string]string{"prototype_id": prototypeID, "parent_id": parentID})
	}
	m.prototypes = append(m.prototypes, Prototype{ID: prototypeID, ParentID: parentID})
	for _, f := range m.forces {
		if _, err := f.spawnLocked(prototypeID, parentID); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mission) prototypeIndexLocked(prototypeID string) int {
	for i, p := range m.prototypes {
		if p.ID == prototypeID {
			return i
		}
	}
	return -1
}

// ForceSpec describes a force to add.
type ForceSpec struct {
	ID                     string
	Name                   string
	Color                  string
	InitialResources       float64
	AllowNegativeResources bool
	RevealAllNodes         bool
}

// AddForce adds a force with a full resource pool and one default node per
// prototype.
func (m *Mission) AddForce(spec ForceSpec) (*Force, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addForceLocked(spec)
}

func (m *Mission) addForceLocked(spec ForceSpec) (*Force, error) {
	forceID := strings.TrimSpace(spec.ID)
	if forceID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "force id is required")
	}
	for _, existing := range m.forces {
		if existing.ID == forceID {
			return nil, apperrors.WithMetadata(apperrors.CodeDuplicateID,
				fmt.Sprintf("duplicate force id %s", forceID),
				map[string]string{"force_id": forceID})
		}
	}
	f := &Force{
		ID:                     forceID,
		Name:                   spec.Name,
		Color:                  spec.Color,
		InitialResources:       spec.InitialResources,
		AllowNegativeResources: spec.AllowNegativeResources,
		RevealAllNodes:         spec.RevealAllNodes,
		mission:                m,
		resourcesRemaining:     spec.InitialResources,
		byPrototype:            make(map[string]*Node),
		byID:                   make(map[string]*Node),
	}
	for _, p := range m.prototypes {
		if _, err := f.spawnLocked(p.ID, p.ParentID); err != nil {
			return nil, err
		}
	}
	m.forces = append(m.forces, f)
	return f, nil
}

// Forces returns the forces in declaration order.
func (m *Mission) Forces() []*Force {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.forces)
}

// Force returns the force with forceID, or nil.
func (m *Mission) Force(forceID string) *Force {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forceLocked(forceID)
}

func (m *Mission) forceLocked(forceID string) *Force {
	for _, f := range m.forces {
		if f.ID == forceID {
			return f
		}
	}
	return nil
}

// Node returns the node with nodeID from any force, or nil.
func (m *Mission) Node(nodeID string) *Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodeLocked(nodeID)
}

func (m *Mission) nodeLocked(nodeID string) *Node {
	for _, f := range m.forces {
		if n, ok := f.byID[nodeID]; ok {
			return n
		}
	}
	return nil
}

// Action returns the action with actionID from any node, or nil.
func (m *Mission) Action(actionID string) *Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actionLocked(actionID)
}

func (m *Mission) actionLocked(actionID string) *Action {
	for _, f := range m.forces {
		for _, n := range f.nodesLocked() {
			if a := n.actionLocked(actionID); a != nil {
				return a
			}
		}
	}
	return nil
}

// Executions returns every in-flight execution.
func (m *Mission) Executions() []*Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Execution
	for _, f := range m.forces {
		for _, n := range f.nodesLocked() {
			if n.execution != nil {
				out = append(out, n.execution)
			}
		}
	}
	return out
}

// Resume arms the timers of executions restored by Hydrate and returns how
// many were armed. Subscribe to ExecutionEvents first: an overdue execution
// resolves as soon as it is armed.
func (m *Mission) Resume() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	armed := 0
	for _, f := range m.forces {
		for _, n := range f.nodesLocked() {
			if e := n.execution; e != nil && e.timer == nil && e.outcome == nil {
				m.armLocked(e, e.End.Sub(now))
				armed++
			}
		}
	}
	return armed
}

// AbortAll aborts every in-flight execution and returns how many were
// aborted.
func (m *Mission) AbortAll() int {
	aborted := 0
	_ = m.mutate(func(b *batch) error {
		now := m.clock.Now()
		for _, f := range m.forces {
			for _, n := range f.nodesLocked() {
				if n.execution != nil {
					m.abortLocked(n.execution, now, b)
					aborted++
				}
			}
		}
		return nil
	})
	return aborted
}
