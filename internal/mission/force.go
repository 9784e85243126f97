package mission

import (
	"fmt"

	apperrors "github.com/louisbranch/metis/internal/platform/errors"
)

// Force is one side's copy of the mission structure plus its resource pool.
type Force struct {
	ID                     string
	Name                   string
	Color                  string
	InitialResources       float64
	AllowNegativeResources bool
	RevealAllNodes         bool

	mission            *Mission
	resourcesRemaining float64
	roots              []*Node
	byID               map[string]*Node
	byPrototype        map[string]*Node
}

// Mission returns the owning mission.
func (f *Force) Mission() *Mission { return f.mission }

// ResourcesRemaining returns the current pool.
func (f *Force) ResourcesRemaining() float64 {
	f.mission.mu.Lock()
	defer f.mission.mu.Unlock()
	return f.resourcesRemaining
}

// ModifyResourcePool adds delta to the pool and returns the new value. A
// negative result is clamped to zero unless the force allows debt.
func (f *Force) ModifyResourcePool(delta float64) float64 {
	f.mission.mu.Lock()
	defer f.mission.mu.Unlock()
	f.resourcesRemaining += delta
	if f.resourcesRemaining < 0 && !f.AllowNegativeResources {
		f.resourcesRemaining = 0
	}
	return f.resourcesRemaining
}

// Roots returns the nodes spawned for root prototypes.
func (f *Force) Roots() []*Node {
	f.mission.mu.Lock()
	defer f.mission.mu.Unlock()
	return append([]*Node(nil), f.roots...)
}

// Nodes returns every node of the force in depth-first order.
func (f *Force) Nodes() []*Node {
	f.mission.mu.Lock()
	defer f.mission.mu.Unlock()
	return f.nodesLocked()
}

func (f *Force) nodesLocked() []*Node {
	out := make([]*Node, 0, len(f.byID))
	for _, root := range f.roots {
		out = append(out, root)
		out = root.appendDescendantsLocked(out)
	}
	return out
}

// Node returns the node with nodeID, or nil.
func (f *Force) Node(nodeID string) *Node {
	f.mission.mu.Lock()
	defer f.mission.mu.Unlock()
	return f.byID[nodeID]
}

// NodeByPrototype returns the node spawned for prototypeID, or nil.
func (f *Force) NodeByPrototype(prototypeID string) *Node {
	f.mission.mu.Lock()
	defer f.mission.mu.Unlock()
	return f.byPrototype[prototypeID]
}

// spawnLocked creates a default node for prototypeID under the node of
// parentID.
func (f *Force) spawnLocked(prototypeID, parentID string) (*Node, error) {
	nodeID, err := f.mission.newID()
	if err != nil {
		return nil, fmt.Errorf("generate node id: %w", err)
	}
	n := &Node{ID: nodeID, PrototypeID: prototypeID}
	return n, f.attachLocked(n, parentID)
}

func (f *Force) attachLocked(n *Node, parentID string) error {
	if _, exists := f.byID[n.ID]; exists {
		return apperrors.WithMetadata(apperrors.CodeDuplicateID,
			fmt.Sprintf("force %s: duplicate node id %s", f.ID, n.ID),
			map[string]string{"force_id": f.ID, "node_id": n.ID})
	}
	if f.mission.nodeLocked(n.ID) != nil {
		return apperrors.WithMetadata(apperrors.CodeDuplicateID,
			fmt.Sprintf("duplicate node id %s", n.ID),
			map[string]string{"node_id": n.ID})
	}
	n.force = f
	if parentID != "" {
		parent := f.byPrototype[parentID]
		if parent == nil {
			return apperrors.WithMetadata(apperrors.CodeMissingPrototype,
				fmt.Sprintf("force %s: no node for parent prototype %s", f.ID, parentID),
				map[string]string{"force_id": f.ID, "prototype_id": parentID})
		}
		n.parent = parent
		parent.children = append(parent.children, n)
	} else {
		f.roots = append(f.roots, n)
	}
	f.byID[n.ID] = n
	f.byPrototype[n.PrototypeID] = n
	return nil
}
