package mission

import (
	"fmt"
	"time"

	"github.com/louisbranch/metis/internal/effect"
	apperrors "github.com/louisbranch/metis/internal/platform/errors"
)

// Action is a timed, randomized operation on an executable node. Its
// numeric fields may be modified at runtime by effects.
type Action struct {
	ID          string
	Name        string
	Description string
	// Effects holds execution-lifecycle effects.
	Effects *effect.Set

	node          *Node
	successChance float64
	processTime   time.Duration
	resourceCost  float64
	opensNode     bool
}

func newAction(n *Node, actionID string, spec ActionSpec) *Action {
	return &Action{
		ID:            actionID,
		Name:          spec.Name,
		Description:   spec.Description,
		Effects:       effect.NewSet(actionID, effect.FamilyExecution),
		node:          n,
		successChance: spec.SuccessChance,
		processTime:   spec.ProcessTime,
		resourceCost:  spec.ResourceCost,
		opensNode:     spec.OpensNode,
	}
}

// Node returns the owning node.
func (a *Action) Node() *Node { return a.node }

// SuccessChance returns the current chance in [0,1].
func (a *Action) SuccessChance() float64 {
	a.node.lock()
	defer a.node.unlock()
	return a.successChance
}

// ProcessTime returns the current processing duration.
func (a *Action) ProcessTime() time.Duration {
	a.node.lock()
	defer a.node.unlock()
	return a.processTime
}

// ResourceCost returns the current cost deducted on execution.
func (a *Action) ResourceCost() float64 {
	a.node.lock()
	defer a.node.unlock()
	return a.resourceCost
}

// OpensNode reports whether a successful execution opens the node.
func (a *Action) OpensNode() bool {
	a.node.lock()
	defer a.node.unlock()
	return a.opensNode
}

// ModifySuccessChance adds delta, clamping the result to [0,1].
func (a *Action) ModifySuccessChance(delta float64) float64 {
	a.node.lock()
	defer a.node.unlock()
	a.successChance = clamp(a.successChance+delta, 0, 1)
	return a.successChance
}

// ModifyProcessTime adds delta, clamping the result at zero.
func (a *Action) ModifyProcessTime(delta time.Duration) time.Duration {
	a.node.lock()
	defer a.node.unlock()
	a.processTime = max(a.processTime+delta, 0)
	return a.processTime
}

// ModifyResourceCost adds delta, clamping the result at zero.
func (a *Action) ModifyResourceCost(delta float64) float64 {
	a.node.lock()
	defer a.node.unlock()
	a.resourceCost = max(a.resourceCost+delta, 0)
	return a.resourceCost
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

func validateActionFields(actionID string, successChance float64, processTime time.Duration, resourceCost float64) error {
	switch {
	case successChance < 0 || successChance > 1:
		return outOfRange(actionID, "successChance", fmt.Sprint(successChance))
	case processTime < 0:
		return outOfRange(actionID, "processTime", processTime.String())
	case resourceCost < 0:
		return outOfRange(actionID, "resourceCost", fmt.Sprint(resourceCost))
	}
	return nil
}

func outOfRange(actionID, field, value string) error {
	return apperrors.WithMetadata(apperrors.CodeOutOfRange,
		fmt.Sprintf("action %s: %s %s is out of range", actionID, field, value),
		map[string]string{"action_id": actionID, "field": field})
}
