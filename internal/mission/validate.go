package mission

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/louisbranch/metis/internal/effect"
	apperrors "github.com/louisbranch/metis/internal/platform/errors"
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Validate checks the mission's current state with the same rules applied
// to stored snapshots.
func (m *Mission) Validate() error {
	return ValidateSnapshot(m.Snapshot(SnapshotOptions{}))
}

// ValidateSnapshot reports every structural problem in s, joined into one
// error. It returns nil when the snapshot can be hydrated.
func ValidateSnapshot(s Snapshot) error {
	v := validator{ids: make(map[string]string)}
	v.id("mission", s.ID)

	prototypes := make(map[string]bool, len(s.Prototypes))
	for _, p := range s.Prototypes {
		if prototypes[p.ID] {
			v.add(apperrors.WithMetadata(apperrors.CodeDuplicateID,
				fmt.Sprintf("duplicate prototype id %s", p.ID),
				map[string]string{"prototype_id": p.ID}))
			continue
		}
		if p.ParentID != "" && !prototypes[p.ParentID] {
			v.add(apperrors.WithMetadata(apperrors.CodeMissingPrototype,
				fmt.Sprintf("prototype %s references missing parent %s", p.ID, p.ParentID),
				map[string]string{"prototype_id": p.ID, "parent_id": p.ParentID}))
		}
		prototypes[p.ID] = true
	}

	v.effects(s.ID, effect.FamilySession, s.Effects)

	for _, f := range s.Forces {
		v.id("force", f.ID)
		v.color("force", f.ID, f.Color, true)
		if f.InitialResources < 0 {
			v.add(apperrors.WithMetadata(apperrors.CodeOutOfRange,
				fmt.Sprintf("force %s: initialResources %v is out of range", f.ID, f.InitialResources),
				map[string]string{"force_id": f.ID, "field": "initialResources"}))
		}
		seen := make(map[string]bool, len(f.Nodes))
		for _, n := range f.Nodes {
			v.node(f.ID, n, prototypes, seen)
		}
	}
	return errors.Join(v.errs...)
}

type validator struct {
	ids  map[string]string
	errs []error
}

func (v *validator) add(err error) {
	v.errs = append(v.errs, err)
}

// id records a mission-wide identifier; ids are unique across kinds.
func (v *validator) id(kind, id string) {
	if id == "" {
		v.add(apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("%s id is required", kind)))
		return
	}
	if prev, ok := v.ids[id]; ok {
		v.add(apperrors.WithMetadata(apperrors.CodeDuplicateID,
			fmt.Sprintf("duplicate id %s (%s and %s)", id, prev, kind),
			map[string]string{"id": id}))
		return
	}
	v.ids[id] = kind
}

func (v *validator) color(kind, id, color string, required bool) {
	if color == "" && !required {
		return
	}
	if !colorPattern.MatchString(color) {
		v.add(apperrors.WithMetadata(apperrors.CodeInvalidColor,
			fmt.Sprintf("%s %s: invalid color %q", kind, id, color),
			map[string]string{"id": id, "color": color}))
	}
}

func (v *validator) node(forceID string, n NodeSnapshot, prototypes, seen map[string]bool) {
	v.id("node", n.ID)
	v.color("node", n.ID, n.Color, false)
	if !prototypes[n.PrototypeID] {
		v.add(apperrors.WithMetadata(apperrors.CodeMissingPrototype,
			fmt.Sprintf("node %s references missing prototype %s", n.ID, n.PrototypeID),
			map[string]string{"node_id": n.ID, "prototype_id": n.PrototypeID}))
	} else if seen[n.PrototypeID] {
		v.add(apperrors.WithMetadata(apperrors.CodeDuplicateID,
			fmt.Sprintf("force %s: prototype %s has more than one node", forceID, n.PrototypeID),
			map[string]string{"force_id": forceID, "prototype_id": n.PrototypeID}))
	}
	seen[n.PrototypeID] = true

	actions := make(map[string]bool, len(n.Actions))
	for _, a := range n.Actions {
		v.id("action", a.ID)
		actions[a.ID] = true
		if err := validateActionFields(a.ID, a.SuccessChance, time.Duration(a.ProcessTime)*time.Millisecond, a.ResourceCost); err != nil {
			v.add(err)
		}
		v.effects(a.ID, effect.FamilyExecution, a.Effects)
	}
	if e := n.Execution; e != nil && e.Outcome == nil {
		if !actions[e.ActionID] {
			v.add(apperrors.WithMetadata(apperrors.CodeActionNotFound,
				fmt.Sprintf("node %s: execution %s references missing action %s", n.ID, e.ID, e.ActionID),
				map[string]string{"node_id": n.ID, "action_id": e.ActionID}))
		}
	}
}

func (v *validator) effects(hostID string, family effect.Family, effects []effect.Snapshot) {
	localKeys := make(map[string]bool, len(effects))
	for _, es := range effects {
		v.id("effect", es.ID)
		if err := effect.FromSnapshot(es).Validate(family); err != nil {
			v.add(err)
		}
		if es.LocalKey == "" {
			continue
		}
		if localKeys[es.LocalKey] {
			v.add(apperrors.WithMetadata(apperrors.CodeDuplicateLocalKey,
				fmt.Sprintf("host %s: duplicate local key %q", hostID, es.LocalKey),
				map[string]string{"host_id": hostID, "local_key": es.LocalKey}))
		}
		localKeys[es.LocalKey] = true
	}
}
