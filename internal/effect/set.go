package effect

import (
	"fmt"
	"slices"
	"strconv"
	"sync"

	apperrors "github.com/louisbranch/metis/internal/platform/errors"
)

// Set holds the effects of one host (a mission or an action).
//
// Add assigns Order monotonically and enforces LocalKey uniqueness;
// Restore keeps the stored Order and advances the counters past it.
type Set struct {
	mu        sync.RWMutex
	hostID    string
	family    Family
	effects   []*Effect
	nextOrder int
	nextKey   int
}

// NewSet creates an empty set for the host identified by hostID.
func NewSet(hostID string, family Family) *Set {
	return &Set{hostID: hostID, family: family, nextOrder: 1, nextKey: 1}
}

// HostID returns the id of the owning mission or action.
func (s *Set) HostID() string { return s.hostID }

// Family returns the trigger family accepted by this host.
func (s *Set) Family() Family { return s.family }

// Add validates e, assigns the next order and, when empty, a local key.
// A rejected effect is left untouched.
func (s *Set) Add(e *Effect) error {
	if e == nil {
		return apperrors.New(apperrors.CodeInvalidArgument, "effect is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(e, s.nextOrder)
}

// Restore inserts a persisted effect keeping its order and local key.
func (s *Set) Restore(e *Effect) error {
	if e == nil {
		return apperrors.New(apperrors.CodeInvalidArgument, "effect is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(e, e.Order)
}

// insertLocked checks a copy of e carrying order and its resolved local key,
// and only writes both back to e once the copy is accepted.
func (s *Set) insertLocked(e *Effect, order int) error {
	candidate := *e
	candidate.Order = order
	if candidate.LocalKey == "" {
		candidate.LocalKey = strconv.Itoa(s.nextKey)
	}
	if err := candidate.Validate(s.family); err != nil {
		return err
	}
	for _, existing := range s.effects {
		if existing.ID == candidate.ID {
			return apperrors.WithMetadata(apperrors.CodeDuplicateID,
				fmt.Sprintf("host %s: duplicate effect id %s", s.hostID, candidate.ID),
				map[string]string{"host_id": s.hostID, "effect_id": candidate.ID})
		}
		if existing.LocalKey == candidate.LocalKey {
			return apperrors.WithMetadata(apperrors.CodeDuplicateLocalKey,
				fmt.Sprintf("host %s: duplicate local key %q", s.hostID, candidate.LocalKey),
				map[string]string{"host_id": s.hostID, "local_key": candidate.LocalKey})
		}
	}
	e.Order = candidate.Order
	e.LocalKey = candidate.LocalKey
	s.effects = append(s.effects, e)
	if e.Order >= s.nextOrder {
		s.nextOrder = e.Order + 1
	}
	if n, err := strconv.Atoi(e.LocalKey); err == nil && n >= s.nextKey {
		s.nextKey = n + 1
	}
	return nil
}

// Remove deletes the effect with id and reports whether it was present.
// Orders of remaining effects are left untouched.
func (s *Set) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.effects {
		if e.ID == id {
			s.effects = slices.Delete(s.effects, i, i+1)
			return true
		}
	}
	return false
}

// Get returns the effect with id, or nil.
func (s *Set) Get(id string) *Effect {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.effects {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// List returns all effects sorted by order.
func (s *Set) List() []*Effect {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	out := slices.Clone(s.effects)
	s.mu.RUnlock()
	slices.SortStableFunc(out, func(a, b *Effect) int { return a.Order - b.Order })
	return out
}

// ByTrigger returns effects with trigger, sorted by order.
func (s *Set) ByTrigger(trigger Trigger) []*Effect {
	var out []*Effect
	for _, e := range s.List() {
		if e.Trigger == trigger {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of effects in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.effects)
}

// Snapshots returns the persisted form of every effect in order.
func (s *Set) Snapshots() []Snapshot {
	list := s.List()
	out := make([]Snapshot, 0, len(list))
	for _, e := range list {
		out = append(out, e.Snapshot())
	}
	return out
}
