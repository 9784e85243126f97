package target

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	apperrors "github.com/louisbranch/metis/internal/platform/errors"
	"github.com/louisbranch/metis/internal/sandbox"
)

// HookMethod names an environment lifecycle hook.
type HookMethod string

const (
	HookEnvironmentSetup    HookMethod = "environment-setup"
	HookEnvironmentTeardown HookMethod = "environment-teardown"
	HookTargetSetup         HookMethod = "target-setup"
	HookTargetTeardown      HookMethod = "target-teardown"
)

// Valid reports whether m is a known hook method.
func (m HookMethod) Valid() bool {
	switch m {
	case HookEnvironmentSetup, HookEnvironmentTeardown, HookTargetSetup, HookTargetTeardown:
		return true
	}
	return false
}

// Hook is a lifecycle callback.
type Hook func(ctx context.Context, sc *sandbox.Context) error

// Environment is a named, versioned collection of targets.
type Environment struct {
	ID          string
	Name        string
	Description string
	Version     string

	mu      sync.RWMutex
	targets []*Target
	hooks   map[HookMethod][]Hook
}

// NewEnvironment validates the identity fields and returns an empty
// environment.
func NewEnvironment(id, name, description, version string) (*Environment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "environment id is required")
	}
	if _, err := canonicalVersion(version); err != nil {
		return nil, fmt.Errorf("environment %s: %w", id, err)
	}
	return &Environment{
		ID:          id,
		Name:        name,
		Description: description,
		Version:     strings.TrimPrefix(strings.TrimSpace(version), "v"),
		hooks:       make(map[HookMethod][]Hook),
	}, nil
}

// AddTarget registers t in the environment.
func (e *Environment) AddTarget(t *Target) error {
	if t == nil {
		return apperrors.New(apperrors.CodeInvalidArgument, "target is required")
	}
	if err := t.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, existing := range e.targets {
		if existing.ID == t.ID {
			return apperrors.WithMetadata(apperrors.CodeDuplicateID,
				fmt.Sprintf("environment %s: duplicate target %s", e.ID, t.ID),
				map[string]string{"environment_id": e.ID, "target_id": t.ID})
		}
	}
	e.targets = append(e.targets, t)
	return nil
}

// Target returns the target with id, or nil.
func (e *Environment) Target(id string) *Target {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, t := range e.targets {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Targets returns the targets in registration order.
func (e *Environment) Targets() []*Target {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.targets)
}

// AddHook appends hook to method.
func (e *Environment) AddHook(method HookMethod, hook Hook) error {
	if !method.Valid() {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			fmt.Sprintf("environment %s: unknown hook method %q", e.ID, method),
			map[string]string{"environment_id": e.ID, "method": string(method)})
	}
	if hook == nil {
		return apperrors.New(apperrors.CodeInvalidArgument, "hook is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks[method] = append(e.hooks[method], hook)
	return nil
}

// HookCount returns how many hooks are registered for method.
func (e *Environment) HookCount(method HookMethod) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.hooks[method])
}

// RunHooks runs the hooks of method one at a time in registration order,
// stopping at the first error.
func (e *Environment) RunHooks(ctx context.Context, method HookMethod, sc *sandbox.Context) error {
	e.mu.RLock()
	hooks := slices.Clone(e.hooks[method])
	e.mu.RUnlock()

	for i, hook := range hooks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := hook(ctx, sc); err != nil {
			return fmt.Errorf("environment %s: %s hook %d: %w", e.ID, method, i, err)
		}
	}
	return nil
}
