package target

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/louisbranch/metis/internal/effect"
	apperrors "github.com/louisbranch/metis/internal/platform/errors"
	"github.com/louisbranch/metis/internal/platform/id"
)

var (
	// ErrRegistryRequired indicates a missing registry.
	ErrRegistryRequired = errors.New("target registry is required")
	// ErrEnvironmentRequired indicates a nil environment.
	ErrEnvironmentRequired = errors.New("environment is required")
	// ErrEnvironmentAlreadyRegistered indicates a duplicate environment id.
	ErrEnvironmentAlreadyRegistered = errors.New("environment already registered")
)

// Registry is the catalog of environments known to one engine.
type Registry struct {
	mu    sync.RWMutex
	envs  map[string]*Environment
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{envs: make(map[string]*Environment)}
}

// Register adds env to the registry.
func (r *Registry) Register(env *Environment) error {
	if r == nil {
		return ErrRegistryRequired
	}
	if env == nil {
		return ErrEnvironmentRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.envs[env.ID]; exists {
		return fmt.Errorf("%w: %s", ErrEnvironmentAlreadyRegistered, env.ID)
	}
	r.envs[env.ID] = env
	r.order = append(r.order, env.ID)
	return nil
}

// Environment returns the environment with id.
func (r *Registry) Environment(id string) (*Environment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	env, ok := r.envs[id]
	return env, ok
}

// Environments returns every environment in registration order.
func (r *Registry) Environments() []*Environment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Environment, 0, len(r.order))
	for _, envID := range r.order {
		out = append(out, r.envs[envID])
	}
	return out
}

// Target looks up targetID inside environmentID.
func (r *Registry) Target(targetID, environmentID string) (*Target, *Environment, error) {
	env, ok := r.Environment(environmentID)
	if ok {
		if t := env.Target(targetID); t != nil {
			return t, env, nil
		}
	}
	return nil, nil, apperrors.WithMetadata(apperrors.CodeNotFound,
		fmt.Sprintf("target %s not found in environment %s", targetID, environmentID),
		map[string]string{"target_id": targetID, "environment_id": environmentID})
}

// InferTarget scans every environment for targetID. Exactly one match is
// required.
func (r *Registry) InferTarget(targetID string) (*Target, *Environment, error) {
	var (
		found    *Target
		foundEnv *Environment
		matches  []string
	)
	for _, env := range r.Environments() {
		if t := env.Target(targetID); t != nil {
			found, foundEnv = t, env
			matches = append(matches, env.ID)
		}
	}
	switch len(matches) {
	case 0:
		return nil, nil, apperrors.WithMetadata(apperrors.CodeNotFound,
			fmt.Sprintf("target %s not found in any environment", targetID),
			map[string]string{"target_id": targetID})
	case 1:
		return found, foundEnv, nil
	default:
		return nil, nil, apperrors.WithMetadata(apperrors.CodeAmbiguousTarget,
			fmt.Sprintf("target %s found in environments %s", targetID, strings.Join(matches, ", ")),
			map[string]string{"target_id": targetID, "environments": strings.Join(matches, ",")})
	}
}

// Resolve uses an exact lookup when environmentID is set, and inference
// when it is empty and infer is enabled.
func (r *Registry) Resolve(targetID, environmentID string, infer bool) (*Target, *Environment, error) {
	if environmentID == "" && infer {
		return r.InferTarget(targetID)
	}
	return r.Target(targetID, environmentID)
}

// EffectSpec describes a new effect.
type EffectSpec struct {
	Name          string
	Description   string
	TargetID      string
	EnvironmentID string
	Trigger       effect.Trigger
	Args          map[string]any
	LocalKey      string
}

// NewEffect creates an effect bound to the target's current environment
// version, with defaults filled in and arguments validated. The caller adds
// it to its host set, which assigns the order.
func (r *Registry) NewEffect(spec EffectSpec, infer bool) (*effect.Effect, error) {
	t, env, err := r.Resolve(spec.TargetID, spec.EnvironmentID, infer)
	if err != nil {
		return nil, err
	}
	args := t.DefaultArgs()
	for key, value := range effect.CloneArgs(spec.Args) {
		args[key] = value
	}
	if err := t.ValidateArgs(args); err != nil {
		return nil, err
	}
	effectID, err := id.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate effect id: %w", err)
	}
	name := spec.Name
	if name == "" {
		name = t.Name
	}
	return &effect.Effect{
		ID:                       effectID,
		Name:                     name,
		Description:              spec.Description,
		TargetID:                 t.ID,
		EnvironmentID:            env.ID,
		TargetEnvironmentVersion: env.Version,
		Trigger:                  spec.Trigger,
		Args:                     args,
		LocalKey:                 spec.LocalKey,
	}, nil
}

// Binder fills in missing environment ids while missions are hydrated.
type Binder struct {
	Registry *Registry
	Infer    bool
}

// BindEffect resolves an effect without an environment id by inference.
// Effects that already name an environment are kept as stored so missions
// referencing unloaded environments still hydrate.
func (b Binder) BindEffect(e *effect.Effect) error {
	if e.EnvironmentID != "" || !b.Infer || b.Registry == nil {
		return nil
	}
	_, env, err := b.Registry.InferTarget(e.TargetID)
	if err != nil {
		return err
	}
	e.EnvironmentID = env.ID
	return nil
}
