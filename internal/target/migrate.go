package target

import (
	"fmt"

	"github.com/louisbranch/metis/internal/effect"
)

// MigrationRequest is the input of the effect migration endpoint.
type MigrationRequest struct {
	TargetID         string         `json:"targetId"`
	EnvironmentID    string         `json:"environmentId"`
	EffectEnvVersion string         `json:"effectEnvVersion"`
	EffectArgs       map[string]any `json:"effectArgs"`
}

// MigrationResult is the output of the effect migration endpoint.
type MigrationResult struct {
	ResultingVersion string         `json:"resultingVersion"`
	ResultingArgs    map[string]any `json:"resultingArgs"`
}

// Migrate folds every pending migration of the requested target into the
// arguments, one version at a time. An unregistered target or environment
// is a NOT_FOUND error. With nothing pending the stored version and args
// are returned unchanged.
func (r *Registry) Migrate(req MigrationRequest) (MigrationResult, error) {
	t, _, err := r.Target(req.TargetID, req.EnvironmentID)
	if err != nil {
		return MigrationResult{}, err
	}
	pending, err := t.PendingMigrationVersions(req.EffectEnvVersion)
	if err != nil {
		return MigrationResult{}, err
	}
	version := req.EffectEnvVersion
	args := effect.CloneArgs(req.EffectArgs)
	if args == nil {
		args = map[string]any{}
	}
	for _, next := range pending {
		args, err = t.MigrateEffectArgs(next, args)
		if err != nil {
			return MigrationResult{}, fmt.Errorf("target %s: %w", t.ID, err)
		}
		version = next
	}
	return MigrationResult{ResultingVersion: version, ResultingArgs: args}, nil
}

// MigrateEffect migrates e in place and reports whether anything changed.
func (r *Registry) MigrateEffect(e *effect.Effect) (bool, error) {
	result, err := r.Migrate(MigrationRequest{
		TargetID:         e.TargetID,
		EnvironmentID:    e.EnvironmentID,
		EffectEnvVersion: e.TargetEnvironmentVersion,
		EffectArgs:       e.Args,
	})
	if err != nil {
		return false, fmt.Errorf("migrate effect %s: %w", e.ID, err)
	}
	if result.ResultingVersion == e.TargetEnvironmentVersion {
		return false, nil
	}
	e.TargetEnvironmentVersion = result.ResultingVersion
	e.Args = result.ResultingArgs
	return true, nil
}
