// Package target holds the registry of target environments and the
// argument migration pipeline for effects bound to their targets.
package target

import (
	"context"
	"fmt"
	"slices"
	"strings"

	apperrors "github.com/louisbranch/metis/internal/platform/errors"
	"github.com/louisbranch/metis/internal/sandbox"
)

// Script runs a target for one effect.
type Script func(ctx context.Context, sc *sandbox.Context) error

// ArgType is the kind of value an argument accepts.
type ArgType string

const (
	ArgString  ArgType = "string"
	ArgNumber  ArgType = "number"
	ArgBoolean ArgType = "boolean"
	// ArgNode, ArgForce and ArgAction hold ids of mission objects.
	ArgNode   ArgType = "node"
	ArgForce  ArgType = "force"
	ArgAction ArgType = "action"
)

// ArgSpec describes one effect argument.
type ArgSpec struct {
	Key         string   `json:"_id"`
	Name        string   `json:"name"`
	Type        ArgType  `json:"type"`
	Required    bool     `json:"required"`
	Default     any      `json:"default,omitempty"`
	Options     []string `json:"options,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Target is one effect destination inside an environment.
type Target struct {
	ID          string
	Name        string
	Description string
	Args        []ArgSpec
	Migrations  *MigrationChain
	Script      Script
}

// Schema is the published description of a target.
type Schema struct {
	ID                string    `json:"_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Args              []ArgSpec `json:"args"`
	MigrationRegistry []string  `json:"migrationRegistry"`
}

// Schema returns the published description of t.
func (t *Target) Schema() Schema {
	versions := t.Migrations.Versions()
	if versions == nil {
		versions = []string{}
	}
	return Schema{
		ID:                t.ID,
		Name:              t.Name,
		Description:       t.Description,
		Args:              slices.Clone(t.Args),
		MigrationRegistry: versions,
	}
}

// PendingMigrationVersions returns every migration version strictly newer
// than stored, ascending.
func (t *Target) PendingMigrationVersions(stored string) ([]string, error) {
	return t.Migrations.Pending(stored)
}

// MigrateEffectArgs applies the migration named by version.
func (t *Target) MigrateEffectArgs(version string, args map[string]any) (map[string]any, error) {
	return t.Migrations.Migrate(version, args)
}

// DefaultArgs returns the declared defaults.
func (t *Target) DefaultArgs() map[string]any {
	out := make(map[string]any, len(t.Args))
	for _, spec := range t.Args {
		if spec.Default != nil {
			out[spec.Key] = spec.Default
		}
	}
	return out
}

// ValidateArgs checks args against the argument schema.
func (t *Target) ValidateArgs(args map[string]any) error {
	for _, spec := range t.Args {
		value, ok := args[spec.Key]
		if !ok || value == nil {
			if spec.Required {
				return t.argError(spec, "is required")
			}
			continue
		}
		if !spec.accepts(value) {
			return t.argError(spec, fmt.Sprintf("expects %s, got %T", spec.Type, value))
		}
		if len(spec.Options) > 0 {
			s, _ := value.(string)
			if !slices.Contains(spec.Options, s) {
				return t.argError(spec, fmt.Sprintf("must be one of %s", strings.Join(spec.Options, ", ")))
			}
		}
	}
	return nil
}

func (t *Target) argError(spec ArgSpec, problem string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument,
		fmt.Sprintf("target %s: argument %s %s", t.ID, spec.Key, problem),
		map[string]string{"target_id": t.ID, "arg": spec.Key})
}

func (a ArgSpec) accepts(value any) bool {
	switch a.Type {
	case ArgNumber:
		switch value.(type) {
		case float64, float32, int, int64, int32:
			return true
		}
		return false
	case ArgBoolean:
		_, ok := value.(bool)
		return ok
	case ArgString, ArgNode, ArgForce, ArgAction, "":
		_, ok := value.(string)
		return ok
	}
	return false
}

func (t *Target) validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "target id is required")
	}
	seen := make(map[string]bool, len(t.Args))
	for _, spec := range t.Args {
		if spec.Key == "" {
			return apperrors.WithMetadata(apperrors.CodeInvalidArgument,
				fmt.Sprintf("target %s: argument key is required", t.ID),
				map[string]string{"target_id": t.ID})
		}
		if seen[spec.Key] {
			return apperrors.WithMetadata(apperrors.CodeDuplicateID,
				fmt.Sprintf("target %s: duplicate argument %s", t.ID, spec.Key),
				map[string]string{"target_id": t.ID, "arg": spec.Key})
		}
		seen[spec.Key] = true
	}
	return nil
}
