package target

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/louisbranch/metis/internal/effect"
	apperrors "github.com/louisbranch/metis/internal/platform/errors"
)

// Migration transforms effect arguments written for the previous version
// into the shape expected by its own version. It must not retain args.
type Migration func(args map[string]any) (map[string]any, error)

type migrationStep struct {
	version   string
	canonical string
	migrate   Migration
}

// MigrationChain is a target's ordered list of argument migrations.
type MigrationChain struct {
	steps []migrationStep
}

// Add appends a migration. Versions must be strictly increasing.
func (c *MigrationChain) Add(version string, migrate Migration) error {
	canonical, err := canonicalVersion(version)
	if err != nil {
		return err
	}
	if migrate == nil {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			fmt.Sprintf("migration %s is nil", version),
			map[string]string{"version": version})
	}
	if n := len(c.steps); n > 0 && semver.Compare(canonical, c.steps[n-1].canonical) <= 0 {
		return apperrors.WithMetadata(apperrors.CodeInvalidVersion,
			fmt.Sprintf("migration %s does not follow %s", version, c.steps[n-1].version),
			map[string]string{"version": version, "previous": c.steps[n-1].version})
	}
	c.steps = append(c.steps, migrationStep{
		version:   strings.TrimPrefix(strings.TrimSpace(version), "v"),
		canonical: canonical,
		migrate:   migrate,
	})
	return nil
}

// Versions returns every version in the chain, ascending.
func (c *MigrationChain) Versions() []string {
	if c == nil {
		return nil
	}
	out := make([]string, len(c.steps))
	for i, step := range c.steps {
		out[i] = step.version
	}
	return out
}

// Len returns the number of migrations.
func (c *MigrationChain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.steps)
}

// Pending returns the versions strictly newer than stored, ascending. An
// empty stored version predates every migration.
func (c *MigrationChain) Pending(stored string) ([]string, error) {
	if c == nil {
		return nil, nil
	}
	if strings.TrimSpace(stored) == "" {
		return c.Versions(), nil
	}
	canonical, err := canonicalVersion(stored)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, step := range c.steps {
		if semver.Compare(step.canonical, canonical) > 0 {
			pending = append(pending, step.version)
		}
	}
	return pending, nil
}

// Migrate applies the single migration registered for version to a copy of
// args.
func (c *MigrationChain) Migrate(version string, args map[string]any) (map[string]any, error) {
	canonical, err := canonicalVersion(version)
	if err != nil {
		return nil, err
	}
	if c != nil {
		for _, step := range c.steps {
			if step.canonical != canonical {
				continue
			}
			out, err := step.migrate(effect.CloneArgs(args))
			if err != nil {
				return nil, fmt.Errorf("migrate args to %s: %w", step.version, err)
			}
			if out == nil {
				out = map[string]any{}
			}
			return out, nil
		}
	}
	return nil, apperrors.WithMetadata(apperrors.CodeNotFound,
		fmt.Sprintf("no migration for version %s", version),
		map[string]string{"version": version})
}
