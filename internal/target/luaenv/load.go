// Package luaenv loads target environments declared on disk.
//
// An environment directory holds an environment.hcl manifest and a Lua
// script. The manifest declares identity, targets, argument schemas and
// migration versions; the script returns a table providing the code:
//
//	return {
//	  targets = {
//	    ["unlock"] = {
//	      script = function(ctx) ctx.openNode(ctx.args.node) end,
//	      migrations = { ["1.1.0"] = function(args) return args end },
//	    },
//	  },
//	  hooks = { ["environment-setup"] = function(ctx) end },
//	}
package luaenv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/louisbranch/metis/internal/sandbox"
	"github.com/louisbranch/metis/internal/target"
)

// DefaultScript is used when the manifest names no script.
const DefaultScript = "environment.lua"

// Options configure loading.
type Options struct {
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Load builds the environment declared in dir.
func Load(ctx context.Context, dir string, opts Options) (*target.Environment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := opts.logger()

	manifest, err := parseManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	env, err := target.NewEnvironment(manifest.ID, manifest.Name, manifest.Description, manifest.Version)
	if err != nil {
		return nil, err
	}

	script := manifest.Script
	if script == "" {
		script = DefaultScript
	}
	rt, err := newRuntime(env.ID, filepath.Join(dir, script), logger)
	if err != nil {
		return nil, fmt.Errorf("environment %s: %w", env.ID, err)
	}

	declared := make([]string, 0, len(manifest.Targets))
	for _, mt := range manifest.Targets {
		t, err := buildTarget(rt, mt, env.Version)
		if err != nil {
			return nil, fmt.Errorf("environment %s: %w", env.ID, err)
		}
		if err := env.AddTarget(t); err != nil {
			return nil, err
		}
		declared = append(declared, mt.ID)
	}

	undeclared := slices.DeleteFunc(rt.targetIDs(), func(id string) bool {
		return slices.Contains(declared, id)
	})
	sort.Strings(undeclared)
	for _, id := range undeclared {
		logger.Warn("lua target not declared in manifest, ignoring",
			"environment_id", env.ID, "target_id", id)
	}

	for _, method := range []target.HookMethod{
		target.HookEnvironmentSetup,
		target.HookEnvironmentTeardown,
		target.HookTargetSetup,
		target.HookTargetTeardown,
	} {
		if err := addHooks(env, rt, method); err != nil {
			return nil, err
		}
	}

	logger.Info("environment loaded",
		"environment_id", env.ID,
		"version", env.Version,
		"targets", len(manifest.Targets),
		"dir", dir)
	return env, nil
}

// buildTarget binds a manifest target to its script. Migrations may not
// run ahead of envVersion, the version new effects are written at.
func buildTarget(rt *runtime, mt manifestTarget, envVersion string) (*target.Target, error) {
	if !rt.hasFunction("targets", mt.ID, "script") {
		return nil, fmt.Errorf("target %s: targets.%s.script is not a function", mt.ID, mt.ID)
	}
	args := make([]target.ArgSpec, 0, len(mt.Args))
	for _, a := range mt.Args {
		spec, err := a.spec()
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", mt.ID, err)
		}
		args = append(args, spec)
	}

	chain := &target.MigrationChain{}
	for _, version := range mt.Migrations {
		cmp, err := target.CompareVersions(version, envVersion)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", mt.ID, err)
		}
		if cmp > 0 {
			return nil, fmt.Errorf("target %s: migration %s is newer than environment version %s", mt.ID, version, envVersion)
		}
		if !rt.hasFunction("targets", mt.ID, "migrations", version) {
			return nil, fmt.Errorf("target %s: migration %s is not a function", mt.ID, version)
		}
		if err := chain.Add(version, func(args map[string]any) (map[string]any, error) {
			return rt.migrate(mt.ID, version, args)
		}); err != nil {
			return nil, fmt.Errorf("target %s: %w", mt.ID, err)
		}
	}

	name := mt.Name
	if name == "" {
		name = mt.ID
	}
	targetID := mt.ID
	return &target.Target{
		ID:          targetID,
		Name:        name,
		Description: mt.Description,
		Args:        args,
		Migrations:  chain,
		Script: func(ctx context.Context, sc *sandbox.Context) error {
			return rt.callWithContext(ctx, sc, "targets", targetID, "script")
		},
	}, nil
}

func addHooks(env *target.Environment, rt *runtime, method target.HookMethod) error {
	n := rt.hookCount(method)
	if n == 1 && rt.hasFunction("hooks", string(method)) {
		return env.AddHook(method, func(ctx context.Context, sc *sandbox.Context) error {
			return rt.callWithContext(ctx, sc, "hooks", string(method))
		})
	}
	for i := 1; i <= n; i++ {
		if err := env.AddHook(method, func(ctx context.Context, sc *sandbox.Context) error {
			return rt.callWithContext(ctx, sc, "hooks", string(method), i)
		}); err != nil {
			return err
		}
	}
	return nil
}

// LoadAll loads every immediate subdirectory of root that holds a manifest,
// in name order.
func LoadAll(ctx context.Context, root string, opts Options) ([]*target.Environment, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read environments dir: %w", err)
	}
	var envs []*target.Environment
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err != nil {
			continue
		}
		env, err := Load(ctx, dir, opts)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// RegisterAll loads every environment under root into registry.
func RegisterAll(ctx context.Context, registry *target.Registry, root string, opts Options) (int, error) {
	envs, err := LoadAll(ctx, root, opts)
	if err != nil {
		return 0, err
	}
	for _, env := range envs {
		if err := registry.Register(env); err != nil {
			return 0, err
		}
	}
	return len(envs), nil
}
