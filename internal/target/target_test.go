package target

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/louisbranch/metis/internal/effect"
	apperrors "github.com/louisbranch/metis/internal/platform/errors"
	"github.com/louisbranch/metis/internal/sandbox"
)

func renameMigration(from, to string) Migration {
	return func(args map[string]any) (map[string]any, error) {
		if v, ok := args[from]; ok {
			args[to] = v
			delete(args, from)
		}
		return args, nil
	}
}

func newAlarmTarget(t *testing.T) *Target {
	t.Helper()
	chain := &MigrationChain{}
	steps := []struct {
		version string
		fn      Migration
	}{
		{"1.1.0", renameMigration("msg", "message")},
		{"1.2.0", func(args map[string]any) (map[string]any, error) {
			args["level"] = 1.0
			return args, nil
		}},
		{"2.0.0", func(args map[string]any) (map[string]any, error) {
			args["history"] = append(asSlice(args["history"]), "2.0.0")
			return args, nil
		}},
	}
	for _, step := range steps {
		if err := chain.Add(step.version, step.fn); err != nil {
			t.Fatalf("add migration %s: %v", step.version, err)
		}
	}
	return &Target{
		ID:   "alarm",
		Name: "Alarm",
		Args: []ArgSpec{
			{Key: "message", Name: "Message", Type: ArgString, Required: true},
			{Key: "level", Name: "Level", Type: ArgNumber, Default: 1.0},
			{Key: "tone", Name: "Tone", Type: ArgString, Options: []string{"low", "high"}},
		},
		Migrations: chain,
	}
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func newRegistry(t *testing.T, envs ...*Environment) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, env := range envs {
		if err := r.Register(env); err != nil {
			t.Fatalf("register %s: %v", env.ID, err)
		}
	}
	return r
}

func newEnv(t *testing.T, envID, version string, targets ...*Target) *Environment {
	t.Helper()
	env, err := NewEnvironment(envID, envID, "", version)
	if err != nil {
		t.Fatalf("new environment: %v", err)
	}
	for _, tgt := range targets {
		if err := env.AddTarget(tgt); err != nil {
			t.Fatalf("add target: %v", err)
		}
	}
	return env
}

func TestPendingMigrationVersions(t *testing.T) {
	t.Parallel()
	tgt := newAlarmTarget(t)

	tests := []struct {
		stored string
		want   []string
	}{
		{"1.0.0", []string{"1.1.0", "1.2.0", "2.0.0"}},
		{"", []string{"1.1.0", "1.2.0", "2.0.0"}},
		{"1.1.0", []string{"1.2.0", "2.0.0"}},
		{"v1.5.0", []string{"2.0.0"}},
		{"2.0.0", nil},
		{"3.0.0", nil},
	}
	for _, tt := range tests {
		got, err := tgt.PendingMigrationVersions(tt.stored)
		if err != nil {
			t.Fatalf("pending(%q): %v", tt.stored, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("pending(%q) = %v, want %v", tt.stored, got, tt.want)
		}
	}
	if _, err := tgt.PendingMigrationVersions("banana"); !apperrors.HasCode(err, apperrors.CodeInvalidVersion) {
		t.Fatalf("err = %v, want INVALID_VERSION", err)
	}
}

func TestMigrationChainRequiresIncreasingVersions(t *testing.T) {
	t.Parallel()
	chain := &MigrationChain{}
	noop := func(args map[string]any) (map[string]any, error) { return args, nil }
	if err := chain.Add("1.2.0", noop); err != nil {
		t.Fatalf("add: %v", err)
	}
	for _, version := range []string{"1.2.0", "1.1.9", "nope"} {
		if err := chain.Add(version, noop); !apperrors.HasCode(err, apperrors.CodeInvalidVersion) {
			t.Fatalf("add %s err = %v, want INVALID_VERSION", version, err)
		}
	}
}

func TestMigrateFoldsInOrder(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, newEnv(t, "metis", "2.0.0", newAlarmTarget(t)))

	original := map[string]any{"msg": "breach", "history": []any{"1.0.0"}}
	result, err := r.Migrate(MigrationRequest{
		TargetID:         "alarm",
		EnvironmentID:    "metis",
		EffectEnvVersion: "1.0.0",
		EffectArgs:       original,
	})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if result.ResultingVersion != "2.0.0" {
		t.Fatalf("resulting version = %s, want 2.0.0", result.ResultingVersion)
	}
	want := map[string]any{"message": "breach", "level": 1.0, "history": []any{"1.0.0", "2.0.0"}}
	if !reflect.DeepEqual(result.ResultingArgs, want) {
		t.Fatalf("resulting args = %v, want %v", result.ResultingArgs, want)
	}
	if _, ok := original["message"]; ok {
		t.Fatal("expected request args untouched")
	}
	if len(original["history"].([]any)) != 1 {
		t.Fatal("expected nested request args untouched")
	}
}

func TestMigrateStopsAtLastMigration(t *testing.T) {
	t.Parallel()
	tgt := newAlarmTarget(t)
	r := newRegistry(t, newEnv(t, "metis", "3.4.0", tgt))

	result, err := r.Migrate(MigrationRequest{TargetID: "alarm", EnvironmentID: "metis", EffectEnvVersion: "1.1.0", EffectArgs: map[string]any{"message": "x"}})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if result.ResultingVersion != "2.0.0" {
		t.Fatalf("resulting version = %s, want 2.0.0 not environment version", result.ResultingVersion)
	}

	current, err := r.Migrate(MigrationRequest{TargetID: "alarm", EnvironmentID: "metis", EffectEnvVersion: "2.0.0", EffectArgs: map[string]any{"message": "x"}})
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if current.ResultingVersion != "2.0.0" || current.ResultingArgs["message"] != "x" {
		t.Fatalf("result = %+v, want unchanged", current)
	}
}

func TestMigrateUnknownTargetIsNotFound(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, newEnv(t, "metis", "1.0.0", newAlarmTarget(t)))

	for _, req := range []MigrationRequest{
		{TargetID: "missing", EnvironmentID: "metis"},
		{TargetID: "alarm", EnvironmentID: "other"},
	} {
		_, err := r.Migrate(req)
		if !apperrors.HasCode(err, apperrors.CodeNotFound) {
			t.Fatalf("migrate %+v err = %v, want NOT_FOUND", req, err)
		}
	}
}

func TestMigrateEffectUpdatesVersionAndArgs(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, newEnv(t, "metis", "2.0.0", newAlarmTarget(t)))
	e := &effect.Effect{ID: "e1", TargetID: "alarm", EnvironmentID: "metis", TargetEnvironmentVersion: "1.2.0", Args: map[string]any{"message": "m"}}

	changed, err := r.MigrateEffect(e)
	if err != nil {
		t.Fatalf("migrate effect: %v", err)
	}
	if !changed || e.TargetEnvironmentVersion != "2.0.0" {
		t.Fatalf("changed = %v version = %s, want true 2.0.0", changed, e.TargetEnvironmentVersion)
	}
	changed, err = r.MigrateEffect(e)
	if err != nil || changed {
		t.Fatalf("second migrate = %v, %v, want no change", changed, err)
	}
}

func TestInferTarget(t *testing.T) {
	t.Parallel()
	shared := func() *Target { return &Target{ID: "shared", Name: "Shared"} }
	r := newRegistry(t,
		newEnv(t, "metis", "1.0.0", newAlarmTarget(t), shared()),
		newEnv(t, "extra", "1.0.0", shared()),
	)

	tgt, env, err := r.Resolve("alarm", "", true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tgt.ID != "alarm" || env.ID != "metis" {
		t.Fatalf("resolved %s/%s, want alarm/metis", env.ID, tgt.ID)
	}
	if _, _, err := r.Resolve("shared", "", true); !apperrors.HasCode(err, apperrors.CodeAmbiguousTarget) {
		t.Fatalf("err = %v, want AMBIGUOUS_TARGET", err)
	}
	if _, _, err := r.Resolve("nowhere", "", true); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
	if _, env, err := r.Resolve("shared", "extra", false); err != nil || env.ID != "extra" {
		t.Fatalf("exact resolve = %v, %v", env, err)
	}
	if _, _, err := r.Resolve("alarm", "", false); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND without inference", err)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, newEnv(t, "metis", "1.0.0"))
	if err := r.Register(newEnv(t, "metis", "1.1.0")); !errors.Is(err, ErrEnvironmentAlreadyRegistered) {
		t.Fatalf("err = %v, want ErrEnvironmentAlreadyRegistered", err)
	}
	env := newEnv(t, "other", "1.0.0", &Target{ID: "a"})
	if err := env.AddTarget(&Target{ID: "a"}); !apperrors.HasCode(err, apperrors.CodeDuplicateID) {
		t.Fatalf("err = %v, want DUPLICATE_ID", err)
	}
	if _, err := NewEnvironment("bad", "", "", "latest"); !apperrors.HasCode(err, apperrors.CodeInvalidVersion) {
		t.Fatalf("err = %v, want INVALID_VERSION", err)
	}
}

func TestNewEffectBindsCurrentVersion(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, newEnv(t, "metis", "2.0.0", newAlarmTarget(t)))

	e, err := r.NewEffect(EffectSpec{TargetID: "alarm", Trigger: effect.TriggerSessionSetup, Args: map[string]any{"message": "hi"}}, true)
	if err != nil {
		t.Fatalf("new effect: %v", err)
	}
	if e.EnvironmentID != "metis" || e.TargetEnvironmentVersion != "2.0.0" || e.Name != "Alarm" {
		t.Fatalf("effect = %+v", e)
	}
	if e.Args["level"] != 1.0 {
		t.Fatalf("args = %v, want default level", e.Args)
	}
	if _, err := r.NewEffect(EffectSpec{TargetID: "alarm", EnvironmentID: "metis", Args: map[string]any{"tone": "loud", "message": "x"}}, false); !apperrors.HasCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("err = %v, want INVALID_ARGUMENT for option", err)
	}
	if _, err := r.NewEffect(EffectSpec{TargetID: "alarm", EnvironmentID: "metis"}, false); !apperrors.HasCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("err = %v, want INVALID_ARGUMENT for required arg", err)
	}
}

func TestBinderInfersMissingEnvironment(t *testing.T) {
	t.Parallel()
	r := newRegistry(t, newEnv(t, "metis", "1.0.0", newAlarmTarget(t)))
	b := Binder{Registry: r, Infer: true}

	e := &effect.Effect{ID: "e", TargetID: "alarm"}
	if err := b.BindEffect(e); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if e.EnvironmentID != "metis" {
		t.Fatalf("environment = %q, want metis", e.EnvironmentID)
	}
	stored := &effect.Effect{ID: "s", TargetID: "gone", EnvironmentID: "unloaded"}
	if err := b.BindEffect(stored); err != nil {
		t.Fatalf("bind stored: %v", err)
	}
	if err := b.BindEffect(&effect.Effect{ID: "x", TargetID: "gone"}); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestSchemaJSONShape(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(newAlarmTarget(t).Schema())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"_id", "name", "description", "args", "migrationRegistry"} {
		if _, ok := got[key]; !ok {
			t.Fatalf("schema missing %q: %s", key, data)
		}
	}
	if versions := got["migrationRegistry"].([]any); len(versions) != 3 || versions[2] != "2.0.0" {
		t.Fatalf("migration registry = %v", versions)
	}
}

func TestRunHooksSequentialAndStopsOnError(t *testing.T) {
	t.Parallel()
	env := newEnv(t, "metis", "1.0.0")
	var calls []int
	boom := errors.New("boom")
	for i := range 3 {
		err := env.AddHook(HookEnvironmentSetup, func(ctx context.Context, sc *sandbox.Context) error {
			calls = append(calls, i)
			if i == 1 {
				return boom
			}
			return nil
		})
		if err != nil {
			t.Fatalf("add hook: %v", err)
		}
	}
	err := env.RunHooks(context.Background(), HookEnvironmentSetup, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if !reflect.DeepEqual(calls, []int{0, 1}) {
		t.Fatalf("calls = %v, want [0 1]", calls)
	}
	if err := env.AddHook("session-start", func(context.Context, *sandbox.Context) error { return nil }); !apperrors.HasCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("err = %v, want INVALID_ARGUMENT", err)
	}
}
