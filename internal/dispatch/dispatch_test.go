package dispatch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/louisbranch/metis/internal/clock"
	"github.com/louisbranch/metis/internal/effect"
	"github.com/louisbranch/metis/internal/mission"
	apperrors "github.com/louisbranch/metis/internal/platform/errors"
	"github.com/louisbranch/metis/internal/pubsub"
	"github.com/louisbranch/metis/internal/sandbox"
	"github.com/louisbranch/metis/internal/sessionstore"
	"github.com/louisbranch/metis/internal/target"
)

type fixture struct {
	dispatcher *Dispatcher
	registry   *target.Registry
	host       *sandbox.LocalHost
	mission    *mission.Mission
	node       *mission.Node
	action     *mission.Action
	calls      []string
	logs       *bytes.Buffer
	spans      *tracetest.SpanRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{logs: &bytes.Buffer{}, spans: tracetest.NewSpanRecorder()}

	seq := 0
	m := mission.New("mission-1", "Dispatch", 7, mission.Options{
		Clock: clock.NewFake(time.Date(2026, time.June, 1, 8, 0, 0, 0, time.UTC)),
		NewID: func() (string, error) {
			seq++
			return "id-" + string(rune('a'+seq-1)), nil
		},
	})
	if err := m.AddPrototype("p-server", ""); err != nil {
		t.Fatalf("add prototype: %v", err)
	}
	force, err := m.AddForce(mission.ForceSpec{ID: "red", Name: "Red", Color: "#ff0000", InitialResources: 100})
	if err != nil {
		t.Fatalf("add force: %v", err)
	}
	node := force.NodeByPrototype("p-server")
	node.Executable = true
	action, err := node.AddAction(mission.ActionSpec{ID: "exploit", SuccessChance: 1, ProcessTime: time.Minute, ResourceCost: 1})
	if err != nil {
		t.Fatalf("add action: %v", err)
	}

	f.registry = target.NewRegistry()
	for _, spec := range []struct{ env, version string }{{"metis", "1.0.0"}, {"ares", "2.0.0"}} {
		env, err := target.NewEnvironment(spec.env, spec.env, "", spec.version)
		if err != nil {
			t.Fatalf("new environment: %v", err)
		}
		if err := f.registry.Register(env); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	f.addTarget(t, "metis", "alarm")
	f.addTarget(t, "metis", "lockdown")
	f.addTarget(t, "ares", "breach")

	f.host = sandbox.NewLocalHost("session-1", "instance-1")
	f.host.SetState(sandbox.StateStarted)
	f.mission = m
	f.node = node
	f.action = action
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.spans))
	f.dispatcher = &Dispatcher{
		Targets: f.registry,
		Stores:  sessionstore.NewRegistry(),
		Logger:  slog.New(slog.NewTextHandler(f.logs, nil)),
		Tracer:  tp.Tracer("dispatch-test"),
	}
	return f
}

func (f *fixture) addTarget(t *testing.T, envID, targetID string) {
	t.Helper()
	env, _ := f.registry.Environment(envID)
	err := env.AddTarget(&target.Target{
		ID:   targetID,
		Name: targetID,
		Script: func(_ context.Context, sc *sandbox.Context) error {
			e, _ := sc.Effect()
			f.calls = append(f.calls, sc.TargetID()+":"+e.ID)
			if fail, _ := sc.Args()["fail"].(bool); fail {
				return errors.New("script failed")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("add target: %v", err)
	}
}

func (f *fixture) request() Request {
	return Request{Host: f.host, InstanceID: "instance-1", Mission: f.mission, Outputs: pubsub.New[sandbox.Output]()}
}

func (f *fixture) addSessionEffect(t *testing.T, id, targetID, envID string, trigger effect.Trigger, args map[string]any) {
	t.Helper()
	err := f.mission.Effects.Add(&effect.Effect{
		ID:                       id,
		TargetID:                 targetID,
		EnvironmentID:            envID,
		TargetEnvironmentVersion: "1.0.0",
		Trigger:                  trigger,
		Args:                     args,
	})
	if err != nil {
		t.Fatalf("add effect %s: %v", id, err)
	}
}

func TestDispatchSessionEffectsRunsInOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addSessionEffect(t, "e1", "lockdown", "metis", effect.TriggerSessionSetup, nil)
	f.addSessionEffect(t, "e2", "alarm", "metis", effect.TriggerSessionTeardown, nil)
	f.addSessionEffect(t, "e3", "breach", "ares", effect.TriggerSessionSetup, nil)

	if err := f.dispatcher.DispatchSessionEffects(context.Background(), f.request(), effect.TriggerSessionSetup); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if want := []string{"lockdown:e1", "breach:e3"}; !reflect.DeepEqual(f.calls, want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}
}

func TestDispatchContinuesPastFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addSessionEffect(t, "e1", "missing", "metis", effect.TriggerSessionSetup, nil)
	f.addSessionEffect(t, "e2", "alarm", "metis", effect.TriggerSessionSetup, map[string]any{"fail": true})
	f.addSessionEffect(t, "e3", "lockdown", "metis", effect.TriggerSessionSetup, nil)

	err := f.dispatcher.DispatchSessionEffects(context.Background(), f.request(), effect.TriggerSessionSetup)
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND for missing target", err)
	}
	if !strings.Contains(err.Error(), "script failed") {
		t.Fatalf("err = %v, want script failure", err)
	}
	if want := []string{"alarm:e2", "lockdown:e3"}; !reflect.DeepEqual(f.calls, want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}
}

func TestDispatchOutdatedContextAbandonsWithWarning(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addSessionEffect(t, "e1", "alarm", "metis", effect.TriggerSessionTeardown, nil)
	f.host.SetState(sandbox.StateEnded)

	if err := f.dispatcher.DispatchSessionEffects(context.Background(), f.request(), effect.TriggerSessionTeardown); err != nil {
		t.Fatalf("outdated dispatch should not fail: %v", err)
	}
	if len(f.calls) != 0 {
		t.Fatalf("calls = %v, want none", f.calls)
	}
	if !strings.Contains(f.logs.String(), "level=WARN") || !strings.Contains(f.logs.String(), "outdated context") {
		t.Fatalf("expected outdated warning, got %q", f.logs.String())
	}
}

func TestDispatchOutdatedInsideScriptStopsRemainingEffects(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	env, _ := f.registry.Environment("metis")
	if err := env.AddTarget(&target.Target{
		ID: "restart",
		Script: func(_ context.Context, sc *sandbox.Context) error {
			f.host.Restart("instance-2")
			return sc.OpenNode("")
		},
	}); err != nil {
		t.Fatalf("add target: %v", err)
	}
	f.addSessionEffect(t, "e1", "restart", "metis", effect.TriggerSessionSetup, nil)
	f.addSessionEffect(t, "e2", "alarm", "metis", effect.TriggerSessionSetup, nil)

	if err := f.dispatcher.DispatchSessionEffects(context.Background(), f.request(), effect.TriggerSessionSetup); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(f.calls) != 0 {
		t.Fatalf("calls = %v, want none after outdated context", f.calls)
	}
}

func TestDispatchInfersEnvironment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.dispatcher.InferTargets = true
	f.addSessionEffect(t, "e1", "breach", "", effect.TriggerSessionSetup, nil)

	if err := f.dispatcher.DispatchSessionEffects(context.Background(), f.request(), effect.TriggerSessionSetup); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if want := []string{"breach:e1"}; !reflect.DeepEqual(f.calls, want) {
		t.Fatalf("calls = %v, want %v", f.calls, want)
	}

	f.dispatcher.InferTargets = false
	err := f.dispatcher.DispatchSessionEffects(context.Background(), f.request(), effect.TriggerSessionSetup)
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND without inference", err)
	}
}

func TestDispatchExecutionEffectsExposeExecutionScope(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	env, _ := f.registry.Environment("metis")
	var seen sandbox.ExecutionView
	var node sandbox.NodeView
	if err := env.AddTarget(&target.Target{
		ID: "observe",
		Script: func(_ context.Context, sc *sandbox.Context) error {
			seen, _ = sc.Execution()
			node, _ = sc.Node()
			_, err := sc.ModifySuccessChance("", -0.5)
			return err
		},
	}); err != nil {
		t.Fatalf("add target: %v", err)
	}
	if err := f.action.Effects.Add(&effect.Effect{
		ID:            "x1",
		TargetID:      "observe",
		EnvironmentID: "metis",
		Trigger:       effect.TriggerExecutionInitiation,
	}); err != nil {
		t.Fatalf("add effect: %v", err)
	}

	execution, err := f.node.Execute("exploit", mission.Cheats{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := f.dispatcher.DispatchExecutionEffects(context.Background(), f.request(), execution, effect.TriggerExecutionInitiation); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if seen.ID != execution.ID || seen.ActionID != "exploit" || seen.Status != mission.StatusExecuting {
		t.Fatalf("execution view = %+v", seen)
	}
	if node.ID != f.node.ID {
		t.Fatalf("node view = %s, want %s", node.ID, f.node.ID)
	}
	if got := f.action.SuccessChance(); got != 0.5 {
		t.Fatalf("success chance = %v, want 0.5", got)
	}
}

func TestDispatchRejectsWrongTriggerFamily(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	err := f.dispatcher.DispatchSessionEffects(context.Background(), f.request(), effect.TriggerExecutionSuccess)
	if !apperrors.HasCode(err, apperrors.CodeInvalidTrigger) {
		t.Fatalf("err = %v, want INVALID_TRIGGER", err)
	}
}

func TestDispatchRecordsSpans(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.addSessionEffect(t, "e1", "alarm", "metis", effect.TriggerSessionSetup, nil)
	if err := f.dispatcher.DispatchSessionEffects(context.Background(), f.request(), effect.TriggerSessionSetup); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	ended := f.spans.Ended()
	if len(ended) != 2 {
		t.Fatalf("spans = %d, want 2", len(ended))
	}
	effectSpan, dispatchSpan := ended[0], ended[1]
	if effectSpan.Name() != "dispatch.effect" || dispatchSpan.Name() != "dispatch.session_effects" {
		t.Fatalf("span names = %s, %s", effectSpan.Name(), dispatchSpan.Name())
	}
	if effectSpan.Parent().SpanID() != dispatchSpan.SpanContext().SpanID() {
		t.Fatal("effect span should be a child of the dispatch span")
	}
	attrs := map[string]string{}
	for _, kv := range effectSpan.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	want := map[string]string{AttrEffectID: "e1", AttrTargetID: "alarm", AttrEnvironmentID: "metis"}
	if !reflect.DeepEqual(attrs, want) {
		t.Fatalf("attributes = %v, want %v", attrs, want)
	}
}
