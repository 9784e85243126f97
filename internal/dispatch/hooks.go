package dispatch

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/metis/internal/effect"
	apperrors "github.com/louisbranch/metis/internal/platform/errors"
	"github.com/louisbranch/metis/internal/sandbox"
	"github.com/louisbranch/metis/internal/target"
)

// Reference is a target used by at least one effect of a mission.
type Reference struct {
	Environment *target.Environment
	Target      *target.Target
}

// References resolves the targets used by the mission's session effects and
// by every action's execution effects, in first-use order. Effects whose
// target cannot be resolved are logged and skipped.
func (d *Dispatcher) References(req Request) []Reference {
	var effects []*effect.Effect
	effects = append(effects, req.Mission.Effects.List()...)
	for _, f := range req.Mission.Forces() {
		for _, n := range f.Nodes() {
			for _, a := range n.Actions() {
				effects = append(effects, a.Effects.List()...)
			}
		}
	}

	seen := make(map[[2]string]bool)
	var refs []Reference
	for _, e := range effects {
		t, env, err := d.Targets.Resolve(e.TargetID, e.EnvironmentID, d.InferTargets)
		if err != nil {
			d.logger().Warn("effect target unresolved",
				"effect_id", e.ID,
				"target_id", e.TargetID,
				"environment_id", e.EnvironmentID,
				apperrors.Attr(err))
			continue
		}
		key := [2]string{env.ID, t.ID}
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, Reference{Environment: env, Target: t})
	}
	return refs
}

// RunHooks runs method for the referenced environments. Environment hooks
// run once per environment; target hooks run once per referenced target
// with the context's target id set. Within one environment hooks run in
// registration order and stop at the first error; other environments still
// run. An outdated context abandons the remaining hooks.
func (d *Dispatcher) RunHooks(ctx context.Context, req Request, method target.HookMethod, refs []Reference) error {
	ctx, span := d.tracer().Start(ctx, "dispatch.hooks", trace.WithAttributes(
		attribute.String(AttrMissionID, req.Mission.ID),
		attribute.String(AttrHookMethod, string(method)),
	))
	defer span.End()

	perTarget := method == target.HookTargetSetup || method == target.HookTargetTeardown
	seen := make(map[string]bool)
	var errs []error
	for _, ref := range refs {
		targetID := ""
		if perTarget {
			targetID = ref.Target.ID
		} else {
			if seen[ref.Environment.ID] {
				continue
			}
			seen[ref.Environment.ID] = true
		}
		if ref.Environment.HookCount(method) == 0 {
			continue
		}

		sc := sandbox.New(req.Host, req.InstanceID, sandbox.Scope{
			Mission:       req.Mission,
			EnvironmentID: ref.Environment.ID,
			TargetID:      targetID,
		}, d.deps(req))
		err := sc.Current()
		if err == nil {
			err = ref.Environment.RunHooks(ctx, method, sc)
		}
		if err == nil {
			continue
		}
		if apperrors.IsOutdated(err) {
			d.logger().Warn("outdated context, abandoning hooks",
				"session_id", req.Host.SessionID(),
				"instance_id", req.InstanceID,
				"environment_id", ref.Environment.ID,
				"method", string(method),
				apperrors.Attr(err))
			span.AddEvent("outdated_context", trace.WithAttributes(attribute.String(AttrEnvironmentID, ref.Environment.ID)))
			return nil
		}
		d.logger().Error("hook failed",
			"session_id", req.Host.SessionID(),
			"environment_id", ref.Environment.ID,
			"target_id", targetID,
			"method", string(method),
			apperrors.Attr(err))
		errs = append(errs, fmt.Errorf("%s hooks: %w", method, err))
	}
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
