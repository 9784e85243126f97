// Package dispatch runs effects and environment hooks against the targets
// they are bound to.
//
// Each effect runs with its own sandbox context. An effect whose target
// cannot be resolved, or whose script fails, is logged and the remaining
// effects still run; the errors are joined and returned. An outdated
// context instead abandons the rest of the dispatch with a warning, since
// every later effect would see the same stale instance.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/metis/internal/effect"
	"github.com/louisbranch/metis/internal/mission"
	apperrors "github.com/louisbranch/metis/internal/platform/errors"
	"github.com/louisbranch/metis/internal/pubsub"
	"github.com/louisbranch/metis/internal/sandbox"
	"github.com/louisbranch/metis/internal/sessionstore"
	"github.com/louisbranch/metis/internal/target"
)

const tracerName = "github.com/louisbranch/metis/internal/dispatch"

// Span attribute keys.
const (
	AttrEffectID      = "effect.id"
	AttrTargetID      = "target.id"
	AttrEnvironmentID = "environment.id"
	AttrMissionID     = "mission.id"
	AttrTrigger       = "effect.trigger"
	AttrHookMethod    = "hook.method"
)

// Dispatcher resolves targets and invokes them.
type Dispatcher struct {
	Targets      *target.Registry
	Stores       *sessionstore.Registry
	Logger       *slog.Logger
	Tracer       trace.Tracer
	InferTargets bool
}

// Request identifies the session instance a dispatch runs for.
type Request struct {
	Host       sandbox.Host
	InstanceID string
	Mission    *mission.Mission
	Outputs    *pubsub.Channel[sandbox.Output]
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Dispatcher) tracer() trace.Tracer {
	if d.Tracer != nil {
		return d.Tracer
	}
	return otel.Tracer(tracerName)
}

func (d *Dispatcher) deps(req Request) sandbox.Deps {
	return sandbox.Deps{Stores: d.Stores, Outputs: req.Outputs, Clock: req.Mission.Clock()}
}

// DispatchSessionEffects runs the mission's effects for a session trigger
// in order.
func (d *Dispatcher) DispatchSessionEffects(ctx context.Context, req Request, trigger effect.Trigger) error {
	if trigger.Family() != effect.FamilySession {
		return apperrors.WithMetadata(apperrors.CodeInvalidTrigger,
			fmt.Sprintf("%q is not a session trigger", trigger),
			map[string]string{"trigger": string(trigger)})
	}
	ctx, span := d.tracer().Start(ctx, "dispatch.session_effects", trace.WithAttributes(
		attribute.String(AttrMissionID, req.Mission.ID),
		attribute.String(AttrTrigger, string(trigger)),
	))
	defer span.End()

	effects := req.Mission.Effects.ByTrigger(trigger)
	return d.run(ctx, span, req, sandbox.Scope{Mission: req.Mission}, effects)
}

// DispatchExecutionEffects runs the effects of the execution's action for
// an execution trigger in order.
func (d *Dispatcher) DispatchExecutionEffects(ctx context.Context, req Request, execution *mission.Execution, trigger effect.Trigger) error {
	if trigger.Family() != effect.FamilyExecution {
		return apperrors.WithMetadata(apperrors.CodeInvalidTrigger,
			fmt.Sprintf("%q is not an execution trigger", trigger),
			map[string]string{"trigger": string(trigger)})
	}
	action := execution.Action()
	node := execution.Node()
	ctx, span := d.tracer().Start(ctx, "dispatch.execution_effects", trace.WithAttributes(
		attribute.String(AttrMissionID, req.Mission.ID),
		attribute.String(AttrTrigger, string(trigger)),
		attribute.String("execution.id", execution.ID),
		attribute.String("action.id", action.ID),
	))
	defer span.End()

	scope := sandbox.Scope{
		Mission:   req.Mission,
		Force:     node.Force(),
		Node:      node,
		Action:    action,
		Execution: execution,
	}
	return d.run(ctx, span, req, scope, action.Effects.ByTrigger(trigger))
}

func (d *Dispatcher) run(ctx context.Context, span trace.Span, req Request, base sandbox.Scope, effects []*effect.Effect) error {
	var errs []error
	for _, e := range effects {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := d.runEffect(ctx, req, base, e)
		if err == nil {
			continue
		}
		if apperrors.IsOutdated(err) {
			d.logger().Warn("outdated context, abandoning dispatch",
				"session_id", req.Host.SessionID(),
				"instance_id", req.InstanceID,
				"effect_id", e.ID,
				apperrors.Attr(err))
			span.AddEvent("outdated_context", trace.WithAttributes(attribute.String(AttrEffectID, e.ID)))
			return nil
		}
		d.logger().Error("effect failed",
			"session_id", req.Host.SessionID(),
			"effect_id", e.ID,
			"target_id", e.TargetID,
			"environment_id", e.EnvironmentID,
			apperrors.Attr(err))
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (d *Dispatcher) runEffect(ctx context.Context, req Request, base sandbox.Scope, e *effect.Effect) error {
	t, env, err := d.Targets.Resolve(e.TargetID, e.EnvironmentID, d.InferTargets)
	if err != nil {
		return fmt.Errorf("effect %s: %w", e.ID, err)
	}

	scope := base
	scope.Effect = e
	scope.EnvironmentID = env.ID
	scope.TargetID = t.ID
	sc := sandbox.New(req.Host, req.InstanceID, scope, d.deps(req))
	if err := sc.Current(); err != nil {
		return err
	}

	if pending, err := t.PendingMigrationVersions(e.TargetEnvironmentVersion); err == nil && len(pending) > 0 {
		d.logger().Warn("effect arguments predate target migrations",
			"effect_id", e.ID,
			"target_id", t.ID,
			"stored_version", e.TargetEnvironmentVersion,
			"pending", pending)
	}
	if t.Script == nil {
		return nil
	}

	ctx, span := d.tracer().Start(ctx, "dispatch.effect", trace.WithAttributes(
		attribute.String(AttrEffectID, e.ID),
		attribute.String(AttrTargetID, t.ID),
		attribute.String(AttrEnvironmentID, env.ID),
	))
	defer span.End()

	if err := t.Script(ctx, sc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("effect %s: target %s: %w", e.ID, t.ID, err)
	}
	return nil
}
