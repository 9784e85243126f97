package effect

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	apperrors "github.com/louisbranch/metis/internal/platform/errors"
)

// Trigger names the lifecycle event that invokes an effect.
type Trigger string

const (
	// TriggerSessionSetup fires once when the session host sets up the mission instance.
	TriggerSessionSetup Trigger = "session-setup"
	// TriggerSessionTeardown fires once when the session host tears the instance down.
	TriggerSessionTeardown Trigger = "session-teardown"
	// TriggerExecutionInitiation fires after an execution is generated, before it resolves.
	TriggerExecutionInitiation Trigger = "execution-initiation"
	// TriggerExecutionSuccess fires after an execution resolves successfully.
	TriggerExecutionSuccess Trigger = "execution-success"
	// TriggerExecutionFailure fires after an execution resolves as a failure.
	TriggerExecutionFailure Trigger = "execution-failure"
)

// Family groups triggers by the kind of host that owns them.
type Family string

const (
	// FamilySession effects are hosted by a mission.
	FamilySession Family = "session"
	// FamilyExecution effects are hosted by an action.
	FamilyExecution Family = "execution"
)

// Family returns the trigger family, or "" for unknown triggers.
func (t Trigger) Family() Family {
	switch t {
	case TriggerSessionSetup, TriggerSessionTeardown:
		return FamilySession
	case TriggerExecutionInitiation, TriggerExecutionSuccess, TriggerExecutionFailure:
		return FamilyExecution
	default:
		return ""
	}
}

// Effect is one side-effect bound to a (target, environment, version) triple.
type Effect struct {
	ID                       string
	Name                     string
	Description              string
	TargetID                 string
	EnvironmentID            string
	TargetEnvironmentVersion string
	Order                    int
	Trigger                  Trigger
	Args                     map[string]any
	LocalKey                 string
}

// Snapshot is the persisted JSON shape of an effect.
type Snapshot struct {
	ID                       string         `json:"_id"`
	Name                     string         `json:"name"`
	TargetID                 string         `json:"targetId"`
	EnvironmentID            string         `json:"environmentId"`
	TargetEnvironmentVersion string         `json:"targetEnvironmentVersion"`
	Order                    int            `json:"order"`
	Description              string         `json:"description"`
	Trigger                  Trigger        `json:"trigger"`
	Args                     map[string]any `json:"args"`
	LocalKey                 string         `json:"localKey"`
}

// FromSnapshot builds an effect from its persisted form.
func FromSnapshot(s Snapshot) *Effect {
	return &Effect{
		ID:                       s.ID,
		Name:                     s.Name,
		Description:              s.Description,
		TargetID:                 s.TargetID,
		EnvironmentID:            s.EnvironmentID,
		TargetEnvironmentVersion: s.TargetEnvironmentVersion,
		Order:                    s.Order,
		Trigger:                  s.Trigger,
		Args:                     CloneArgs(s.Args),
		LocalKey:                 s.LocalKey,
	}
}

// Snapshot returns the persisted form of e.
func (e *Effect) Snapshot() Snapshot {
	args := CloneArgs(e.Args)
	if args == nil {
		args = map[string]any{}
	}
	return Snapshot{
		ID:                       e.ID,
		Name:                     e.Name,
		TargetID:                 e.TargetID,
		EnvironmentID:            e.EnvironmentID,
		TargetEnvironmentVersion: e.TargetEnvironmentVersion,
		Order:                    e.Order,
		Description:              e.Description,
		Trigger:                  e.Trigger,
		Args:                     args,
		LocalKey:                 e.LocalKey,
	}
}

// MarshalJSON encodes the effect in its snapshot shape.
func (e *Effect) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Snapshot())
}

// UnmarshalJSON decodes the snapshot shape into e.
func (e *Effect) UnmarshalJSON(data []byte) error {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode effect: %w", err)
	}
	*e = *FromSnapshot(s)
	return nil
}

// Validate checks the effect in isolation against the trigger family its
// host accepts.
func (e *Effect) Validate(family Family) error {
	if strings.TrimSpace(e.ID) == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "effect id is required")
	}
	if strings.TrimSpace(e.TargetID) == "" {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			fmt.Sprintf("effect %s: target id is required", e.ID),
			map[string]string{"effect_id": e.ID})
	}
	if e.Trigger.Family() == "" {
		return apperrors.WithMetadata(apperrors.CodeInvalidTrigger,
			fmt.Sprintf("effect %s: unknown trigger %q", e.ID, e.Trigger),
			map[string]string{"effect_id": e.ID, "trigger": string(e.Trigger)})
	}
	if family != "" && e.Trigger.Family() != family {
		return apperrors.WithMetadata(apperrors.CodeInvalidTrigger,
			fmt.Sprintf("effect %s: trigger %q is not a %s trigger", e.ID, e.Trigger, family),
			map[string]string{"effect_id": e.ID, "trigger": string(e.Trigger)})
	}
	return nil
}

// CloneArgs deep-copies an argument bag so migrations and hooks never share
// nested maps or slices with the stored effect.
func CloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for key, value := range args {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return CloneArgs(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]string:
		return maps.Clone(v)
	default:
		return v
	}
}
