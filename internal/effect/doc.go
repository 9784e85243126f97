// Package effect models side-effects that mission authors attach to graph
// and session events.
//
// An effect is bound at creation to exactly one target inside one version
// of a target environment. The trigger decides when the dispatcher invokes
// it: session-lifecycle effects live on the mission, execution-lifecycle
// effects live on an action. Within one host, effects are ordered by a
// monotonically assigned Order and addressed by a unique LocalKey.
package effect
