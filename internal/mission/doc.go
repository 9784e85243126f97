// Package mission models the mission graph and runs timed action
// executions against it.
//
// A mission owns a prototype tree shared by every force; each force holds
// one node per prototype. Nodes open, close and block; children are
// revealed when their parent is open. Executable nodes carry actions whose
// executions are timed, randomized and abortable:
//
//	executing -> success | failure | aborted
//
// Exactly one outcome is applied per execution. The completion timer and
// Abort race through the same status guard, so whichever runs first wins
// and the other becomes a no-op. Outcomes are drawn from a mission-seeded
// math/rand source against the action's success chance at resolution time.
//
// All mutable graph state is guarded by one mutex per mission, which also
// covers every force's resource pool. Change notifications are published
// on typed pubsub channels after the mutex is released, so listeners may
// call back into the mission.
package mission
