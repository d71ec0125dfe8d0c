// Package lifecycle manages the run state of the fstorage process.
//
// A [Service] moves through a small state machine:
//
//	Stopped → Starting → Running → Stopping → Stopped
//
// Any transient state may fall to Failed when a hook errors, and Failed
// may transition back to Starting for a restart. Readiness probes consult
// [Service.Health], which only reports healthy while Running.
//
// Transitions open OpenTelemetry spans under the
// "github.com/StricklySoft/stricklysoft-fstorage/pkg/lifecycle" scope.
package lifecycle

// State is a lifecycle state of a [Service]. The zero value is not valid;
// services begin in [StateStopped].
type State string

const (
	// StateStopped is both the initial state and the state after a clean
	// shutdown.
	StateStopped State = "stopped"

	// StateStarting is set before the OnStart hook runs.
	StateStarting State = "starting"

	// StateRunning is the only state in which [Service.Health] succeeds.
	StateRunning State = "running"

	// StateStopping is set before the OnStop hook runs, while in-flight
	// requests drain.
	StateStopping State = "stopping"

	// StateFailed records that a hook returned an error. A failed service
	// may be started again.
	StateFailed State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Valid reports whether s is a recognized state.
func (s State) Valid() bool {
	switch s {
	case StateStopped, StateStarting, StateRunning, StateStopping, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is Stopped or Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// Transition matrix:
//
//	Stopped  → Starting
//	Starting → Running, Stopping, Failed
//	Running  → Stopping, Failed
//	Stopping → Stopped, Failed
//	Failed   → Starting
var validTransitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateStopping, StateFailed},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether from may move to to. Same-state
// transitions are rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
