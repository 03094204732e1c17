// Package workerstate defines the six-state lifecycle machine shared by
// every worker and the table of legal transitions between its states.
package workerstate

import "fmt"

// State is one of the six lifecycle states a worker can occupy.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Crashed
	Errored
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Crashed:
		return "crashed"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its lowercase name rather than a bare
// integer, since stats payloads cross the control socket as JSON.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Event names the trigger that drives a transition. Not every event is
// legal from every state; Machine.Apply enforces the table below.
type Event int

const (
	EventStart Event = iota
	EventSpawnSuccess
	EventSpawnEmpty
	EventScriptMissing
	EventChildExitIntentional
	EventChildExitCrash
	EventProbeThresholdReached
	EventStop
	EventRestart
	EventChildrenDrained
	EventBackoffFired
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventSpawnSuccess:
		return "spawn-success"
	case EventSpawnEmpty:
		return "spawn-empty"
	case EventScriptMissing:
		return "script-missing"
	case EventChildExitIntentional:
		return "child-exit-intentional"
	case EventChildExitCrash:
		return "child-exit-crash"
	case EventProbeThresholdReached:
		return "probe-threshold-reached"
	case EventStop:
		return "stop"
	case EventRestart:
		return "restart"
	case EventChildrenDrained:
		return "children-drained"
	case EventBackoffFired:
		return "backoff-fired"
	default:
		return "unknown"
	}
}

type transitionKey struct {
	from  State
	event Event
}

// table encodes every legal (from, event) -> to pair. Anything absent is
// rejected by Apply.
var table = map[transitionKey]State{
	{Stopped, EventStart}:                 Starting,
	{Errored, EventStart}:                 Starting,
	{Crashed, EventStart}:                 Starting,
	{Crashed, EventStop}:                  Stopped,
	{Errored, EventStop}:                  Stopped,
	{Starting, EventSpawnSuccess}:         Running,
	{Starting, EventSpawnEmpty}:           Stopped,
	{Starting, EventScriptMissing}:        Errored,
	{Running, EventChildExitIntentional}:  Stopping,
	{Running, EventChildExitCrash}:        Crashed,
	{Running, EventProbeThresholdReached}: Stopping,
	{Running, EventStop}:                  Stopping,
	{Starting, EventStop}:                 Stopping,
	{Running, EventRestart}:               Stopping,
	{Starting, EventRestart}:              Stopping,
	{Crashed, EventRestart}:               Stopping,
	{Stopping, EventChildrenDrained}:      Stopped,
	{Crashed, EventBackoffFired}:          Starting,
}

// Machine is a single worker's current state plus a record of whether the
// pending termination was operator-initiated (isRestarting), which decides
// what Stopping transitions into once children finish draining.
type Machine struct {
	current      State
	isRestarting bool
}

// New returns a Machine starting in Stopped, matching a freshly registered
// worker that has never been started.
func New() *Machine {
	return &Machine{current: Stopped}
}

// Current returns the machine's present state.
func (m *Machine) Current() State { return m.current }

// IsRestarting reports whether the in-flight Stopping transition was
// triggered by restart() rather than stop() or a crash.
func (m *Machine) IsRestarting() bool { return m.isRestarting }

// Apply attempts the transition named by event from the machine's current
// state. On success it returns the new state and updates the machine; on
// an illegal transition it returns an error and leaves the state
// untouched.
func (m *Machine) Apply(event Event) (State, error) {
	to, ok := table[transitionKey{from: m.current, event: event}]
	if !ok {
		return m.current, fmt.Errorf("workerstate: no transition for event %q from state %q", event, m.current)
	}
	if event == EventRestart {
		m.isRestarting = true
	}
	if event == EventChildrenDrained {
		if m.isRestarting {
			to = Starting
			m.isRestarting = false
		}
	}
	m.current = to
	return to, nil
}

// Set forcibly places the machine in state, bypassing the transition
// table. Used to seed test fixtures.
func (m *Machine) Set(s State) {
	m.current = s
	m.isRestarting = false
}

// Terminal reports whether s is one of the states from which start() is
// legal without going through restart/stop first.
func (s State) Terminal() bool {
	switch s {
	case Stopped, Crashed, Errored:
		return true
	default:
		return false
	}
}
