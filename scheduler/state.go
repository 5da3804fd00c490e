package scheduler

import "fmt"

// State represents the current state of the Scheduler.
type State int

const (
	StateStarted State = iota
	StateRunning
	StateStopping
	StateStopped
)

// String serializes State to its upper case string.
func (s State) String() string {
	return [...]string{
		"STARTED",
		"RUNNING",
		"STOPPING",
		"STOPPED",
	}[s]
}

// ParseState parses State based on given string.
func ParseState(s string) (State, error) {
	states := map[string]State{
		"STARTED":  StateStarted,
		"RUNNING":  StateRunning,
		"STOPPING": StateStopping,
		"STOPPED":  StateStopped,
	}
	if state, ok := states[s]; ok {
		return state, nil
	}
	return 0, fmt.Errorf("invalid scheduler State: %s", s)
}
