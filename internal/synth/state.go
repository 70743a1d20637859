package synth

import "fmt"

// State is a phase of the synthesis machine.
type State int

const (
	Idle State = iota
	Generating
	AwaitingTest
	Testing
	Passed
	Failing
	Fixing
)

var stateNames = [...]string{
	Idle:         "idle",
	Generating:   "generating",
	AwaitingTest: "awaiting_test",
	Testing:      "testing",
	Passed:       "passed",
	Failing:      "failing",
	Fixing:       "fixing",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}
