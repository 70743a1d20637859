package synth

import "github.com/leapstack-labs/queryx/internal/session"

// Action is one user request to the machine. The set is closed: Generate,
// Test, Fix and Write.
//
// Empty fields fall back to the session: a Test without SQL runs the
// session's current SQL, a Fix without Error repairs the session's last
// execution error.
type Action interface {
	// Name is the session.Action* label recorded as the last action.
	Name() string
	action()
}

// Generate asks the model for SQL implementing Rule.
type Generate struct {
	Rule   string
	APIKey string
}

// Test executes SQL (or the session's SQL) against the engine.
type Test struct {
	SQL string
}

// Fix asks the model to repair SQL given the engine's error.
type Fix struct {
	Rule   string
	SQL    string
	Error  string
	APIKey string
}

// Write executes SQL typed by the user. No model is involved.
type Write struct {
	SQL string
}

func (Generate) Name() string { return session.ActionGenerate }
func (Test) Name() string     { return session.ActionTest }
func (Fix) Name() string      { return session.ActionFix }
func (Write) Name() string    { return session.ActionWrite }

func (Generate) action() {}
func (Test) action()     {}
func (Fix) action()      {}
func (Write) action()    {}
