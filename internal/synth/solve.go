package synth

import (
	"context"

	"github.com/leapstack-labs/queryx/internal/session"
)

// Solve drives the full loop for one rule: generate, test, and while the
// test fails and attempts remain, fix and test again. It stops at the
// first model error, returning the session as it was before that call.
// The outcomes of every applied action are returned in order.
func (m *Machine) Solve(ctx context.Context, s session.Context, rule, apiKey, descriptor string, maxFixes int) (session.Context, []Outcome, error) {
	var outcomes []Outcome

	apply := func(a Action) (Outcome, error) {
		next, out, err := m.Apply(ctx, s, a, descriptor)
		outcomes = append(outcomes, out)
		if err == nil {
			s = next
		}
		return out, err
	}

	if _, err := apply(Generate{Rule: rule, APIKey: apiKey}); err != nil {
		return s, outcomes, err
	}

	for attempt := 0; ; attempt++ {
		out, err := apply(Test{})
		if err != nil {
			return s, outcomes, err
		}
		if out.Passed() || attempt >= maxFixes {
			return s, outcomes, nil
		}
		if _, err := apply(Fix{Error: out.ExecError, APIKey: apiKey}); err != nil {
			return s, outcomes, err
		}
	}
}
