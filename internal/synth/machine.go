// Package synth turns natural-language rules into SQL: it asks the model
// for a query, runs it against the engine, and feeds engine errors back to
// the model for repair. Every model interaction is appended to the
// session's audit log.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leapstack-labs/queryx/internal/audit"
	"github.com/leapstack-labs/queryx/internal/engine"
	"github.com/leapstack-labs/queryx/internal/llm"
	"github.com/leapstack-labs/queryx/internal/metrics"
	"github.com/leapstack-labs/queryx/internal/session"
)

// Sentinel errors for rejected actions. None of them changes the session.
var (
	ErrNoExecutionError = errors.New("no execution error to fix")
	ErrEmptyRule        = errors.New("rule is empty")
	ErrEmptySQL         = errors.New("no SQL to run")
	ErrUnknownAction    = errors.New("unknown action")
)

// ModelError reports a failed completion. The session passed to Apply is
// returned unchanged alongside it.
type ModelError struct {
	Action string
	Err    error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s: language model request failed: %v", e.Action, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// Executor runs SQL. *engine.Engine implements it; every returned error is
// treated as an engine execution error and reported verbatim.
type Executor interface {
	Execute(ctx context.Context, sql string) (*engine.Result, error)
}

// Config tunes the completion requests.
type Config struct {
	System      string
	MaxTokens   int
	Temperature float64

	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Recorder
}

// Outcome describes what one Apply call did.
type Outcome struct {
	Action string  `json:"action"`
	States []State `json:"states"`
	SQL    string  `json:"sql,omitempty"`

	// Result is set when the SQL ran successfully.
	Result *engine.Result `json:"result,omitempty"`
	// ExecError is the engine's message when the SQL failed.
	ExecError string `json:"exec_error,omitempty"`

	// Entry is the audit entry appended by generate or fix.
	Entry *audit.Entry `json:"entry,omitempty"`
}

// Passed reports whether the SQL was executed without error.
func (o Outcome) Passed() bool {
	return len(o.States) > 1 && o.States[len(o.States)-2] == Passed
}

// Final returns the last state visited, which is always Idle.
func (o Outcome) Final() State {
	if len(o.States) == 0 {
		return Idle
	}
	return o.States[len(o.States)-1]
}

// Machine dispatches actions. It holds no per-session state, so one
// Machine may serve many sessions; the engine it executes against is
// bound to a single materialized session.
type Machine struct {
	model   llm.Completer
	exec    Executor
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New creates a machine. model may be nil when only Test and Write are
// used.
func New(model llm.Completer, exec Executor, cfg Config) *Machine {
	if cfg.System == "" {
		cfg.System = DefaultSystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Machine{model: model, exec: exec, cfg: cfg, logger: logger, metrics: cfg.Metrics}
}

// Apply performs a on s. It returns the updated session, a description of
// what happened and, for rejected actions or model failures, an error. When
// the error is non-nil the returned session equals s.
//
// Execution failures are not errors: they are reported in
// Outcome.ExecError and recorded in the session's LastError.
func (m *Machine) Apply(ctx context.Context, s session.Context, a Action, descriptor string) (session.Context, Outcome, error) {
	out := Outcome{Action: a.Name(), States: []State{Idle}}

	var (
		next session.Context
		err  error
	)
	switch act := a.(type) {
	case Generate:
		next, err = m.generate(ctx, s, act, descriptor, &out)
	case Test:
		next, err = m.run(ctx, s, act.SQL, act.Name(), &out)
	case Fix:
		next, err = m.fix(ctx, s, act, descriptor, &out)
	case Write:
		if strings.TrimSpace(act.SQL) == "" {
			err = ErrEmptySQL
			break
		}
		next, err = m.run(ctx, s, act.SQL, act.Name(), &out)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownAction, a)
	}

	out.States = append(out.States, Idle)
	if err != nil {
		m.logger.Debug("action rejected", "action", out.Action, "error", err)
		return s, out, err
	}

	m.logger.Debug("action applied", "action", out.Action, "states", out.States, "passed", out.Passed())
	return next, out, nil
}

func (m *Machine) generate(ctx context.Context, s session.Context, a Generate, descriptor string, out *Outcome) (session.Context, error) {
	rule := strings.TrimSpace(a.Rule)
	if rule == "" {
		rule = s.Rule
	}
	if rule == "" {
		return s, ErrEmptyRule
	}

	out.States = append(out.States, Generating)
	prompt := GeneratePrompt(descriptor, rule)

	resp, err := m.complete(ctx, audit.KindGeneration, prompt, a.APIKey)
	if err != nil {
		return s, &ModelError{Action: a.Name(), Err: err}
	}

	sql := ExtractSQL(resp.Content)
	entry := audit.NewEntry(audit.KindGeneration, prompt, resp.Content, rule, resp.Model, resp.Usage)

	next := s.Clone()
	next.Rule = rule
	next.SQL = sql
	next.LastError = ""
	next.LastResult = nil
	next.Log.Append(entry)

	out.States = append(out.States, AwaitingTest)
	out.SQL = sql
	out.Entry = &entry
	return next.Touch(a.Name()), nil
}

func (m *Machine) fix(ctx context.Context, s session.Context, a Fix, descriptor string, out *Outcome) (session.Context, error) {
	errText := strings.TrimSpace(a.Error)
	if errText == "" {
		errText = strings.TrimSpace(s.LastError)
	}
	if errText == "" {
		return s, ErrNoExecutionError
	}

	sql := a.SQL
	if sql == "" {
		sql = s.SQL
	}
	rule := a.Rule
	if rule == "" {
		rule = s.Rule
	}

	out.States = append(out.States, Fixing)
	prompt := FixPrompt(descriptor, rule, ExtractSQL(sql), errText)

	resp, err := m.complete(ctx, audit.KindFix, prompt, a.APIKey)
	if err != nil {
		return s, &ModelError{Action: a.Name(), Err: err}
	}

	fixed := ExtractSQL(resp.Content)
	entry := audit.NewEntry(audit.KindFix, prompt, resp.Content, rule, resp.Model, resp.Usage)
	entry.Error = errText

	next := s.Clone()
	next.Rule = rule
	next.SQL = fixed
	// The error described the previous SQL.
	next.LastError = ""
	next.LastResult = nil
	next.Log.Append(entry)

	out.States = append(out.States, AwaitingTest)
	out.SQL = fixed
	out.Entry = &entry
	return next.Touch(a.Name()), nil
}

// run executes SQL for Test and Write. It never touches the audit log.
func (m *Machine) run(ctx context.Context, s session.Context, sql, action string, out *Outcome) (session.Context, error) {
	if sql == "" {
		sql = s.SQL
	}
	sql = ExtractSQL(sql)
	if sql == "" {
		return s, ErrEmptySQL
	}

	out.States = append(out.States, Testing)
	out.SQL = sql

	next := s.Clone()
	next.SQL = sql

	res, err := m.exec.Execute(ctx, sql)
	if err != nil {
		out.States = append(out.States, Failing)
		out.ExecError = err.Error()
		next.LastError = out.ExecError
		next.LastResult = nil
		return next.Touch(action), nil
	}

	out.States = append(out.States, Passed)
	out.Result = res
	next.LastError = ""
	next.LastResult = res
	return next.Touch(action), nil
}

func (m *Machine) complete(ctx context.Context, kind audit.Kind, prompt, apiKey string) (*llm.Response, error) {
	if m.model == nil {
		return nil, errors.New("no language model configured")
	}

	start := time.Now()
	resp, err := m.model.Complete(ctx, llm.Request{
		System:      m.cfg.System,
		Prompt:      prompt,
		MaxTokens:   m.cfg.MaxTokens,
		Temperature: m.cfg.Temperature,
		APIKey:      apiKey,
	})

	var promptTokens, completionTokens int
	if resp != nil && resp.Usage != nil {
		promptTokens, completionTokens = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	m.metrics.ObserveCompletion(string(kind), time.Since(start), promptTokens, completionTokens, err)

	if err != nil {
		m.logger.Error("completion failed", "kind", kind, "error", err)
		return nil, err
	}
	if resp.Model == "" {
		resp.Model = m.model.Model()
	}
	return resp, nil
}
