package synth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/leapstack-labs/queryx/internal/audit"
	"github.com/leapstack-labs/queryx/internal/engine"
	"github.com/leapstack-labs/queryx/internal/llm"
	"github.com/leapstack-labs/queryx/internal/mapping"
	"github.com/leapstack-labs/queryx/internal/schema"
	"github.com/leapstack-labs/queryx/internal/session"
	"github.com/leapstack-labs/queryx/internal/sheet"
	"github.com/leapstack-labs/queryx/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const descriptor = "sales(region, amount)"

// fakeExecutor fails any SQL mentioning a column that is not in cols.
type fakeExecutor struct {
	calls int
	fail  map[string]string
}

func (f *fakeExecutor) Execute(_ context.Context, sql string) (*engine.Result, error) {
	f.calls++
	for needle, msg := range f.fail {
		if strings.Contains(sql, needle) {
			return nil, &engine.ExecutionError{SQL: sql, Message: msg}
		}
	}
	return &engine.Result{Columns: []string{"region", "total"}, Rows: [][]any{{"north", 150}}}, nil
}

func newMachine(t *testing.T, model llm.Completer, exec Executor) *Machine {
	return New(model, exec, Config{Temperature: DefaultTemperature, Logger: testutil.NewTestLogger(t)})
}

func TestGenerate_AppendsEntryAndStoresSQL(t *testing.T) {
	model := llm.NewMockCompleter("```sql\nSELECT region, SUM(amount) FROM sales GROUP BY region\n```")
	m := newMachine(t, model, &fakeExecutor{})
	s := session.New()

	next, out, err := m.Apply(context.Background(), s, Generate{Rule: "total revenue by region", APIKey: "sk-test"}, descriptor)
	require.NoError(t, err)

	assert.Equal(t, "SELECT region, SUM(amount) FROM sales GROUP BY region", next.SQL)
	assert.Equal(t, "total revenue by region", next.Rule)
	assert.Equal(t, session.ActionGenerate, next.LastAction)
	assert.Equal(t, []State{Idle, Generating, AwaitingTest, Idle}, out.States)
	assert.Equal(t, Idle, out.Final())

	require.Equal(t, 1, next.Log.Len())
	entry := next.Log.List()[0]
	assert.Equal(t, audit.KindGeneration, entry.Kind)
	assert.Equal(t, model.Content, entry.Response, "raw response is logged")
	assert.Contains(t, entry.Prompt, descriptor)
	assert.Contains(t, entry.Prompt, "total revenue by region")
	assert.Empty(t, entry.Error)
	require.NotNil(t, out.Entry)
	assert.Equal(t, entry.ID, out.Entry.ID)

	req, ok := model.LastRequest()
	require.True(t, ok)
	assert.Equal(t, DefaultSystemPrompt, req.System)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.InDelta(t, DefaultTemperature, req.Temperature, 0)
	assert.Equal(t, "sk-test", req.APIKey)

	assert.Equal(t, 0, s.Log.Len(), "input session is not modified")
}

func TestGenerate_ModelErrorLeavesSessionUntouched(t *testing.T) {
	model := &llm.MockCompleter{CompleteFunc: func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, llm.NewError(llm.ErrorTypeAuth, "authentication failed", false, nil)
	}}
	m := newMachine(t, model, &fakeExecutor{})

	s := session.New()
	s.SQL = "SELECT 1"
	s.Log.Append(audit.NewEntry(audit.KindGeneration, "p", "r", "rule", "m", nil))

	next, out, err := m.Apply(context.Background(), s, Generate{Rule: "anything"}, descriptor)

	var merr *ModelError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, llm.ErrorTypeAuth, llm.GetErrorType(err))
	assert.Equal(t, s, next)
	assert.Equal(t, 1, next.Log.Len())
	assert.Equal(t, Idle, out.Final())
	assert.Nil(t, out.Entry)
}

func TestGenerate_EmptyRule(t *testing.T) {
	model := llm.NewMockCompleter("SELECT 1")
	m := newMachine(t, model, &fakeExecutor{})

	_, _, err := m.Apply(context.Background(), session.New(), Generate{Rule: "   "}, descriptor)
	assert.ErrorIs(t, err, ErrEmptyRule)
	assert.Equal(t, 0, model.Calls())
}

func TestTest_NeverAppends(t *testing.T) {
	exec := &fakeExecutor{fail: map[string]string{"amt": `Binder Error: Referenced column "amt" not found`}}
	m := newMachine(t, nil, exec)

	s := session.New()
	s.SQL = "SELECT SUM(amount) FROM sales"

	passed, out, err := m.Apply(context.Background(), s, Test{}, descriptor)
	require.NoError(t, err)
	assert.True(t, out.Passed())
	assert.Equal(t, []State{Idle, Testing, Passed, Idle}, out.States)
	require.NotNil(t, passed.LastResult)
	assert.Empty(t, passed.LastError)
	assert.Equal(t, 0, passed.Log.Len())

	failed, out, err := m.Apply(context.Background(), passed, Test{SQL: "SELECT SUM(amt) FROM sales"}, descriptor)
	require.NoError(t, err, "execution errors are outcomes, not failures")
	assert.False(t, out.Passed())
	assert.Equal(t, []State{Idle, Testing, Failing, Idle}, out.States)
	assert.Equal(t, `Binder Error: Referenced column "amt" not found`, out.ExecError)
	assert.Equal(t, out.ExecError, failed.LastError)
	assert.Nil(t, failed.LastResult)
	assert.Equal(t, 0, failed.Log.Len())
	assert.Equal(t, session.ActionTest, failed.LastAction)
}

func TestTest_StripsFences(t *testing.T) {
	exec := &fakeExecutor{}
	m := newMachine(t, nil, exec)
	s := session.New()
	s.SQL = "```sql\nSELECT 1\n```"

	next, out, err := m.Apply(context.Background(), s, Test{}, descriptor)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", out.SQL)
	assert.Equal(t, "SELECT 1", next.SQL)
}

func TestTest_NoSQL(t *testing.T) {
	exec := &fakeExecutor{}
	m := newMachine(t, nil, exec)

	_, _, err := m.Apply(context.Background(), session.New(), Test{}, descriptor)
	assert.ErrorIs(t, err, ErrEmptySQL)
	assert.Equal(t, 0, exec.calls)
}

func TestFix_RequiresExecutionError(t *testing.T) {
	model := llm.NewMockCompleter("SELECT 1")
	m := newMachine(t, model, &fakeExecutor{})

	s := session.New()
	s.SQL = "SELECT amt FROM sales"

	next, out, err := m.Apply(context.Background(), s, Fix{}, descriptor)
	assert.ErrorIs(t, err, ErrNoExecutionError)
	assert.Equal(t, 0, model.Calls(), "model is not called")
	assert.Equal(t, s, next)
	assert.Equal(t, Idle, out.Final())
}

func TestFix_AppendsExactlyOneEntryWithError(t *testing.T) {
	model := llm.NewMockCompleter("SELECT region, SUM(amount) AS total FROM sales GROUP BY region")
	m := newMachine(t, model, &fakeExecutor{})

	s := session.New()
	s.Rule = "total revenue by region"
	s.SQL = "SELECT region, SUM(amt) FROM sales GROUP BY region"
	s.LastError = "column amt does not exist"

	next, out, err := m.Apply(context.Background(), s, Fix{}, descriptor)
	require.NoError(t, err)

	assert.Equal(t, []State{Idle, Fixing, AwaitingTest, Idle}, out.States)
	require.Equal(t, 1, next.Log.Len())
	entry := next.Log.List()[0]
	assert.Equal(t, audit.KindFix, entry.Kind)
	assert.Equal(t, "column amt does not exist", entry.Error)
	assert.Contains(t, entry.Prompt, "column amt does not exist")
	assert.Contains(t, entry.Prompt, s.SQL)
	assert.Contains(t, entry.Prompt, descriptor)
	assert.Contains(t, entry.Prompt, "Please fix the SQL")

	assert.Contains(t, next.SQL, "amount")
	assert.NotContains(t, next.SQL, "amt")
	assert.Empty(t, next.LastError)
}

func TestFix_ExplicitErrorOverridesSession(t *testing.T) {
	model := llm.NewMockCompleter("SELECT 2")
	m := newMachine(t, model, &fakeExecutor{})

	_, out, err := m.Apply(context.Background(), session.New(), Fix{SQL: "SELECT x", Error: "boom", Rule: "r"}, descriptor)
	require.NoError(t, err)
	assert.Equal(t, "boom", out.Entry.Error)
}

func TestWrite(t *testing.T) {
	model := llm.NewMockCompleter("unused")
	exec := &fakeExecutor{}
	m := newMachine(t, model, exec)

	next, out, err := m.Apply(context.Background(), session.New(), Write{SQL: "SELECT region FROM sales"}, descriptor)
	require.NoError(t, err)
	assert.True(t, out.Passed())
	assert.Equal(t, "SELECT region FROM sales", next.SQL)
	assert.Equal(t, session.ActionWrite, next.LastAction)
	assert.Equal(t, 0, next.Log.Len())
	assert.Equal(t, 0, model.Calls())

	_, _, err = m.Apply(context.Background(), session.New(), Write{}, descriptor)
	assert.ErrorIs(t, err, ErrEmptySQL)
}

func TestSolve_RepairsUntilPassing(t *testing.T) {
	responses := []string{
		"```sql\nSELECT region, SUM(amt) FROM sales GROUP BY region\n```",
		"SELECT region, SUM(amount) FROM sales GROUP BY region",
	}
	model := &llm.MockCompleter{}
	model.CompleteFunc = func(_ context.Context, _ llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: responses[model.Calls()-1]}, nil
	}
	exec := &fakeExecutor{fail: map[string]string{"amt": "column amt does not exist"}}
	m := newMachine(t, model, exec)

	s, outcomes, err := m.Solve(context.Background(), session.New(), "total revenue by region", "", descriptor, 3)
	require.NoError(t, err)

	var actions []string
	for _, o := range outcomes {
		actions = append(actions, o.Action)
	}
	assert.Equal(t, []string{"generate", "test", "fix", "test"}, actions)
	assert.True(t, outcomes[len(outcomes)-1].Passed())
	assert.Equal(t, 2, s.Log.Len())
	assert.Equal(t, "mock-model", s.Log.List()[0].Model)
	assert.Equal(t, "column amt does not exist", s.Log.List()[1].Error)
}

func TestSolve_StopsAfterMaxFixes(t *testing.T) {
	model := llm.NewMockCompleter("SELECT amt FROM sales")
	exec := &fakeExecutor{fail: map[string]string{"amt": "column amt does not exist"}}
	m := newMachine(t, model, exec)

	s, outcomes, err := m.Solve(context.Background(), session.New(), "rule", "", descriptor, 1)
	require.NoError(t, err)
	assert.Len(t, outcomes, 4)
	assert.Equal(t, "column amt does not exist", s.LastError)
	assert.Equal(t, 2, model.Calls())
}

func TestSolve_ModelError(t *testing.T) {
	model := &llm.MockCompleter{CompleteFunc: func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, errors.New("status code: 503")
	}}
	m := newMachine(t, model, &fakeExecutor{})

	s := session.New()
	got, _, err := m.Solve(context.Background(), s, "rule", "", descriptor, 2)
	var merr *ModelError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, s, got)
}

// Two sheets titled "Q1 Sales" plus a renamed column, materialized into a
// real engine; the model first writes amt and is corrected to amount.
func TestEndToEnd_FixReplacesBadColumn(t *testing.T) {
	ctx := context.Background()

	books := []*sheet.Workbook{
		{Path: "east.xlsx", Sheets: []sheet.Sheet{{
			Key:     sheet.Key{Workbook: "east.xlsx", Sheet: "Q1 Sales"},
			Columns: []string{"Region", "Unit Price ($)", "Amt"},
			Rows:    [][]string{{"north", "2", "100"}, {"south", "3", "250"}, {"north", "1", "50"}},
		}}},
		{Path: "west.xlsx", Sheets: []sheet.Sheet{{
			Key:     sheet.Key{Workbook: "west.xlsx", Sheet: "Q1 Sales"},
			Columns: []string{"Region", "Amt"},
			Rows:    [][]string{{"west", "75"}},
		}}},
	}

	proposal := mapping.Build(sheet.Flatten(books))
	require.Equal(t, "q1_sales", proposal[0].Name)
	require.Equal(t, "q1_sales_2", proposal[1].Name)
	require.Equal(t, "unit_price", proposal[0].Columns[1].Name)

	edited, err := mapping.ApplyOverrides(proposal, []mapping.Override{
		{Key: proposal[0].Key, Table: "sales", Columns: map[int]string{2: "amount"}},
	})
	require.NoError(t, err)

	s := session.New().WithWorkbooks([]string{"east.xlsx", "west.xlsx"}, proposal)
	require.NoError(t, s.Mapping.Accept(edited))

	e, err := engine.Open(ctx, engine.Config{Logger: testutil.NewTestLogger(t), TempDir: t.TempDir()}, s.Tables(), books)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	desc := schema.Describe(s.Tables())
	require.Contains(t, desc, "sales(region, unit_price, amount)")

	model := &llm.MockCompleter{}
	model.CompleteFunc = func(_ context.Context, req llm.Request) (*llm.Response, error) {
		if strings.Contains(req.Prompt, "Please fix the SQL") {
			return &llm.Response{Content: "```sql\nSELECT region, SUM(amount) AS revenue FROM sales GROUP BY region ORDER BY region\n```"}, nil
		}
		return &llm.Response{Content: "SELECT region, SUM(amt) AS revenue FROM sales GROUP BY region"}, nil
	}
	m := newMachine(t, model, e)

	s, _, err = m.Apply(ctx, s, Generate{Rule: "total revenue by region"}, desc)
	require.NoError(t, err)

	s, out, err := m.Apply(ctx, s, Test{}, desc)
	require.NoError(t, err)
	require.False(t, out.Passed())
	assert.Contains(t, out.ExecError, "amt")

	s, out, err = m.Apply(ctx, s, Fix{}, desc)
	require.NoError(t, err)
	assert.Contains(t, out.SQL, "amount")
	assert.NotContains(t, out.SQL, "amt")

	s, out, err = m.Apply(ctx, s, Test{}, desc)
	require.NoError(t, err)
	require.True(t, out.Passed(), out.ExecError)
	require.Len(t, out.Result.Rows, 2)
	assert.Equal(t, "north", out.Result.Rows[0][0])
	assert.EqualValues(t, 150, out.Result.Rows[0][1])

	assert.Equal(t, 2, s.Log.Len())
	assert.Equal(t, audit.KindFix, s.Log.List()[1].Kind)
}
