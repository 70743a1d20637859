package commands

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/queryx/internal/llm"
	"github.com/leapstack-labs/queryx/internal/synth"
	"github.com/leapstack-labs/queryx/internal/testutil"
)

// scripted returns the responses in order, repeating the last one.
func scripted(responses ...string) *llm.MockCompleter {
	m := llm.NewMockCompleter("")
	calls := 0
	m.CompleteFunc = func(context.Context, llm.Request) (*llm.Response, error) {
		content := responses[min(calls, len(responses)-1)]
		calls++
		return &llm.Response{Content: content, Model: "mock-model"}, nil
	}
	return m
}

func TestAskCommand(t *testing.T) {
	book := testutil.SalesWorkbook(t, t.TempDir())
	model := llm.NewMockCompleter("```sql\n" + totalsSQL + "\n```")
	stubCompleter(t, model)

	out, _, err := runCommand(t, NewAskCommand(), nil, book, "--rule", "total per region")
	require.NoError(t, err)
	assert.Contains(t, out, "## Generated SQL")
	assert.Contains(t, out, totalsSQL)
	assert.Contains(t, out, "Query ran successfully")
	assert.Contains(t, out, "north")
	assert.Equal(t, 1, model.Calls())

	req, ok := model.LastRequest()
	require.True(t, ok)
	assert.Contains(t, req.Prompt, "sales(region, amount)")
	assert.Contains(t, req.Prompt, "total per region")
}

func TestAskCommand_FixLoop(t *testing.T) {
	book := testutil.SalesWorkbook(t, t.TempDir())
	model := scripted("SELECT SUM(amt) FROM sales", "SELECT SUM(amount) AS total FROM sales")
	stubCompleter(t, model)

	out, errOut, err := runCommand(t, NewAskCommand(), nil, book, "-r", "grand total", "--format", "csv", "--show-log")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Query failed")
	assert.Contains(t, out, "## Fixed SQL")
	assert.Contains(t, out, "total\n400\n")
	assert.Contains(t, out, "## Prompt log")
	assert.Contains(t, out, "SQL Fix")
	assert.Equal(t, 2, model.Calls())
}

func TestAskCommand_GivesUp(t *testing.T) {
	book := testutil.SalesWorkbook(t, t.TempDir())
	model := llm.NewMockCompleter("SELECT nope FROM sales")
	stubCompleter(t, model)

	out, _, err := runCommand(t, NewAskCommand(), nil, book, "-r", "anything", "--max-fixes", "1", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, 2, model.Calls())

	var rep runReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.False(t, rep.Passed)
	assert.Equal(t, "SELECT nope FROM sales", rep.SQL)
	assert.Contains(t, rep.Error, "nope")
	assert.Len(t, rep.Outcomes, 4)
}

func TestAskCommand_ModelError(t *testing.T) {
	book := testutil.SalesWorkbook(t, t.TempDir())
	model := llm.NewMockCompleter("")
	model.CompleteFunc = func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, llm.NewError(llm.ErrorTypeAuth, "invalid api key", false, errors.New("401"))
	}
	stubCompleter(t, model)

	_, _, err := runCommand(t, NewAskCommand(), nil, book, "-r", "anything")
	var modelErr *synth.ModelError
	assert.ErrorAs(t, err, &modelErr)
}

func TestAskCommand_Validation(t *testing.T) {
	book := testutil.SalesWorkbook(t, t.TempDir())
	stubCompleter(t, llm.NewMockCompleter("SELECT 1"))

	_, _, err := runCommand(t, NewAskCommand(), nil, book)
	assert.Error(t, err, "--rule is required")

	_, _, err = runCommand(t, NewAskCommand(), nil, book, "-r", "   ")
	assert.ErrorIs(t, err, synth.ErrEmptyRule)

	_, _, err = runCommand(t, NewAskCommand(), nil, book, "-r", "x", "--max-fixes", "-1")
	assert.Error(t, err)
}

func TestFixCommand(t *testing.T) {
	book := testutil.SalesWorkbook(t, t.TempDir())
	model := llm.NewMockCompleter("SELECT SUM(amount) AS total FROM sales")
	stubCompleter(t, model)

	out, errOut, err := runCommand(t, NewFixCommand(), nil, book,
		"-r", "grand total", "--sql", "SELECT SUM(amt) FROM sales", "--format", "csv")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Query failed")
	assert.Contains(t, out, "## Fixed SQL")
	assert.Contains(t, out, "total\n400\n")

	req, ok := model.LastRequest()
	require.True(t, ok)
	assert.Contains(t, req.Prompt, "SELECT SUM(amt) FROM sales")
	assert.Contains(t, req.Prompt, "amt")
}

func TestFixCommand_GivenError(t *testing.T) {
	book := testutil.SalesWorkbook(t, t.TempDir())
	model := llm.NewMockCompleter("SELECT COUNT(*) AS n FROM sales")
	stubCompleter(t, model)

	out, _, err := runCommand(t, NewFixCommand(), nil, book,
		"-r", "row count", "--sql", "SELECT 1", "--error", "wrong answer", "--format", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "n\n3\n")

	req, _ := model.LastRequest()
	assert.Contains(t, req.Prompt, "wrong answer")
}

func TestFixCommand_NothingToFix(t *testing.T) {
	book := testutil.SalesWorkbook(t, t.TempDir())
	model := llm.NewMockCompleter("SELECT 1")
	stubCompleter(t, model)

	out, _, err := runCommand(t, NewFixCommand(), nil, book, "-r", "count", "--sql", "SELECT COUNT(*) FROM sales")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to fix")
	assert.Equal(t, 0, model.Calls())

	_, _, err = runCommand(t, NewFixCommand(), nil, book, "-r", "count")
	assert.Error(t, err)
}
