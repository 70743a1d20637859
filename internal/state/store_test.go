package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/queryx/internal/audit"
	"github.com/leapstack-labs/queryx/internal/engine"
	"github.com/leapstack-labs/queryx/internal/llm"
	"github.com/leapstack-labs/queryx/internal/session"
	"github.com/leapstack-labs/queryx/internal/synth"
	"github.com/leapstack-labs/queryx/internal/testutil"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:", testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := Open(path, nil)
	require.NoError(t, err)

	version, err := s.MigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	require.NoError(t, s.RecordRun(context.Background(), Run{SessionID: "s1", Action: "write", SQL: "SELECT 1", Passed: true, Rows: 1}))
	require.NoError(t, s.Close())

	// Reopening keeps the data and does not re-run migrations.
	s, err = Open(path, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	runs, err := s.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "SELECT 1", runs[0].SQL)
}

func TestRecordAndListRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordRun(ctx, Run{ID: "r1", SessionID: "s1", Action: "test", Rule: "totals", SQL: "SELECT 1", Passed: true, Rows: 1, CreatedAt: base}))
	require.NoError(t, s.RecordRun(ctx, Run{ID: "r2", SessionID: "s1", Action: "test", Rule: "totals", SQL: "SELECT amt", Error: "no column amt", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, s.RecordRun(ctx, Run{ID: "r3", SessionID: "s2", Action: "write", SQL: "SELECT 2", Passed: true, Rows: 1, CreatedAt: base.Add(1500 * time.Millisecond)}))

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "r2", runs[1].ID)
	assert.False(t, runs[1].Passed)
	assert.Equal(t, "no column amt", runs[1].Error)
	assert.True(t, base.Add(time.Second).Equal(runs[1].CreatedAt))
	assert.Equal(t, "totals", runs[1].Rule)
}

func TestRecordAndListPrompts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	withUsage := audit.NewEntry(audit.KindGeneration, "prompt one", "SELECT 1", "rule", "gpt", &llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	fix := audit.NewEntry(audit.KindFix, "prompt two", "SELECT 2", "rule", "gpt", nil)
	fix.Error = "boom"
	fix.Timestamp = withUsage.Timestamp.Add(time.Millisecond)

	require.NoError(t, s.RecordPrompt(ctx, "s1", withUsage))
	require.NoError(t, s.RecordPrompt(ctx, "s1", fix))

	prompts, err := s.ListPrompts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, prompts, 2)

	assert.Equal(t, fix.ID, prompts[0].ID)
	assert.Equal(t, audit.KindFix, prompts[0].Kind)
	assert.Equal(t, "boom", prompts[0].Error)
	assert.Nil(t, prompts[0].Usage)

	assert.Equal(t, "s1", prompts[1].SessionID)
	assert.Equal(t, "prompt one", prompts[1].Prompt)
	require.NotNil(t, prompts[1].Usage)
	assert.Equal(t, 15, prompts[1].Usage.TotalTokens)
	assert.True(t, withUsage.Timestamp.Equal(prompts[1].Timestamp))
}

func TestRecordOutcomes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entry := audit.NewEntry(audit.KindGeneration, "p", "SELECT 1", "one", "m", nil)
	c := session.New()
	c.Rule = "one"
	outcomes := []synth.Outcome{
		{Action: session.ActionGenerate, States: []synth.State{synth.Idle, synth.Generating, synth.AwaitingTest, synth.Idle}, SQL: "SELECT 1", Entry: &entry},
		{Action: session.ActionTest, States: []synth.State{synth.Idle, synth.Testing, synth.Passed, synth.Idle}, SQL: "SELECT 1",
			Result: &engine.Result{Columns: []string{"x"}, Rows: [][]any{{1}}}},
	}

	require.NoError(t, s.RecordOutcomes(ctx, c, outcomes))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, c.ID, runs[0].SessionID)
	assert.Equal(t, session.ActionTest, runs[0].Action)
	assert.Equal(t, "one", runs[0].Rule)
	assert.True(t, runs[0].Passed)
	assert.Equal(t, 1, runs[0].Rows)

	prompts, err := s.ListPrompts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, entry.ID, prompts[0].ID)
}

func TestStore_DatabaseErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := New(db, nil)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO runs").WillReturnError(errors.New("disk full"))
	err = s.RecordRun(ctx, Run{SessionID: "s", Action: "test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record run")

	mock.ExpectQuery("FROM runs").WillReturnError(errors.New("locked"))
	_, err = s.ListRuns(ctx, 5)
	assert.ErrorContains(t, err, "failed to list runs")

	mock.ExpectQuery("FROM prompts").
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "kind", "rule", "prompt", "response", "model",
			"prompt_tokens", "completion_tokens", "total_tokens", "error", "created_at"}).
			AddRow("not-a-uuid", "s", "fix", "", "p", "r", "m", nil, nil, nil, nil, "2024-01-01T00:00:00.000000000Z"))
	_, err = s.ListPrompts(ctx, 5)
	assert.ErrorContains(t, err, "invalid prompt id")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_NotOpen(t *testing.T) {
	s := &SQLiteStore{}
	assert.ErrorIs(t, s.RecordRun(context.Background(), Run{}), errNotOpen)
	_, err := s.ListRuns(context.Background(), 1)
	assert.ErrorIs(t, err, errNotOpen)
	assert.ErrorIs(t, s.Migrate(), errNotOpen)
	assert.NoError(t, s.Close())
}
