// Package state keeps a SQLite history of query runs and model prompts
// that outlives individual sessions.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)

	"github.com/leapstack-labs/queryx/internal/audit"
	"github.com/leapstack-labs/queryx/internal/llm"
	"github.com/leapstack-labs/queryx/internal/session"
	"github.com/leapstack-labs/queryx/internal/synth"
)

var errNotOpen = errors.New("database not opened")

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one execution of SQL against the engine.
type Run struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Action    string    `json:"action"`
	Rule      string    `json:"rule,omitempty"`
	SQL       string    `json:"sql"`
	Passed    bool      `json:"passed"`
	Error     string    `json:"error,omitempty"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"created_at"`
}

// Prompt is an audit entry tagged with the session it came from.
type Prompt struct {
	SessionID string `json:"session_id"`
	audit.Entry
}

// SQLiteStore persists runs and prompts.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens (creating if needed) the history database at path and brings
// its schema up to date. Use ":memory:" for an in-memory database.
func Open(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dsn := ":memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create history directory: %w", err)
			}
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// One writer at a time; an in-memory database also lives per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path, logger: logger}
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("history opened", "path", path)
	return s, nil
}

// New wraps an existing connection whose schema is already migrated.
func New(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{db: db, logger: logger}
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordRun stores r. An empty ID or zero CreatedAt is filled in.
func (s *SQLiteStore) RecordRun(ctx context.Context, r Run) error {
	if s.db == nil {
		return errNotOpen
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, session_id, action, rule, sql, passed, error, row_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.Action, r.Rule, r.SQL, r.Passed, nullString(r.Error), r.Rows, formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RecordPrompt stores one audit entry.
func (s *SQLiteStore) RecordPrompt(ctx context.Context, sessionID string, e audit.Entry) error {
	if s.db == nil {
		return errNotOpen
	}

	var promptTokens, completionTokens, totalTokens sql.NullInt64
	if e.Usage != nil {
		promptTokens = sql.NullInt64{Int64: int64(e.Usage.PromptTokens), Valid: true}
		completionTokens = sql.NullInt64{Int64: int64(e.Usage.CompletionTokens), Valid: true}
		totalTokens = sql.NullInt64{Int64: int64(e.Usage.TotalTokens), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prompts (id, session_id, kind, rule, prompt, response, model,
		                      prompt_tokens, completion_tokens, total_tokens, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), sessionID, string(e.Kind), e.Rule, e.Prompt, e.Response, e.Model,
		promptTokens, completionTokens, totalTokens, nullString(e.Error), formatTime(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to record prompt: %w", err)
	}
	return nil
}

// RecordOutcomes stores what a sequence of state machine actions did: a
// prompt for every model call and a run for every execution.
func (s *SQLiteStore) RecordOutcomes(ctx context.Context, c session.Context, outcomes []synth.Outcome) error {
	for _, o := range outcomes {
		if o.Entry != nil {
			if err := s.RecordPrompt(ctx, c.ID, *o.Entry); err != nil {
				return err
			}
		}
		if !executed(o) {
			continue
		}
		err := s.RecordRun(ctx, Run{
			SessionID: c.ID,
			Action:    o.Action,
			Rule:      c.Rule,
			SQL:       o.SQL,
			Passed:    o.Passed(),
			Error:     o.ExecError,
			Rows:      o.Result.RowCount(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func executed(o synth.Outcome) bool {
	for _, st := range o.States {
		if st == synth.Testing {
			return true
		}
	}
	return false
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s.db == nil {
		return nil, errNotOpen
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, action, rule, sql, passed, error, row_count, created_at
		 FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r       Run
			errMsg  sql.NullString
			created string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Action, &r.Rule, &r.SQL, &r.Passed, &errMsg, &r.Rows, &created); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Error = errMsg.String
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// ListPrompts returns the most recent prompts, newest first.
func (s *SQLiteStore) ListPrompts(ctx context.Context, limit int) ([]Prompt, error) {
	if s.db == nil {
		return nil, errNotOpen
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, kind, rule, prompt, response, model,
		        prompt_tokens, completion_tokens, total_tokens, error, created_at
		 FROM prompts ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var prompts []Prompt
	for rows.Next() {
		var (
			p                                        Prompt
			id, kind, created                        string
			promptTokens, completionTokens, totalTok sql.NullInt64
			errMsg                                   sql.NullString
		)
		if err := rows.Scan(&id, &p.SessionID, &kind, &p.Rule, &p.Prompt, &p.Response, &p.Model,
			&promptTokens, &completionTokens, &totalTok, &errMsg, &created); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		if p.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid prompt id %q: %w", id, err)
		}
		p.Kind = audit.Kind(kind)
		p.Error = errMsg.String
		if totalTok.Valid {
			p.Usage = &llm.Usage{
				PromptTokens:     int(promptTokens.Int64),
				CompletionTokens: int(completionTokens.Int64),
				TotalTokens:      int(totalTok.Int64),
			}
		}
		if p.Timestamp, err = parseTime(created); err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	return prompts, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
