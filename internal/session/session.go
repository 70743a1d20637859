// Package session defines the per-user working state carried between
// requests: uploaded workbooks, the mapping, the current rule and SQL, and
// the interaction log.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/queryx/internal/audit"
	"github.com/leapstack-labs/queryx/internal/engine"
	"github.com/leapstack-labs/queryx/internal/mapping"
)

// Action names recorded in Context.LastAction.
const (
	ActionUpload   = "upload"
	ActionMap      = "map"
	ActionGenerate = "generate"
	ActionTest     = "test"
	ActionFix      = "fix"
	ActionWrite    = "write"
	ActionClear    = "clear_prompts"
)

// Context is the explicit session value. Operations take a Context and
// return an updated one instead of mutating shared state; callers persist
// the returned value.
type Context struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Workbooks lists uploaded file paths in upload order.
	Workbooks []string `json:"workbooks"`

	// Proposal is the derived mapping before the user accepts it.
	Proposal []mapping.Table `json:"proposal,omitempty"`
	Mapping  mapping.Store   `json:"mapping"`

	Rule       string         `json:"rule,omitempty"`
	SQL        string         `json:"sql,omitempty"`
	LastError  string         `json:"last_error,omitempty"`
	LastResult *engine.Result `json:"last_result,omitempty"`
	LastAction string         `json:"last_action,omitempty"`

	Log audit.Log `json:"log"`
}

// New returns an empty session with a fresh ID.
func New() Context {
	now := time.Now().UTC()
	return Context{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
}

// Tables returns the mapping to materialize: the accepted mapping when
// one was saved, otherwise the proposal. The proposal is deduplicated at
// build time, so it is always a valid fallback.
func (c Context) Tables() []mapping.Table {
	if c.Mapping.Len() > 0 {
		return c.Mapping.Tables()
	}
	out := make([]mapping.Table, len(c.Proposal))
	for i, t := range c.Proposal {
		t.Columns = append([]mapping.Column(nil), t.Columns...)
		out[i] = t
	}
	return out
}

// Clone returns a copy that shares no mutable slices with c. The mapping
// store and the log are never modified in place, so they are shared.
func (c Context) Clone() Context {
	c.Workbooks = append([]string(nil), c.Workbooks...)
	if c.Proposal != nil {
		proposal := make([]mapping.Table, len(c.Proposal))
		for i, t := range c.Proposal {
			t.Columns = append([]mapping.Column(nil), t.Columns...)
			proposal[i] = t
		}
		c.Proposal = proposal
	}
	return c
}

// Touch records an action and bumps UpdatedAt.
func (c Context) Touch(action string) Context {
	c.LastAction = action
	c.UpdatedAt = time.Now().UTC()
	return c
}

// WithWorkbooks replaces the uploaded workbooks and the derived proposal.
// Any previously accepted mapping and query state are discarded because
// they refer to the old tables. The interaction log is kept.
func (c Context) WithWorkbooks(paths []string, proposal []mapping.Table) Context {
	c.Workbooks = append([]string(nil), paths...)
	c.Proposal = proposal
	c.Mapping = mapping.Store{}
	c.SQL = ""
	c.LastError = ""
	c.LastResult = nil
	return c.Touch(ActionUpload)
}
