package server

import (
	"github.com/leapstack-labs/queryx/internal/audit"
	"github.com/leapstack-labs/queryx/internal/engine"
	"github.com/leapstack-labs/queryx/internal/mapping"
	"github.com/leapstack-labs/queryx/internal/synth"
)

// overrideRequest renames one table and any of its columns, by position.
type overrideRequest struct {
	Workbook string         `json:"workbook" validate:"required"`
	Sheet    string         `json:"sheet" validate:"required"`
	Table    string         `json:"table"`
	Columns  map[int]string `json:"columns"`
}

// mappingRequest is the body of POST /mapping. An empty list accepts the
// proposal unchanged.
type mappingRequest struct {
	Overrides []overrideRequest `json:"overrides" validate:"dive"`
}

// ruleRequest is the body of POST /rules.
type ruleRequest struct {
	Action string `json:"action" validate:"required,oneof=generate test fix write"`
	Rule   string `json:"rule" validate:"required_if=Action generate,maxbytes"`
	SQL    string `json:"sql" validate:"required_if=Action write,maxbytes"`
	Error  string `json:"error" validate:"maxbytes"`
	APIKey string `json:"api_key"`
}

// downloadRequest is the body of POST /download.
type downloadRequest struct {
	Format string `json:"format" validate:"omitempty,oneof=csv xlsx"`
	Name   string `json:"name" validate:"omitempty,max=64,excludesall=/\\"`
}

type mappingResponse struct {
	SessionID string          `json:"session_id"`
	Workbooks []string        `json:"workbooks"`
	Proposal  []mapping.Table `json:"proposal"`
	Accepted  []mapping.Table `json:"accepted"`
	Tables    []mapping.Table `json:"tables"`
	Schema    string          `json:"schema"`
}

type ruleResponse struct {
	Outcome   synth.Outcome  `json:"outcome"`
	Rule      string         `json:"rule"`
	SQL       string         `json:"sql"`
	LastError string         `json:"last_error,omitempty"`
	Result    *engine.Result `json:"result,omitempty"`
}

type promptsResponse struct {
	Count   int           `json:"count"`
	Entries []audit.Entry `json:"entries"`
}

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}
