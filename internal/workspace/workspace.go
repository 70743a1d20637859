// Package workspace turns a set of workbooks into a queryable session:
// it reads the files, proposes a mapping, materializes the accepted
// tables and derives the schema descriptor.
package workspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/leapstack-labs/queryx/internal/engine"
	"github.com/leapstack-labs/queryx/internal/mapping"
	"github.com/leapstack-labs/queryx/internal/schema"
	"github.com/leapstack-labs/queryx/internal/session"
	"github.com/leapstack-labs/queryx/internal/sheet"
)

// ErrNoWorkbooks is returned when a session has nothing to materialize.
var ErrNoWorkbooks = errors.New("no workbooks uploaded")

// Workspace is an open engine holding one session's tables.
type Workspace struct {
	Engine     *engine.Engine
	Tables     []mapping.Table
	Descriptor string
}

// Close releases the engine.
func (w *Workspace) Close() error {
	if w == nil || w.Engine == nil {
		return nil
	}
	return w.Engine.Close()
}

// Propose reads the workbooks at paths and derives the default mapping.
func Propose(paths []string) ([]*sheet.Workbook, []mapping.Table, error) {
	if len(paths) == 0 {
		return nil, nil, ErrNoWorkbooks
	}
	books, err := sheet.Load(paths)
	if err != nil {
		return nil, nil, err
	}
	return books, mapping.Build(sheet.Flatten(books)), nil
}

// Establish starts a session over paths. Overrides are applied to the
// proposal and the result becomes the accepted mapping. A mapping that
// fails validation is an error and nothing is materialized.
func Establish(ctx context.Context, cfg engine.Config, paths []string, overrides []mapping.Override) (session.Context, *Workspace, error) {
	books, proposal, err := Propose(paths)
	if err != nil {
		return session.Context{}, nil, err
	}

	s := session.New().WithWorkbooks(paths, proposal)
	tables := proposal
	if len(overrides) > 0 {
		if tables, err = mapping.ApplyOverrides(proposal, overrides); err != nil {
			return session.Context{}, nil, err
		}
	}
	if err := s.Mapping.Accept(tables); err != nil {
		return session.Context{}, nil, err
	}
	s = s.Touch(session.ActionMap)

	w, err := open(ctx, cfg, s.Tables(), books)
	if err != nil {
		return session.Context{}, nil, err
	}
	return s, w, nil
}

// Open materializes the tables of an existing session. Each invocation
// gets a fresh engine, so this is called once per request.
func Open(ctx context.Context, cfg engine.Config, s session.Context) (*Workspace, error) {
	if len(s.Workbooks) == 0 {
		return nil, ErrNoWorkbooks
	}
	tables := s.Tables()
	if err := mapping.Validate(tables); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}
	eng, err := engine.OpenFiles(ctx, cfg, tables, s.Workbooks)
	if err != nil {
		return nil, err
	}
	return newWorkspace(eng, tables), nil
}

func open(ctx context.Context, cfg engine.Config, tables []mapping.Table, books []*sheet.Workbook) (*Workspace, error) {
	if err := mapping.Validate(tables); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}
	eng, err := engine.Open(ctx, cfg, tables, books)
	if err != nil {
		return nil, err
	}
	return newWorkspace(eng, tables), nil
}

func newWorkspace(eng *engine.Engine, tables []mapping.Table) *Workspace {
	return &Workspace{
		Engine:     eng,
		Tables:     tables,
		Descriptor: schema.Describe(tables),
	}
}
