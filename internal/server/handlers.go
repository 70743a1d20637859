package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/queryx/internal/audit"
	"github.com/leapstack-labs/queryx/internal/engine"
	"github.com/leapstack-labs/queryx/internal/export"
	"github.com/leapstack-labs/queryx/internal/llm"
	"github.com/leapstack-labs/queryx/internal/mapping"
	"github.com/leapstack-labs/queryx/internal/schema"
	"github.com/leapstack-labs/queryx/internal/session"
	"github.com/leapstack-labs/queryx/internal/sheet"
	"github.com/leapstack-labs/queryx/internal/synth"
	"github.com/leapstack-labs/queryx/internal/workspace"
)

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// upload replaces the session's workbooks with the uploaded files and
// returns the proposed mapping.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	c, ok := s.load(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err))
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("no files in form field \"files\""))
		return
	}

	dir := filepath.Join(s.cfg.UploadDir, c.ID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to create upload directory: %w", err))
		return
	}

	paths := make([]string, 0, len(files))
	for _, fh := range files {
		p, err := saveUpload(dir, fh)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, sheet.ErrUnsupportedFormat) {
				status = http.StatusUnprocessableEntity
			}
			s.writeError(w, status, err)
			return
		}
		paths = append(paths, p)
	}

	_, proposal, err := workspace.Propose(paths)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	c = c.WithWorkbooks(paths, proposal).Touch(session.ActionUpload)
	if !s.save(w, r, c) {
		return
	}
	s.logger.Info("workbooks uploaded", "session", c.ID, "files", len(paths), "tables", len(proposal))
	s.writeJSON(w, http.StatusOK, mappingView(c))
}

// saveUpload copies one multipart file into dir under its base name.
func saveUpload(dir string, fh *multipart.FileHeader) (string, error) {
	name := filepath.Base(filepath.Clean("/" + fh.Filename))
	if name == "/" || name == "." {
		return "", fmt.Errorf("invalid file name %q", fh.Filename)
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".csv":
	default:
		return "", fmt.Errorf("%s: %w", name, sheet.ErrUnsupportedFormat)
	}

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("failed to read upload %s: %w", name, err)
	}
	defer func() { _ = src.Close() }()

	path := filepath.Join(dir, name)
	dst, err := os.Create(path) //nolint:gosec // name is reduced to a base name above
	if err != nil {
		return "", fmt.Errorf("failed to store upload %s: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("failed to store upload %s: %w", name, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("failed to store upload %s: %w", name, err)
	}
	return path, nil
}

func (s *Server) getMapping(w http.ResponseWriter, r *http.Request) {
	c, ok := s.load(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, mappingView(c))
}

// saveMapping applies the overrides to the proposal and stores the result
// as the accepted mapping. A mapping that fails validation is rejected and
// the previous one kept.
func (s *Server) saveMapping(w http.ResponseWriter, r *http.Request) {
	c, ok := s.load(w, r)
	if !ok {
		return
	}
	var req mappingRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(c.Workbooks) == 0 {
		s.writeError(w, http.StatusConflict, workspace.ErrNoWorkbooks)
		return
	}

	overrides := make([]mapping.Override, len(req.Overrides))
	for i, o := range req.Overrides {
		overrides[i] = mapping.Override{
			Key:     sheet.Key{Workbook: o.Workbook, Sheet: o.Sheet},
			Table:   o.Table,
			Columns: o.Columns,
		}
	}

	tables, err := mapping.ApplyOverrides(c.Proposal, overrides)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	next := c.Clone()
	if err := next.Mapping.Accept(tables); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	next = next.Touch(session.ActionMap)

	if !s.save(w, r, next) {
		return
	}
	s.writeJSON(w, http.StatusOK, mappingView(next))
}

// rules runs one state machine action against a freshly materialized
// engine for the session.
func (s *Server) rules(w http.ResponseWriter, r *http.Request) {
	c, ok := s.load(w, r)
	if !ok {
		return
	}
	var req ruleRequest
	if !s.decode(w, r, &req) {
		return
	}

	var action synth.Action
	switch req.Action {
	case session.ActionGenerate:
		action = synth.Generate{Rule: req.Rule, APIKey: req.APIKey}
	case session.ActionTest:
		action = synth.Test{SQL: req.SQL}
	case session.ActionFix:
		action = synth.Fix{Rule: req.Rule, SQL: req.SQL, Error: req.Error, APIKey: req.APIKey}
	case session.ActionWrite:
		action = synth.Write{SQL: req.SQL}
	}

	ws, err := workspace.Open(r.Context(), s.cfg.Engine, c)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	defer func() { _ = ws.Close() }()

	m := synth.New(s.cfg.Model, ws.Engine, s.cfg.Synth)
	next, out, err := m.Apply(r.Context(), c, action, ws.Descriptor)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	if s.cfg.History != nil {
		if err := s.cfg.History.RecordOutcomes(r.Context(), next, []synth.Outcome{out}); err != nil {
			s.logger.Warn("failed to record history", "error", err)
		}
	}

	if !s.save(w, r, next) {
		return
	}
	s.writeJSON(w, http.StatusOK, ruleResponse{
		Outcome:   out,
		Rule:      next.Rule,
		SQL:       next.SQL,
		LastError: next.LastError,
		Result:    next.LastResult,
	})
}

func (s *Server) prompts(w http.ResponseWriter, r *http.Request) {
	c, ok := s.load(w, r)
	if !ok {
		return
	}
	entries := c.Log.List()
	s.writeJSON(w, http.StatusOK, promptsResponse{Count: len(entries), Entries: entries})
}

func (s *Server) clearPrompts(w http.ResponseWriter, r *http.Request) {
	c, ok := s.load(w, r)
	if !ok {
		return
	}
	c.Log.Clear()
	c = c.Touch(session.ActionClear)
	if !s.save(w, r, c) {
		return
	}
	s.writeJSON(w, http.StatusOK, promptsResponse{Count: 0, Entries: []audit.Entry{}})
}

// download streams the last successful result as CSV or XLSX.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	c, ok := s.load(w, r)
	if !ok {
		return
	}
	var req downloadRequest
	if !s.decode(w, r, &req) {
		return
	}
	if c.LastResult == nil {
		s.writeError(w, http.StatusConflict, errors.New("no query result to download"))
		return
	}

	format := export.FormatCSV
	if req.Format != "" {
		f, err := export.ParseFormat(req.Format)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		format = f
	}

	var buf strings.Builder
	out, err := export.Write(&buf, c.LastResult, format)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	name := export.Filename(req.Name, out.Format, s.now())
	w.Header().Set("Content-Type", out.Format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if out.Warning != "" {
		w.Header().Set("X-Queryx-Warning", out.Warning)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, buf.String())
}

func mappingView(c session.Context) mappingResponse {
	tables := c.Tables()
	return mappingResponse{
		SessionID: c.ID,
		Workbooks: nonNil(c.Workbooks),
		Proposal:  nonNil(c.Proposal),
		Accepted:  nonNil(c.Mapping.Tables()),
		Tables:    nonNil(tables),
		Schema:    schema.Describe(tables),
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// load reads the session, writing a 500 when the store fails.
func (s *Server) load(w http.ResponseWriter, r *http.Request) (session.Context, bool) {
	c, err := s.cfg.Sessions.Load(r)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return session.Context{}, false
	}
	return c, true
}

func (s *Server) save(w http.ResponseWriter, r *http.Request, c session.Context) bool {
	if err := s.cfg.Sessions.Save(w, r, c); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return false
	}
	return true
}

// decode parses and validates a JSON body. An empty body decodes to the
// zero value.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: validationMessage(err), Type: "validation"})
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		modelErr  *synth.ModelError
		ingestErr *engine.IngestionError
		mapErr    *mapping.ValidationError
	)
	switch {
	case errors.As(err, &modelErr):
		return http.StatusBadGateway
	case errors.Is(err, workspace.ErrNoWorkbooks), errors.Is(err, synth.ErrNoExecutionError):
		return http.StatusConflict
	case errors.As(err, &mapErr), errors.As(err, &ingestErr),
		errors.Is(err, sheet.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, synth.ErrEmptyRule), errors.Is(err, synth.ErrEmptySQL):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		resp.Type = string(llmErr.Type)
	}
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, resp)
}
