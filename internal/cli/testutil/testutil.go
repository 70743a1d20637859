// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/queryx/internal/cli/output"
	"github.com/leapstack-labs/queryx/internal/testutil"
)

// TestWorkspace is a temporary directory holding workbooks and a config file.
type TestWorkspace struct {
	Dir     string
	Sales   string
	Regions string
	Config  string
}

// SetupTestWorkspace creates sales.xlsx, regions.csv and a queryx.yaml
// pointing the engine at an in-memory database.
func SetupTestWorkspace(t *testing.T) *TestWorkspace {
	t.Helper()

	dir := t.TempDir()
	ws := &TestWorkspace{
		Dir:     dir,
		Sales:   testutil.SalesWorkbook(t, dir),
		Regions: filepath.Join(dir, "regions.csv"),
		Config:  filepath.Join(dir, "queryx.yaml"),
	}

	regions := "Region,Manager Name\nnorth,Alice\nsouth,Bob\n"
	if err := os.WriteFile(ws.Regions, []byte(regions), 0o600); err != nil {
		t.Fatalf("failed to create regions.csv: %v", err)
	}

	cfg := `llm:
  provider: openai
  model: test-model
engine:
  database: ":memory:"
  max_rows: 100
`
	if err := os.WriteFile(ws.Config, []byte(cfg), 0o600); err != nil {
		t.Fatalf("failed to create queryx.yaml: %v", err)
	}

	return ws
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
// Output is captured in buffers for inspection.
func NewTestRenderer(mode output.OutputMode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// NewTestRendererText creates a new test renderer in text mode (simulated TTY).
func NewTestRendererText() *TestRenderer {
	return NewTestRenderer(output.ModeText, true)
}

// NewTestRendererMarkdown creates a new test renderer in markdown mode.
func NewTestRendererMarkdown() *TestRenderer {
	return NewTestRenderer(output.ModeMarkdown, false)
}

// Output returns the stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertValidMarkdown performs basic markdown validation.
// It checks for unclosed code fences and empty headers.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	fenceCount := strings.Count(md, "```")
	if fenceCount%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", fenceCount)
	}

	for i, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}
