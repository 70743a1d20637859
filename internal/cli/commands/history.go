package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/queryx/internal/cli/output"
	"github.com/leapstack-labs/queryx/internal/state"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Limit   int
	Prompts bool
	Format  string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent query runs or model prompts",
		Long: `Show what earlier ask, fix, query and repl sessions did. Runs are kept in
the history database (history.path, default .queryx/history.db).`,
		Example: `  queryx history
  queryx history --prompts --limit 5
  queryx history --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Number of entries to show")
	cmd.Flags().BoolVar(&opts.Prompts, "prompts", false, "Show model prompts instead of runs")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", FormatTable, "Output format: table, json")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	if opts.Limit <= 0 {
		return errors.New("--limit must be positive")
	}

	cmdCtx := NewCommandContext(cmd)
	h, err := cmdCtx.OpenHistory()
	if err != nil {
		return err
	}
	if h == nil {
		return errors.New("history is disabled (history.path is empty)")
	}
	defer func() { _ = h.Close() }()

	ctx := cmd.Context()
	asJSON := opts.Format == FormatJSON || cmdCtx.Renderer.EffectiveMode() == output.ModeJSON

	if opts.Prompts {
		prompts, err := h.ListPrompts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if asJSON {
			if prompts == nil {
				prompts = []state.Prompt{}
			}
			return cmdCtx.Renderer.JSON(prompts)
		}
		renderPromptHistory(cmd.OutOrStdout(), prompts)
		return nil
	}

	runs, err := h.ListRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if asJSON {
		if runs == nil {
			runs = []state.Run{}
		}
		return cmdCtx.Renderer.JSON(runs)
	}
	renderRunHistory(cmd.OutOrStdout(), runs)
	return nil
}

func renderRunHistory(w io.Writer, runs []state.Run) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "(no runs recorded)")
		return
	}
	t := newTable(w, []string{"time", "action", "status", "rows", "rule", "sql"})
	for _, r := range runs {
		status := "ok"
		if !r.Passed {
			status = "failed"
		}
		t.AppendRow(table.Row{
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Action, status, r.Rows, r.Rule, oneLine(r.SQL, 60),
		})
	}
	t.Render()
}

func renderPromptHistory(w io.Writer, prompts []state.Prompt) {
	if len(prompts) == 0 {
		_, _ = fmt.Fprintln(w, "(no prompts recorded)")
		return
	}
	t := newTable(w, []string{"time", "kind", "model", "tokens", "rule"})
	for _, p := range prompts {
		t.AppendRow(table.Row{
			p.Timestamp.Local().Format("2006-01-02 15:04:05"),
			p.Kind.Label(), p.Model, p.Tokens(), oneLine(p.Rule, 60),
		})
	}
	t.Render()
}

// oneLine collapses whitespace and shortens s to at most n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
