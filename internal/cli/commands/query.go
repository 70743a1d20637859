package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/leapstack-labs/queryx/internal/engine"
	"github.com/leapstack-labs/queryx/internal/export"
	"github.com/leapstack-labs/queryx/internal/session"
	"github.com/leapstack-labs/queryx/internal/state"
	"github.com/leapstack-labs/queryx/internal/synth"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	SQL       string
	Input     string
	Format    string
	Export    string
	Overrides string
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query <workbook>...",
		Short: "Run SQL against the tables of one or more workbooks",
		Long: `Materialize the workbooks and run a SQL statement against them.

The SQL is taken from --sql, from --input, or from standard input when it
is piped. With none of these on a terminal, the interactive REPL starts.`,
		Example: `  # Run a statement
  queryx query sales.xlsx --sql "SELECT region, SUM(amount) FROM sales GROUP BY 1"

  # Read SQL from a file, print JSON
  queryx query sales.xlsx -i report.sql --format json

  # Save the result as a spreadsheet
  queryx query sales.xlsx --sql "SELECT * FROM sales" --export results.xlsx`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.SQL, "sql", "e", "", "SQL statement to run")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read SQL from file")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", FormatTable, "Output format: table, json, csv, md")
	cmd.Flags().StringVar(&opts.Export, "export", "", "Also write the result to a .csv or .xlsx file (a directory gets a timestamped name)")
	addMappingFlags(cmd, &opts.Overrides)

	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{FormatTable, FormatJSON, FormatCSV, FormatMarkdown}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runQuery(cmd *cobra.Command, paths []string, opts *QueryOptions) error {
	var sqlQuery string

	switch {
	case opts.SQL != "":
		sqlQuery = opts.SQL
	case opts.Input != "":
		content, err := os.ReadFile(opts.Input)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		sqlQuery = string(content)
	case !isTerminal(cmd.InOrStdin()):
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		sqlQuery = string(content)
	default:
		return runREPL(cmd, paths, &REPLOptions{Format: opts.Format, Overrides: opts.Overrides})
	}

	sqlQuery = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sqlQuery), ";"))
	if sqlQuery == "" {
		return errors.New("no SQL given")
	}

	cmdCtx := NewCommandContext(cmd)
	ctx := cmd.Context()

	sess, w, err := cmdCtx.Establish(ctx, paths, opts.Overrides)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	res, err := w.Engine.Execute(ctx, sqlQuery)
	run := state.Run{SessionID: sess.ID, Action: session.ActionWrite, SQL: sqlQuery, Passed: err == nil, Rows: res.RowCount()}
	if err != nil {
		run.Error = err.Error()
	}
	cmdCtx.RecordRun(ctx, run)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if err := renderResult(cmd.OutOrStdout(), res, opts.Format); err != nil {
		return err
	}

	if opts.Export != "" {
		path, warning, err := exportResult(opts.Export, res, time.Now())
		if err != nil {
			return err
		}
		if warning != "" {
			cmdCtx.Renderer.Warning(warning)
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Exported to %s\n", path)
	}
	return nil
}

// exportResult writes res to target. A directory target receives a
// timestamped file name; otherwise the extension picks the format. When
// XLSX generation falls back to CSV the extension is corrected.
func exportResult(target string, res *engine.Result, now time.Time) (string, string, error) {
	format := export.FormatCSV
	path := target

	if fi, err := os.Stat(target); err == nil && fi.IsDir() {
		path = filepath.Join(target, export.Filename("", format, now))
	} else if ext := strings.TrimPrefix(filepath.Ext(target), "."); ext != "" {
		f, err := export.ParseFormat(ext)
		if err != nil {
			return "", "", err
		}
		format = f
	}

	f, err := os.Create(path) //nolint:gosec // path chosen by the user
	if err != nil {
		return "", "", fmt.Errorf("failed to create export file: %w", err)
	}
	out, err := export.Write(f, res, format)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", "", err
	}

	if out.Format != format {
		fixed := strings.TrimSuffix(path, filepath.Ext(path)) + "." + string(out.Format)
		if err := os.Rename(path, fixed); err != nil {
			return "", "", fmt.Errorf("failed to rename export file: %w", err)
		}
		path = fixed
	}
	return path, out.Warning, nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// executeAndRender runs one statement and renders it, reporting engine
// errors on the error stream instead of failing.
func executeAndRender(ctx context.Context, cmd *cobra.Command, exec synth.Executor, sqlQuery, format string) {
	res, err := exec.Execute(ctx, sqlQuery)
	if err != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return
	}
	if err := renderResult(cmd.OutOrStdout(), res, format); err != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
}
