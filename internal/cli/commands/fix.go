package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/leapstack-labs/queryx/internal/synth"
	"github.com/spf13/cobra"
)

// FixOptions holds options for the fix command.
type FixOptions struct {
	Rule      string
	SQL       string
	Input     string
	Error     string
	APIKey    string
	Format    string
	Overrides string
	ShowLog   bool
}

// NewFixCommand creates the fix command.
func NewFixCommand() *cobra.Command {
	opts := &FixOptions{}

	cmd := &cobra.Command{
		Use:   "fix <workbook>... --rule <text> --sql <query>",
		Short: "Have the model repair a failing query",
		Long: `Run the given SQL against the workbook tables and, if it fails, send the
rule, the SQL and the engine error to the model for a corrected query.
The corrected query is then tested.

Pass --error to supply the error message yourself instead of running the
query first.`,
		Example: `  queryx fix sales.xlsx --rule "total per region" --sql "SELECT region, SUM(amt) FROM sales GROUP BY 1"
  queryx fix sales.xlsx --rule "total per region" -i broken.sql --error "column amt not found"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFix(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Rule, "rule", "r", "", "Plain-language description of the query (required)")
	cmd.Flags().StringVarP(&opts.SQL, "sql", "e", "", "The SQL to repair")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read the SQL to repair from file")
	cmd.Flags().StringVar(&opts.Error, "error", "", "Engine error to report instead of running the SQL")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", "", "API key for this call only (default: llm.api_key)")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", FormatTable, "Result format: table, json, csv, md")
	cmd.Flags().BoolVar(&opts.ShowLog, "show-log", false, "Print the prompt log afterwards")
	addMappingFlags(cmd, &opts.Overrides)
	_ = cmd.MarkFlagRequired("rule")

	return cmd
}

func runFix(cmd *cobra.Command, paths []string, opts *FixOptions) error {
	sqlText, err := readSQL(opts.SQL, opts.Input)
	if err != nil {
		return err
	}
	if sqlText == "" {
		return synth.ErrEmptySQL
	}

	cmdCtx := NewCommandContext(cmd)
	ctx := cmd.Context()

	s, w, err := cmdCtx.Establish(ctx, paths, opts.Overrides)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	m, err := cmdCtx.Machine(w.Engine)
	if err != nil {
		return err
	}

	s.Rule = opts.Rule
	var outcomes []synth.Outcome

	if opts.Error == "" {
		next, out, err := m.Apply(ctx, s, synth.Test{SQL: sqlText}, w.Descriptor)
		outcomes = append(outcomes, out)
		if err != nil {
			return reportOutcomes(cmdCtx.Renderer, s, outcomes, opts.Format, opts.ShowLog, err)
		}
		s = next
		if out.Passed() {
			cmdCtx.Record(ctx, s, outcomes)
			cmdCtx.Renderer.Muted("The query already runs; nothing to fix.")
			return reportOutcomes(cmdCtx.Renderer, s, outcomes, opts.Format, opts.ShowLog, nil)
		}
	}

	next, out, err := m.Apply(ctx, s, synth.Fix{Rule: opts.Rule, SQL: sqlText, Error: opts.Error, APIKey: opts.APIKey}, w.Descriptor)
	outcomes = append(outcomes, out)
	if err != nil {
		cmdCtx.Record(ctx, s, outcomes)
		return reportOutcomes(cmdCtx.Renderer, s, outcomes, opts.Format, opts.ShowLog, err)
	}
	s = next

	next, out, err = m.Apply(ctx, s, synth.Test{}, w.Descriptor)
	outcomes = append(outcomes, out)
	if err == nil {
		s = next
	}
	cmdCtx.Record(ctx, s, outcomes)
	return reportOutcomes(cmdCtx.Renderer, s, outcomes, opts.Format, opts.ShowLog, err)
}

// readSQL returns inline SQL, or the contents of file when inline is empty.
func readSQL(inline, file string) (string, error) {
	if inline == "" && file != "" {
		content, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
		inline = string(content)
	}
	if inline == "" && file == "" {
		return "", errors.New("give the SQL with --sql or --input")
	}
	return strings.TrimSpace(inline), nil
}
