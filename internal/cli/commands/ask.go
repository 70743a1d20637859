package commands

import (
	"errors"
	"strings"

	"github.com/leapstack-labs/queryx/internal/audit"
	"github.com/leapstack-labs/queryx/internal/cli/output"
	"github.com/leapstack-labs/queryx/internal/engine"
	"github.com/leapstack-labs/queryx/internal/session"
	"github.com/leapstack-labs/queryx/internal/synth"
	"github.com/spf13/cobra"
)

// AskOptions holds options for the ask command.
type AskOptions struct {
	Rule      string
	MaxFixes  int
	APIKey    string
	Format    string
	Overrides string
	ShowLog   bool
}

// NewAskCommand creates the ask command.
func NewAskCommand() *cobra.Command {
	opts := &AskOptions{}

	cmd := &cobra.Command{
		Use:   "ask <workbook>... --rule <text>",
		Short: "Have the model write SQL for a plain-language rule and run it",
		Long: `Describe what you want in plain language. The model writes a DuckDB query
against the workbook tables, the query is run, and if it fails the model
is shown the error and asked for a fix, up to --max-fixes times.

Every model call is recorded in the prompt log (--show-log).`,
		Example: `  queryx ask sales.xlsx --rule "total amount per region, largest first"
  queryx ask sales.xlsx --rule "rows with a negative amount" --max-fixes 0 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Rule, "rule", "r", "", "Plain-language description of the query (required)")
	cmd.Flags().IntVar(&opts.MaxFixes, "max-fixes", 2, "Fix attempts after a failing test")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", "", "API key for this call only (default: llm.api_key)")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", FormatTable, "Result format: table, json, csv, md")
	cmd.Flags().BoolVar(&opts.ShowLog, "show-log", false, "Print the prompt log afterwards")
	addMappingFlags(cmd, &opts.Overrides)
	_ = cmd.MarkFlagRequired("rule")

	return cmd
}

func runAsk(cmd *cobra.Command, paths []string, opts *AskOptions) error {
	if strings.TrimSpace(opts.Rule) == "" {
		return synth.ErrEmptyRule
	}
	if opts.MaxFixes < 0 {
		return errors.New("--max-fixes must not be negative")
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

	s, outcomes, err := m.Solve(ctx, s, opts.Rule, opts.APIKey, w.Descriptor, opts.MaxFixes)
	cmdCtx.Record(ctx, s, outcomes)
	return reportOutcomes(cmdCtx.Renderer, s, outcomes, opts.Format, opts.ShowLog, err)
}

// runReport is the machine-readable summary of a run.
type runReport struct {
	Rule     string          `json:"rule"`
	SQL      string          `json:"sql"`
	Passed   bool            `json:"passed"`
	Error    string          `json:"error,omitempty"`
	Result   *engine.Result  `json:"result,omitempty"`
	Outcomes []synth.Outcome `json:"outcomes"`
	Log      []audit.Entry   `json:"log,omitempty"`
}

// reportOutcomes prints what happened. A model error is returned after
// the partial progress has been shown; a query that still fails is
// reported but is not a command error.
func reportOutcomes(r *output.Renderer, s session.Context, outcomes []synth.Outcome, format string, showLog bool, runErr error) error {
	passed := len(outcomes) > 0 && outcomes[len(outcomes)-1].Passed()

	if format == FormatJSON || r.EffectiveMode() == output.ModeJSON {
		rep := runReport{Rule: s.Rule, SQL: s.SQL, Passed: passed, Error: s.LastError, Result: s.LastResult, Outcomes: outcomes}
		if showLog {
			rep.Log = s.Log.List()
		}
		if runErr != nil {
			rep.Error = runErr.Error()
		}
		if err := r.JSON(rep); err != nil {
			return err
		}
		return runErr
	}

	for _, o := range outcomes {
		switch o.Action {
		case session.ActionGenerate, session.ActionFix:
			r.Header(2, actionTitle(o.Action))
			r.Code("sql", o.SQL)
		default:
			if o.Passed() {
				r.Success("Query ran successfully")
			} else if o.ExecError != "" {
				r.Error("Query failed: " + o.ExecError)
			}
		}
	}

	if runErr != nil {
		return runErr
	}

	if passed && s.LastResult != nil {
		r.Println("")
		if err := renderResult(r.Writer(), s.LastResult, format); err != nil {
			return err
		}
	}

	if showLog {
		r.Println("")
		r.Header(2, "Prompt log")
		renderLog(r.Writer(), s.Log.List(), true)
	}
	return nil
}

func actionTitle(action string) string {
	switch action {
	case session.ActionFix:
		return "Fixed SQL"
	default:
		return "Generated SQL"
	}
}
