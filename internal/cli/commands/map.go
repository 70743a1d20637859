package commands

import (
	"fmt"

	"github.com/leapstack-labs/queryx/internal/cli/output"
	"github.com/leapstack-labs/queryx/internal/mapping"
	"github.com/leapstack-labs/queryx/internal/schema"
	"github.com/leapstack-labs/queryx/internal/workspace"
	"github.com/spf13/cobra"
)

// MapOptions holds options for the map command.
type MapOptions struct {
	Overrides string
	Save      string
}

// NewMapCommand creates the map command.
func NewMapCommand() *cobra.Command {
	opts := &MapOptions{}

	cmd := &cobra.Command{
		Use:   "map <workbook>...",
		Short: "Show the table and column names derived from workbooks",
		Long: `Read the workbooks and print the proposed mapping from sheets to tables.

Every sheet becomes a table and every header cell a column. Names are
lower-cased, spaces and hyphens become underscores, other punctuation is
dropped, and duplicates get _2, _3 suffixes.

Use --save to write the proposal as an overrides file, edit the names,
and pass it back with --overrides to any command.`,
		Example: `  # Show the proposal
  queryx map sales.xlsx regions.csv

  # Save it for editing
  queryx map sales.xlsx --save mapping.yaml

  # Check edited names
  queryx map sales.xlsx --overrides mapping.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMap(cmd, args, opts)
		},
	}

	addMappingFlags(cmd, &opts.Overrides)
	cmd.Flags().StringVar(&opts.Save, "save", "", "Write the mapping to an overrides YAML file")

	return cmd
}

func runMap(cmd *cobra.Command, paths []string, opts *MapOptions) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	_, tables, err := workspace.Propose(paths)
	if err != nil {
		return err
	}

	if opts.Overrides != "" {
		overrides, err := mapping.LoadOverrides(opts.Overrides)
		if err != nil {
			return err
		}
		if tables, err = mapping.ApplyOverrides(tables, overrides); err != nil {
			return err
		}
	}
	if err := mapping.Validate(tables); err != nil {
		return fmt.Errorf("invalid mapping: %w", err)
	}

	if opts.Save != "" {
		if err := mapping.SaveOverrides(opts.Save, tables); err != nil {
			return err
		}
	}

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(tables)
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, "Mapping"))
		r.Println("")
		renderMapping(r.Writer(), tables, true)
		r.Println("")
		r.Println(output.FormatHeader(2, "Schema"))
		r.Code("", schema.Describe(tables))
	default:
		renderMapping(r.Writer(), tables, false)
		r.Println("")
		r.Muted(schema.Describe(tables))
	}

	if opts.Save != "" {
		r.Success(fmt.Sprintf("Mapping saved to %s", opts.Save))
	}
	return nil
}
