package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/fsnotify/fsnotify"
	"github.com/leapstack-labs/queryx/internal/llm"
	"github.com/leapstack-labs/queryx/internal/session"
	"github.com/leapstack-labs/queryx/internal/synth"
	"github.com/leapstack-labs/queryx/internal/workspace"
	"github.com/spf13/cobra"
)

const (
	replPrompt     = "queryx> "
	replContPrompt = "   ...> "
	watchDebounce  = 100 * time.Millisecond
)

// REPLOptions holds options for the repl command.
type REPLOptions struct {
	Format    string
	Overrides string
	APIKey    string
	MaxFixes  int
	Watch     bool
}

// NewREPLCommand creates the repl command.
func NewREPLCommand() *cobra.Command {
	opts := &REPLOptions{}

	cmd := &cobra.Command{
		Use:   "repl <workbook>...",
		Short: "Interactive session over the workbook tables",
		Long: `Start an interactive session. SQL statements ending in ';' are run
directly; 'ask <rule>' has the model write the query, 'fix' has it repair
the last failing one. Type .help for all commands.

With --watch, the tables are rebuilt whenever a workbook changes on disk.`,
		Example: `  queryx repl sales.xlsx
  queryx repl sales.xlsx regions.csv --watch --overrides mapping.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", FormatTable, "Result format: table, json, csv, md")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", "", "API key for model calls (default: llm.api_key)")
	cmd.Flags().IntVar(&opts.MaxFixes, "max-fixes", 2, "Fix attempts after a failing test in 'ask'")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "Rebuild tables when a workbook changes")
	addMappingFlags(cmd, &opts.Overrides)

	return cmd
}

// repl is the interactive session state. Lines are handled one at a time;
// the watcher may swap the workspace between them.
type repl struct {
	cmd    *cobra.Command
	cmdCtx *CommandContext
	paths  []string
	opts   *REPLOptions
	out    io.Writer
	errOut io.Writer

	model llm.Completer

	mu      sync.Mutex
	sess    session.Context
	ws      *workspace.Workspace
	machine *synth.Machine
}

func newREPL(ctx context.Context, cmd *cobra.Command, paths []string, opts *REPLOptions) (*repl, error) {
	cmdCtx := NewCommandContext(cmd)
	model, err := newCompleter(LLMConfig(cmdCtx.Cfg), cmdCtx.Logger)
	if err != nil {
		return nil, err
	}

	r := &repl{
		cmd:    cmd,
		cmdCtx: cmdCtx,
		paths:  paths,
		opts:   opts,
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
		model:  model,
	}
	if err := r.reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// reload re-reads the workbooks into a fresh engine. The rule, SQL, last
// execution error and prompt log carry over, so fix still works after a
// rebuild.
func (r *repl) reload(ctx context.Context) error {
	s, w, err := r.cmdCtx.Establish(ctx, r.paths, r.opts.Overrides)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ws != nil {
		s.ID = r.sess.ID
		s.CreatedAt = r.sess.CreatedAt
		s.Rule = r.sess.Rule
		s.SQL = r.sess.SQL
		s.LastError = r.sess.LastError
		s.Log = r.sess.Log
		_ = r.ws.Close()
	}
	r.sess = s
	r.ws = w
	r.machine = synth.New(r.model, w.Engine, SynthConfig(r.cmdCtx.Cfg, r.cmdCtx.Logger, r.cmdCtx.Metrics))
	return nil
}

func (r *repl) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ws != nil {
		_ = r.ws.Close()
		r.ws = nil
	}
}

func runREPL(cmd *cobra.Command, paths []string, opts *REPLOptions) error {
	ctx, cancel := context.WithCancel(commandCtx(cmd))
	defer cancel()

	r, err := newREPL(ctx, cmd, paths, opts)
	if err != nil {
		return err
	}
	defer r.close()

	if opts.Watch {
		go func() {
			if err := r.watch(ctx); err != nil {
				r.cmdCtx.Logger.Error("watcher stopped", "error", err)
			}
		}()
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile(r.cmdCtx.Cfg.Server.SessionDir),
		AutoComplete:    r.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
		Stdin:           io.NopCloser(cmd.InOrStdin()),
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintf(r.out, "queryx REPL (%d tables from %d workbooks)\n", len(r.ws.Tables), len(paths))
	_, _ = fmt.Fprintln(r.out, "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(r.out)

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Commands only at the start of a statement.
		if buf.Len() == 0 && !looksLikeSQL(line) {
			if quit := r.handle(ctx, line); quit {
				break
			}
			continue
		}

		buf.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			buf.WriteString("\n")
			rl.SetPrompt(replContPrompt)
			continue
		}
		rl.SetPrompt(replPrompt)

		stmt := buf.String()
		buf.Reset()
		r.handle(ctx, stmt)
		_, _ = fmt.Fprintln(r.out)
	}
	return nil
}

// looksLikeSQL reports whether line starts a SQL statement rather than a
// REPL command.
func looksLikeSQL(line string) bool {
	if strings.HasPrefix(line, ".") {
		return false
	}
	word := strings.ToLower(strings.Fields(line)[0])
	return word != "ask" && word != "fix"
}

func historyFile(sessionDir string) string {
	dir := filepath.Dir(sessionDir)
	if dir == "" || dir == "." {
		dir = ".queryx"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return ""
	}
	return filepath.Join(dir, "repl_history")
}

// handle runs one command or statement and reports whether to quit.
func (r *repl) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	// reload takes the lock itself.
	if strings.ToLower(fields[0]) == ".reload" {
		if err := r.reload(ctx); err != nil {
			_, _ = fmt.Fprintf(r.errOut, "Error: %v\n", err)
		} else {
			_, _ = fmt.Fprintln(r.out, "Tables rebuilt")
		}
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch word := strings.ToLower(fields[0]); word {
	case ".quit", ".exit":
		return true
	case ".help":
		printREPLHelp(r.out)
	case ".tables":
		for _, t := range r.ws.Tables {
			_, _ = fmt.Fprintf(r.out, "%s  (%d rows)\n", t.Name, t.RowCount)
		}
	case ".schema":
		if len(fields) > 1 {
			r.describe(ctx, fields[1])
		} else {
			_, _ = fmt.Fprintln(r.out, r.ws.Descriptor)
		}
	case ".sql":
		if r.sess.SQL == "" {
			_, _ = fmt.Fprintln(r.out, "(no SQL yet)")
		} else {
			_, _ = fmt.Fprintln(r.out, r.sess.SQL)
		}
	case ".log":
		renderLog(r.out, r.sess.Log.List(), len(fields) > 1 && fields[1] == "full")
	case ".clearlog":
		r.sess.Log.Clear()
		r.sess = r.sess.Touch(session.ActionClear)
		_, _ = fmt.Fprintln(r.out, "Prompt log cleared")
	case "ask":
		rule := strings.TrimSpace(line[len(fields[0]):])
		s, outcomes, err := r.machine.Solve(ctx, r.sess, rule, r.opts.APIKey, r.ws.Descriptor, r.opts.MaxFixes)
		r.sess = s
		r.cmdCtx.Record(ctx, s, outcomes)
		r.report(outcomes, err)
	case "fix":
		r.fix(ctx)
	default:
		if strings.HasPrefix(word, ".") {
			_, _ = fmt.Fprintf(r.errOut, "Unknown command: %s (type .help for commands)\n", word)
			return false
		}
		stmt := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), ";"))
		s, out, err := r.machine.Apply(ctx, r.sess, synth.Write{SQL: stmt}, r.ws.Descriptor)
		if err == nil {
			r.sess = s
			r.cmdCtx.Record(ctx, s, []synth.Outcome{out})
		}
		r.report([]synth.Outcome{out}, err)
	}
	return false
}

func (r *repl) fix(ctx context.Context) {
	var outcomes []synth.Outcome
	s, out, err := r.machine.Apply(ctx, r.sess, synth.Fix{APIKey: r.opts.APIKey}, r.ws.Descriptor)
	outcomes = append(outcomes, out)
	if err == nil {
		r.sess = s
		s, out, err = r.machine.Apply(ctx, r.sess, synth.Test{}, r.ws.Descriptor)
		outcomes = append(outcomes, out)
		if err == nil {
			r.sess = s
		}
	}
	r.cmdCtx.Record(ctx, r.sess, outcomes)
	r.report(outcomes, err)
}

// describe prints a table's columns with the types the engine inferred.
func (r *repl) describe(ctx context.Context, table string) {
	meta, err := r.ws.Engine.TableInfo(ctx, table)
	if err != nil {
		names, lerr := r.ws.Engine.Tables(ctx)
		if lerr != nil {
			_, _ = fmt.Fprintf(r.errOut, "Error: %v\n", err)
			return
		}
		_, _ = fmt.Fprintf(r.errOut, "Unknown table: %s (tables: %s)\n", table, strings.Join(names, ", "))
		return
	}
	for _, c := range meta.Columns {
		_, _ = fmt.Fprintf(r.out, "  %-24s %s\n", c.Name, c.Type)
	}
	_, _ = fmt.Fprintf(r.out, "(%d rows)\n", meta.RowCount)
}

func (r *repl) report(outcomes []synth.Outcome, err error) {
	for _, o := range outcomes {
		switch o.Action {
		case session.ActionGenerate, session.ActionFix:
			if o.SQL != "" {
				_, _ = fmt.Fprintf(r.out, "-- %s\n%s\n", actionTitle(o.Action), o.SQL)
			}
		default:
			if o.Passed() && o.Result != nil {
				if rerr := renderResult(r.out, o.Result, r.opts.Format); rerr != nil {
					_, _ = fmt.Fprintf(r.errOut, "Error: %v\n", rerr)
				}
			} else if o.ExecError != "" {
				_, _ = fmt.Fprintf(r.errOut, "Error: %s\n", o.ExecError)
			}
		}
	}
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "Error: %v\n", err)
		if errors.Is(err, synth.ErrNoExecutionError) {
			_, _ = fmt.Fprintln(r.errOut, "Run a query that fails before asking for a fix.")
		}
	}
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  ask <rule>      Have the model write and run a query for <rule>
  fix             Have the model repair the last failing query
  <SQL>;          Run a statement directly
  .tables         List tables with row counts
  .schema         Show the schema given to the model
  .schema <table> Show a table's columns and inferred types
  .sql            Show the current query
  .log [full]     Show the prompt log (full: with prompts and responses)
  .clearlog       Clear the prompt log
  .reload         Rebuild the tables from the workbooks
  .help           Show this help message
  .quit / .exit   Exit the REPL

Tips:
  - SQL statements must end with a semicolon (;)
  - Use arrow keys to navigate history
  - Tab completion works for table names
`
	_, _ = fmt.Fprintln(w, help)
}

// completer offers table names and dot-commands.
func (r *repl) completer() *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	for _, t := range r.ws.Tables {
		items = append(items, readline.PcItem(t.Name))
	}
	for _, c := range []string{".help", ".tables", ".schema", ".sql", ".log", ".clearlog", ".reload", ".quit", ".exit", "ask", "fix"} {
		items = append(items, readline.PcItem(c))
	}
	return readline.NewPrefixCompleter(items...)
}

// watch rebuilds the tables when one of the workbooks changes.
func (r *repl) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Editors often replace files, so watch the directories.
	files := make(map[string]bool, len(r.paths))
	dirs := make(map[string]bool)
	for _, p := range r.paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			r.cmdCtx.Logger.Error("failed to watch directory", "dir", dir, "error", err)
		}
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || !files[name] {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watchDebounce, func() {
				if ctx.Err() != nil {
					return
				}
				r.cmdCtx.Logger.Debug("workbook changed, rebuilding tables", "file", name)
				if err := r.reload(ctx); err != nil {
					_, _ = fmt.Fprintf(r.errOut, "\nReload failed: %v\n", err)
					return
				}
				_, _ = fmt.Fprintf(r.out, "\nTables rebuilt (%s changed)\n", filepath.Base(name))
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.cmdCtx.Logger.Error("watcher error", "error", err)
		}
	}
}
