package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/queryx/internal/adapter"
	"github.com/leapstack-labs/queryx/internal/cli/output"
	"github.com/leapstack-labs/queryx/internal/config"
	"github.com/leapstack-labs/queryx/internal/engine"
	"github.com/leapstack-labs/queryx/internal/llm"
	"github.com/leapstack-labs/queryx/internal/mapping"
	"github.com/leapstack-labs/queryx/internal/metrics"
	"github.com/leapstack-labs/queryx/internal/session"
	"github.com/leapstack-labs/queryx/internal/state"
	"github.com/leapstack-labs/queryx/internal/synth"
	"github.com/leapstack-labs/queryx/internal/workspace"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
	Metrics  *metrics.Recorder
}

// NewCommandContext collects the config and logger stored on the command
// context by the root command.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	ctx := commandCtx(cmd)
	cfg := config.FromContext(ctx)
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(ctx),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.Output)),
		Metrics:  metrics.New(nil),
	}
}

func commandCtx(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// EngineConfig builds the engine configuration.
func (c *CommandContext) EngineConfig() engine.Config {
	return EngineConfig(c.Cfg, c.Logger, c.Metrics)
}

// EngineConfig maps the engine section of cfg onto engine.Config.
func EngineConfig(cfg *config.Config, logger *slog.Logger, rec *metrics.Recorder) engine.Config {
	return engine.Config{
		Adapter: adapter.Config{
			Type:    cfg.Engine.Type,
			Path:    cfg.Engine.Database,
			Options: cfg.Engine.Options,
		},
		QueryTimeout: cfg.Engine.QueryTimeout,
		MaxRows:      cfg.Engine.MaxRows,
		TempDir:      cfg.Engine.TempDir,
		Logger:       logger,
		Metrics:      rec,
	}
}

// LLMConfig maps the llm section of cfg onto llm.Config.
func LLMConfig(cfg *config.Config) llm.Config {
	return llm.Config{
		Provider: cfg.LLM.Provider,
		Endpoint: cfg.LLM.Endpoint,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		Timeout:  cfg.LLM.Timeout,
	}
}

// SynthConfig maps the prompt tuning settings of cfg onto synth.Config.
func SynthConfig(cfg *config.Config, logger *slog.Logger, rec *metrics.Recorder) synth.Config {
	return synth.Config{
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Logger:      logger,
		Metrics:     rec,
	}
}

// newCompleter is replaced in tests.
var newCompleter = llm.New

// Machine creates a state machine executing against exec.
func (c *CommandContext) Machine(exec synth.Executor) (*synth.Machine, error) {
	model, err := newCompleter(LLMConfig(c.Cfg), c.Logger)
	if err != nil {
		return nil, err
	}
	return synth.New(model, exec, SynthConfig(c.Cfg, c.Logger, c.Metrics)), nil
}

// Establish loads the workbooks, applies the overrides file (if any) and
// materializes the accepted mapping.
func (c *CommandContext) Establish(ctx context.Context, paths []string, overridesPath string) (session.Context, *workspace.Workspace, error) {
	var overrides []mapping.Override
	if overridesPath != "" {
		var err error
		if overrides, err = mapping.LoadOverrides(overridesPath); err != nil {
			return session.Context{}, nil, err
		}
	}

	s, w, err := workspace.Establish(ctx, c.EngineConfig(), paths, overrides)
	if err != nil {
		return session.Context{}, nil, fmt.Errorf("failed to establish session: %w", err)
	}
	c.Logger.Debug("session established", "workbooks", len(paths), "tables", len(w.Tables))
	return s, w, nil
}

// addMappingFlags registers the flag shared by commands that materialize.
func addMappingFlags(cmd *cobra.Command, overrides *string) {
	cmd.Flags().StringVar(overrides, "overrides", "", "YAML file with table/column name overrides (see 'queryx map --save')")
}

// OpenHistory opens the run history database. It returns nil when history
// is disabled.
func (c *CommandContext) OpenHistory() (*state.SQLiteStore, error) {
	if c.Cfg.History.Path == "" {
		return nil, nil
	}
	return state.Open(c.Cfg.History.Path, c.Logger)
}

// Record appends what a sequence of actions did to the run history.
// Failures are logged and never fail the command.
func (c *CommandContext) Record(ctx context.Context, s session.Context, outcomes []synth.Outcome) {
	c.withHistory(func(h *state.SQLiteStore) error {
		return h.RecordOutcomes(ctx, s, outcomes)
	})
}

// RecordRun appends a single direct execution to the run history.
func (c *CommandContext) RecordRun(ctx context.Context, run state.Run) {
	c.withHistory(func(h *state.SQLiteStore) error {
		return h.RecordRun(ctx, run)
	})
}

func (c *CommandContext) withHistory(fn func(*state.SQLiteStore) error) {
	h, err := c.OpenHistory()
	if err != nil {
		c.Logger.Warn("history unavailable", "path", c.Cfg.History.Path, "error", err)
		return
	}
	if h == nil {
		return
	}
	defer func() { _ = h.Close() }()
	if err := fn(h); err != nil {
		c.Logger.Warn("failed to record history", "error", err)
	}
}
