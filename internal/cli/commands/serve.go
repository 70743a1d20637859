package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/queryx/internal/config"
	"github.com/leapstack-labs/queryx/internal/metrics"
	"github.com/leapstack-labs/queryx/internal/server"
	"github.com/leapstack-labs/queryx/internal/session"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Port       int
	UploadDir  string
	SessionDir string
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start an HTTP server exposing queryx sessions.

Endpoints:
- POST /upload          upload workbooks (multipart field "files")
- GET|POST /mapping     review or override the proposed mapping
- POST /rules           generate, test, fix or write SQL
- GET /prompts          list the prompt log
- POST /prompts/clear   clear the prompt log
- POST /download        download the last result as CSV or XLSX
- GET /healthz, /metrics`,
		Example: `  # Start on the configured port
  queryx serve

  # Start on a custom port
  queryx serve --port 3000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 0, fmt.Sprintf("Port to serve on (default: %d)", config.DefaultPort))
	cmd.Flags().StringVar(&opts.UploadDir, "upload-dir", "", "Directory for uploaded workbooks")
	cmd.Flags().StringVar(&opts.SessionDir, "session-dir", "", "Directory for session files")

	return cmd
}

func runServe(cmd *cobra.Command) error {
	cc := NewCommandContext(cmd)
	cfg := cc.Cfg

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.New(reg)

	secret := cfg.Server.SessionSecret
	if secret == "" {
		secret = uuid.NewString()
		cc.Logger.Warn("no session secret configured, sessions will not survive a restart",
			"env", config.EnvPrefix+"SERVER__SESSION_SECRET")
	}
	if err := os.MkdirAll(cfg.Server.SessionDir, 0o750); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	store, err := session.NewFilesystemStore(cfg.Server.SessionDir, []byte(secret))
	if err != nil {
		return err
	}

	model, err := newCompleter(LLMConfig(cfg), cc.Logger)
	if err != nil {
		return err
	}

	var recorder server.Recorder
	history, err := cc.OpenHistory()
	if err != nil {
		cc.Logger.Warn("history unavailable", "path", cfg.History.Path, "error", err)
	} else if history != nil {
		defer func() { _ = history.Close() }()
		recorder = history
	}

	srv := server.New(server.Config{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		UploadDir:      cfg.Server.UploadDir,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		Sessions:       store,
		Engine:         EngineConfig(cfg, cc.Logger, rec),
		Model:          model,
		Synth:          SynthConfig(cfg, cc.Logger, rec),
		History:        recorder,
		Gatherer:       reg,
		Logger:         cc.Logger,
	})

	cc.Renderer.Printf("Starting server on http://localhost:%d\n", cfg.Server.Port)
	cc.Renderer.Muted("Press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(commandCtx(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx)
}
