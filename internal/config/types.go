// Package config loads queryx configuration from defaults, a YAML file,
// QUERYX_ environment variables and command-line flags.
package config

import "time"

// Config holds all queryx configuration.
type Config struct {
	LLM     LLMConfig     `koanf:"llm"`
	Engine  EngineConfig  `koanf:"engine"`
	Server  ServerConfig  `koanf:"server"`
	History HistoryConfig `koanf:"history"`
	Output  string        `koanf:"output" validate:"oneof=auto text table markdown md json csv"`
	Verbose bool          `koanf:"verbose"`

	// File is the config file that was loaded, if any.
	File string `koanf:"-"`
}

// LLMConfig selects and tunes the language model provider.
type LLMConfig struct {
	Provider    string        `koanf:"provider" validate:"oneof=openai anthropic"`
	Endpoint    string        `koanf:"endpoint" validate:"omitempty,url"`
	Model       string        `koanf:"model" validate:"required"`
	APIKey      string        `koanf:"api_key"`
	MaxTokens   int           `koanf:"max_tokens" validate:"gt=0"`
	Temperature float64       `koanf:"temperature" validate:"gte=0,lte=2"`
	Timeout     time.Duration `koanf:"timeout"`
}

// EngineConfig configures the analytic engine tables are materialized into.
type EngineConfig struct {
	Type         string            `koanf:"type"`
	Database     string            `koanf:"database"`
	Options      map[string]string `koanf:"options"`
	QueryTimeout time.Duration     `koanf:"query_timeout"`
	MaxRows      int               `koanf:"max_rows" validate:"gte=0"`
	TempDir      string            `koanf:"temp_dir"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port          int    `koanf:"port" validate:"gte=1,lte=65535"`
	SessionSecret string `koanf:"session_secret"`
	SessionDir    string `koanf:"session_dir"`
	UploadDir     string `koanf:"upload_dir"`
	MaxUploadMB   int    `koanf:"max_upload_mb" validate:"gt=0"`
}

// HistoryConfig locates the SQLite run history. An empty Path disables it.
type HistoryConfig struct {
	Path string `koanf:"path"`
}

// Default configuration values.
const (
	DefaultProvider     = "openai"
	DefaultModel        = "gpt-3.5-turbo"
	DefaultMaxTokens    = 512
	DefaultTemperature  = 0.1
	DefaultLLMTimeout   = 60 * time.Second
	DefaultEngineType   = "duckdb"
	DefaultQueryTimeout = 30 * time.Second
	DefaultMaxRows      = 10000
	DefaultPort         = 8080
	DefaultSessionDir   = ".queryx/sessions"
	DefaultUploadDir    = ".queryx/uploads"
	DefaultMaxUploadMB  = 32
	DefaultHistoryPath  = ".queryx/history.db"
	DefaultOutput       = "auto" // Auto-detect: TTY=text, non-TTY=markdown

	ConfigFileName    = "queryx.yaml"
	ConfigFileNameAlt = "queryx.yml"
	EnvPrefix         = "QUERYX_"
)

// Defaults returns the configuration used when nothing else is set.
func Defaults() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    DefaultProvider,
			Model:       DefaultModel,
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
			Timeout:     DefaultLLMTimeout,
		},
		Engine: EngineConfig{
			Type:         DefaultEngineType,
			QueryTimeout: DefaultQueryTimeout,
			MaxRows:      DefaultMaxRows,
		},
		Server: ServerConfig{
			Port:        DefaultPort,
			SessionDir:  DefaultSessionDir,
			UploadDir:   DefaultUploadDir,
			MaxUploadMB: DefaultMaxUploadMB,
		},
		History: HistoryConfig{Path: DefaultHistoryPath},
		Output:  DefaultOutput,
	}
}

func defaultsMap() map[string]any {
	d := Defaults()
	return map[string]any{
		"llm.provider":         d.LLM.Provider,
		"llm.model":            d.LLM.Model,
		"llm.max_tokens":       d.LLM.MaxTokens,
		"llm.temperature":      d.LLM.Temperature,
		"llm.timeout":          d.LLM.Timeout.String(),
		"engine.type":          d.Engine.Type,
		"engine.database":      "",
		"engine.query_timeout": d.Engine.QueryTimeout.String(),
		"engine.max_rows":      d.Engine.MaxRows,
		"server.port":          d.Server.Port,
		"server.session_dir":   d.Server.SessionDir,
		"server.upload_dir":    d.Server.UploadDir,
		"server.max_upload_mb": d.Server.MaxUploadMB,
		"history.path":         d.History.Path,
		"output":               d.Output,
		"verbose":              false,
	}
}
