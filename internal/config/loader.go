package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// flagKeys maps command-line flag names to config keys. Flags not listed
// map to their own name with dashes turned into underscores.
var flagKeys = map[string]string{
	"provider":      "llm.provider",
	"endpoint":      "llm.endpoint",
	"model":         "llm.model",
	"api-key":       "llm.api_key",
	"max-tokens":    "llm.max_tokens",
	"temperature":   "llm.temperature",
	"engine":        "engine.type",
	"database":      "engine.database",
	"query-timeout": "engine.query_timeout",
	"max-rows":      "engine.max_rows",
	"port":          "server.port",
	"upload-dir":    "server.upload_dir",
	"session-dir":   "server.session_dir",
	"history-db":    "history.path",
}

// flagAllowed lists the flags that may override config. Everything else
// (command-specific switches like --save or --watch) is ignored.
func flagAllowed(name string) bool {
	if _, ok := flagKeys[name]; ok {
		return true
	}
	return name == "verbose" || name == "output"
}

// Load builds the configuration.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	used := cfgFile
	if used == "" {
		if cwd, err := os.Getwd(); err == nil {
			used = findConfigUpward(cwd)
		}
	}
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	// 3. Environment (QUERYX_LLM__API_KEY -> llm.api_key)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags that were explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed || !flagAllowed(f.Name) {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.File = used
	cfg.LLM.APIKey = expandEnvVars(cfg.LLM.APIKey)
	cfg.LLM.Endpoint = expandEnvVars(cfg.LLM.Endpoint)
	cfg.Server.SessionSecret = expandEnvVars(cfg.Server.SessionSecret)
	cfg.Engine.Database = expandEnvVars(cfg.Engine.Database)
	cfg.Engine.Type = strings.ToLower(cfg.Engine.Type)
	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)

	// Paths from the config file are relative to it.
	if used != "" {
		base := filepath.Dir(used)
		if !flagChanged(flags, "database") && cfg.Engine.Database != ":memory:" {
			cfg.Engine.Database = resolvePathRelativeTo(cfg.Engine.Database, base)
		}
		if !flagChanged(flags, "session-dir") {
			cfg.Server.SessionDir = resolvePathRelativeTo(cfg.Server.SessionDir, base)
		}
		if !flagChanged(flags, "upload-dir") {
			cfg.Server.UploadDir = resolvePathRelativeTo(cfg.Server.UploadDir, base)
		}
		if !flagChanged(flags, "history-db") {
			cfg.History.Path = resolvePathRelativeTo(cfg.History.Path, base)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func flagChanged(flags *pflag.FlagSet, name string) bool {
	return flags != nil && flags.Changed(name)
}

// configIn returns the config file in dir, or "".
func configIn(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// findConfigUpward searches upward from startDir for a queryx config file.
func findConfigUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if p := configIn(dir); p != "" {
			return p
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns with environment variable values.
// Unset variables are left as written.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val := os.Getenv(match[2 : len(match)-1]); val != "" {
			return val
		}
		return match
	})
}
