package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/leapstack-labs/queryx/internal/adapter"
)

var validate = validator.New()

// Validate checks field ranges and that the engine type has a registered adapter.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (got %v)", configPath(fe.Namespace()), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !adapter.IsRegistered(c.Engine.Type) {
		return &adapter.UnknownAdapterError{Type: c.Engine.Type, Available: adapter.Registered()}
	}
	return nil
}

// configPath turns "Config.LLM.MaxTokens" into "llm.maxtokens"-style paths
// close enough to the YAML keys to find the offending setting.
func configPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}

// RequireAPIKey reports an error when no API key is configured. Requests
// may still carry their own key, so only commands that call the model
// without one should use this.
func (c *LLMConfig) RequireAPIKey() error {
	if c.APIKey == "" {
		return fmt.Errorf("no API key configured for %s (set llm.api_key in %s or %sLLM__API_KEY)", c.Provider, ConfigFileName, EnvPrefix)
	}
	return nil
}
