package adapter

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Factory builds an unconnected adapter.
type Factory func(*slog.Logger) Adapter

// ErrNoEngineType is returned by NewAdapter for an empty Config.Type.
var ErrNoEngineType = errors.New("engine type not specified")

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes an engine available under name. It panics on an empty
// name, a nil factory or a name registered twice.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if name == "" || f == nil {
		panic("adapter: Register called with empty name or nil factory")
	}
	if _, dup := factories[name]; dup {
		panic("adapter: Register called twice for " + name)
	}
	factories[name] = f
}

func lookup(name string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// NewAdapter creates an adapter for cfg.Type. A nil logger discards output.
func NewAdapter(cfg Config, logger *slog.Logger) (Adapter, error) {
	if cfg.Type == "" {
		return nil, ErrNoEngineType
	}
	f, ok := lookup(cfg.Type)
	if !ok {
		return nil, &UnknownAdapterError{Type: cfg.Type, Available: Registered()}
	}
	return f(logger), nil
}

// Registered lists engine names in sorted order.
func Registered() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	return slices.Sorted(maps.Keys(factories))
}

// IsRegistered reports whether name can be passed as Config.Type.
func IsRegistered(name string) bool {
	_, ok := lookup(name)
	return ok
}

// UnknownAdapterError is returned when engine.type names no registered engine.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown engine type %q (available: %v); check engine.type in queryx.yaml", e.Type, e.Available)
}
