package hardware

import (
	"fmt"
	"sort"
	"sync"

	"github.com/oikomaticz/oikomaticz-core/internal/infrastructure/config"
)

// Constructor builds an adapter from its configuration.
type Constructor func(cfg config.HardwareConfig, logger Logger) (Hardware, error)

// Factory maps hardware type names to constructors.
type Factory struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{ctors: make(map[string]Constructor)}
}

// Register adds a constructor for a type name.
func (f *Factory) Register(typ string, ctor Constructor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.ctors[typ]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateType, typ)
	}
	f.ctors[typ] = ctor
	return nil
}

// New builds the adapter described by cfg.
func (f *Factory) New(cfg config.HardwareConfig, logger Logger) (Hardware, error) {
	f.mu.RLock()
	ctor, ok := f.ctors[cfg.Type]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	hw, err := ctor(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating %s hardware %q: %w", cfg.Type, cfg.Name, err)
	}
	return hw, nil
}

// Types returns the registered type names, sorted.
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.ctors))
	for t := range f.ctors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
