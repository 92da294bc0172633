package tools

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factories is the table mapping factory keys to constructors. It is
// populated once at startup and then only read.
type Factories struct {
	mu      sync.RWMutex
	entries map[string]Factory
	aliases map[string]string
}

// NewFactories returns an empty table.
func NewFactories() *Factories {
	return &Factories{
		entries: make(map[string]Factory),
		aliases: make(map[string]string),
	}
}

// Register adds fn under key, replacing any previous entry.
func (f *Factories) Register(key string, fn Factory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[key]; ok {
		slog.Warn("tool factory overwritten", "factory", key)
	}
	f.entries[key] = fn
}

// Alias makes alias resolve to key. Used to accept legacy dotted class paths
// in persisted records without resolving them dynamically.
func (f *Factories) Alias(alias, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliases[alias] = key
}

// Resolve returns the canonical key and factory for key or alias.
func (f *Factories) Resolve(key string) (string, Factory, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if canonical, ok := f.aliases[key]; ok {
		key = canonical
	}
	fn, ok := f.entries[key]
	if !ok {
		return "", nil, fmt.Errorf("%w %q", ErrUnknownFactory, key)
	}
	return key, fn, nil
}

// Keys returns the registered factory keys in sorted order.
func (f *Factories) Keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]string, 0, len(f.entries))
	for k := range f.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
