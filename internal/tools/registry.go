package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCloseGrace is how long a replaced or removed instance stays open so
// that calls already dispatched to it can finish.
const DefaultCloseGrace = 30 * time.Second

// Store persists the ordered list of tool records.
type Store interface {
	// Load returns the persisted records in order.
	Load(ctx context.Context) ([]Spec, error)

	// Save replaces the persisted records.
	Save(ctx context.Context, specs []Spec) error
}

// entry is one registration. tool is nil until the registration is first
// enabled; once built it is kept across disable/enable cycles.
type entry struct {
	spec    Spec
	key     string
	factory Factory
	tool    Tool
	enabled bool
}

// Registry owns the mapping from tool name to a live, enableable tool
// instance.
//
// Lookups ([Registry.Get], [Registry.ListActive]) read an immutable snapshot
// of the active set published through an atomic pointer, so dispatch never
// blocks on, or observes a half-applied, administrative change. Writers
// serialise on a mutex and publish a fresh snapshot when they are done.
type Registry struct {
	factories *Factories
	store     Store

	mu       sync.Mutex
	entries  map[string]*entry
	order    []string
	defaults map[string]Settings

	// persistMu serialises the registration and store read-modify-write of
	// Add and Remove. It is always taken before mu.
	persistMu sync.Mutex

	closeGrace time.Duration
	retireMu   sync.Mutex
	retired    map[*retiredTool]struct{}

	active atomic.Pointer[map[string]Tool]
}

// retiredTool is an instance waiting out the close grace period.
type retiredTool struct {
	tool  Tool
	name  string
	timer *time.Timer
}

// RegistryOption is a functional option for [NewRegistry].
type RegistryOption func(*Registry)

// WithStore sets the persistence backend used by [Registry.Reload],
// [Registry.Add] and [Registry.Remove].
func WithStore(s Store) RegistryOption {
	return func(r *Registry) { r.store = s }
}

// WithDefaults sets the per-factory settings that every record's config is
// layered over. Keys are canonical factory keys.
func WithDefaults(d map[string]Settings) RegistryOption {
	return func(r *Registry) { r.defaults = d }
}

// WithCloseGrace sets how long replaced and removed instances stay open
// before they are closed. Zero closes them immediately. Default
// [DefaultCloseGrace].
func WithCloseGrace(d time.Duration) RegistryOption {
	return func(r *Registry) { r.closeGrace = max(d, 0) }
}

// NewRegistry returns an empty registry resolving factory keys through f.
func NewRegistry(f *Factories, opts ...RegistryOption) *Registry {
	r := &Registry{
		factories:  f,
		entries:    make(map[string]*entry),
		defaults:   make(map[string]Settings),
		closeGrace: DefaultCloseGrace,
		retired:    make(map[*retiredTool]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	empty := map[string]Tool{}
	r.active.Store(&empty)
	return r
}

// ── Lookups ──────────────────────────────────────────────────────────────────

// Get returns the enabled tool registered under name. It reports false for
// unknown and disabled names alike.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := (*r.active.Load())[name]
	return t, ok
}

// ListActive returns a copy of the enabled name→tool mapping.
func (r *Registry) ListActive() map[string]Tool {
	snap := *r.active.Load()
	out := make(map[string]Tool, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out
}

// Describe returns every registration, enabled or not, in registration order.
func (r *Registry) Describe() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		out = append(out, Descriptor{
			Name:    name,
			Factory: e.key,
			Enabled: e.enabled,
			Config:  e.spec.Config,
		})
	}
	return out
}

// ── Mutations ────────────────────────────────────────────────────────────────

// Register adds or replaces the registration named spec.Name. An enabled
// registration is instantiated immediately.
//
// A record whose factory key cannot be resolved, or whose factory fails, is
// rejected and the registry is left unchanged. Replacing an existing
// registration is logged as a warning and closes the previous instance once
// the close grace period has passed.
func (r *Registry) Register(ctx context.Context, spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.newEntry(ctx, spec)
	if err != nil {
		slog.Warn("tool registration rejected", "tool", spec.Name, "factory", spec.Key(), "err", err)
		return err
	}

	old, replaced := r.entries[spec.Name]
	if replaced {
		slog.Warn("tool registration overwritten", "tool", spec.Name, "factory", e.key)
	} else {
		r.order = append(r.order, spec.Name)
	}
	r.entries[spec.Name] = e
	r.publish()

	if replaced {
		r.retire(old.tool, spec.Name)
	}
	slog.Info("tool registered", "tool", spec.Name, "factory", e.key, "enabled", e.enabled)
	return nil
}

// Unregister removes the registration named name and closes its instance
// after the close grace period.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	delete(r.entries, name)
	r.order = removeName(r.order, name)
	r.publish()

	r.retire(e.tool, name)
	slog.Info("tool unregistered", "tool", name)
	return nil
}

// Enable makes the registration named name addressable again, building its
// instance on first use. Enabling an enabled tool is a no-op.
func (r *Registry) Enable(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	if e.enabled {
		return nil
	}
	if e.tool == nil {
		t, err := e.factory(ctx, r.settingsFor(e.key, e.spec.Config))
		if err != nil {
			return fmt.Errorf("tools: enable %q: %w", name, err)
		}
		e.tool = t
	} else if en, ok := e.tool.(Enabler); ok {
		if err := en.Enable(); err != nil {
			return fmt.Errorf("tools: enable %q: %w", name, err)
		}
	}
	e.enabled = true
	e.spec.Enabled = true
	r.publish()
	slog.Info("tool enabled", "tool", name)
	return nil
}

// Disable removes the registration named name from the active set without
// deleting it. Its configuration and instance are kept so re-enabling needs
// no reconfiguration.
func (r *Registry) Disable(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	if !e.enabled {
		return nil
	}
	e.enabled = false
	e.spec.Enabled = false
	r.publish()

	if en, ok := e.tool.(Enabler); ok {
		if err := en.Disable(); err != nil {
			slog.Warn("tool disable hook failed", "tool", name, "err", err)
		}
	}
	slog.Info("tool disabled", "tool", name)
	return nil
}

// SetDefaults replaces the per-factory settings. They apply to instances
// built after the call; use [Registry.Reload] to rebuild existing ones.
func (r *Registry) SetDefaults(d map[string]Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d == nil {
		d = make(map[string]Settings)
	}
	r.defaults = d
}

// Reload re-reads the persisted records and replaces the whole registry in
// one step. If the store cannot be read the built-in default set is used
// instead. Records that fail to build are skipped; their errors are joined
// into the returned error while the rest of the set is still applied.
func (r *Registry) Reload(ctx context.Context) (SpecDiff, error) {
	specs := r.loadOrDefault(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	before := r.snapshotSpecs()

	entries := make(map[string]*entry, len(specs))
	order := make([]string, 0, len(specs))
	var errs []error
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		e, err := r.newEntry(ctx, spec)
		if err != nil {
			slog.Warn("tool skipped on reload", "tool", spec.Name, "factory", spec.Key(), "err", err)
			errs = append(errs, err)
			continue
		}
		if prev, dup := entries[spec.Name]; dup {
			slog.Warn("tool registration overwritten", "tool", spec.Name, "factory", e.key)
			closeTool(prev.tool, spec.Name)
		} else {
			order = append(order, spec.Name)
		}
		entries[spec.Name] = e
	}

	old := r.entries
	r.entries = entries
	r.order = order
	r.publish()

	for name, e := range old {
		r.retire(e.tool, name)
	}

	diff := DiffSpecs(before, r.snapshotSpecs())
	slog.Info("tool registry reloaded",
		"tools", len(order),
		"added", diff.Added,
		"removed", diff.Removed,
		"changed", diff.Changed,
	)
	return diff, errors.Join(errs...)
}

// Add registers spec and persists it, updating an existing record with the
// same name in place or appending a new one. If the record cannot be
// persisted the registration is rolled back and the error is returned.
func (r *Registry) Add(ctx context.Context, spec Spec) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	prev, existed := r.specOf(spec.Name)
	if err := r.Register(ctx, spec); err != nil {
		return err
	}
	if r.store == nil {
		return nil
	}
	err := r.persist(ctx, func(specs []Spec) []Spec {
		for i := range specs {
			if specs[i].Name == spec.Name {
				specs[i] = spec
				return specs
			}
		}
		return append(specs, spec)
	})
	if err == nil {
		return nil
	}
	r.rollback(ctx, spec.Name, prev, existed)
	return fmt.Errorf("tools: persist %q: %w", spec.Name, err)
}

// Remove unregisters name and deletes its persisted record. If the removal
// cannot be persisted the registration is restored.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()

	prev, _ := r.specOf(name)
	if err := r.Unregister(name); err != nil {
		return err
	}
	if r.store == nil {
		return nil
	}
	err := r.persist(ctx, func(specs []Spec) []Spec {
		kept := specs[:0]
		for _, s := range specs {
			if s.Name != name {
				kept = append(kept, s)
			}
		}
		return kept
	})
	if err != nil {
		r.rollback(ctx, name, prev, true)
		return fmt.Errorf("tools: persist removal of %q: %w", name, err)
	}
	return nil
}

// persist applies edit to the stored records. Caller holds r.persistMu.
func (r *Registry) persist(ctx context.Context, edit func([]Spec) []Spec) error {
	specs, err := r.loadForUpdate(ctx)
	if err != nil {
		return err
	}
	return r.store.Save(ctx, edit(specs))
}

// rollback restores the registration named name to prev, or removes it when
// it did not exist before.
func (r *Registry) rollback(ctx context.Context, name string, prev Spec, existed bool) {
	var err error
	if existed {
		err = r.Register(ctx, prev)
	} else {
		err = r.Unregister(name)
	}
	if err != nil {
		slog.Error("tool rollback failed", "tool", name, "err", err)
		return
	}
	slog.Warn("tool registration rolled back", "tool", name)
}

// specOf returns the current record named name.
func (r *Registry) specOf(name string) (Spec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return Spec{}, false
	}
	return e.spec, true
}

// Close closes every tool instance, including those still in their close
// grace period, and empties the registry.
func (r *Registry) Close() error {
	r.retireMu.Lock()
	pending := r.retired
	r.retired = make(map[*retiredTool]struct{})
	r.retireMu.Unlock()
	for rt := range pending {
		rt.timer.Stop()
		closeTool(rt.tool, rt.name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, e := range r.entries {
		if c, ok := e.tool.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("tools: close %q: %w", name, err))
			}
		}
	}
	r.entries = make(map[string]*entry)
	r.order = nil
	r.publish()
	return errors.Join(errs...)
}

// ── Internals ────────────────────────────────────────────────────────────────

// newEntry resolves and, when enabled, instantiates spec. Caller holds r.mu.
func (r *Registry) newEntry(ctx context.Context, spec Spec) (*entry, error) {
	key, factory, err := r.factories.Resolve(spec.Key())
	if err != nil {
		return nil, err
	}
	if spec.Config == nil {
		spec.Config = Settings{}
	}
	e := &entry{spec: spec, key: key, factory: factory, enabled: spec.Enabled}
	if spec.Enabled {
		t, err := factory(ctx, r.settingsFor(key, spec.Config))
		if err != nil {
			return nil, fmt.Errorf("tools: build %q: %w", spec.Name, err)
		}
		if t == nil {
			return nil, fmt.Errorf("tools: build %q: factory %q returned no tool", spec.Name, key)
		}
		e.tool = t
	}
	return e, nil
}

func (r *Registry) settingsFor(key string, cfg Settings) Settings {
	return r.defaults[key].Merge(cfg)
}

// publish swaps in a fresh active snapshot. Caller holds r.mu.
func (r *Registry) publish() {
	active := make(map[string]Tool, len(r.entries))
	for name, e := range r.entries {
		if e.enabled && e.tool != nil {
			active[name] = e.tool
		}
	}
	r.active.Store(&active)
}

// snapshotSpecs returns the current records in order. Caller holds r.mu.
func (r *Registry) snapshotSpecs() []Spec {
	out := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].spec)
	}
	return out
}

func (r *Registry) loadOrDefault(ctx context.Context) []Spec {
	if r.store == nil {
		return DefaultSpecs()
	}
	specs, err := r.store.Load(ctx)
	if err != nil {
		slog.Warn("tool config unavailable, using default tool set", "err", err)
		return DefaultSpecs()
	}
	return specs
}

// loadForUpdate reads the store for a read-modify-write. A store with no
// records yet is seeded from the current registrations.
func (r *Registry) loadForUpdate(ctx context.Context) ([]Spec, error) {
	specs, err := r.store.Load(ctx)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrNoRecords) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.snapshotSpecs(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("tools: read tool config: %w", err)
	}
	return specs, nil
}

// retire closes t after the close grace period. Lookups no longer return t,
// but a caller that fetched it earlier may still be running it.
func (r *Registry) retire(t Tool, name string) {
	if _, ok := t.(io.Closer); !ok {
		return
	}
	if r.closeGrace <= 0 {
		closeTool(t, name)
		return
	}
	rt := &retiredTool{tool: t, name: name}
	r.retireMu.Lock()
	defer r.retireMu.Unlock()
	rt.timer = time.AfterFunc(r.closeGrace, func() {
		r.retireMu.Lock()
		_, pending := r.retired[rt]
		delete(r.retired, rt)
		r.retireMu.Unlock()
		if pending {
			closeTool(t, name)
		}
	})
	r.retired[rt] = struct{}{}
}

func closeTool(t Tool, name string) {
	c, ok := t.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		slog.Warn("tool close failed", "tool", name, "err", err)
	}
}

func removeName(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// Names returns the registered names sorted alphabetically.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
