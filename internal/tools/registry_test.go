package tools_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/parla/internal/tools"
)

// fakeTool echoes its name and records lifecycle hooks.
type fakeTool struct {
	name     string
	settings tools.Settings

	mu       sync.Mutex
	enabled  int
	disabled int
	closed   int
}

func (f *fakeTool) Run(_ context.Context, query string) (string, error) {
	return f.name + ":" + query, nil
}

func (f *fakeTool) Enable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled++
	return nil
}

func (f *fakeTool) Disable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled++
	return nil
}

func (f *fakeTool) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTool) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// memStore is an in-memory [tools.Store].
type memStore struct {
	mu      sync.Mutex
	specs   []tools.Spec
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load(context.Context) ([]tools.Spec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]tools.Spec(nil), m.specs...), nil
}

func (m *memStore) Save(_ context.Context, specs []tools.Spec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.specs = append([]tools.Spec(nil), specs...)
	m.loadErr = nil
	m.saves++
	return nil
}

// testFactories returns a table with an "echo" factory that tracks every
// instance it builds and a "broken" factory that always fails.
func testFactories(built *[]*fakeTool, mu *sync.Mutex) *tools.Factories {
	f := tools.NewFactories()
	f.Register("echo", func(_ context.Context, s tools.Settings) (tools.Tool, error) {
		t := &fakeTool{name: s.String("prefix", "echo"), settings: s}
		mu.Lock()
		*built = append(*built, t)
		mu.Unlock()
		return t, nil
	})
	f.Register("broken", func(context.Context, tools.Settings) (tools.Tool, error) {
		return nil, errors.New("boom")
	})
	return f
}

func newTestRegistry(t *testing.T, opts ...tools.RegistryOption) (*tools.Registry, func() []*fakeTool) {
	t.Helper()
	var (
		built []*fakeTool
		mu    sync.Mutex
	)
	opts = append([]tools.RegistryOption{tools.WithCloseGrace(0)}, opts...)
	r := tools.NewRegistry(testFactories(&built, &mu), opts...)
	t.Cleanup(func() { _ = r.Close() })
	return r, func() []*fakeTool {
		mu.Lock()
		defer mu.Unlock()
		return append([]*fakeTool(nil), built...)
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Register(ctx, tools.Spec{Name: "a", Factory: "echo", Enabled: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	tool, ok := r.Get("a")
	if !ok {
		t.Fatal("Get(a) = false, want true")
	}
	got, err := tool.Run(ctx, "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != "echo:hi" {
		t.Errorf("Run = %q, want %q", got, "echo:hi")
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) = true, want false")
	}
}

func TestRegistry_RegisterUnknownFactoryLeavesStateUnchanged(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Register(ctx, tools.Spec{Name: "a", Factory: "echo", Enabled: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := r.Register(ctx, tools.Spec{Name: "a", Factory: "tools.evil.Module", Enabled: true})
	if !errors.Is(err, tools.ErrUnknownFactory) {
		t.Fatalf("Register err = %v, want ErrUnknownFactory", err)
	}
	if err := r.Register(ctx, tools.Spec{Name: "a", Factory: "broken", Enabled: true}); err == nil {
		t.Fatal("Register(broken) = nil, want error")
	}

	tool, ok := r.Get("a")
	if !ok {
		t.Fatal("previous registration lost")
	}
	if got, _ := tool.Run(ctx, "x"); got != "echo:x" {
		t.Errorf("Run = %q, want %q", got, "echo:x")
	}
}

func TestRegistry_OverwriteClosesPrevious(t *testing.T) {
	t.Parallel()
	r, built := newTestRegistry(t)
	ctx := context.Background()

	_ = r.Register(ctx, tools.Spec{Name: "a", Factory: "echo", Enabled: true})
	if err := r.Register(ctx, tools.Spec{Name: "a", Factory: "echo", Enabled: true, Config: tools.Settings{"prefix": "v2"}}); err != nil {
		t.Fatalf("Register overwrite: %v", err)
	}
	b := built()
	if len(b) != 2 {
		t.Fatalf("built %d instances, want 2", len(b))
	}
	if b[0].closeCount() != 1 {
		t.Errorf("old instance closed %d times, want 1", b[0].closeCount())
	}
	tool, _ := r.Get("a")
	if got, _ := tool.Run(ctx, "x"); got != "v2:x" {
		t.Errorf("Run = %q, want %q", got, "v2:x")
	}
	if n := len(r.Describe()); n != 1 {
		t.Errorf("Describe len = %d, want 1", n)
	}
}

func TestRegistry_DisableEnableKeepsInstance(t *testing.T) {
	t.Parallel()
	r, built := newTestRegistry(t)
	ctx := context.Background()

	_ = r.Register(ctx, tools.Spec{Name: "a", Factory: "echo", Enabled: true, Config: tools.Settings{"prefix": "p"}})

	if err := r.Disable("a"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if _, ok := r.Get("a"); ok {
		t.Error("Get after Disable = true, want false")
	}
	if _, ok := r.ListActive()["a"]; ok {
		t.Error("ListActive contains disabled tool")
	}
	d := r.Describe()
	if len(d) != 1 || d[0].Enabled {
		t.Fatalf("Describe = %+v, want one disabled entry", d)
	}

	if err := r.Enable(ctx, "a"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	tool, ok := r.Get("a")
	if !ok {
		t.Fatal("Get after Enable = false")
	}
	if got, _ := tool.Run(ctx, "x"); got != "p:x" {
		t.Errorf("Run = %q, want %q (config kept)", got, "p:x")
	}

	b := built()
	if len(b) != 1 {
		t.Fatalf("built %d instances, want 1", len(b))
	}
	if b[0].disabled != 1 || b[0].enabled != 1 {
		t.Errorf("hooks: enabled=%d disabled=%d, want 1/1", b[0].enabled, b[0].disabled)
	}
}

func TestRegistry_DisabledRegistrationBuiltOnEnable(t *testing.T) {
	t.Parallel()
	r, built := newTestRegistry(t)
	ctx := context.Background()

	if err := r.Register(ctx, tools.Spec{Name: "a", Factory: "echo", Enabled: false}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(built()) != 0 {
		t.Fatal("disabled registration was instantiated")
	}
	if err := r.Enable(ctx, "a"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if _, ok := r.Get("a"); !ok {
		t.Error("Get after Enable = false")
	}
}

func TestRegistry_UnknownNames(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)

	for name, err := range map[string]error{
		"Enable":     r.Enable(context.Background(), "nope"),
		"Disable":    r.Disable("nope"),
		"Unregister": r.Unregister("nope"),
	} {
		if !errors.Is(err, tools.ErrNotRegistered) {
			t.Errorf("%s err = %v, want ErrNotRegistered", name, err)
		}
	}
}

func TestRegistry_UnregisterCloses(t *testing.T) {
	t.Parallel()
	r, built := newTestRegistry(t)
	_ = r.Register(context.Background(), tools.Spec{Name: "a", Factory: "echo", Enabled: true})

	if err := r.Unregister("a"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, ok := r.Get("a"); ok {
		t.Error("Get after Unregister = true")
	}
	if got := built()[0].closeCount(); got != 1 {
		t.Errorf("closed %d times, want 1", got)
	}
}

func TestRegistry_DefaultsMerged(t *testing.T) {
	t.Parallel()
	r, built := newTestRegistry(t, tools.WithDefaults(map[string]tools.Settings{
		"echo": {"prefix": "default", "timeout": "3s"},
	}))
	ctx := context.Background()

	_ = r.Register(ctx, tools.Spec{Name: "a", Factory: "echo", Enabled: true})
	_ = r.Register(ctx, tools.Spec{Name: "b", Factory: "echo", Enabled: true, Config: tools.Settings{"prefix": "own"}})

	b := built()
	if got := b[0].settings.String("prefix", ""); got != "default" {
		t.Errorf("a prefix = %q, want %q", got, "default")
	}
	if got := b[1].settings.String("prefix", ""); got != "own" {
		t.Errorf("b prefix = %q, want %q", got, "own")
	}
	if got := b[1].settings.String("timeout", ""); got != "3s" {
		t.Errorf("b timeout = %q, want %q", got, "3s")
	}
}

func TestRegistry_LegacyClassPathAlias(t *testing.T) {
	t.Parallel()
	var (
		built []*fakeTool
		mu    sync.Mutex
	)
	f := testFactories(&built, &mu)
	f.Alias("tools.echo_tool.EchoTool", "echo")
	r := tools.NewRegistry(f)
	defer r.Close()

	if err := r.Register(context.Background(), tools.Spec{Name: "a", ClassPath: "tools.echo_tool.EchoTool", Enabled: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	d := r.Describe()
	if d[0].Factory != "echo" {
		t.Errorf("Factory = %q, want canonical %q", d[0].Factory, "echo")
	}
}

func TestRegistry_ReloadFallsBackToDefaults(t *testing.T) {
	t.Parallel()
	store := &memStore{loadErr: errors.New("disk on fire")}

	f := tools.NewFactories()
	for _, s := range tools.DefaultSpecs() {
		f.Register(s.Factory, func(context.Context, tools.Settings) (tools.Tool, error) {
			return &fakeTool{name: "d"}, nil
		})
	}
	r := tools.NewRegistry(f, tools.WithStore(store))
	defer r.Close()

	if _, err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	active := r.ListActive()
	for _, want := range []string{"weather_tool", "calendar_tool", "file_tool", "music_tool", "system_tool", "calculator_tool"} {
		if _, ok := active[want]; !ok {
			t.Errorf("default tool %q not active", want)
		}
	}
}

func TestRegistry_ReloadReplacesSetAndSkipsBadRecords(t *testing.T) {
	t.Parallel()
	store := &memStore{specs: []tools.Spec{
		{Name: "a", Factory: "echo", Enabled: true},
		{Name: "b", Factory: "echo", Enabled: true},
	}}
	r, built := newTestRegistry(t, tools.WithStore(store))
	ctx := context.Background()

	if _, err := r.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	store.specs = []tools.Spec{
		{Name: "b", Factory: "echo", Enabled: true, Config: tools.Settings{"prefix": "b2"}},
		{Name: "c", Factory: "echo", Enabled: false},
		{Name: "d", Factory: "unknown", Enabled: true},
	}
	diff, err := r.Reload(ctx)
	if !errors.Is(err, tools.ErrUnknownFactory) {
		t.Errorf("Reload err = %v, want ErrUnknownFactory joined", err)
	}
	if fmt.Sprint(diff.Added) != "[c]" || fmt.Sprint(diff.Removed) != "[a]" || fmt.Sprint(diff.Changed) != "[b]" {
		t.Errorf("diff = %+v", diff)
	}

	if _, ok := r.Get("a"); ok {
		t.Error("a still active after reload")
	}
	if _, ok := r.Get("c"); ok {
		t.Error("disabled c is active")
	}
	tool, ok := r.Get("b")
	if !ok {
		t.Fatal("b missing")
	}
	if got, _ := tool.Run(ctx, "x"); got != "b2:x" {
		t.Errorf("b Run = %q, want %q", got, "b2:x")
	}
	for i, inst := range built()[:2] {
		if inst.closeCount() != 1 {
			t.Errorf("old instance %d closed %d times, want 1", i, inst.closeCount())
		}
	}
}

func TestRegistry_AddUpsertsAndRemovePersists(t *testing.T) {
	t.Parallel()
	store := &memStore{specs: []tools.Spec{
		{Name: "a", Factory: "echo", Enabled: true},
		{Name: "b", Factory: "echo", Enabled: true},
	}}
	r, _ := newTestRegistry(t, tools.WithStore(store))
	ctx := context.Background()
	if _, err := r.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if err := r.Add(ctx, tools.Spec{Name: "a", Factory: "echo", Enabled: true, Config: tools.Settings{"prefix": "new"}}); err != nil {
		t.Fatalf("Add existing: %v", err)
	}
	if err := r.Add(ctx, tools.Spec{Name: "c", Factory: "echo", Enabled: true}); err != nil {
		t.Fatalf("Add new: %v", err)
	}

	var names []string
	for _, s := range store.specs {
		names = append(names, s.Name)
	}
	if fmt.Sprint(names) != "[a b c]" {
		t.Errorf("persisted order = %v, want [a b c]", names)
	}
	if got := store.specs[0].Config.String("prefix", ""); got != "new" {
		t.Errorf("a updated in place: prefix = %q, want %q", got, "new")
	}

	if err := r.Remove(ctx, "b"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	names = names[:0]
	for _, s := range store.specs {
		names = append(names, s.Name)
	}
	if fmt.Sprint(names) != "[a c]" {
		t.Errorf("persisted after remove = %v, want [a c]", names)
	}
}

func TestRegistry_AddRejectedIsNotPersisted(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	r, _ := newTestRegistry(t, tools.WithStore(store))

	err := r.Add(context.Background(), tools.Spec{Name: "x", Factory: "nope", Enabled: true})
	if !errors.Is(err, tools.ErrUnknownFactory) {
		t.Fatalf("Add err = %v, want ErrUnknownFactory", err)
	}
	if store.saves != 0 {
		t.Errorf("store saved %d times, want 0", store.saves)
	}
}

func TestRegistry_AddSeedsMissingStore(t *testing.T) {
	t.Parallel()
	store := tools.NewFileStore(filepath.Join(t.TempDir(), "tools.json"))
	r, _ := newTestRegistry(t, tools.WithStore(store))
	ctx := context.Background()

	_ = r.Register(ctx, tools.Spec{Name: "a", Factory: "echo", Enabled: true})
	if err := r.Add(ctx, tools.Spec{Name: "b", Factory: "echo", Enabled: true}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	specs, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(specs) != 2 {
		t.Errorf("persisted %d records, want 2", len(specs))
	}
}

// TestRegistry_ConcurrentGetDuringReload checks that readers only ever see
// one complete generation of the active set.
func TestRegistry_ConcurrentGetDuringReload(t *testing.T) {
	t.Parallel()
	store := &memStore{}
	r, _ := newTestRegistry(t, tools.WithStore(store))
	ctx := context.Background()

	gen := func(p string) []tools.Spec {
		return []tools.Spec{
			{Name: "a", Factory: "echo", Enabled: true, Config: tools.Settings{"prefix": p}},
			{Name: "b", Factory: "echo", Enabled: true, Config: tools.Settings{"prefix": p}},
		}
	}
	store.specs = gen("g0")
	if _, err := r.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	var (
		stop  atomic.Bool
		mixed atomic.Int64
		wg    sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				active := r.ListActive()
				a, okA := active["a"]
				b, okB := active["b"]
				if !okA || !okB {
					mixed.Add(1)
					continue
				}
				ra, _ := a.Run(ctx, "")
				rb, _ := b.Run(ctx, "")
				if ra != rb {
					mixed.Add(1)
				}
			}
		}()
	}
	for i := range 50 {
		_ = store.Save(ctx, gen(fmt.Sprintf("g%d", i+1)))
		if _, err := r.Reload(ctx); err != nil {
			t.Fatalf("Reload: %v", err)
		}
	}
	stop.Store(true)
	wg.Wait()

	if n := mixed.Load(); n != 0 {
		t.Errorf("observed %d mixed or partial snapshots", n)
	}
}

func TestRegistry_ConcurrentAddPersistsAll(t *testing.T) {
	t.Parallel()
	store := tools.NewFileStore(filepath.Join(t.TempDir(), "tools.json"))
	r, _ := newTestRegistry(t, tools.WithStore(store))
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Add(ctx, tools.Spec{Name: fmt.Sprintf("t%02d", i), Factory: "echo", Enabled: true}); err != nil {
				t.Errorf("Add t%02d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	if got := len(r.ListActive()); got != n {
		t.Errorf("registered %d, want %d", got, n)
	}
	specs, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(specs) != n {
		t.Errorf("persisted %d records, want %d", len(specs), n)
	}
}

func TestRegistry_AddRollsBackWhenSaveFails(t *testing.T) {
	t.Parallel()
	store := &memStore{specs: []tools.Spec{
		{Name: "a", Factory: "echo", Enabled: true, Config: tools.Settings{"prefix": "v1"}},
	}}
	r, _ := newTestRegistry(t, tools.WithStore(store))
	ctx := context.Background()
	if _, err := r.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	store.saveErr = errors.New("disk full")

	if err := r.Add(ctx, tools.Spec{Name: "b", Factory: "echo", Enabled: true}); err == nil {
		t.Fatal("Add new with failing store: want error")
	}
	if _, ok := r.Get("b"); ok {
		t.Error("b active after failed Add")
	}

	err := r.Add(ctx, tools.Spec{Name: "a", Factory: "echo", Enabled: true, Config: tools.Settings{"prefix": "v2"}})
	if err == nil {
		t.Fatal("Add existing with failing store: want error")
	}
	tool, ok := r.Get("a")
	if !ok {
		t.Fatal("a missing after failed Add")
	}
	if got, _ := tool.Run(ctx, "x"); got != "v1:x" {
		t.Errorf("Run = %q, want %q", got, "v1:x")
	}

	if err := r.Remove(ctx, "a"); err == nil {
		t.Fatal("Remove with failing store: want error")
	}
	if _, ok := r.Get("a"); !ok {
		t.Error("a gone after failed Remove")
	}
}

func TestRegistry_ReplacedToolClosedAfterGrace(t *testing.T) {
	t.Parallel()
	r, built := newTestRegistry(t, tools.WithCloseGrace(100*time.Millisecond))
	ctx := context.Background()

	_ = r.Register(ctx, tools.Spec{Name: "a", Factory: "echo", Enabled: true})
	old, _ := r.Get("a")
	_ = r.Register(ctx, tools.Spec{Name: "a", Factory: "echo", Enabled: true, Config: tools.Settings{"prefix": "v2"}})

	if got := built()[0].closeCount(); got != 0 {
		t.Fatalf("old instance closed %d times right after replace, want 0", got)
	}
	if got, _ := old.Run(ctx, "x"); got != "echo:x" {
		t.Errorf("old Run = %q, want %q", got, "echo:x")
	}

	deadline := time.Now().Add(2 * time.Second)
	for built()[0].closeCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("old instance never closed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := built()[1].closeCount(); got != 0 {
		t.Errorf("live instance closed %d times, want 0", got)
	}
}

func TestRegistry_CloseClosesRetiredTools(t *testing.T) {
	t.Parallel()
	r, built := newTestRegistry(t, tools.WithCloseGrace(time.Hour))
	ctx := context.Background()

	_ = r.Register(ctx, tools.Spec{Name: "a", Factory: "echo", Enabled: true})
	if err := r.Unregister("a"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if got := built()[0].closeCount(); got != 0 {
		t.Fatalf("closed %d times before Close, want 0", got)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := built()[0].closeCount(); got != 1 {
		t.Errorf("closed %d times after Close, want 1", got)
	}
}
