package builtin_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MrWong99/parla/internal/tools"
	"github.com/MrWong99/parla/internal/tools/builtin"
)

func TestFactories_ResolveDefaults(t *testing.T) {
	t.Parallel()
	f := builtin.Factories()
	for _, spec := range tools.DefaultSpecs() {
		if _, _, err := f.Resolve(spec.Key()); err != nil {
			t.Errorf("Resolve(%q): %v", spec.Key(), err)
		}
	}
	if _, _, err := f.Resolve("mcp"); err != nil {
		t.Errorf("Resolve(mcp): %v", err)
	}
}

func TestFactories_LegacyClassPath(t *testing.T) {
	t.Parallel()
	key, _, err := builtin.Factories().Resolve("tools.calculator_tool.CalculatorTool")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if key != "calculator" {
		t.Errorf("got %q, want %q", key, "calculator")
	}
}

func TestRegistry_DefaultSetRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := tools.NewRegistry(builtin.Factories())
	t.Cleanup(func() { _ = reg.Close() })

	spec := tools.Spec{Name: "calculator_tool", Factory: "calculator", Enabled: true, Config: tools.Settings{}}
	if err := reg.Register(ctx, spec); err != nil {
		t.Fatalf("Register: %v", err)
	}
	tool, ok := reg.Get("calculator_tool")
	if !ok {
		t.Fatal("calculator_tool not active")
	}
	got, err := tool.Run(ctx, "计算 2+3*4 等于多少")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := "计算结果: 2+3*4 = 14"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRegistry_DefaultSetAllActive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := tools.NewRegistry(builtin.Factories(), tools.WithDefaults(map[string]tools.Settings{
		"calendar": {"db_path": filepath.Join(t.TempDir(), "calendar.db")},
	}))
	t.Cleanup(func() { _ = reg.Close() })

	if _, err := reg.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	active := reg.ListActive()
	for _, spec := range tools.DefaultSpecs() {
		if _, ok := active[spec.Name]; !ok {
			t.Errorf("%s not active", spec.Name)
		}
	}
	if len(active) != len(tools.DefaultSpecs()) {
		t.Errorf("active = %d, want %d", len(active), len(tools.DefaultSpecs()))
	}
}
