package tools_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parla/internal/tools"
)

func TestFileStore_JSONRoundTripAndIndent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tools_config.json")
	s := tools.NewFileStore(path)
	ctx := context.Background()

	in := []tools.Spec{
		{Name: "weather_tool", Factory: "weather", Enabled: true, Config: tools.Settings{"default_city": "北京"}},
		{Name: "music_tool", Factory: "music", Enabled: false, Config: tools.Settings{}},
	}
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(raw), "\n  {\n    \"name\": \"weather_tool\"") {
		t.Errorf("file not indented with two spaces:\n%s", raw)
	}
	if !strings.Contains(string(raw), "北京") {
		t.Errorf("non-ASCII text escaped:\n%s", raw)
	}

	out, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 2 || out[0].Name != "weather_tool" || out[1].Enabled {
		t.Fatalf("Load = %+v", out)
	}
	if got := out[0].Config.String("default_city", ""); got != "北京" {
		t.Errorf("default_city = %q, want %q", got, "北京")
	}
}

func TestFileStore_LegacyJSONRecords(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tools_config.json")
	legacy := `[
  {"name": "weather_tool", "class_path": "tools.weather_tool.WeatherTool"},
  {"name": "file_tool", "class_path": "tools.file_tool.FileTool", "enabled": false, "config": {"roots": ["/tmp"]}}
]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := tools.NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !out[0].Enabled {
		t.Error("record without enabled field should default to enabled")
	}
	if out[0].Key() != "tools.weather_tool.WeatherTool" {
		t.Errorf("Key = %q", out[0].Key())
	}
	if out[1].Enabled {
		t.Error("explicit enabled=false lost")
	}
	if got := out[1].Config.Strings("roots", nil); len(got) != 1 || got[0] != "/tmp" {
		t.Errorf("roots = %v", got)
	}
	if out[0].Config == nil {
		t.Error("missing config should decode as empty settings")
	}
}

func TestFileStore_YAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tools.yaml")
	s := tools.NewFileStore(path)
	ctx := context.Background()

	if err := s.Save(ctx, []tools.Spec{{Name: "calc", Factory: "calculator", Enabled: true}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), "factory_key: calculator") {
		t.Errorf("yaml output:\n%s", raw)
	}
	out, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 1 || out[0].Factory != "calculator" || !out[0].Enabled {
		t.Errorf("Load = %+v", out)
	}
}

func TestFileStore_MissingAndMalformed(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := tools.NewFileStore(filepath.Join(dir, "nope.json")).Load(context.Background())
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing file err = %v, want ErrNotExist", err)
	}

	bad := filepath.Join(dir, "bad.json")
	_ = os.WriteFile(bad, []byte("{not json"), 0o644)
	if _, err := tools.NewFileStore(bad).Load(context.Background()); err == nil {
		t.Error("malformed file: want error")
	}
}

func TestSettings_Accessors(t *testing.T) {
	t.Parallel()
	s := tools.Settings{
		"str":   "x",
		"num":   float64(7),
		"bool":  true,
		"dur":   "1500ms",
		"secs":  float64(2),
		"list":  []any{"a", "b", 3},
		"pairs": map[string]any{"k": "v"},
	}
	if got := s.String("str", "d"); got != "x" {
		t.Errorf("String = %q", got)
	}
	if got := s.String("missing", "d"); got != "d" {
		t.Errorf("String default = %q", got)
	}
	if got := s.Int("num", 0); got != 7 {
		t.Errorf("Int = %d", got)
	}
	if got := s.Float("num", 0); got != 7 {
		t.Errorf("Float = %v", got)
	}
	if !s.Bool("bool", false) {
		t.Error("Bool = false")
	}
	if got := s.Duration("dur", 0); got != 1500*time.Millisecond {
		t.Errorf("Duration = %v", got)
	}
	if got := s.Duration("secs", 0); got != 2*time.Second {
		t.Errorf("Duration secs = %v", got)
	}
	if got := s.Strings("list", nil); len(got) != 2 {
		t.Errorf("Strings = %v", got)
	}
	if got := s.StringMap("pairs", nil); got["k"] != "v" {
		t.Errorf("StringMap = %v", got)
	}
}

func TestSpec_Validate(t *testing.T) {
	t.Parallel()
	if err := (tools.Spec{}).Validate(); err == nil {
		t.Error("empty spec: want error")
	}
	if err := (tools.Spec{Name: "a", ClassPath: "x.y"}).Validate(); err != nil {
		t.Errorf("class_path only: %v", err)
	}
}

func TestDiffSpecs(t *testing.T) {
	t.Parallel()
	old := []tools.Spec{
		{Name: "a", Factory: "echo", Enabled: true},
		{Name: "b", Factory: "echo", Enabled: true},
		{Name: "c", Factory: "echo", Enabled: true, Config: tools.Settings{"x": 1}},
	}
	new := []tools.Spec{
		{Name: "b", Factory: "echo", Enabled: false},
		{Name: "c", Factory: "echo", Enabled: true, Config: tools.Settings{"x": 1}},
		{Name: "d", Factory: "echo", Enabled: true},
	}
	d := tools.DiffSpecs(old, new)
	if len(d.Added) != 1 || d.Added[0] != "d" {
		t.Errorf("Added = %v", d.Added)
	}
	if len(d.Removed) != 1 || d.Removed[0] != "a" {
		t.Errorf("Removed = %v", d.Removed)
	}
	if len(d.Changed) != 1 || d.Changed[0] != "b" {
		t.Errorf("Changed = %v", d.Changed)
	}
	if !tools.DiffSpecs(new, new).Empty() {
		t.Error("identical lists should produce an empty diff")
	}
}
