package app_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parla/internal/app"
	"github.com/MrWong99/parla/internal/config"
	"github.com/MrWong99/parla/internal/history"
	"github.com/MrWong99/parla/internal/observe"
	"github.com/MrWong99/parla/internal/tools"
	llmmock "github.com/MrWong99/parla/pkg/provider/llm/mock"
	"github.com/MrWong99/parla/pkg/provider/llm"
	sttmock "github.com/MrWong99/parla/pkg/provider/stt/mock"
)

const calcToolsYAML = `
- name: calculator_tool
  factory_key: calculator
  enabled: true
`

const question = "计算 2+3*4 等于多少"

// testConfig returns a config that keeps every store inside dir.
func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	toolsPath := filepath.Join(dir, "tools.yaml")
	if err := os.WriteFile(toolsPath, []byte(calcToolsYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadFromReader(strings.NewReader(`
tools:
  store: file
  config_path: ` + toolsPath + `
  timeout: 2s
history:
  backend: file
  path: ` + filepath.Join(dir, "history.jsonl") + `
observe:
  metrics: false
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...app.Option) (*app.App, *sttmock.Provider) {
	t.Helper()
	stt := &sttmock.Provider{Text: question}
	ps := &app.Providers{
		STT: stt,
		LLM: &llmmock.Provider{Response: &llm.CompletionResponse{Content: "你好"}},
	}
	opts = append([]app.Option{
		app.WithProviders(ps),
		app.WithMetrics(observe.DefaultMetrics()),
	}, opts...)
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a, stt
}

func TestApp_AssistantEndpoint(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a, _ := newTestApp(t, testConfig(t, dir))

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	body, _ := json.Marshal(map[string]any{"input": question})
	resp, err := http.Post(srv.URL+"/v1/assistant", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Output string `json:"output"`
		Tool   string `json:"tool"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if want := "计算结果: 2+3*4 = 14"; out.Output != want {
		t.Errorf("output = %q, want %q", out.Output, want)
	}
	if out.Tool != "calculator_tool" {
		t.Errorf("tool = %q", out.Tool)
	}

	// The exchange lands in the history file.
	ex, err := history.NewFileStore(filepath.Join(dir, "history.jsonl")).Exchanges(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Exchanges: %v", err)
	}
	if len(ex) != 1 || ex[0].Tool != "calculator_tool" {
		t.Errorf("history = %+v", ex)
	}
}

func TestApp_HealthEndpoints(t *testing.T) {
	t.Parallel()
	a, _ := newTestApp(t, testConfig(t, t.TempDir()))
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}
}

func TestApp_ToolStoreFallsBackToDefaults(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.Tools.Settings = map[string]map[string]any{
		"calendar": {"db_path": filepath.Join(dir, "calendar.db")},
		"files":    {"roots": []any{dir}},
		"weather":  {"url": "http://127.0.0.1:1/weather"},
	}
	a, _ := newTestApp(t, cfg, app.WithToolStore(tools.NewFileStore(filepath.Join(dir, "missing.json"))))

	if got := len(a.Registry().Names()); got != len(tools.DefaultSpecs()) {
		t.Errorf("registered = %d, want %d", got, len(tools.DefaultSpecs()))
	}
}

func TestApp_WebsocketRoundTrip(t *testing.T) {
	t.Parallel()
	a, stt := newTestApp(t, testConfig(t, t.TempDir()))
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.CloseNow()

	pcm := make([]byte, 2*32000)
	msg := `{"type":"audio","data":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`
	if err := c.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var r struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	if r.Type != "response" || r.Text != "计算结果: 2+3*4 = 14" {
		t.Errorf("got %+v", r)
	}
	if stt.CallCount() != 1 {
		t.Errorf("stt calls = %d, want 1", stt.CallCount())
	}
	if n := len(a.Sessions().List()); n != 1 {
		t.Errorf("sessions = %d, want 1", n)
	}
}

func TestApp_RunServesAndStops(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	cfgPath := filepath.Join(dir, "parla.yaml")
	writeConfig := func(timeout string) {
		t.Helper()
		doc := "tools:\n  store: file\n  config_path: " + cfg.Tools.ConfigPath +
			"\n  timeout: " + timeout + "\nhistory:\n  backend: none\nobserve:\n  metrics: false\n"
		if err := os.WriteFile(cfgPath, []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	writeConfig("2s")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	a, _ := newTestApp(t, cfg,
		app.WithListener(ln),
		app.WithConfigWatch(cfgPath, config.WithInterval(10*time.Millisecond)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	// Ensure a distinct mtime before rewriting.
	time.Sleep(20 * time.Millisecond)
	writeConfig("7s")
	deadline := time.Now().Add(2 * time.Second)
	for a.Engine().ToolTimeout() != 7*time.Second {
		if time.Now().After(deadline) {
			t.Fatalf("tool timeout = %v, want 7s", a.Engine().ToolTimeout())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_ReloadConfigAppliesToolSettings(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfgPath := filepath.Join(dir, "parla.yaml")
	doc := func(timeout string) []byte {
		return []byte("tools:\n  store: file\n  config_path: " + cfg.Tools.ConfigPath +
			"\n  timeout: " + timeout + "\nhistory:\n  backend: none\nobserve:\n  metrics: false\n")
	}
	if err := os.WriteFile(cfgPath, doc("2s"), 0o644); err != nil {
		t.Fatal(err)
	}
	a, _ := newTestApp(t, cfg, app.WithConfigWatch(cfgPath, config.WithInterval(time.Hour)))

	if err := os.WriteFile(cfgPath, doc("4s"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := a.ReloadConfig(); err != nil {
		t.Fatalf("ReloadConfig: %v", err)
	}
	if got := a.Engine().ToolTimeout(); got != 4*time.Second {
		t.Errorf("tool timeout = %v, want 4s", got)
	}
}
