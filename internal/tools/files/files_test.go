package files

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/parla/internal/tools/toolstest"
)

func writeTree(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestTool_SearchAndOpen(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root,
		"report-2024.pdf",
		"work/Report-final.docx",
		"work/deep/a/b/c/d/report-too-deep.txt",
		".hidden/report-secret.txt",
		"notes.txt",
	)
	runner := &toolstest.Runner{}
	tool := New(WithRoots(root), WithRunner(runner), WithMaxDepth(3))
	ctx := context.Background()

	got, err := tool.Run(ctx, "查找report文件")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(got, "找到 2 个相关文件。前2个：") {
		t.Fatalf("Run = %q", got)
	}
	if strings.Contains(got, "secret") || strings.Contains(got, "too-deep") {
		t.Errorf("hidden or too deep file listed: %q", got)
	}

	got, err = tool.Run(ctx, "打开第二个")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !strings.HasPrefix(got, "已打开 ") {
		t.Errorf("open reply = %q", got)
	}
	if !strings.Contains(runner.Last(), filepath.Join(root, "work", "Report-final.docx")) {
		t.Errorf("runner command = %q", runner.Last())
	}
}

func TestTool_NoResults(t *testing.T) {
	t.Parallel()
	tool := New(WithRoots(t.TempDir()), WithRunner(&toolstest.Runner{}))
	got, _ := tool.Run(context.Background(), "搜索预算表")
	if got != "没有找到包含 '预算表' 的文件。" {
		t.Errorf("Run = %q", got)
	}
	got, _ = tool.Run(context.Background(), "打开第一个")
	if !strings.HasPrefix(got, "没有可以打开的搜索结果") {
		t.Errorf("open without results = %q", got)
	}
}

func TestTool_OpenFolder(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "photos"), 0o755); err != nil {
		t.Fatal(err)
	}
	runner := &toolstest.Runner{}
	tool := New(WithRoots(root), WithRunner(runner))
	ctx := context.Background()

	got, _ := tool.Run(ctx, "打开photos文件夹")
	if got != "已打开 "+filepath.Join(root, "photos")+" 文件夹" {
		t.Errorf("Run = %q", got)
	}
	got, _ = tool.Run(ctx, "打开music文件夹")
	if got != "未找到名为 music 的文件夹" {
		t.Errorf("missing folder = %q", got)
	}
	if runner.Count() != 1 {
		t.Errorf("runner called %d times, want 1", runner.Count())
	}
}

func TestTool_SearchHonoursCancel(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeTree(t, root, "a.txt", "b.txt")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(WithRoots(root)).Search(ctx, "a"); err == nil {
		t.Error("Search with cancelled ctx: want error")
	}
}
