// Package files implements the local file search and open tool.
//
// Searches walk the configured roots (home, Desktop and Documents by
// default) and match file names case-insensitively. The last result list is
// remembered so a follow-up "打开第二个" opens the second hit.
package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/MrWong99/parla/internal/tools"
)

const (
	defaultMaxDepth   = 4
	defaultMaxVisited = 20000
	shown             = 5
)

var _ tools.Tool = (*Tool)(nil)

// Tool searches and opens local files.
type Tool struct {
	roots      []string
	maxDepth   int
	maxVisited int
	runner     tools.Runner

	mu   sync.Mutex
	last []string
}

// Option configures a [Tool].
type Option func(*Tool)

// WithRoots sets the directories searched.
func WithRoots(roots ...string) Option {
	return func(t *Tool) { t.roots = roots }
}

// WithMaxDepth limits how deep below each root the search descends.
func WithMaxDepth(depth int) Option {
	return func(t *Tool) {
		if depth > 0 {
			t.maxDepth = depth
		}
	}
}

// WithRunner sets the command runner used to open files.
func WithRunner(r tools.Runner) Option {
	return func(t *Tool) { t.runner = r }
}

// New returns a Tool.
func New(opts ...Option) *Tool {
	t := &Tool{maxDepth: defaultMaxDepth, maxVisited: defaultMaxVisited, runner: tools.ExecRunner{}}
	for _, o := range opts {
		o(t)
	}
	if len(t.roots) == 0 {
		t.roots = defaultRoots()
	}
	return t
}

func defaultRoots() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return []string{"."}
	}
	return []string{filepath.Join(home, "Desktop"), filepath.Join(home, "Documents"), home}
}

// Factory builds a [Tool] from the "roots" and "max_depth" settings.
func Factory(_ context.Context, s tools.Settings) (tools.Tool, error) {
	return New(
		WithRoots(s.Strings("roots", nil)...),
		WithMaxDepth(s.Int("max_depth", defaultMaxDepth)),
	), nil
}

var (
	folderRe  = regexp.MustCompile(`(?:打开|查找|搜索)(.+?)(?:文件夹|目录)`)
	searchRe  = regexp.MustCompile(`(?:查找|搜索|找一下|找)(.+?)(?:的)?(?:文件|文档)?$`)
	ordinalRe = regexp.MustCompile(`打开第([一二三四五12345])个`)
)

var ordinals = map[string]int{"一": 1, "二": 2, "三": 3, "四": 4, "五": 5, "1": 1, "2": 2, "3": 3, "4": 4, "5": 5}

// Run implements [tools.Tool].
func (t *Tool) Run(ctx context.Context, query string) (string, error) {
	if m := ordinalRe.FindStringSubmatch(query); m != nil {
		return t.openNth(ctx, ordinals[m[1]])
	}
	if strings.Contains(query, "文件夹") || strings.Contains(query, "目录") {
		return t.openFolder(ctx, query)
	}
	return t.search(ctx, query)
}

func (t *Tool) search(ctx context.Context, query string) (string, error) {
	term := query
	if m := searchRe.FindStringSubmatch(query); m != nil {
		term = m[1]
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return "请告诉我要查找的文件名。", nil
	}

	hits, err := t.Search(ctx, term)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	t.last = hits
	t.mu.Unlock()

	if len(hits) == 0 {
		return fmt.Sprintf("没有找到包含 '%s' 的文件。", term), nil
	}
	n := min(shown, len(hits))
	var b strings.Builder
	fmt.Fprintf(&b, "找到 %d 个相关文件。前%d个：\n", len(hits), n)
	for i, p := range hits[:n] {
		fmt.Fprintf(&b, "%d. %s\n", i+1, filepath.Base(p))
	}
	b.WriteString("\n说'打开第一个'来打开文件。")
	return b.String(), nil
}

var errStopWalk = errors.New("stop walk")

// Search returns paths under the roots whose base name contains term,
// case-insensitively, in walk order. Hidden directories are skipped.
func (t *Tool) Search(ctx context.Context, term string) ([]string, error) {
	needle := strings.ToLower(term)
	seen := make(map[string]bool)
	var hits []string
	visited := 0

	for _, root := range t.roots {
		rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable entries are skipped rather than aborting the search.
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			visited++
			if visited > t.maxVisited {
				return errStopWalk
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return fs.SkipDir
				}
				if strings.Count(filepath.Clean(path), string(filepath.Separator))-rootDepth >= t.maxDepth {
					return fs.SkipDir
				}
				return nil
			}
			if strings.Contains(strings.ToLower(d.Name()), needle) && !seen[path] {
				seen[path] = true
				hits = append(hits, path)
			}
			return nil
		})
		switch {
		case errors.Is(err, errStopWalk):
			return hits, nil
		case err != nil && ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("files: search %q: %w", root, err)
		}
	}
	return hits, nil
}

func (t *Tool) openNth(ctx context.Context, n int) (string, error) {
	t.mu.Lock()
	last := t.last
	t.mu.Unlock()
	if n < 1 || n > len(last) {
		return "没有可以打开的搜索结果，请先搜索文件。", nil
	}
	path := last[n-1]
	if err := t.open(ctx, path); err != nil {
		return "", err
	}
	return fmt.Sprintf("已打开 %s", filepath.Base(path)), nil
}

func (t *Tool) openFolder(ctx context.Context, query string) (string, error) {
	name := ""
	if m := folderRe.FindStringSubmatch(query); m != nil {
		name = strings.TrimSpace(m[1])
	}
	if name == "" {
		if err := t.open(ctx, "."); err != nil {
			return "", err
		}
		return "已打开当前文件夹", nil
	}

	candidates := []string{name}
	if !filepath.IsAbs(name) {
		for _, root := range t.roots {
			candidates = append(candidates, filepath.Join(root, name))
		}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			if err := t.open(ctx, c); err != nil {
				return "", err
			}
			return fmt.Sprintf("已打开 %s 文件夹", c), nil
		}
	}
	return fmt.Sprintf("未找到名为 %s 的文件夹", name), nil
}

func (t *Tool) open(ctx context.Context, target string) error {
	name, args := tools.OpenCommand(target)
	if _, err := t.runner.Run(ctx, name, args...); err != nil {
		return fmt.Errorf("files: open %q: %w", target, err)
	}
	return nil
}
