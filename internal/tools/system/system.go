// Package system implements the host control tool: lock the screen, open
// applications and tell the time. Shutdown requests are refused.
package system

import (
	"context"
	"log/slog"
	"maps"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/parla/internal/tools"
)

// Fixed replies.
const (
	Locked         = "屏幕已锁定"
	LockFailed     = "锁屏功能当前不可用"
	ShutdownRefuse = "出于安全考虑，请手动执行关机操作。"
	NoApp          = "请指定要打开的应用程序名称"
	Help           = "我可以帮您锁屏、打开应用程序或查看时间，请明确您的需求。"
)

var _ tools.Tool = (*Tool)(nil)

// DefaultApps maps spoken aliases to application names.
func DefaultApps() map[string]string {
	return map[string]string{
		"浏览器": "Safari",
		"邮件":  "Mail",
		"音乐":  "Music",
		"日历":  "Calendar",
		"终端":  "Terminal",
		"计算器": "Calculator",
		"备忘录": "Notes",
		"照片":  "Photos",
		"信息":  "Messages",
		"设置":  "System Preferences",
	}
}

// DefaultLockCommand returns the screen lock command for the running OS.
func DefaultLockCommand() string {
	switch runtime.GOOS {
	case "darwin":
		return "pmset displaysleepnow"
	case "windows":
		return "rundll32.exe user32.dll,LockWorkStation"
	default:
		return "loginctl lock-session"
	}
}

// DefaultOpenCommand returns the command prefix that launches an application
// by name, or "" to run the application name itself.
func DefaultOpenCommand() string {
	switch runtime.GOOS {
	case "darwin":
		return "open -a"
	case "windows":
		return `cmd /c start ""`
	default:
		return ""
	}
}

// Tool is the system control tool.
type Tool struct {
	apps    map[string]string
	lockCmd string
	openCmd string
	runner  tools.Runner
	matcher *AppMatcher
	now     func() time.Time
}

// Option configures a [Tool].
type Option func(*Tool)

// WithApps replaces the alias table.
func WithApps(apps map[string]string) Option {
	return func(t *Tool) { t.apps = apps }
}

// WithCommands overrides the lock and open commands. Empty arguments keep
// the platform defaults.
func WithCommands(lock, open string) Option {
	return func(t *Tool) {
		if lock != "" {
			t.lockCmd = lock
		}
		if open != "" {
			t.openCmd = open
		}
	}
}

// WithRunner sets the command runner.
func WithRunner(r tools.Runner) Option {
	return func(t *Tool) { t.runner = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tool) { t.now = now }
}

// New returns a Tool with platform defaults.
func New(opts ...Option) *Tool {
	t := &Tool{
		apps:    DefaultApps(),
		lockCmd: DefaultLockCommand(),
		openCmd: DefaultOpenCommand(),
		runner:  tools.ExecRunner{},
		matcher: NewAppMatcher(0, 0),
		now:     time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Factory builds a [Tool] from "apps" (merged over the defaults),
// "lock_command" and "open_command".
func Factory(_ context.Context, s tools.Settings) (tools.Tool, error) {
	apps := DefaultApps()
	maps.Copy(apps, s.StringMap("apps", nil))
	return New(
		WithApps(apps),
		WithCommands(s.String("lock_command", ""), s.String("open_command", "")),
	), nil
}

// Run implements [tools.Tool].
func (t *Tool) Run(ctx context.Context, query string) (string, error) {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "锁屏") || strings.Contains(q, "锁定"):
		return t.lock(ctx), nil
	case strings.Contains(q, "关机") || strings.Contains(q, "关闭") || strings.Contains(q, "睡眠"):
		return ShutdownRefuse, nil
	case strings.Contains(q, "应用") || strings.Contains(q, "程序") || strings.Contains(q, "打开"):
		return t.open(query), nil
	case strings.Contains(q, "时间") || strings.Contains(q, "几点"):
		return "现在是 " + t.now().Format("2006年01月02日 15:04:05"), nil
	default:
		return Help, nil
	}
}

func (t *Tool) lock(ctx context.Context) string {
	name, args := tools.SplitCommand(t.lockCmd)
	if name == "" {
		return LockFailed
	}
	if _, err := t.runner.Run(ctx, name, args...); err != nil {
		slog.Warn("system: lock screen failed", "error", err)
		return LockFailed
	}
	return Locked
}

var latinRe = regexp.MustCompile(`[A-Za-z][A-Za-z0-9 .+-]*[A-Za-z0-9]`)

func (t *Tool) open(query string) string {
	app := t.resolveApp(query)
	if app == "" {
		return NoApp
	}
	name, args := tools.SplitCommand(t.openCmd)
	if name == "" {
		name, args = app, nil
	} else {
		args = append(args, app)
	}
	if _, err := t.runner.Start(name, args...); err != nil {
		slog.Warn("system: open application failed", "app", app, "error", err)
		return "无法打开 " + app
	}
	return "已打开 " + app
}

// resolveApp finds the application named in query: aliases first (longest
// alias wins), then a fuzzy match of any Latin-script words against the
// known application names.
func (t *Tool) resolveApp(query string) string {
	aliases := slices.Collect(maps.Keys(t.apps))
	slices.SortFunc(aliases, func(a, b string) int { return len(b) - len(a) })
	for _, a := range aliases {
		if strings.Contains(query, a) {
			return t.apps[a]
		}
	}

	names := slices.Sorted(maps.Values(t.apps))
	names = slices.Compact(names)
	for _, word := range latinRe.FindAllString(query, -1) {
		if app, _, ok := t.matcher.Match(word, names); ok {
			return app
		}
	}
	return ""
}
