// Package calendar implements the personal calendar tool over a SQLite
// event store.
package calendar

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/parla/internal/tools"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	defaultTime  = "10:00"
	defaultTitle = "新事件"
)

var (
	_ tools.Tool = (*Tool)(nil)
	_ io.Closer  = (*Tool)(nil)
)

// Tool answers schedule questions and records new events.
type Tool struct {
	store    *Store
	now      func() time.Time
	horizon  int
	maxItems int
}

// Option configures a [Tool].
type Option func(*Tool)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tool) { t.now = now }
}

// WithHorizon sets how many days ahead "upcoming" looks. Default 7.
func WithHorizon(days int) Option {
	return func(t *Tool) {
		if days > 0 {
			t.horizon = days
		}
	}
}

// New returns a Tool over store. The Tool owns store and closes it.
func New(store *Store, opts ...Option) *Tool {
	t := &Tool{store: store, now: time.Now, horizon: 7, maxItems: 50}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Factory builds a [Tool] from the "db_path" and "horizon_days" settings.
func Factory(_ context.Context, s tools.Settings) (tools.Tool, error) {
	store, err := Open(s.String("db_path", "./data/calendar.db"))
	if err != nil {
		return nil, err
	}
	return New(store, WithHorizon(s.Int("horizon_days", 7))), nil
}

// Close implements [io.Closer].
func (t *Tool) Close() error { return t.store.Close() }

var (
	addWords      = []string{"添加", "创建", "新建", "记一下", "提醒我"}
	todayWords    = []string{"今天", "今日", "现在", "当前"}
	upcomingWords = []string{"明天", "后天", "下周", "未来", "接下来", "之后"}
	listWords     = []string{"所有", "全部", "列表", "显示"}
)

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Run implements [tools.Tool]. Adding takes precedence over the query words
// so that "添加明天的会议" records an event rather than listing tomorrow.
func (t *Tool) Run(ctx context.Context, query string) (string, error) {
	q := strings.ToLower(query)
	switch {
	case containsAny(q, addWords):
		return t.add(ctx, query)
	case containsAny(q, todayWords):
		return t.today(ctx)
	case containsAny(q, upcomingWords):
		return t.upcoming(ctx)
	case containsAny(q, listWords):
		return t.list(ctx)
	default:
		return t.today(ctx)
	}
}

func (t *Tool) today(ctx context.Context) (string, error) {
	day := t.now().Format(dateLayout)
	events, err := t.store.Between(ctx, day, day)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return fmt.Sprintf("今天(%s)没有安排任何活动。", day), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "今天(%s)的安排：", day)
	for _, e := range events {
		fmt.Fprintf(&b, "\n- %s %s", e.Time, e.Title)
	}
	return b.String(), nil
}

func (t *Tool) upcoming(ctx context.Context) (string, error) {
	now := t.now()
	from := now.AddDate(0, 0, 1).Format(dateLayout)
	to := now.AddDate(0, 0, t.horizon).Format(dateLayout)
	events, err := t.store.Between(ctx, from, to)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return fmt.Sprintf("未来%d天没有安排任何活动。", t.horizon), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "未来%d天的安排：", t.horizon)
	for _, e := range events {
		fmt.Fprintf(&b, "\n- %s %s %s", e.Date, e.Time, e.Title)
	}
	return b.String(), nil
}

func (t *Tool) list(ctx context.Context) (string, error) {
	events, err := t.store.All(ctx, t.maxItems)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "日历中没有事件。", nil
	}
	var b strings.Builder
	b.WriteString("所有日历事件：")
	for _, e := range events {
		fmt.Fprintf(&b, "\n- %s %s %s", e.Date, e.Time, e.Title)
	}
	return b.String(), nil
}

func (t *Tool) add(ctx context.Context, query string) (string, error) {
	e := ParseEvent(query, t.now())
	if err := t.store.Add(ctx, &e); err != nil {
		return "", err
	}
	return fmt.Sprintf("已为您添加到日历中：%s %s %s", e.Date, e.Time, e.Title), nil
}

// ── Parsing ──────────────────────────────────────────────────────────────────

var (
	isoDateRe   = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
	cnDateRe    = regexp.MustCompile(`(\d{1,2})月(\d{1,2})[日号]`)
	clockRe     = regexp.MustCompile(`(\d{1,2})[:：](\d{2})`)
	hourRe      = regexp.MustCompile(`(\d{1,2})点(半|(\d{1,2})分?)?`)
	periodRe    = regexp.MustCompile(`上午|早上|中午|下午|晚上`)
	titleStrip  = regexp.MustCompile(`添加|创建|新建|记一下|提醒我|一个|日程|事件|到日历|日历|安排|在|的`)
	spaceCollap = regexp.MustCompile(`\s+`)
)

// ParseEvent extracts a date, time and title from an "add" request. Missing
// parts fall back to today, 10:00 and "新事件". The full query is kept as the
// description.
func ParseEvent(query string, now time.Time) Event {
	e := Event{Date: now.Format(dateLayout), Time: defaultTime, Title: defaultTitle, Description: query}
	rest := query

	switch {
	case strings.Contains(rest, "后天"):
		e.Date = now.AddDate(0, 0, 2).Format(dateLayout)
		rest = strings.Replace(rest, "后天", "", 1)
	case strings.Contains(rest, "明天"):
		e.Date = now.AddDate(0, 0, 1).Format(dateLayout)
		rest = strings.Replace(rest, "明天", "", 1)
	case strings.Contains(rest, "今天"):
		rest = strings.Replace(rest, "今天", "", 1)
	}
	if m := isoDateRe.FindStringSubmatch(rest); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		e.Date = time.Date(y, time.Month(mo), d, 0, 0, 0, 0, now.Location()).Format(dateLayout)
		rest = strings.Replace(rest, m[0], "", 1)
	} else if m := cnDateRe.FindStringSubmatch(rest); m != nil {
		mo, _ := strconv.Atoi(m[1])
		d, _ := strconv.Atoi(m[2])
		y := now.Year()
		candidate := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, now.Location())
		if candidate.Before(time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())) {
			candidate = candidate.AddDate(1, 0, 0)
		}
		e.Date = candidate.Format(dateLayout)
		rest = strings.Replace(rest, m[0], "", 1)
	}

	period := periodRe.FindString(rest)
	rest = periodRe.ReplaceAllString(rest, "")

	hour, minute, found := -1, 0, false
	if m := clockRe.FindStringSubmatch(rest); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		found = true
		rest = strings.Replace(rest, m[0], "", 1)
	} else if m := hourRe.FindStringSubmatch(rest); m != nil {
		hour, _ = strconv.Atoi(m[1])
		switch {
		case m[2] == "半":
			minute = 30
		case m[3] != "":
			minute, _ = strconv.Atoi(m[3])
		}
		found = true
		rest = strings.Replace(rest, m[0], "", 1)
	}
	if found {
		if (period == "下午" || period == "晚上") && hour < 12 {
			hour += 12
		}
		if hour >= 0 && hour < 24 && minute >= 0 && minute < 60 {
			e.Time = fmt.Sprintf("%02d:%02d", hour, minute)
		}
	}

	title := titleStrip.ReplaceAllString(rest, "")
	title = strings.Trim(spaceCollap.ReplaceAllString(title, " "), " ，,。.:：")
	if title != "" {
		e.Title = title
	}
	return e
}
