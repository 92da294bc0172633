// Package intent maps recognised text to a small, fixed set of intent
// categories and each category to the tool that serves it.
//
// Classification is plain keyword matching over an ordered rule list. Rules
// are evaluated in order and the first rule with any matching keyword wins,
// so a query that mentions both weather and music resolves to whichever rule
// comes first. Both [Router.Classify] and [Router.Route] are pure and total.
package intent

import "strings"

// Label is an intent category.
type Label string

// Built-in labels.
const (
	// Unknown is assigned when there is no usable text to classify.
	Unknown Label = "unknown"

	// General is assigned when text is present but no rule matches.
	General Label = "general"

	Weather     Label = "weather"
	Calendar    Label = "calendar"
	Files       Label = "files"
	Music       Label = "music"
	System      Label = "system"
	Calculation Label = "calculation"
)

// Rule binds an intent label to its trigger keywords.
type Rule struct {
	Label    Label
	Keywords []string
}

// Matches reports whether text contains any of the rule's keywords.
func (r Rule) Matches(text string) bool {
	for _, kw := range r.Keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// DefaultRules returns the built-in rule list in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{Label: Weather, Keywords: []string{"天气", "气温", "温度", "下雨", "下雪"}},
		{Label: Calendar, Keywords: []string{"日历", "日程", "会议", "安排", "事件"}},
		{Label: Files, Keywords: []string{"文件", "查找", "打开", "文件夹", "文档"}},
		{Label: Music, Keywords: []string{"音乐", "播放", "歌曲", "暂停", "下一首"}},
		{Label: System, Keywords: []string{"锁屏", "关机", "打开应用", "系统"}},
		{Label: Calculation, Keywords: []string{"计算", "算一下", "等于多少", "+", "-", "*", "/"}},
	}
}

// DefaultRoutes returns the built-in intent → tool name table. General and
// Unknown are deliberately absent so they fall through to the completion
// backend.
func DefaultRoutes() map[Label]string {
	return map[Label]string{
		Weather:     "weather_tool",
		Calendar:    "calendar_tool",
		Files:       "file_tool",
		Music:       "music_tool",
		System:      "system_tool",
		Calculation: "calculator_tool",
	}
}

// Router classifies text and routes labels to tool names. A Router is
// immutable after construction and safe for concurrent use.
type Router struct {
	rules  []Rule
	routes map[Label]string
}

// Option is a functional option for [New].
type Option func(*Router)

// WithRules replaces the rule list. Order is priority order.
func WithRules(rules []Rule) Option {
	return func(r *Router) { r.rules = rules }
}

// WithRoutes replaces the route table.
func WithRoutes(routes map[Label]string) Option {
	return func(r *Router) { r.routes = routes }
}

// WithRule appends a rule after the existing ones, together with the tool it
// routes to. An empty tool name leaves the label unrouted.
func WithRule(rule Rule, tool string) Option {
	return func(r *Router) {
		r.rules = append(r.rules, rule)
		if tool != "" {
			if r.routes == nil {
				r.routes = make(map[Label]string)
			}
			r.routes[rule.Label] = tool
		}
	}
}

// New returns a Router with the default rules and routes, modified by opts.
func New(opts ...Option) *Router {
	r := &Router{
		rules:  DefaultRules(),
		routes: DefaultRoutes(),
	}
	for _, o := range opts {
		o(r)
	}
	// Own copies so callers cannot mutate a live router.
	rules := make([]Rule, len(r.rules))
	for i, rule := range r.rules {
		kws := make([]string, len(rule.Keywords))
		for j, kw := range rule.Keywords {
			kws[j] = strings.ToLower(kw)
		}
		rules[i] = Rule{Label: rule.Label, Keywords: kws}
	}
	routes := make(map[Label]string, len(r.routes))
	for k, v := range r.routes {
		routes[k] = v
	}
	r.rules, r.routes = rules, routes
	return r
}

// Classify returns the label of the first rule matching text. Empty or
// whitespace-only text yields [Unknown]; text no rule matches yields
// [General].
func (r *Router) Classify(text string) Label {
	text = strings.TrimSpace(text)
	if text == "" {
		return Unknown
	}
	lower := strings.ToLower(text)
	for _, rule := range r.rules {
		if rule.Matches(lower) {
			return rule.Label
		}
	}
	return General
}

// Route returns the tool name serving label. ok is false when the label has
// no tool, in which case the caller falls back to the completion backend.
func (r *Router) Route(label Label) (tool string, ok bool) {
	tool, ok = r.routes[label]
	return tool, ok
}

// Rules returns a copy of the rule list in priority order.
func (r *Router) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}
