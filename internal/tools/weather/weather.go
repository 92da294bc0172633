// Package weather implements the weather lookup tool.
//
// The city is taken from the query (a list of well-known cities first, then
// "<city>天气" style patterns) or from the configured default. The forecast
// itself comes from one of three backends selected by the "mode" setting:
//
//   - "http" (default): POST {"arguments":{"city":…}} to "url" (default
//     [DefaultURL]); the reply is either {"result": "..."} or plain text.
//   - "mcp": call the "weather" tool of an MCP server with {"city":…}.
//   - "amap": query the AMap live-weather REST API with "api_key".
//
// Every backend call goes through a circuit breaker so a dead service fails
// fast instead of stalling each utterance for the full tool timeout.
package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/parla/internal/resilience"
	"github.com/MrWong99/parla/internal/tools"
)

// Unavailable is the reply when the weather backend rejects the request or
// its circuit is open.
const Unavailable = "天气服务暂时不可用"

// DefaultURL is the http-mode endpoint used when "url" is not set. A
// missing service there surfaces as [Unavailable] at call time.
const DefaultURL = "http://localhost:5000/mcp/tools/weather_tool/execute"

// NoCity is the reply when no city can be determined.
const NoCity = "无法确定您的位置，请明确指定要查询的城市"

var knownCities = []string{
	"北京", "上海", "广州", "深圳", "杭州", "南京", "成都", "武汉",
	"西安", "重庆", "天津", "苏州", "郑州", "长沙", "沈阳", "青岛",
	"大连", "宁波", "厦门", "福州", "无锡", "合肥", "太原", "南昌",
	"石家庄", "哈尔滨", "长春", "兰州", "银川", "西宁", "乌鲁木齐",
	"拉萨", "南宁", "贵阳", "昆明", "海口", "香港", "澳门", "台北",
}

var cityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`([\p{Han}]{2,4}?)市.*天气`),
	regexp.MustCompile(`查询.*?([\p{Han}]{2,4}?)的天气`),
	regexp.MustCompile(`([\p{Han}]{2,4}?)的?天气`),
	regexp.MustCompile(`天气.*?([\p{Han}]{2,4}?)市`),
}

// fillers are words a pattern may capture that are not city names.
var fillers = []string{"今天", "明天", "后天", "现在", "查询", "查一下", "看看", "告诉我", "帮我", "的"}

// ExtractCity returns the city named in query, or "".
func ExtractCity(query string) string {
	for _, c := range knownCities {
		if strings.Contains(query, c) {
			return c
		}
	}
	for _, re := range cityPatterns {
		m := re.FindStringSubmatch(query)
		if m == nil {
			continue
		}
		city := m[1]
		for _, f := range fillers {
			city = strings.TrimPrefix(city, f)
		}
		if len([]rune(city)) >= 2 {
			return city
		}
	}
	return ""
}

// Backend fetches the forecast for one city.
type Backend interface {
	Forecast(ctx context.Context, city string) (string, error)
}

// errRejected marks a backend reply that should be reported as
// [Unavailable] rather than as a tool error.
var errRejected = errors.New("weather: service rejected request")

var (
	_ tools.Tool = (*Tool)(nil)
	_ io.Closer  = (*Tool)(nil)
)

// Tool is the weather tool.
type Tool struct {
	backend     Backend
	defaultCity string
	breaker     *resilience.CircuitBreaker
}

// Option configures a [Tool].
type Option func(*Tool)

// WithDefaultCity sets the city used when the query names none.
func WithDefaultCity(city string) Option {
	return func(t *Tool) { t.defaultCity = city }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(t *Tool) { t.breaker = cb }
}

// New returns a Tool backed by b.
func New(b Backend, opts ...Option) *Tool {
	t := &Tool{backend: b}
	for _, o := range opts {
		o(t)
	}
	if t.breaker == nil {
		t.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "weather",
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  1,
		})
	}
	return t
}

// Run implements [tools.Tool].
func (t *Tool) Run(ctx context.Context, query string) (string, error) {
	city := ExtractCity(query)
	if city == "" {
		city = t.defaultCity
	}
	if city == "" {
		return NoCity, nil
	}

	var report string
	err := t.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		report, err = t.backend.Forecast(ctx, city)
		return err
	})
	switch {
	case err == nil:
		return report, nil
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, errRejected):
		slog.Warn("weather backend unavailable", "city", city, "err", err)
		return Unavailable, nil
	default:
		return "", err
	}
}

// Close releases the backend if it holds resources.
func (t *Tool) Close() error {
	if c, ok := t.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Factory builds a [Tool] from settings. See the package documentation for
// the modes; "default_city" and "timeout" apply to all of them.
func Factory(ctx context.Context, s tools.Settings) (tools.Tool, error) {
	timeout := s.Duration("timeout", 10*time.Second)

	var backend Backend
	switch mode := s.String("mode", "http"); mode {
	case "http":
		backend = NewHTTPBackend(s.String("url", DefaultURL), timeout)
	case "amap":
		key := s.String("api_key", "")
		if key == "" {
			return nil, fmt.Errorf("weather: amap mode requires \"api_key\"")
		}
		backend = NewAMapBackend(key, s.String("base_url", defaultAMapURL), timeout)
	case "mcp":
		b, err := NewMCPBackend(ctx, s)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("weather: unknown mode %q", mode)
	}
	return New(backend, WithDefaultCity(s.String("default_city", ""))), nil
}
