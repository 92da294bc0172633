package weather

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/parla/internal/tools"
	"github.com/MrWong99/parla/internal/tools/mcptool"
)

// ── HTTP ─────────────────────────────────────────────────────────────────────

// HTTPBackend posts the city to a JSON weather endpoint.
type HTTPBackend struct {
	url    string
	client *http.Client
}

// NewHTTPBackend returns a backend posting to url.
func NewHTTPBackend(url string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{url: url, client: &http.Client{Timeout: timeout}}
}

// Forecast implements [Backend].
func (b *HTTPBackend) Forecast(ctx context.Context, city string) (string, error) {
	body, err := json.Marshal(map[string]any{"arguments": map[string]string{"city": city}})
	if err != nil {
		return "", fmt.Errorf("weather: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("weather: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("weather: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("weather: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", errRejected, resp.StatusCode)
	}

	var decoded struct {
		Result *string `json:"result"`
	}
	if json.Unmarshal(raw, &decoded) == nil {
		if decoded.Result != nil {
			return *decoded.Result, nil
		}
		return fmt.Sprintf("获取%s天气信息失败", city), nil
	}
	return strings.TrimSpace(string(raw)), nil
}

// ── MCP ──────────────────────────────────────────────────────────────────────

// MCPBackend calls the "weather" tool of an MCP server.
type MCPBackend struct {
	client *mcptool.Client
	tool   string
}

// NewMCPBackend connects to the server described by the mcptool settings.
// The remote tool name defaults to "weather".
func NewMCPBackend(ctx context.Context, s tools.Settings) (*MCPBackend, error) {
	client, err := mcptool.Connect(ctx, mcptool.ServerConfigFrom("weather", s))
	if err != nil {
		return nil, err
	}
	return &MCPBackend{client: client, tool: s.String("tool", "weather")}, nil
}

// NewMCPBackendWithClient wraps an existing client.
func NewMCPBackendWithClient(c *mcptool.Client, tool string) *MCPBackend {
	if tool == "" {
		tool = "weather"
	}
	return &MCPBackend{client: c, tool: tool}
}

// Forecast implements [Backend].
func (b *MCPBackend) Forecast(ctx context.Context, city string) (string, error) {
	return b.client.Call(ctx, b.tool, map[string]any{"city": city})
}

// Close implements [io.Closer].
func (b *MCPBackend) Close() error { return b.client.Close() }

// ── AMap ─────────────────────────────────────────────────────────────────────

const defaultAMapURL = "https://restapi.amap.com/v3/weather/weatherInfo"

// AMapBackend queries the AMap live-weather API.
type AMapBackend struct {
	key     string
	baseURL string
	client  *http.Client
}

// NewAMapBackend returns a backend using key against baseURL.
func NewAMapBackend(key, baseURL string, timeout time.Duration) *AMapBackend {
	return &AMapBackend{key: key, baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// Live is one AMap live-weather record.
type Live struct {
	Province      string `json:"province"`
	City          string `json:"city"`
	Weather       string `json:"weather"`
	Temperature   string `json:"temperature"`
	Humidity      string `json:"humidity"`
	WindDirection string `json:"winddirection"`
	WindPower     string `json:"windpower"`
	ReportTime    string `json:"reporttime"`
}

// Forecast implements [Backend].
func (b *AMapBackend) Forecast(ctx context.Context, city string) (string, error) {
	q := url.Values{"key": {b.key}, "city": {city}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("weather: build request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("weather: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", errRejected, resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
		Info   string `json:"info"`
		Lives  []Live `json:"lives"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("weather: decode response: %w", err)
	}
	if body.Status != "1" || len(body.Lives) == 0 {
		return "", fmt.Errorf("%w: %s", errRejected, body.Info)
	}
	return Report(body.Lives[0])
}

var weekdays = [...]string{"日", "一", "二", "三", "四", "五", "六"}

// Report renders a live record as a spoken sentence.
func Report(l Live) (string, error) {
	ts, err := time.ParseInLocation(time.DateTime, l.ReportTime, time.Local)
	if err != nil {
		return "", fmt.Errorf("天气数据解析失败: %w", err)
	}
	return fmt.Sprintf("现在是%d年%d月%d日星期%s%02d:%02d分，%s%s当前天气为%s，气温%s℃，湿度%s%%，风向为%s风，风力等级%s。",
		ts.Year(), int(ts.Month()), ts.Day(), weekdays[ts.Weekday()], ts.Hour(), ts.Minute(),
		l.Province, l.City, l.Weather, l.Temperature, l.Humidity, l.WindDirection, l.WindPower,
	), nil
}
