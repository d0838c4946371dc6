package nominatim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"boundary-overlay/internal/geo"
	"boundary-overlay/internal/logger"
	"boundary-overlay/internal/metrics"
)

// DefaultURL：公共 Nominatim 搜索端点
const DefaultURL = "https://nominatim.openstreetmap.org/search"

// ErrNotFound：查询无结果，或首个结果不含边界几何
var ErrNotFound = errors.New("boundary not found")

// StatusError：上游返回非 200
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("boundary service status %d", e.Code)
	}
	return fmt.Sprintf("boundary service status %d: %s", e.Code, e.Body)
}

// 文档注释：边界查询客户端
// 背景：对接 Nominatim 或兼容其契约的自建边界服务；按地名返回多边形与代表点。
// 约束：HTTP 为空时使用 5s 超时的默认客户端；Limiter 为空表示不节流；UserAgent 建议按上游使用政策填写。
type Client struct {
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
	Limiter   *Limiter
	Log       *slog.Logger
}

func New(baseURL, userAgent string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{BaseURL: baseURL, UserAgent: userAgent, HTTP: &http.Client{Timeout: timeout}}
}

func (c *Client) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return logger.L()
}

// 文档注释：按地名搜索
// 参数：ctx 控制取消（被新查询取代时由调用方取消）；q 为 "城市, 国家" 或 "国家"。
// 返回：上游结果数组原样解析；取消时返回的错误满足 errors.Is(err, context.Canceled)，且不记为失败。
func (c *Client) Search(ctx context.Context, q string) ([]Place, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrNotFound
	}
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	v := url.Values{}
	v.Set("q", q)
	v.Set("polygon_geojson", "1")
	v.Set("format", "json")
	u := c.BaseURL
	if strings.Contains(u, "?") {
		u += "&" + v.Encode()
	} else {
		u += "?" + v.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}
	t0 := time.Now()
	metrics.LookupRequestsTotal.Inc()
	c.log().Debug("boundary_lookup_req", "q", q)
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("boundary lookup %q: %w", q, ctx.Err())
		}
		metrics.LookupFailTotal.Inc()
		return nil, fmt.Errorf("boundary lookup %q: %w", q, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.LookupFailTotal.Inc()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	var places []Place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.LookupFailTotal.Inc()
		return nil, fmt.Errorf("%w: decode response: %v", geo.ErrMalformed, err)
	}
	dur := time.Since(t0).Milliseconds()
	metrics.LookupDurationMs.Observe(float64(dur))
	c.log().Debug("boundary_lookup_resp", "q", q, "results", len(places), "duration_ms", dur)
	return places, nil
}

// 文档注释：解析首个结果为边界
// 约束：空数组或首个结果缺少 geojson 视为 ErrNotFound（同时满足 errors.Is(err, geo.ErrNoGeometry)）；不回退到后续结果。
func (c *Client) Resolve(ctx context.Context, q string) (*geo.Boundary, error) {
	places, err := c.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	return First(q, places)
}

// First：取首个结果转换为边界；供客户端与自建服务共用
func First(q string, places []Place) (*geo.Boundary, error) {
	if len(places) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, q)
	}
	b, err := places[0].ToBoundary()
	if errors.Is(err, geo.ErrNoGeometry) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// StatusURL：由搜索端点推导 /status 端点
func (c *Client) StatusURL() string {
	u := strings.TrimRight(c.BaseURL, "/")
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	if strings.HasSuffix(u, "/search") {
		return strings.TrimSuffix(u, "/search") + "/status?format=json"
	}
	return u + "/status?format=json"
}

// 文档注释：上游健康检查
// 约束：不占用搜索限速配额；非 200 返回 StatusError。
func (c *Client) Status(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StatusURL(), nil)
	if err != nil {
		return err
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
