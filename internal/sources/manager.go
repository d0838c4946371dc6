// 包 sources：边界数据源的注册、心跳与按优先级查询
package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"boundary-overlay/internal/geo"
	"boundary-overlay/internal/logger"
	"boundary-overlay/internal/metrics"
	"boundary-overlay/internal/nominatim"
)

// 文档注释：数据源接口
// 背景：上游 Nominatim、本地快照、PostgreSQL 边界库统一为同构数据源，由管理器按注册顺序查询。
// 约束：Search 返回上游兼容的结果数组，无结果返回空数组而非错误；Heartbeat 用于健康检测。
type Source interface {
	Name() string
	Search(ctx context.Context, q string) ([]nominatim.Place, error)
	Heartbeat(ctx context.Context) error
}

// 文档注释：数据源健康状态缓存
type status struct {
	healthy bool
	last    time.Time
	err     error
}

// Health：对外暴露的健康快照
type Health struct {
	Name    string    `json:"name"`
	Healthy bool      `json:"healthy"`
	Last    time.Time `json:"last"`
	Error   string    `json:"error,omitempty"`
}

// 文档注释：数据源管理器
// 背景：负责注册、心跳、健康筛选；查询时按注册顺序尝试健康数据源，第一个非空结果胜出。
// 约束：心跳周期默认 10s；心跳失败的数据源在下次成功前不参与查询；线程安全读写。
type Manager struct {
	mu         sync.RWMutex
	order      []string
	ps         map[string]Source
	st         map[string]status
	hbInterval time.Duration
	hbTimeout  time.Duration
	log        *slog.Logger
}

func NewManager(interval time.Duration) *Manager {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Manager{
		ps:         make(map[string]Source),
		st:         make(map[string]status),
		hbInterval: interval,
		hbTimeout:  5 * time.Second,
		log:        logger.L(),
	}
}

// WithLogger：替换日志器
func (m *Manager) WithLogger(l *slog.Logger) *Manager {
	m.log = l
	return m
}

// 文档注释：注册数据源
// 约束：注册顺序即查询优先级；同名重复注册替换实现但保留原优先级；新注册视为健康。
func (m *Manager) Register(s Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ps[s.Name()]; !ok {
		m.order = append(m.order, s.Name())
	}
	m.ps[s.Name()] = s
	m.st[s.Name()] = status{healthy: true, last: time.Now()}
	m.log.Info("source_registered", "name", s.Name(), "priority", len(m.order))
}

// Healthy：按优先级返回当前健康的数据源
func (m *Manager) Healthy() []Source {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Source
	for _, name := range m.order {
		if m.st[name].healthy {
			out = append(out, m.ps[name])
		}
	}
	return out
}

// Status：全部数据源健康快照
func (m *Manager) Status() []Health {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Health, 0, len(m.order))
	for _, name := range m.order {
		s := m.st[name]
		h := Health{Name: name, Healthy: s.healthy, Last: s.last}
		if s.err != nil {
			h.Error = s.err.Error()
		}
		out = append(out, h)
	}
	return out
}

// 文档注释：启动心跳循环
// 背景：启动时立即检测一次，之后周期执行；在 ctx 取消时停止。
func (m *Manager) Start(ctx context.Context) {
	go func() {
		t := time.NewTicker(m.hbInterval)
		defer t.Stop()
		m.Heartbeat(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Heartbeat(ctx)
			}
		}
	}()
}

// Heartbeat：检测全部数据源一次；检测期间不持锁
func (m *Manager) Heartbeat(ctx context.Context) {
	m.mu.RLock()
	all := make([]Source, 0, len(m.order))
	for _, name := range m.order {
		all = append(all, m.ps[name])
	}
	m.mu.RUnlock()
	for _, s := range all {
		hctx, cancel := context.WithTimeout(ctx, m.hbTimeout)
		err := s.Heartbeat(hctx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		m.mu.Lock()
		prev := m.st[s.Name()]
		m.st[s.Name()] = status{healthy: err == nil, last: time.Now(), err: err}
		m.mu.Unlock()
		if err != nil {
			metrics.SourceHeartbeatTotal.WithLabelValues(s.Name(), "fail").Inc()
			if prev.healthy {
				m.log.Warn("source_unhealthy", "name", s.Name(), "err", err)
			} else {
				m.log.Debug("source_heartbeat_fail", "name", s.Name(), "err", err)
			}
			continue
		}
		metrics.SourceHeartbeatTotal.WithLabelValues(s.Name(), "ok").Inc()
		if !prev.healthy {
			m.log.Info("source_recovered", "name", s.Name())
		}
	}
}

// 文档注释：按优先级查询
// 返回：第一个非空结果及其数据源名；全部为空时返回空结果与 nil；全部失败时返回最后一个错误。
// 约束：取消立即返回 ctx 错误，不再尝试后续数据源。
func (m *Manager) Search(ctx context.Context, q string) ([]nominatim.Place, string, error) {
	hs := m.Healthy()
	m.log.Debug("source_search_begin", "q", q, "healthy", len(hs))
	if len(hs) == 0 {
		return nil, "", ErrNoSources
	}
	var lastErr error
	failed := 0
	for _, s := range hs {
		t0 := time.Now()
		metrics.SourceRequestsTotal.WithLabelValues(s.Name()).Inc()
		places, err := s.Search(ctx, q)
		metrics.SourceDurationMs.WithLabelValues(s.Name()).Observe(float64(time.Since(t0).Milliseconds()))
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		if err != nil {
			failed++
			lastErr = fmt.Errorf("source %s: %w", s.Name(), err)
			metrics.SourceFailTotal.WithLabelValues(s.Name()).Inc()
			m.log.Debug("source_search_error", "name", s.Name(), "q", q, "err", err)
			continue
		}
		if len(places) > 0 {
			m.log.Debug("source_search_hit", "name", s.Name(), "q", q, "results", len(places))
			return places, s.Name(), nil
		}
	}
	if failed > 0 && failed == len(hs) {
		return nil, "", lastErr
	}
	return nil, "", nil
}

// Resolve：实现 overlay.Lookup；无结果返回 nominatim.ErrNotFound
func (m *Manager) Resolve(ctx context.Context, q string) (*geo.Boundary, error) {
	places, _, err := m.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	return nominatim.First(q, places)
}

// ErrNoSources：未注册或全部不健康
var ErrNoSources = errors.New("no healthy boundary source")

// ParseQuery：将 "城市, 国家" 或 "国家" 拆分；多个逗号时以最后一段为国家
func ParseQuery(q string) (country, city string) {
	q = strings.TrimSpace(q)
	i := strings.LastIndexByte(q, ',')
	if i < 0 {
		return q, ""
	}
	return strings.TrimSpace(q[i+1:]), strings.TrimSpace(q[:i])
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
