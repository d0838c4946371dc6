package overlay

import (
	"context"
	"errors"
	"time"

	"boundary-overlay/internal/geo"
	"boundary-overlay/internal/metrics"

	"github.com/google/uuid"
)

// cycle：一轮 查询 → 等待样式 → 绘制；cancel 即取消令牌
type cycle struct {
	id      string
	gen     uint64
	loc     Location
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
}

// 文档注释：开始新一轮
// 约束：先取消旧查询、解除旧缩放监听、移除旧图层与数据源，再发起新查询；同一标识的图层因此不会被两轮并发添加。
func (m *Manager) startCycle(reason string) {
	m.supersede()
	m.gen++
	if m.loc.Empty() {
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	c := &cycle{id: uuid.NewString(), gen: m.gen, loc: m.loc, ctx: ctx, cancel: cancel, started: time.Now()}
	m.cycle = c
	metrics.CyclesStartedTotal.Inc()
	m.log.Debug("boundary_cycle_begin", "cycle", c.id, "reason", reason, "q", c.loc.Query())
	m.setLoading(true)
	go m.resolve(ctx, c)
}

// supersede：结束上一轮拥有的一切；被取代的一轮在此时报告加载结束
func (m *Manager) supersede() {
	if c := m.cycle; c != nil {
		c.cancel()
		m.cycle = nil
		metrics.CyclesSupersededTotal.Inc()
		m.log.Debug("boundary_cycle_superseded", "cycle", c.id)
		m.setLoading(false)
	}
	if m.reload != nil {
		m.reload.Stop()
		m.reload = nil
	}
	if m.zoomOff != nil {
		m.zoomOff()
		m.zoomOff = nil
	}
	m.removeOverlay()
}

// resolve：在后台协程执行查询与样式等待，结果投递回事件协程
func (m *Manager) resolve(ctx context.Context, c *cycle) {
	b, err := m.lookup.Resolve(ctx, c.loc.Query())
	if err == nil && b == nil {
		err = geo.ErrNoGeometry
	}
	if err == nil {
		err = b.Geometry.Validate()
	}
	if err == nil {
		err = m.waitStyle(ctx)
	}
	m.post(func() { m.finish(c, b, err) })
}

// waitStyle：轮询直到样式加载完成；每轮恰好返回一次
func (m *Manager) waitStyle(ctx context.Context) error {
	if m.engine.IsStyleLoaded() {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, m.opts.StyleWaitTimeout)
	defer cancel()
	t := time.NewTicker(m.opts.StylePollInterval)
	defer t.Stop()
	var gone <-chan struct{}
	if c, ok := m.engine.(Closer); ok {
		gone = c.Done()
	}
	for {
		select {
		case <-gone:
			return ErrEngineGone
		case <-wctx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrStyleTimeout
		case <-t.C:
			if m.engine.IsStyleLoaded() {
				return nil
			}
		}
	}
}

// 文档注释：一轮的收尾，在事件协程执行
// 约束：后台轮询通过到此处执行之间样式可能又开始重载；此时本轮保持在途并重新等待样式，不在重载中的地图上绘制。
func (m *Manager) finish(c *cycle, b *geo.Boundary, err error) {
	if m.cycle != c {
		// 已被取代：结果作废，不记录
		return
	}
	if err == nil && !m.engine.IsStyleLoaded() {
		m.rewait(c, b)
		return
	}
	if err == nil {
		err = m.draw(c, b)
		if err != nil && !errors.Is(err, ErrEngineGone) && !m.engine.IsStyleLoaded() {
			m.rewait(c, b)
			return
		}
	}
	m.cycle = nil
	c.cancel()
	defer m.setLoading(false)
	if err != nil {
		m.fail(c, err)
		return
	}
	metrics.CyclesDrawnTotal.Inc()
	m.log.Info("boundary_drawn", "cycle", c.id, "q", c.loc.Query(), "lat", b.Center.Lat, "lon", b.Center.Lon,
		"duration_ms", time.Since(c.started).Milliseconds())
}

// rewait：同一轮重新等待样式，查询结果沿用
func (m *Manager) rewait(c *cycle, b *geo.Boundary) {
	m.log.Debug("boundary_style_rewait", "cycle", c.id)
	go func() {
		err := m.waitStyle(c.ctx)
		m.post(func() { m.finish(c, b, err) })
	}()
}

func (m *Manager) fail(c *cycle, err error) {
	var ee *EngineError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, ErrEngineGone):
		return
	case errors.As(err, &ee):
		metrics.CyclesFailedTotal.WithLabelValues("engine").Inc()
		m.log.Error("boundary_draw_error", "cycle", c.id, "q", c.loc.Query(), "op", ee.Op, "err", ee.Err)
	case errors.Is(err, ErrStyleTimeout):
		metrics.CyclesFailedTotal.WithLabelValues("style_timeout").Inc()
		m.log.Error("boundary_style_timeout", "cycle", c.id, "q", c.loc.Query(), "timeout", m.opts.StyleWaitTimeout)
	default:
		metrics.CyclesFailedTotal.WithLabelValues("lookup").Inc()
		m.log.Error("boundary_lookup_error", "cycle", c.id, "q", c.loc.Query(), "err", err)
	}
}

// 文档注释：绘制边界
// 约束：每次变更前重新检查存在性；addLayer 失败时撤回本轮刚添加的数据源，不留下半个覆盖层；flyTo 不等待动画完成。
func (m *Manager) draw(c *cycle, b *geo.Boundary) error {
	addedSource := false
	if !m.exists(m.engine.HasSource) {
		if err := m.engine.AddSource(BoundaryID, GeoJSONSource{Type: "geojson", Data: b.Geometry}); err != nil {
			return engineErr("addSource", err)
		}
		addedSource = true
	}
	if !m.exists(m.engine.HasLayer) {
		if err := m.engine.AddLayer(boundaryLayer()); err != nil {
			if addedSource {
				_ = m.engine.RemoveSource(BoundaryID)
			}
			return engineErr("addLayer", err)
		}
	}
	m.hasLayer = true
	cam := Camera{Center: b.Center.LonLat(), Zoom: c.loc.FlyZoom(), Essential: true}
	if err := m.engine.FlyTo(cam); err != nil {
		if errors.Is(err, ErrEngineGone) {
			return err
		}
		m.log.Warn("boundary_fly_error", "cycle", c.id, "err", err)
	}
	gen := c.gen
	m.zoomOff = m.engine.On(EventZoomEnd, func() { m.post(func() { m.onZoom(gen) }) })
	return nil
}

func engineErr(op string, err error) error {
	if errors.Is(err, ErrEngineGone) {
		return err
	}
	return &EngineError{Op: op, Err: err}
}

// onZoom：缩放结束后按级别调整填充透明度
func (m *Manager) onZoom(gen uint64) {
	if gen != m.gen || !m.hasLayer {
		return
	}
	z, err := m.engine.Zoom()
	if err != nil {
		return
	}
	if !m.exists(m.engine.HasLayer) {
		return
	}
	if err := m.engine.SetPaintProperty(BoundaryID, PaintOpacityID, OpacityForZoom(z)); err != nil && !errors.Is(err, ErrEngineGone) {
		m.log.Debug("boundary_opacity_error", "zoom", z, "err", err)
	}
}

// 文档注释：样式数据事件
// 背景：样式重载会静默清空所有自定义数据源与图层，只发出（可能多次）通用 styledata 事件。
// 约束：仅当此前持有图层且图层已消失时响应；去抖后按当前地点完整重跑一轮。
func (m *Manager) onStyleData() {
	if !m.hasLayer {
		return
	}
	if m.exists(m.engine.HasLayer) && m.exists(m.engine.HasSource) {
		return
	}
	if m.reload != nil {
		m.reload.Stop()
	}
	gen := m.gen
	var t *time.Timer
	t = time.AfterFunc(m.opts.ReloadDebounce, func() {
		m.post(func() { m.onReloadSettled(t, gen) })
	})
	m.reload = t
}

// onReloadSettled：去抖到期；已被新定时器取代的到期直接丢弃
func (m *Manager) onReloadSettled(t *time.Timer, gen uint64) {
	if m.reload != t {
		return
	}
	m.reload = nil
	if gen != m.gen || !m.hasLayer {
		return
	}
	if m.exists(m.engine.HasLayer) && m.exists(m.engine.HasSource) {
		return
	}
	metrics.StyleReloadRedrawsTotal.Inc()
	m.log.Info("boundary_style_reload", "q", m.loc.Query())
	m.startCycle("style_reload")
}

// removeOverlay：先移除图层再移除数据源；不存在或样式未加载时跳过
func (m *Manager) removeOverlay() {
	if m.exists(m.engine.HasLayer) {
		if err := m.engine.RemoveLayer(BoundaryID); err != nil && !errors.Is(err, ErrEngineGone) {
			m.log.Error("boundary_remove_layer_error", "err", err)
		}
	}
	if m.exists(m.engine.HasSource) {
		if err := m.engine.RemoveSource(BoundaryID); err != nil && !errors.Is(err, ErrEngineGone) {
			m.log.Error("boundary_remove_source_error", "err", err)
		}
	}
	m.hasLayer = false
}

// exists：存在性检查，引擎报错（如样式未加载）一律视为不存在
func (m *Manager) exists(check func(string) (bool, error)) bool {
	ok, err := check(BoundaryID)
	if err != nil {
		return false
	}
	return ok
}
