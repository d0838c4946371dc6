package mapengine

import (
	"boundary-overlay/internal/overlay"
)

// 以下为宿主侧控制与观测方法，不属于 overlay.Engine

// ReloadStyle：模拟整套样式替换；清空自定义数据源与图层，加载期间派发 events 次 styledata，最后标记加载完成并再派发一次
func (m *Memory) ReloadStyle(events int) {
	m.mu.Lock()
	m.sources = make(map[string]overlay.GeoJSONSource)
	m.layers = nil
	m.paint = make(map[string]map[string]any)
	m.styleLoaded = false
	m.mu.Unlock()
	for i := 0; i < events; i++ {
		m.emit(overlay.EventStyleData)
	}
	m.SetStyleLoaded(true)
	m.emit(overlay.EventStyleData)
}

func (m *Memory) SetStyleLoaded(v bool) {
	m.mu.Lock()
	m.styleLoaded = v
	m.mu.Unlock()
}

// SetZoom：用户缩放结束
func (m *Memory) SetZoom(z float64) {
	m.mu.Lock()
	m.zoom = z
	m.mu.Unlock()
	m.emit(overlay.EventZoomEnd)
}

// Close：宿主卸载地图，此后引擎方法返回 overlay.ErrEngineGone
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

// Done：Close 后关闭
func (m *Memory) Done() <-chan struct{} { return m.done }

// Camera：当前中心 [lon, lat] 与缩放
func (m *Memory) Camera() overlay.Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	return overlay.Camera{Center: m.center, Zoom: m.zoom}
}

// Flights：全部 flyTo 调用
func (m *Memory) Flights() []overlay.Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]overlay.Camera(nil), m.flights...)
}

// Counts：数据源与图层数量
func (m *Memory) Counts() (sources, layers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources), len(m.layers)
}

// Source：按标识读取数据源
func (m *Memory) Source(id string) (overlay.GeoJSONSource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	return s, ok
}

// Layer：按标识读取图层，已应用 SetPaintProperty 的覆盖值
func (m *Memory) Layer(id string) (overlay.FillLayer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.layerIndex(id)
	if i < 0 {
		return overlay.FillLayer{}, false
	}
	l := m.layers[i]
	if v, ok := m.paint[id][overlay.PaintOpacityID].(float64); ok {
		l.Paint.FillOpacity = v
	}
	return l, true
}

// Listeners：某事件当前订阅数
func (m *Memory) Listeners(ev overlay.Event) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[ev])
}
