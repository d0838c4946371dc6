// 包 mapengine：进程内地图引擎，实现 overlay.Engine，用于无界面运行、测试与预览渲染
package mapengine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"boundary-overlay/internal/overlay"
)

// ErrStyleNotLoaded：样式加载期间查询或修改图层
var ErrStyleNotLoaded = errors.New("style is not done loading")

// 文档注释：内存地图引擎
// 背景：行为对齐浏览器端地图库的约束：同名数据源/图层重复添加报错；图层仍引用数据源时不能移除数据源；
// 样式重载清空所有自定义数据源与图层且只发出通用 styledata 事件。
// 约束：并发安全；事件回调在锁外同步调用，回调内可再次调用引擎方法。
type Memory struct {
	mu          sync.Mutex
	styleLoaded bool
	closed      bool
	sources     map[string]overlay.GeoJSONSource
	layers      []overlay.FillLayer
	paint       map[string]map[string]any
	zoom        float64
	center      [2]float64
	flights     []overlay.Camera
	handlers    map[overlay.Event]map[int]func()
	nextID      int
	done        chan struct{}

	// EmitOnMutation：增删数据源/图层时派发 styledata，与浏览器端一致
	EmitOnMutation bool
}

func NewMemory() *Memory {
	return &Memory{
		styleLoaded:    true,
		sources:        make(map[string]overlay.GeoJSONSource),
		paint:          make(map[string]map[string]any),
		zoom:           2,
		handlers:       make(map[overlay.Event]map[int]func()),
		EmitOnMutation: true,
		done:           make(chan struct{}),
	}
}

func (m *Memory) IsStyleLoaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.styleLoaded
}

func (m *Memory) check() error {
	if m.closed {
		return overlay.ErrEngineGone
	}
	if !m.styleLoaded {
		return ErrStyleNotLoaded
	}
	return nil
}

func (m *Memory) HasSource(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return false, err
	}
	_, ok := m.sources[id]
	return ok, nil
}

func (m *Memory) HasLayer(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return false, err
	}
	return m.layerIndex(id) >= 0, nil
}

func (m *Memory) layerIndex(id string) int {
	for i, l := range m.layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (m *Memory) AddSource(id string, src overlay.GeoJSONSource) error {
	m.mu.Lock()
	if err := m.check(); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, ok := m.sources[id]; ok {
		m.mu.Unlock()
		return fmt.Errorf("there is already a source with id %q", id)
	}
	m.sources[id] = src
	m.mu.Unlock()
	m.mutated()
	return nil
}

func (m *Memory) RemoveSource(id string) error {
	m.mu.Lock()
	if err := m.check(); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, ok := m.sources[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("there is no source with id %q", id)
	}
	for _, l := range m.layers {
		if l.Source == id {
			m.mu.Unlock()
			return fmt.Errorf("source %q cannot be removed while layer %q is using it", id, l.ID)
		}
	}
	delete(m.sources, id)
	m.mu.Unlock()
	m.mutated()
	return nil
}

func (m *Memory) AddLayer(layer overlay.FillLayer) error {
	m.mu.Lock()
	if err := m.check(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.layerIndex(layer.ID) >= 0 {
		m.mu.Unlock()
		return fmt.Errorf("layer %q already exists on this map", layer.ID)
	}
	if _, ok := m.sources[layer.Source]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("source %q not found for layer %q", layer.Source, layer.ID)
	}
	m.layers = append(m.layers, layer)
	m.mu.Unlock()
	m.mutated()
	return nil
}

func (m *Memory) RemoveLayer(id string) error {
	m.mu.Lock()
	if err := m.check(); err != nil {
		m.mu.Unlock()
		return err
	}
	i := m.layerIndex(id)
	if i < 0 {
		m.mu.Unlock()
		return fmt.Errorf("layer %q does not exist in the map's style", id)
	}
	m.layers = append(m.layers[:i], m.layers[i+1:]...)
	delete(m.paint, id)
	m.mu.Unlock()
	m.mutated()
	return nil
}

func (m *Memory) SetPaintProperty(layerID, name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	if m.layerIndex(layerID) < 0 {
		return fmt.Errorf("layer %q does not exist in the map's style", layerID)
	}
	p := m.paint[layerID]
	if p == nil {
		p = make(map[string]any)
		m.paint[layerID] = p
	}
	p[name] = value
	return nil
}

// FlyTo：立即到达目标并派发 zoomend
func (m *Memory) FlyTo(cam overlay.Camera) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return overlay.ErrEngineGone
	}
	m.center = cam.Center
	m.zoom = cam.Zoom
	m.flights = append(m.flights, cam)
	m.mu.Unlock()
	m.emit(overlay.EventZoomEnd)
	return nil
}

func (m *Memory) Zoom() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, overlay.ErrEngineGone
	}
	return m.zoom, nil
}

// On：订阅事件，返回的 off 可重复调用
func (m *Memory) On(ev overlay.Event, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	hs := m.handlers[ev]
	if hs == nil {
		hs = make(map[int]func())
		m.handlers[ev] = hs
	}
	hs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers[ev], id)
	}
}

func (m *Memory) emit(ev overlay.Event) {
	m.mu.Lock()
	ids := make([]int, 0, len(m.handlers[ev]))
	for id := range m.handlers[ev] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.handlers[ev][id])
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (m *Memory) mutated() {
	if m.EmitOnMutation {
		m.emit(overlay.EventStyleData)
	}
}
