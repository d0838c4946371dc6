// 包 overlay：地图上单个地名边界覆盖层的生命周期管理
// 背景：选中地点变化时查询边界多边形并绘制为半透明填充层；随缩放调整透明度；地图样式重载后自动重绘。
// 约束：每个 Manager 同一时刻至多一个边界图层、一个在途查询、一个缩放监听。
package overlay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"boundary-overlay/internal/geo"
)

// 图层与数据源共用的固定标识，Manager 只触碰该标识
const BoundaryID = "location-boundaries"

const (
	FillColor      = "#0000FF"
	FillOpacity    = 0.2
	CityZoom       = 10.0
	CountryZoom    = 5.0
	FadeAboveZoom  = 10.0
	PaintOpacityID = "fill-opacity"
)

// Event：地图引擎事件名
type Event string

const (
	EventStyleData Event = "styledata"
	EventZoomEnd   Event = "zoomend"
)

// ErrEngineGone：宿主已卸载地图，后续步骤静默放弃
var ErrEngineGone = errors.New("map engine is gone")

// Location：宿主页面选中的地点，国家必填，城市可选
type Location struct {
	Country string `json:"country" toml:"country"`
	City    string `json:"city,omitempty" toml:"city"`
}

// Empty：未选中任何国家
func (l Location) Empty() bool { return strings.TrimSpace(l.Country) == "" }

// Query：边界查询词，"城市, 国家" 或 "国家"
func (l Location) Query() string {
	country := strings.TrimSpace(l.Country)
	if city := strings.TrimSpace(l.City); city != "" {
		return city + ", " + country
	}
	return country
}

// FlyZoom：飞行目标缩放级别，带城市时更近
func (l Location) FlyZoom() float64 {
	if strings.TrimSpace(l.City) != "" {
		return CityZoom
	}
	return CountryZoom
}

// OpacityForZoom：放大到城市级以上时隐藏填充，避免遮挡站点
func OpacityForZoom(zoom float64) float64 {
	if zoom > FadeAboveZoom {
		return 0
	}
	return FillOpacity
}

// GeoJSONSource：addSource 的数据源描述
type GeoJSONSource struct {
	Type string       `json:"type"`
	Data geo.Geometry `json:"data"`
}

// Paint：填充图层样式
type Paint struct {
	FillColor        string  `json:"fill-color"`
	FillOpacity      float64 `json:"fill-opacity"`
	FillOutlineColor string  `json:"fill-outline-color"`
}

// FillLayer：addLayer 的图层描述
type FillLayer struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Source string `json:"source"`
	Paint  Paint  `json:"paint"`
}

// Camera：flyTo 参数，Center 为 [lon, lat]
type Camera struct {
	Center    [2]float64 `json:"center"`
	Zoom      float64    `json:"zoom"`
	Essential bool       `json:"essential"`
}

func boundaryLayer() FillLayer {
	return FillLayer{
		ID:     BoundaryID,
		Type:   "fill",
		Source: BoundaryID,
		Paint:  Paint{FillColor: FillColor, FillOpacity: FillOpacity, FillOutlineColor: FillColor},
	}
}

// 文档注释：地图引擎句柄
// 背景：宿主持有的可变绘图面，可能同时被其他覆盖层共享；Manager 只操作 BoundaryID。
// 约束：实现需并发安全（轮询样式状态发生在后台协程）；On 的回调可能在任意协程、甚至在 AddLayer 调用内部同步触发；
// HasSource/HasLayer 在样式未加载时可返回错误，调用方视为不存在。
type Engine interface {
	IsStyleLoaded() bool
	HasSource(id string) (bool, error)
	HasLayer(id string) (bool, error)
	AddSource(id string, src GeoJSONSource) error
	RemoveSource(id string) error
	AddLayer(layer FillLayer) error
	RemoveLayer(id string) error
	SetPaintProperty(layerID, name string, value any) error
	FlyTo(cam Camera) error
	Zoom() (float64, error)
	On(ev Event, fn func()) (off func())
}

// Closer：可选接口，引擎生命周期结束时关闭 Done；等待样式期间据此提前以 ErrEngineGone 结束
type Closer interface {
	Done() <-chan struct{}
}

// Lookup：按查询词解析边界；被取代时 ctx 被取消，实现应返回满足 errors.Is(err, context.Canceled) 的错误
type Lookup interface {
	Resolve(ctx context.Context, query string) (*geo.Boundary, error)
}

// LookupFunc：函数适配器
type LookupFunc func(ctx context.Context, query string) (*geo.Boundary, error)

func (f LookupFunc) Resolve(ctx context.Context, query string) (*geo.Boundary, error) {
	return f(ctx, query)
}

// LoadingFunc：宿主的加载状态回调；每次 true 恰好对应一次 false
type LoadingFunc func(loading bool)

// EngineError：绘制阶段地图引擎的非预期错误
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string { return fmt.Sprintf("map engine %s: %v", e.Op, e.Err) }
func (e *EngineError) Unwrap() error { return e.Err }

// ErrStyleTimeout：等待样式加载超时
var ErrStyleTimeout = errors.New("map style did not finish loading")
