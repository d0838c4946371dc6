// 包 geo：边界几何的最小数据结构与 GeoJSON 解析
package geo

import (
	"encoding/json"
	"errors"
)

var (
	// ErrNoGeometry：查询结果缺少 geojson 字段
	ErrNoGeometry = errors.New("boundary has no geometry")
	// ErrMalformed：geojson 存在但无法解析为 Polygon/MultiPolygon
	ErrMalformed = errors.New("malformed boundary geometry")
)

// 点坐标（WGS84）
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LonLat：按地图引擎约定返回 [lon, lat]
func (p Point) LonLat() [2]float64 { return [2]float64{p.Lon, p.Lat} }

// Polygon：按 GeoJSON 约定的环集合，第一环是外环，其后为洞
type Polygon struct {
	Rings [][]Point
	BBox  BBox
}

// BBox：minLon, minLat, maxLon, maxLat
type BBox [4]float64

// 文档注释：GeoJSON 几何（仅 Polygon/MultiPolygon）
// 背景：坐标保留原始字节，原样交给地图引擎作为数据源；解析结果仅用于校验、包围盒与渲染。
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// IsZero：未携带任何几何
func (g *Geometry) IsZero() bool {
	return g == nil || (g.Type == "" && len(g.Coordinates) == 0)
}

// 文档注释：一次查询得到的边界
// 约束：Center 为服务返回的代表点，缺失时由调用方以包围盒中心补齐。
type Boundary struct {
	Name     string   `json:"name,omitempty"`
	Geometry Geometry `json:"geojson"`
	Center   Point    `json:"center"`
}
