package nominatim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"boundary-overlay/internal/geo"
)

// 文档注释：搜索结果（format=json 与 polygon_geojson=1）
// 背景：只解析绘制边界所需字段；lat/lon 在上游以字符串编码，部分自建实例返回数字，两者都接受。
type Place struct {
	PlaceID     int64         `json:"place_id,omitempty"`
	DisplayName string        `json:"display_name,omitempty"`
	Lat         Coord         `json:"lat"`
	Lon         Coord         `json:"lon"`
	GeoJSON     *geo.Geometry `json:"geojson,omitempty"`
}

// Coord：字符串编码的浮点坐标
type Coord string

func (c *Coord) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Coord(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = Coord(n.String())
	return nil
}

// Float：解析坐标；空值返回 ok=false
func (c Coord) Float() (float64, bool, error) {
	if c == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(string(c), 64)
	if err != nil {
		return 0, false, err
	}
	return f, true, nil
}

// FormatCoord：按上游格式输出坐标文本
func FormatCoord(f float64) Coord { return Coord(strconv.FormatFloat(f, 'f', -1, 64)) }

// 文档注释：转换为边界
// 约束：缺少 geojson 返回 geo.ErrNoGeometry；几何或坐标无法解析返回 geo.ErrMalformed；
// 缺少 lat/lon 时以几何代表点补齐。
func (p Place) ToBoundary() (*geo.Boundary, error) {
	if p.GeoJSON.IsZero() {
		return nil, geo.ErrNoGeometry
	}
	polys, err := p.GeoJSON.Polygons()
	if err != nil {
		return nil, err
	}
	lat, okLat, err := p.Lat.Float()
	if err != nil {
		return nil, fmt.Errorf("%w: lat %q", geo.ErrMalformed, p.Lat)
	}
	lon, okLon, err := p.Lon.Float()
	if err != nil {
		return nil, fmt.Errorf("%w: lon %q", geo.ErrMalformed, p.Lon)
	}
	center := geo.Point{Lat: lat, Lon: lon}
	if !okLat || !okLon {
		center = geo.Representative(polys)
	}
	return &geo.Boundary{Name: p.DisplayName, Geometry: *p.GeoJSON, Center: center}, nil
}

// FromBoundary：将边界编码为上游兼容的搜索结果，供自建边界服务输出
func FromBoundary(b geo.Boundary) Place {
	g := b.Geometry
	return Place{
		DisplayName: b.Name,
		Lat:         FormatCoord(b.Center.Lat),
		Lon:         FormatCoord(b.Center.Lon),
		GeoJSON:     &g,
	}
}
