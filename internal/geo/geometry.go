package geo

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// 文档注释：解析为多边形列表
// 背景：Polygon 产出一个元素，MultiPolygon 逐个展开；环内每个位置至少包含 [lon, lat]，多余维度忽略。
// 约束：空坐标、非有限数值、少于 3 个点的外环视为 ErrMalformed。
func (g *Geometry) Polygons() ([]Polygon, error) {
	if g.IsZero() {
		return nil, ErrNoGeometry
	}
	switch strings.ToLower(g.Type) {
	case "polygon":
		var rings [][][]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		p, err := buildPolygon(rings)
		if err != nil {
			return nil, err
		}
		return []Polygon{p}, nil
	case "multipolygon":
		var parts [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &parts); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if len(parts) == 0 {
			return nil, fmt.Errorf("%w: empty multipolygon", ErrMalformed)
		}
		out := make([]Polygon, 0, len(parts))
		for _, rings := range parts {
			p, err := buildPolygon(rings)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unsupported type %q", ErrMalformed, g.Type)
}

// Validate：确认几何可被地图引擎作为填充图层绘制
func (g *Geometry) Validate() error {
	_, err := g.Polygons()
	return err
}

func buildPolygon(rings [][][]float64) (Polygon, error) {
	var poly Polygon
	if len(rings) == 0 {
		return poly, fmt.Errorf("%w: polygon without rings", ErrMalformed)
	}
	for i, ring := range rings {
		rr := make([]Point, 0, len(ring))
		for _, pos := range ring {
			if len(pos) < 2 || !finite(pos[0]) || !finite(pos[1]) {
				return poly, fmt.Errorf("%w: bad position in ring %d", ErrMalformed, i)
			}
			rr = append(rr, Point{Lon: pos[0], Lat: pos[1]})
		}
		if i == 0 && len(rr) < 3 {
			return poly, fmt.Errorf("%w: outer ring has %d points", ErrMalformed, len(rr))
		}
		poly.Rings = append(poly.Rings, rr)
	}
	poly.BBox = computeBBox(poly.Rings)
	return poly, nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func computeBBox(rings [][]Point) BBox {
	b := BBox{180, 90, -180, -90}
	for _, r := range rings {
		for _, pt := range r {
			if pt.Lon < b[0] {
				b[0] = pt.Lon
			}
			if pt.Lat < b[1] {
				b[1] = pt.Lat
			}
			if pt.Lon > b[2] {
				b[2] = pt.Lon
			}
			if pt.Lat > b[3] {
				b[3] = pt.Lat
			}
		}
	}
	return b
}

// Union：合并包围盒
func (b BBox) Union(o BBox) BBox {
	return BBox{math.Min(b[0], o[0]), math.Min(b[1], o[1]), math.Max(b[2], o[2]), math.Max(b[3], o[3])}
}

// Center：包围盒中心
func (b BBox) Center() Point {
	return Point{Lat: (b[1] + b[3]) / 2, Lon: (b[0] + b[2]) / 2}
}

// BBoxOf：多边形集合的整体包围盒
func BBoxOf(polys []Polygon) BBox {
	b := BBox{180, 90, -180, -90}
	for _, p := range polys {
		b = b.Union(p.BBox)
	}
	return b
}

// 文档注释：点入多边形判定（Even-Odd）
// 约束：外环命中且不在任一洞内视为命中；射线法在边界临界值时受数值误差影响。
func (p Polygon) Contains(pt Point) bool {
	if len(p.Rings) == 0 || !p.BBox.contains(pt) {
		return false
	}
	if !pointInRing(pt, p.Rings[0]) {
		return false
	}
	for i := 1; i < len(p.Rings); i++ {
		if pointInRing(pt, p.Rings[i]) {
			return false
		}
	}
	return true
}

func (b BBox) contains(pt Point) bool {
	return pt.Lon >= b[0] && pt.Lon <= b[2] && pt.Lat >= b[1] && pt.Lat <= b[3]
}

func pointInRing(pt Point, ring []Point) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	x, y := pt.Lon, pt.Lat
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Lon, ring[i].Lat
		xj, yj := ring[j].Lon, ring[j].Lat
		if ((yi > y) != (yj > y)) && (x < (xj-xi)*(y-yi)/(yj-yi+1e-12)+xi) {
			inside = !inside
		}
	}
	return inside
}

// 文档注释：代表点
// 背景：本地快照与数据库中的边界可能没有服务端给出的 lat/lon；地图需要一个落在区域内的点作为飞行目标。
// 约束：优先整体包围盒中心（若落在任一多边形内），否则取最大外环的顶点均值，最后退回外环首点。
func Representative(polys []Polygon) Point {
	if len(polys) == 0 {
		return Point{}
	}
	c := BBoxOf(polys).Center()
	for _, p := range polys {
		if p.Contains(c) {
			return c
		}
	}
	best := polys[0]
	for _, p := range polys[1:] {
		if area(p.BBox) > area(best.BBox) {
			best = p
		}
	}
	outer := best.Rings[0]
	var sum Point
	for _, pt := range outer {
		sum.Lat += pt.Lat
		sum.Lon += pt.Lon
	}
	m := Point{Lat: sum.Lat / float64(len(outer)), Lon: sum.Lon / float64(len(outer))}
	if best.Contains(m) {
		return m
	}
	return outer[0]
}

func area(b BBox) float64 { return (b[2] - b[0]) * (b[3] - b[1]) }
