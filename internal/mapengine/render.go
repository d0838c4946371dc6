package mapengine

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"boundary-overlay/internal/geo"
	"boundary-overlay/internal/overlay"

	"golang.org/x/image/vector"
)

// tileSize：矢量地图库的瓦片像素边长
const tileSize = 512.0

type fillJob struct {
	geom    geo.Geometry
	color   color.NRGBA
	opacity float64
}

// 文档注释：按当前相机把填充图层栅格化为图片
// 背景：无浏览器环境下预览覆盖层效果（overlayctl -png）；投影为 Web 墨卡托，相机中心位于图片中心。
// 约束：只绘制填充，不绘制描边与底图；透明度取图层当前 fill-opacity。
func (m *Memory) Render(width, height int) *image.RGBA {
	m.mu.Lock()
	var jobs []fillJob
	for _, l := range m.layers {
		src, ok := m.sources[l.Source]
		if !ok {
			continue
		}
		op := l.Paint.FillOpacity
		if v, ok := m.paint[l.ID][overlay.PaintOpacityID].(float64); ok {
			op = v
		}
		jobs = append(jobs, fillJob{geom: src.Data, color: parseHex(l.Paint.FillColor), opacity: op})
	}
	center := m.center
	zoom := m.zoom
	m.mu.Unlock()

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	scale := tileSize * math.Pow(2, zoom)
	cx, cy := project(center[1], center[0], scale)
	z := vector.NewRasterizer(width, height)
	for _, l := range jobs {
		polys, err := l.geom.Polygons()
		if err != nil || l.opacity <= 0 {
			continue
		}
		z.Reset(width, height)
		for _, p := range polys {
			for _, ring := range p.Rings {
				for i, pt := range ring {
					x, y := project(pt.Lat, pt.Lon, scale)
					px := float32(x - cx + float64(width)/2)
					py := float32(y - cy + float64(height)/2)
					if i == 0 {
						z.MoveTo(px, py)
					} else {
						z.LineTo(px, py)
					}
				}
				z.ClosePath()
			}
		}
		c := l.color
		c.A = uint8(math.Round(math.Min(1, l.opacity) * 255))
		z.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{})
	}
	return dst
}

// project：经纬度到世界像素坐标（Web 墨卡托）
func project(lat, lon, scale float64) (float64, float64) {
	lat = math.Max(-85.05112878, math.Min(85.05112878, lat))
	x := (lon + 180) / 360 * scale
	latRad := lat * math.Pi / 180
	y := (1 - math.Asinh(math.Tan(latRad))/math.Pi) / 2 * scale
	return x, y
}

// parseHex：#RRGGBB，无法解析时为黑色
func parseHex(s string) color.NRGBA {
	c := color.NRGBA{A: 255}
	if len(s) != 7 || s[0] != '#' {
		return c
	}
	v := [3]uint8{}
	for i := 0; i < 3; i++ {
		hi, ok1 := hexVal(s[1+2*i])
		lo, ok2 := hexVal(s[2+2*i])
		if !ok1 || !ok2 {
			return c
		}
		v[i] = hi<<4 | lo
	}
	c.R, c.G, c.B = v[0], v[1], v[2]
	return c
}

func hexVal(b byte) (uint8, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	}
	return 0, false
}
