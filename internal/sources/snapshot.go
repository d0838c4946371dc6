package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"boundary-overlay/internal/geo"
	"boundary-overlay/internal/logger"
	"boundary-overlay/internal/nominatim"
)

// ErrEmptySnapshot：快照目录中没有可用边界
var ErrEmptySnapshot = errors.New("snapshot has no boundaries")

// unit：快照中的一条边界
type unit struct {
	Country  string        `json:"country"`
	City     string        `json:"city"`
	Name     string        `json:"name"`
	Geometry *geo.Geometry `json:"geometry"`
}

type feature struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Geometry   *geo.Geometry  `json:"geometry"`
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

// 文档注释：本地边界快照
// 背景：从数据目录读取 Natural Earth/geoBoundaries 导出的 GeoJSON，离线或上游不可用时提供边界。
// 约束：约定文件名 boundaries.json（数组）或 *.geojson（Feature/FeatureCollection，properties 含 country/city/name）；
// 按 "城市, 国家"、"国家" 与 name 建索引，大小写与多余空白不敏感；几何无效的条目跳过。
type Snapshot struct {
	dir string

	mu      sync.RWMutex
	index   map[string][]nominatim.Place
	queries []string
	count   int
}

// LoadSnapshot：读取目录并建立索引
func LoadSnapshot(dir string) (*Snapshot, error) {
	s := &Snapshot{dir: dir}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload：重新读取目录；失败时保留旧索引
func (s *Snapshot) Reload() error {
	units, err := readUnits(s.dir)
	if err != nil {
		return err
	}
	index := make(map[string][]nominatim.Place)
	var queries []string
	n := 0
	for _, u := range units {
		pl, ok := u.place()
		if !ok {
			logger.L().Debug("snapshot_skip_unit", "country", u.Country, "city", u.City, "name", u.Name)
			continue
		}
		n++
		for _, k := range u.keys() {
			index[k] = append(index[k], pl)
		}
		if q := u.query(); q != "" {
			queries = append(queries, q)
		}
	}
	s.mu.Lock()
	s.index, s.queries, s.count = index, queries, n
	s.mu.Unlock()
	logger.L().Info("snapshot_loaded", "dir", s.dir, "units", n, "keys", len(index))
	return nil
}

func (s *Snapshot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Queries：每个带国家字段的条目对应一个查询词，供批量入库使用
func (s *Snapshot) Queries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.queries...)
}

func (s *Snapshot) Name() string { return "snapshot" }

func (s *Snapshot) Search(ctx context.Context, q string) ([]nominatim.Place, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits := s.index[normalize(q)]
	return append([]nominatim.Place(nil), hits...), nil
}

func (s *Snapshot) Heartbeat(context.Context) error {
	if s.Len() == 0 {
		return ErrEmptySnapshot
	}
	return nil
}

func (u unit) keys() []string {
	var ks []string
	switch {
	case u.Country != "" && u.City != "":
		ks = append(ks, normalize(u.City+", "+u.Country))
	case u.Country != "":
		ks = append(ks, normalize(u.Country))
	}
	if n := normalize(u.Name); n != "" {
		dup := false
		for _, k := range ks {
			dup = dup || k == n
		}
		if !dup {
			ks = append(ks, n)
		}
	}
	return ks
}

func (u unit) query() string {
	country, city := strings.TrimSpace(u.Country), strings.TrimSpace(u.City)
	switch {
	case country == "":
		return ""
	case city == "":
		return country
	}
	return city + ", " + country
}

func (u unit) place() (nominatim.Place, bool) {
	if u.Geometry.IsZero() {
		return nominatim.Place{}, false
	}
	polys, err := u.Geometry.Polygons()
	if err != nil {
		return nominatim.Place{}, false
	}
	name := u.Name
	if name == "" {
		name = strings.TrimPrefix(u.City+", "+u.Country, ", ")
	}
	return nominatim.FromBoundary(geo.Boundary{Name: name, Geometry: *u.Geometry, Center: geo.Representative(polys)}), true
}

// readUnits：优先 boundaries.json，其次扫描 *.geojson
func readUnits(dir string) ([]unit, error) {
	if b, err := os.ReadFile(filepath.Join(dir, "boundaries.json")); err == nil {
		var units []unit
		if err := json.Unmarshal(b, &units); err != nil {
			return nil, fmt.Errorf("parse boundaries.json: %w", err)
		}
		return units, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var units []unit
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(strings.ToLower(ent.Name()), ".geojson") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			return nil, err
		}
		var fc featureCollection
		if err := json.Unmarshal(b, &fc); err != nil {
			logger.L().Warn("snapshot_bad_file", "file", ent.Name(), "err", err)
			continue
		}
		switch strings.ToLower(fc.Type) {
		case "featurecollection":
			for _, f := range fc.Features {
				units = append(units, f.unit())
			}
		case "feature":
			var f feature
			_ = json.Unmarshal(b, &f)
			units = append(units, f.unit())
		}
	}
	return units, nil
}

func (f feature) unit() unit {
	return unit{
		Country:  propStr(f.Properties, "country"),
		City:     propStr(f.Properties, "city"),
		Name:     propStr(f.Properties, "name"),
		Geometry: f.Geometry,
	}
}

func propStr(p map[string]any, k string) string {
	if v, ok := p[k].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
