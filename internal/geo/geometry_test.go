package geo

import (
	"encoding/json"
	"errors"
	"testing"
)

const square = `{"type":"Polygon","coordinates":[[[30,0],[34,0],[34,4],[30,4],[30,0]]]}`

func mustGeometry(t *testing.T, s string) Geometry {
	t.Helper()
	var g Geometry
	if err := json.Unmarshal([]byte(s), &g); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return g
}

func TestPolygonsParsesPolygon(t *testing.T) {
	g := mustGeometry(t, square)
	polys, err := g.Polygons()
	if err != nil {
		t.Fatalf("Polygons() error = %v", err)
	}
	if len(polys) != 1 {
		t.Fatalf("len(polys) = %d, want 1", len(polys))
	}
	want := BBox{30, 0, 34, 4}
	if polys[0].BBox != want {
		t.Errorf("BBox = %v, want %v", polys[0].BBox, want)
	}
}

func TestPolygonsParsesMultiPolygonWithHole(t *testing.T) {
	g := mustGeometry(t, `{"type":"MultiPolygon","coordinates":[
		[[[0,0],[10,0],[10,10],[0,10],[0,0]],[[4,4],[6,4],[6,6],[4,6],[4,4]]],
		[[[20,20],[21,20],[21,21,100],[20,21],[20,20]]]
	]}`)
	polys, err := g.Polygons()
	if err != nil {
		t.Fatalf("Polygons() error = %v", err)
	}
	if len(polys) != 2 {
		t.Fatalf("len(polys) = %d, want 2", len(polys))
	}
	if got := len(polys[0].Rings); got != 2 {
		t.Errorf("rings = %d, want 2", got)
	}
	if polys[0].Contains(Point{Lat: 5, Lon: 5}) {
		t.Error("point inside hole reported as contained")
	}
	if !polys[0].Contains(Point{Lat: 2, Lon: 2}) {
		t.Error("point inside outer ring not contained")
	}
	if got := BBoxOf(polys); got != (BBox{0, 0, 21, 21}) {
		t.Errorf("BBoxOf = %v", got)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		geom Geometry
		want error
	}{
		{"empty", Geometry{}, ErrNoGeometry},
		{"point type", mustGeometry(t, `{"type":"Point","coordinates":[1,2]}`), ErrMalformed},
		{"bad json", Geometry{Type: "Polygon", Coordinates: json.RawMessage(`"x"`)}, ErrMalformed},
		{"short ring", mustGeometry(t, `{"type":"Polygon","coordinates":[[[0,0],[1,1]]]}`), ErrMalformed},
		{"no rings", mustGeometry(t, `{"type":"Polygon","coordinates":[]}`), ErrMalformed},
		{"empty multi", mustGeometry(t, `{"type":"MultiPolygon","coordinates":[]}`), ErrMalformed},
		{"one-dim position", mustGeometry(t, `{"type":"Polygon","coordinates":[[[0],[1,1],[2,2]]]}`), ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.geom.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRepresentative(t *testing.T) {
	g := mustGeometry(t, square)
	polys, _ := g.Polygons()
	got := Representative(polys)
	if got != (Point{Lat: 2, Lon: 32}) {
		t.Errorf("Representative(square) = %+v", got)
	}

	// U 形：包围盒中心落在缺口里
	u := mustGeometry(t, `{"type":"Polygon","coordinates":[[[0,0],[9,0],[9,9],[6,9],[6,3],[3,3],[3,9],[0,9],[0,0]]]}`)
	polys, _ = u.Polygons()
	got = Representative(polys)
	inside := false
	for _, p := range polys {
		if p.Contains(got) {
			inside = true
		}
	}
	if !inside && got != polys[0].Rings[0][0] {
		t.Errorf("Representative(U) = %+v is neither inside nor the first vertex", got)
	}
}

func TestLonLat(t *testing.T) {
	p := Point{Lat: 1.37, Lon: 32.29}
	if got := p.LonLat(); got != [2]float64{32.29, 1.37} {
		t.Errorf("LonLat() = %v", got)
	}
}
