package mapengine

import (
	"encoding/json"
	"errors"
	"testing"

	"boundary-overlay/internal/geo"
	"boundary-overlay/internal/overlay"
)

func testSource(t *testing.T) overlay.GeoJSONSource {
	t.Helper()
	var g geo.Geometry
	if err := json.Unmarshal([]byte(`{"type":"Polygon","coordinates":[[[30,-1],[34,-1],[34,3],[30,3],[30,-1]]]}`), &g); err != nil {
		t.Fatal(err)
	}
	return overlay.GeoJSONSource{Type: "geojson", Data: g}
}

func testLayer() overlay.FillLayer {
	return overlay.FillLayer{ID: "b", Type: "fill", Source: "b", Paint: overlay.Paint{FillColor: "#0000FF", FillOpacity: 0.5}}
}

func TestMemoryDuplicateAndOrderingErrors(t *testing.T) {
	m := NewMemory()
	if err := m.AddLayer(testLayer()); err == nil {
		t.Error("AddLayer without source should fail")
	}
	if err := m.AddSource("b", testSource(t)); err != nil {
		t.Fatalf("AddSource() error = %v", err)
	}
	if err := m.AddSource("b", testSource(t)); err == nil {
		t.Error("duplicate AddSource should fail")
	}
	if err := m.AddLayer(testLayer()); err != nil {
		t.Fatalf("AddLayer() error = %v", err)
	}
	if err := m.AddLayer(testLayer()); err == nil {
		t.Error("duplicate AddLayer should fail")
	}
	if err := m.RemoveSource("b"); err == nil {
		t.Error("RemoveSource while layer uses it should fail")
	}
	if err := m.RemoveLayer("b"); err != nil {
		t.Fatalf("RemoveLayer() error = %v", err)
	}
	if err := m.RemoveSource("b"); err != nil {
		t.Fatalf("RemoveSource() error = %v", err)
	}
	if s, l := m.Counts(); s != 0 || l != 0 {
		t.Errorf("Counts() = %d,%d, want 0,0", s, l)
	}
}

func TestMemoryReloadStyleClearsAndEmits(t *testing.T) {
	m := NewMemory()
	_ = m.AddSource("b", testSource(t))
	_ = m.AddLayer(testLayer())
	var events, notLoaded int
	off := m.On(overlay.EventStyleData, func() {
		events++
		if _, err := m.HasLayer("b"); errors.Is(err, ErrStyleNotLoaded) {
			notLoaded++
		}
	})
	defer off()
	m.ReloadStyle(3)
	if events != 4 {
		t.Errorf("styledata events = %d, want 4", events)
	}
	if notLoaded != 3 {
		t.Errorf("events seen while not loaded = %d, want 3", notLoaded)
	}
	if s, l := m.Counts(); s != 0 || l != 0 {
		t.Errorf("Counts() after reload = %d,%d", s, l)
	}
	if !m.IsStyleLoaded() {
		t.Error("style should be loaded after ReloadStyle")
	}
}

func TestMemoryOffAndClose(t *testing.T) {
	m := NewMemory()
	calls := 0
	off := m.On(overlay.EventZoomEnd, func() { calls++ })
	m.SetZoom(4)
	off()
	off()
	m.SetZoom(5)
	if calls != 1 {
		t.Errorf("zoomend calls = %d, want 1", calls)
	}
	if n := m.Listeners(overlay.EventZoomEnd); n != 0 {
		t.Errorf("Listeners = %d, want 0", n)
	}
	m.Close()
	if _, err := m.HasSource("b"); !errors.Is(err, overlay.ErrEngineGone) {
		t.Errorf("HasSource after Close = %v", err)
	}
	if err := m.FlyTo(overlay.Camera{}); !errors.Is(err, overlay.ErrEngineGone) {
		t.Errorf("FlyTo after Close = %v", err)
	}
}

func TestMemoryPaintOverride(t *testing.T) {
	m := NewMemory()
	_ = m.AddSource("b", testSource(t))
	_ = m.AddLayer(testLayer())
	if err := m.SetPaintProperty("b", overlay.PaintOpacityID, 0.0); err != nil {
		t.Fatal(err)
	}
	l, ok := m.Layer("b")
	if !ok || l.Paint.FillOpacity != 0 {
		t.Errorf("Layer() = %+v, %v", l, ok)
	}
	if err := m.SetPaintProperty("missing", overlay.PaintOpacityID, 0.0); err == nil {
		t.Error("SetPaintProperty on missing layer should fail")
	}
}

func TestRenderFillsCenter(t *testing.T) {
	m := NewMemory()
	_ = m.AddSource("b", testSource(t))
	_ = m.AddLayer(testLayer())
	_ = m.FlyTo(overlay.Camera{Center: [2]float64{32, 1}, Zoom: 2})
	img := m.Render(64, 64)
	c := img.RGBAAt(32, 32)
	if c.B <= c.R || c.B <= c.G {
		t.Errorf("center pixel = %+v, want blue tint", c)
	}
	corner := img.RGBAAt(0, 0)
	if corner.R != 255 || corner.G != 255 || corner.B != 255 {
		t.Errorf("corner pixel = %+v, want white", corner)
	}

	_ = m.SetPaintProperty("b", overlay.PaintOpacityID, 0.0)
	img = m.Render(64, 64)
	if c := img.RGBAAt(32, 32); c.R != 255 || c.B != 255 {
		t.Errorf("center pixel with opacity 0 = %+v, want white", c)
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in      string
		r, g, b uint8
	}{
		{"#0000FF", 0, 0, 255},
		{"#ff8000", 255, 128, 0},
		{"blue", 0, 0, 0},
		{"#zz0000", 0, 0, 0},
	}
	for _, tt := range tests {
		c := parseHex(tt.in)
		if c.R != tt.r || c.G != tt.g || c.B != tt.b {
			t.Errorf("parseHex(%q) = %+v", tt.in, c)
		}
	}
}
