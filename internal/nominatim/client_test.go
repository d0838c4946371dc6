package nominatim

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"boundary-overlay/internal/geo"
	"boundary-overlay/internal/logger"
)

const ugandaPolygon = `{"type":"Polygon","coordinates":[[[29.5,-1.5],[35,-1.5],[35,4.2],[29.5,4.2],[29.5,-1.5]]]}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(srv.URL+"/search", "boundary-overlay-test", time.Second)
	c.Log = logger.Discard()
	return c
}

func TestResolveSendsQueryAndParsesBoundary(t *testing.T) {
	var gotQuery map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"q":               q.Get("q"),
			"polygon_geojson": q.Get("polygon_geojson"),
			"format":          q.Get("format"),
			"ua":              r.Header.Get("User-Agent"),
		}
		_, _ = w.Write([]byte(`[{"display_name":"Uganda","lat":"1.37","lon":"32.29","geojson":` + ugandaPolygon + `}]`))
	})

	b, err := c.Resolve(context.Background(), "Kampala, Uganda")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := map[string]string{"q": "Kampala, Uganda", "polygon_geojson": "1", "format": "json", "ua": "boundary-overlay-test"}
	for k, v := range want {
		if gotQuery[k] != v {
			t.Errorf("request %s = %q, want %q", k, gotQuery[k], v)
		}
	}
	if b.Center != (geo.Point{Lat: 1.37, Lon: 32.29}) {
		t.Errorf("Center = %+v", b.Center)
	}
	if b.Geometry.Type != "Polygon" {
		t.Errorf("Geometry.Type = %q", b.Geometry.Type)
	}
}

func TestResolveNotFound(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		noGeomErr bool
	}{
		{"empty array", `[]`, false},
		{"missing geojson", `[{"lat":"1","lon":"2"}]`, true},
		{"null geojson", `[{"lat":"1","lon":"2","geojson":null}]`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Resolve(context.Background(), "Nowhere")
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("Resolve() error = %v, want ErrNotFound", err)
			}
			if tt.noGeomErr && !errors.Is(err, geo.ErrNoGeometry) {
				t.Errorf("Resolve() error = %v, want ErrNoGeometry too", err)
			}
		})
	}
}

func TestResolveMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"point geometry", `[{"lat":"1","lon":"2","geojson":{"type":"Point","coordinates":[2,1]}}]`},
		{"bad lat", `[{"lat":"north","lon":"2","geojson":` + ugandaPolygon + `}]`},
		{"not json", `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Resolve(context.Background(), "Uganda")
			if !errors.Is(err, geo.ErrMalformed) {
				t.Errorf("Resolve() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestResolveNumericCoordsAndMissingCenter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "numeric" {
			_, _ = w.Write([]byte(`[{"lat":1.5,"lon":30,"geojson":` + ugandaPolygon + `}]`))
			return
		}
		_, _ = w.Write([]byte(`[{"geojson":` + ugandaPolygon + `}]`))
	})
	b, err := c.Resolve(context.Background(), "numeric")
	if err != nil {
		t.Fatalf("Resolve(numeric) error = %v", err)
	}
	if b.Center != (geo.Point{Lat: 1.5, Lon: 30}) {
		t.Errorf("Center = %+v", b.Center)
	}
	b, err = c.Resolve(context.Background(), "nocenter")
	if err != nil {
		t.Fatalf("Resolve(nocenter) error = %v", err)
	}
	if math.Abs(b.Center.Lat-1.35) > 1e-9 || math.Abs(b.Center.Lon-32.25) > 1e-9 {
		t.Errorf("derived Center = %+v", b.Center)
	}
}

func TestSearchStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})
	_, err := c.Search(context.Background(), "Uganda")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
		t.Fatalf("Search() error = %v, want StatusError 429", err)
	}
}

func TestSearchCancelled(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.Search(ctx, "Uganda")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Search() error = %v, want context.Canceled", err)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	c := New("http://127.0.0.1:1/search", "", time.Second)
	if _, err := c.Search(context.Background(), "  "); !errors.Is(err, ErrNotFound) {
		t.Errorf("Search(blank) error = %v, want ErrNotFound", err)
	}
}

func TestFromBoundaryRoundTrip(t *testing.T) {
	var g geo.Geometry
	if err := json.Unmarshal([]byte(ugandaPolygon), &g); err != nil {
		t.Fatal(err)
	}
	p := FromBoundary(geo.Boundary{Name: "Uganda", Geometry: g, Center: geo.Point{Lat: 1.37, Lon: 32.29}})
	if p.Lat != "1.37" || p.Lon != "32.29" {
		t.Errorf("coords = %q,%q", p.Lat, p.Lon)
	}
	b, err := p.ToBoundary()
	if err != nil {
		t.Fatalf("ToBoundary() error = %v", err)
	}
	if b.Name != "Uganda" {
		t.Errorf("Name = %q", b.Name)
	}
}

func TestLimiterSpacesRequests(t *testing.T) {
	l := NewLimiter(20) // 50ms
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if el := time.Since(start); el < 90*time.Millisecond {
		t.Errorf("three waits took %v, want >= 100ms spacing", el)
	}
}

func TestLimiterCancelled(t *testing.T) {
	l := NewLimiter(1)
	_ = l.Wait(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
	if NewLimiter(0) != nil {
		t.Error("NewLimiter(0) should disable limiting")
	}
}

func TestStatusURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://nominatim.openstreetmap.org/search", "https://nominatim.openstreetmap.org/status?format=json"},
		{"http://geo.local/search/", "http://geo.local/status?format=json"},
		{"http://geo.local/api/search?countrycodes=ug", "http://geo.local/api/status?format=json"},
		{"http://geo.local/boundaries", "http://geo.local/boundaries/status?format=json"},
	}
	for _, tt := range tests {
		c := &Client{BaseURL: tt.base}
		if got := c.StatusURL(); got != tt.want {
			t.Errorf("StatusURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
