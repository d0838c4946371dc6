package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"boundary-overlay/internal/geo"
	"boundary-overlay/internal/logger"
	"boundary-overlay/internal/nominatim"
	"boundary-overlay/internal/sources"
)

const ugandaPolygon = `{"type":"Polygon","coordinates":[[[29.5,-1.5],[35,-1.5],[35,4.2],[29.5,4.2],[29.5,-1.5]]]}`

type stubSource struct {
	name   string
	places map[string][]nominatim.Place
	err    error
}

func (s *stubSource) Name() string { return s.name }
func (s *stubSource) Search(ctx context.Context, q string) ([]nominatim.Place, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.places[q], nil
}
func (s *stubSource) Heartbeat(context.Context) error { return s.err }

func uganda(t *testing.T) nominatim.Place {
	t.Helper()
	var g geo.Geometry
	if err := json.Unmarshal([]byte(ugandaPolygon), &g); err != nil {
		t.Fatal(err)
	}
	return nominatim.Place{PlaceID: 7, DisplayName: "Uganda", Lat: "1.37", Lon: "32.29", GeoJSON: &g}
}

func newServer(t *testing.T, srcs ...sources.Source) *httptest.Server {
	t.Helper()
	m := sources.NewManager(time.Minute).WithLogger(logger.Discard())
	for _, s := range srcs {
		m.Register(s)
	}
	srv := httptest.NewServer(BuildRoutes(Deps{Sources: m, Log: logger.Discard()}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchIsNominatimCompatible(t *testing.T) {
	srv := newServer(t, &stubSource{name: "snapshot", places: map[string][]nominatim.Place{"Uganda": {uganda(t)}}})

	c := nominatim.New(srv.URL+"/search", "api-test", time.Second)
	c.Log = logger.Discard()
	b, err := c.Resolve(context.Background(), "Uganda")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if b.Center != (geo.Point{Lat: 1.37, Lon: 32.29}) || b.Geometry.Type != "Polygon" {
		t.Errorf("boundary = %+v", b)
	}

	_, err = c.Resolve(context.Background(), "Atlantis")
	if !errors.Is(err, nominatim.ErrNotFound) {
		t.Errorf("Resolve(Atlantis) error = %v, want ErrNotFound", err)
	}
}

func TestSearchResponses(t *testing.T) {
	tests := []struct {
		name   string
		src    *stubSource
		query  string
		status int
		body   string
	}{
		{"missing q", &stubSource{name: "s"}, "", http.StatusBadRequest, `"missing q"`},
		{"empty result", &stubSource{name: "s"}, "?q=Atlantis", http.StatusOK, "[]"},
		{"all sources failed", &stubSource{name: "s", err: errors.New("down")}, "?q=Uganda", http.StatusBadGateway, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.src)
			resp, err := http.Get(srv.URL + "/search" + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var sb strings.Builder
			_, _ = io.Copy(&sb, resp.Body)
			if !strings.Contains(sb.String(), tt.body) {
				t.Errorf("body = %q, want substring %q", sb.String(), tt.body)
			}
		})
	}
}

func TestSearchSourceHeaderAndRequestID(t *testing.T) {
	srv := newServer(t, &stubSource{name: "snapshot", places: map[string][]nominatim.Place{"Uganda": {uganda(t)}}})
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/search?q=Uganda&format=json&polygon_geojson=1", nil)
	req.Header.Set("X-Request-Id", "abc")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("x-boundary-source"); got != "snapshot" {
		t.Errorf("x-boundary-source = %q", got)
	}
	if got := resp.Header.Get("X-Request-Id"); got != "abc" {
		t.Errorf("X-Request-Id = %q", got)
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(resp.Header.Get("X-Request-Id")) != 36 {
		t.Errorf("generated request id = %q", resp.Header.Get("X-Request-Id"))
	}
}

func TestHealth(t *testing.T) {
	srv := newServer(t, &stubSource{name: "snapshot"})
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Status  string           `json:"status"`
		Sources []sources.Health `json:"sources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body.Status != "ok" || len(body.Sources) != 1 || body.Sources[0].Name != "snapshot" {
		t.Errorf("health = %d %+v", resp.StatusCode, body)
	}

	empty := newServer(t)
	resp2, err := http.Get(empty.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("health without sources = %d", resp2.StatusCode)
	}
}

func TestLocateWithoutDatabase(t *testing.T) {
	srv := newServer(t, &stubSource{name: "s"})
	resp, err := http.Get(srv.URL + "/locate?ip=41.210.141.1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBoundariesRouteNeedsStore(t *testing.T) {
	srv := newServer(t, &stubSource{name: "s"})
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/boundaries/Uganda", strings.NewReader("{}"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		t.Error("write accepted without a store")
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		headers map[string]string
		remote  string
		want    string
	}{
		{"query param", "/locate?ip=1.2.3.4", nil, "9.9.9.9:1", "1.2.3.4"},
		{"forwarded-for first hop", "/locate", map[string]string{"X-Forwarded-For": "5.6.7.8, 10.0.0.1"}, "9.9.9.9:1", "5.6.7.8"},
		{"real ip", "/locate", map[string]string{"X-Real-Ip": "6.6.6.6"}, "9.9.9.9:1", "6.6.6.6"},
		{"forwarded", "/locate", map[string]string{"Forwarded": `for="[2001:db8::1]";proto=https`}, "9.9.9.9:1", "2001:db8::1"},
		{"remote addr", "/locate", nil, "9.9.9.9:1234", "9.9.9.9"},
		{"remote v6", "/locate", nil, "[2001:db8::2]:443", "2001:db8::2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := getClientIP(r); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
