package overlay_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"boundary-overlay/internal/geo"
	"boundary-overlay/internal/mapengine"
	"boundary-overlay/internal/overlay"
)

const (
	ugandaGeoJSON = `{"type":"Polygon","coordinates":[[[29.5,-1.5],[35,-1.5],[35,4.2],[29.5,4.2],[29.5,-1.5]]]}`
	kenyaGeoJSON  = `{"type":"Polygon","coordinates":[[[33.9,-4.7],[41.9,-4.7],[41.9,5.0],[33.9,5.0],[33.9,-4.7]]]}`
)

var errNoResult = errors.New("no boundary found")

func boundary(t *testing.T, raw string, lat, lon float64) *geo.Boundary {
	t.Helper()
	var g geo.Geometry
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		t.Fatal(err)
	}
	return &geo.Boundary{Geometry: g, Center: geo.Point{Lat: lat, Lon: lon}}
}

// fakeLookup：按查询词返回预设结果；gate 非空时阻塞到放行
type fakeLookup struct {
	mu           sync.Mutex
	calls        []string
	results      map[string]*geo.Boundary
	errs         map[string]error
	gates        map[string]chan struct{}
	ignoreCancel bool
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		results: make(map[string]*geo.Boundary),
		errs:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
	}
}

func (f *fakeLookup) Resolve(ctx context.Context, q string) (*geo.Boundary, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	res, err, gate, ignore := f.results[q], f.errs[q], f.gates[q], f.ignoreCancel
	f.mu.Unlock()
	if gate != nil {
		if ignore {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errNoResult
	}
	return res, nil
}

func (f *fakeLookup) gate(q string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[q] = ch
	return ch
}

func (f *fakeLookup) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// logRecorder：收集日志记录
type logRecorder struct {
	mu   sync.Mutex
	recs []slog.Record
}

func (r *logRecorder) Enabled(context.Context, slog.Level) bool { return true }
func (r *logRecorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec.Clone())
	return nil
}
func (r *logRecorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *logRecorder) WithGroup(string) slog.Handler      { return r }

func (r *logRecorder) count(min slog.Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.recs {
		if rec.Level >= min {
			n++
		}
	}
	return n
}

func (r *logRecorder) has(msg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.recs {
		if rec.Message == msg {
			return true
		}
	}
	return false
}

// loadingRecorder：记录宿主加载回调序列
type loadingRecorder struct {
	mu  sync.Mutex
	seq []bool
}

func (l *loadingRecorder) record(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq = append(l.seq, v)
}

func (l *loadingRecorder) Seq() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.seq...)
}

type harness struct {
	eng     *mapengine.Memory
	lookup  *fakeLookup
	logs    *logRecorder
	loading *loadingRecorder
	mgr     *overlay.Manager
}

func newHarness(t *testing.T, eng overlay.Engine, mem *mapengine.Memory, opts overlay.Options) *harness {
	t.Helper()
	h := &harness{eng: mem, lookup: newFakeLookup(), logs: &logRecorder{}, loading: &loadingRecorder{}}
	opts.Logger = slog.New(h.logs)
	opts.OnLoading = h.loading.record
	if opts.ReloadDebounce == 0 {
		opts.ReloadDebounce = 20 * time.Millisecond
	}
	if opts.StylePollInterval == 0 {
		opts.StylePollInterval = 5 * time.Millisecond
	}
	h.mgr = overlay.New(eng, h.lookup, opts)
	t.Cleanup(h.mgr.Close)
	return h
}

func newMemoryHarness(t *testing.T) *harness {
	mem := mapengine.NewMemory()
	return newHarness(t, mem, mem, overlay.Options{})
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// idle：事件协程已处理完此前投递的闭包，且无在途轮次
func (h *harness) idle() bool {
	s := h.mgr.State()
	return s.Cycle == "" && !s.Loading
}

func equalBools(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
