package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"boundary-overlay/internal/bridge"
	"boundary-overlay/internal/cache"
	"boundary-overlay/internal/config"
	"boundary-overlay/internal/logger"
	"boundary-overlay/internal/mapengine"
	"boundary-overlay/internal/middleware"
	"boundary-overlay/internal/nominatim"
	"boundary-overlay/internal/overlay"
	"boundary-overlay/internal/sources"
	"boundary-overlay/internal/utils"
)

func main() {
	country := flag.String("country", "", "country name")
	city := flag.String("city", "", "city name (optional)")
	pngPath := flag.String("png", "", "write a rendering of the overlay to this PNG file")
	width := flag.Int("width", 800, "PNG width")
	height := flag.Int("height", 600, "PNG height")
	bridgeAddr := flag.String("bridge", "", "serve a browser map on this address and drive it instead of the headless engine")
	styleURL := flag.String("style", "", "map style URL for the browser page")
	allowFlag := flag.String("allow", "127.0.0.1,::1", "comma-separated IPs/CIDRs allowed to open the browser page (empty allows all)")
	cfgPath := flag.String("config", "", "TOML config file (default $OVERLAY_CONFIG)")
	wait := flag.Duration("wait", 30*time.Second, "how long to wait for the boundary to be drawn")
	flag.Parse()

	config.LoadDotEnv()
	l := logger.Setup()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := nominatim.New(cfg.ServiceURL, cfg.UserAgent, cfg.Timeout)
	client.Limiter = nominatim.NewLimiter(cfg.UpstreamQPS)
	client.Log = l
	rc := utils.OpenRedis(cfg.Redis)
	if rc != nil {
		defer rc.Close()
	}
	lookup := cache.New(client, cache.Options{Size: cfg.CacheSize, TTL: cfg.CacheTTL, Redis: rc, Logger: l})
	loc := overlay.Location{Country: *country, City: *city}

	if *bridgeAddr != "" {
		allow, err := middleware.NewAllowlist(middleware.SplitList(*allowFlag), "")
		if err != nil {
			l.Error("allowlist_error", "err", err)
			os.Exit(2)
		}
		if err := serveBridge(ctx, l, cfg, lookup, loc, allow, *bridgeAddr, *styleURL); err != nil {
			l.Error("bridge_serve_error", "err", err)
			os.Exit(1)
		}
		return
	}
	if loc.Empty() {
		fmt.Fprintln(os.Stderr, "overlayctl: -country is required")
		flag.Usage()
		os.Exit(2)
	}
	if err := drawOnce(ctx, l, cfg, lookup, loc, *wait, *pngPath, *width, *height); err != nil {
		l.Error("overlay_error", "q", loc.Query(), "err", err)
		os.Exit(1)
	}
}

// 文档注释：无浏览器模式
// 背景：在内存地图引擎上跑一轮完整流程，输出相机与图层状态，可选渲染为 PNG。
// 约束：加载状态回到 false 即视为本轮结束；此时没有图层说明查询失败或无结果。
func drawOnce(ctx context.Context, l *slog.Logger, cfg config.Config, lookup overlay.Lookup, loc overlay.Location,
	wait time.Duration, pngPath string, width, height int) error {
	eng := mapengine.NewMemory()
	defer eng.Close()
	finished := make(chan struct{}, 1)
	opts := cfg.OverlayOptions()
	opts.Logger = l
	opts.OnLoading = func(loading bool) {
		if !loading {
			select {
			case finished <- struct{}{}:
			default:
			}
		}
	}
	m := overlay.New(eng, lookup, opts)
	defer m.Close()
	m.SetLocation(loc)

	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	select {
	case <-finished:
	case <-wctx.Done():
		return fmt.Errorf("waiting for boundary: %w", wctx.Err())
	}
	st := m.State()
	if !st.HasLayer {
		return errors.New("no boundary drawn")
	}
	out := struct {
		Query  string         `json:"query"`
		Cycle  string         `json:"cycle"`
		Camera overlay.Camera `json:"camera"`
	}{Query: loc.Query(), Cycle: st.Cycle, Camera: eng.Camera()}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if pngPath == "" {
		return nil
	}
	f, err := os.Create(pngPath)
	if err != nil {
		return err
	}
	if err := png.Encode(f, eng.Render(width, height)); err != nil {
		f.Close()
		return err
	}
	l.Info("png_written", "path", pngPath, "width", width, "height", height)
	return f.Close()
}

// 文档注释：浏览器模式
// 背景：每个打开的页面得到一个独立的 Manager；标准输入每行一个地点（"城市, 国家" 或 "国家"），广播到全部页面。
// 约束：新连接的页面使用最近一次输入的地点；空行清除覆盖层。
func serveBridge(ctx context.Context, l *slog.Logger, cfg config.Config, lookup overlay.Lookup, loc overlay.Location,
	allow *middleware.Allowlist, addr, styleURL string) error {
	var (
		mu       sync.Mutex
		current  = loc
		managers = make(map[*overlay.Manager]struct{})
	)
	opts := cfg.OverlayOptions()
	opts.Logger = l
	mux := http.NewServeMux()
	mux.Handle("/", bridge.PageHandler(styleURL))
	mux.Handle("/bridge", bridge.Handler(bridge.Options{Logger: l}, func(b *bridge.Bridge) {
		o := opts
		o.OnLoading = func(loading bool) { l.Debug("bridge_loading", "loading", loading) }
		m := overlay.New(b, lookup, o)
		mu.Lock()
		managers[m] = struct{}{}
		start := current
		mu.Unlock()
		m.SetLocation(start)
		select {
		case <-b.Done():
		case <-ctx.Done():
		}
		mu.Lock()
		delete(managers, m)
		mu.Unlock()
		m.Close()
	}))

	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			c, ci := sources.ParseQuery(sc.Text())
			next := overlay.Location{Country: c, City: ci}
			mu.Lock()
			current = next
			for m := range managers {
				m.SetLocation(next)
			}
			n := len(managers)
			mu.Unlock()
			l.Info("location_set", "q", next.Query(), "maps", n)
		}
	}()

	s := &http.Server{Addr: addr, Handler: logger.AccessMiddleware(l)(allow.Wrap(mux)), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(sctx)
	}()
	l.Info("bridge_listening", "addr", addr, "q", loc.Query())
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
