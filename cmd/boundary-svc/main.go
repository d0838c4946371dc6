package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boundary-overlay/internal/api"
	"boundary-overlay/internal/config"
	"boundary-overlay/internal/geoip"
	"boundary-overlay/internal/ingest"
	"boundary-overlay/internal/logger"
	"boundary-overlay/internal/metrics"
	"boundary-overlay/internal/middleware"
	"boundary-overlay/internal/migrate"
	"boundary-overlay/internal/nominatim"
	"boundary-overlay/internal/sources"
	"boundary-overlay/internal/store"
	"boundary-overlay/internal/utils"
)

func main() {
	config.LoadDotEnv()
	l := logger.Setup()
	l.Debug("log_init_ok")
	cfg, err := config.Load("")
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	l.Debug("config_api_base", "base", cfg.APIBase)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st *store.Store
	db, err := utils.OpenPostgres(cfg.Postgres)
	switch {
	case err != nil:
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	case db == nil:
		l.Info("db_disabled")
	default:
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			l.Error("db_ping_error", "err", err)
		} else {
			l.Info("db_ping_ok")
		}
		if err := migrate.EnsureSchema(ctx, db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
		st = store.AttachDB(db)
	}

	rc := utils.OpenRedis(cfg.Redis)
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
	}

	var loc *geoip.Locator
	if cfg.GeoIPPath != "" {
		if loc, err = geoip.Open(cfg.GeoIPPath); err != nil {
			l.Error("geoip_open_error", "path", cfg.GeoIPPath, "err", err)
		} else {
			defer loc.Close()
		}
	}

	// 文档注释：注册数据源
	// 背景：注册顺序即优先级；本地库与快照命中时不消耗上游配额。
	sm := sources.NewManager(cfg.HeartbeatInterval).WithLogger(l)
	if st != nil {
		sm.Register(&sources.Postgres{Store: st})
	}
	if cfg.SnapshotDir != "" {
		if snap, err := sources.LoadSnapshot(cfg.SnapshotDir); err != nil {
			l.Error("snapshot_load_error", "dir", cfg.SnapshotDir, "err", err)
		} else {
			sm.Register(snap)
			l.Debug("snapshot_ready", "boundaries", snap.Len())
			ingest.StartWeekly(ctx, "snapshot_reload", cfg.SnapshotReloadHour, func(context.Context) error {
				return snap.Reload()
			})
		}
	}
	upstream := nominatim.New(cfg.ServiceURL, cfg.UserAgent, cfg.Timeout)
	upstream.Limiter = nominatim.NewLimiter(cfg.UpstreamQPS)
	upstream.Log = l
	sm.Register(&sources.Upstream{Client: upstream})
	l.Debug("config_upstream", "url", cfg.ServiceURL, "qps", cfg.UpstreamQPS)
	sm.Start(ctx)

	apiMux := api.BuildRoutes(api.Deps{
		Sources:    sm,
		Redis:      rc,
		Locator:    loc,
		Store:      st,
		CacheTTL:   cfg.CacheTTL,
		AdminToken: cfg.AdminToken,
		Log:        l,
	})
	mux := http.NewServeMux()
	mux.Handle(cfg.APIBase+"/", http.StripPrefix(cfg.APIBase, apiMux))
	mux.Handle(cfg.APIBase+"/metrics", metrics.Handler())

	allow, err := middleware.NewAllowlist(cfg.AllowList, cfg.RealIPHeader)
	if err != nil {
		l.Error("allowlist_error", "err", err)
		os.Exit(1)
	}
	handler := allow.Wrap(mux)
	handler = logger.AccessMiddleware(l)(handler)
	if cfg.RateLimitEnabled {
		handler = middleware.RateLimit(cfg.RateLimitQPS)(handler)
		l.Info("ratelimit_enabled", "qps", cfg.RateLimitQPS)
	}
	s := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(sctx)
	}()

	if cfg.TLSEnable {
		if err := utils.EnsureSelfSignedCert(cfg.TLSCertPath, cfg.TLSKeyPath, "boundary.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLSCertPath)
		err = s.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
	} else {
		l.Info("listening", "addr", cfg.Addr)
		err = s.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("server_error", "err", err)
		os.Exit(1)
	}
	l.Info("server_stopped")
}
