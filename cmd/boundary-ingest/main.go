package main

import (
	"bufio"
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"boundary-overlay/internal/config"
	"boundary-overlay/internal/ingest"
	"boundary-overlay/internal/logger"
	"boundary-overlay/internal/migrate"
	"boundary-overlay/internal/nominatim"
	"boundary-overlay/internal/sources"
	"boundary-overlay/internal/store"
	"boundary-overlay/internal/utils"
)

// 文档注释：边界批量入库
// 背景：输入为每行一个查询词（"城市, 国家" 或 "国家"），来自 -input 文件或标准输入；
// 指定 -snapshot 时从本地快照取边界，且未给输入时入库快照中的全部条目；否则请求上游服务（遵守 UPSTREAM_QPS）。
func main() {
	input := flag.String("input", "", "file with one query per line (default stdin)")
	snapDir := flag.String("snapshot", "", "read boundaries from this snapshot directory instead of the upstream service")
	workers := flag.Int("workers", 4, "concurrent lookups")
	cfgPath := flag.String("config", "", "TOML config file (default $OVERLAY_CONFIG)")
	flag.Parse()

	config.LoadDotEnv()
	l := logger.Setup()
	l.Info("boundary_ingest_start")
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := utils.OpenPostgres(cfg.Postgres)
	if err != nil || db == nil {
		l.Error("db_open_error", "err", err, "host", cfg.Postgres.Host)
		os.Exit(1)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}
	st := store.AttachDB(db)

	var src ingest.Searcher
	var queries <-chan string
	if *snapDir != "" {
		snap, err := sources.LoadSnapshot(*snapDir)
		if err != nil {
			l.Error("snapshot_load_error", "dir", *snapDir, "err", err)
			os.Exit(1)
		}
		src = snap
		if *input == "" {
			queries = ingest.Feed(ctx, snap.Queries())
		}
	} else {
		c := nominatim.New(cfg.ServiceURL, cfg.UserAgent, cfg.Timeout)
		c.Limiter = nominatim.NewLimiter(cfg.UpstreamQPS)
		c.Log = l
		src = c
	}
	if queries == nil {
		rd := os.Stdin
		if *input != "" {
			f, err := os.Open(*input)
			if err != nil {
				l.Error("input_open_error", "err", err)
				os.Exit(1)
			}
			defer f.Close()
			rd = f
		}
		ch := make(chan string)
		go func() {
			defer close(ch)
			sc := bufio.NewScanner(rd)
			for sc.Scan() {
				select {
				case ch <- sc.Text():
				case <-ctx.Done():
					return
				}
			}
			if err := sc.Err(); err != nil {
				l.Error("input_read_error", "err", err)
			}
		}()
		queries = ch
	}

	stats := ingest.Run(ctx, src, st, queries, ingest.Options{Workers: *workers, Timeout: cfg.Timeout * 2, Logger: l})
	n, _ := st.Count(ctx)
	l.Info("boundary_ingest_done", "total", stats.Total, "written", stats.Written, "empty", stats.Empty,
		"failed", stats.Failed, "stored", n)
	if stats.Failed > 0 {
		os.Exit(1)
	}
}
