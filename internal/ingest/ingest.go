// 包 ingest：批量把边界写入本地库，以及服务进程内的定期刷新任务
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"boundary-overlay/internal/geo"
	"boundary-overlay/internal/logger"
	"boundary-overlay/internal/nominatim"
	"boundary-overlay/internal/sources"
)

// Searcher：边界来源（上游客户端、本地快照等）
type Searcher interface {
	Search(ctx context.Context, q string) ([]nominatim.Place, error)
}

// Writer：边界落库
type Writer interface {
	Upsert(ctx context.Context, country, city string, b geo.Boundary) error
}

type Options struct {
	Workers int
	Timeout time.Duration
	Logger  *slog.Logger
}

// Stats：一次批量入库的计数
type Stats struct {
	Total   int64
	Written int64
	Empty   int64
	Failed  int64
}

// 文档注释：批量入库
// 背景：按查询词逐个检索边界并写库，常用于首次部署时预热本地库，避免运行期请求公共服务。
// 约束：queries 关闭后等待全部任务结束再返回；ctx 取消时停止领取新任务；单条失败只计数不中断。
func Run(ctx context.Context, src Searcher, dst Writer, queries <-chan string, opts Options) Stats {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	l := opts.Logger
	if l == nil {
		l = logger.L()
	}
	var st Stats
	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				var q string
				var ok bool
				select {
				case <-ctx.Done():
					return
				case q, ok = <-queries:
					if !ok {
						return
					}
				}
				q = strings.TrimSpace(q)
				if q == "" {
					continue
				}
				atomic.AddInt64(&st.Total, 1)
				switch err := one(ctx, src, dst, q, opts.Timeout); {
				case err == nil:
					atomic.AddInt64(&st.Written, 1)
					l.Debug("ingest_ok", "q", q)
				case errors.Is(err, nominatim.ErrNotFound):
					atomic.AddInt64(&st.Empty, 1)
					l.Warn("ingest_skip_empty", "q", q)
				default:
					atomic.AddInt64(&st.Failed, 1)
					l.Error("ingest_error", "q", q, "err", err)
				}
			}
		}()
	}
	wg.Wait()
	return st
}

func one(ctx context.Context, src Searcher, dst Writer, q string, timeout time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	places, err := src.Search(cctx, q)
	if err != nil {
		return err
	}
	b, err := nominatim.First(q, places)
	if err != nil {
		return err
	}
	country, city := sources.ParseQuery(q)
	return dst.Upsert(cctx, country, city, *b)
}

// Feed：把切片依次送入通道，发送完毕或 ctx 取消后关闭通道
func Feed(ctx context.Context, qs []string) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		for _, q := range qs {
			select {
			case ch <- q:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
