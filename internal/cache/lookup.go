// 包 cache：边界查询的两级缓存（进程内 LRU + Redis）
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"boundary-overlay/internal/geo"
	"boundary-overlay/internal/logger"
	"boundary-overlay/internal/metrics"
	"boundary-overlay/internal/nominatim"
	"boundary-overlay/internal/overlay"
)

const keyPrefix = "boundary:"

// Options：缓存参数；零值取默认
type Options struct {
	Size        int
	TTL         time.Duration
	NegativeTTL time.Duration
	Redis       *redis.Client
	Logger      *slog.Logger
}

// 文档注释：带缓存的边界查询
// 背景：装饰任意 overlay.Lookup；先查进程内 LRU，再查 Redis，都未命中才调用下游并回填两级缓存。
// 约束：取消与传输错误从不缓存；下游返回 nominatim.ErrNotFound 时写入未命中过滤器。Redis 故障只降级，不影响查询结果。
type Lookup struct {
	next overlay.Lookup
	lru  *LRU[*geo.Boundary]
	rc   *redis.Client
	neg  negative
	ttl  time.Duration
	log  *slog.Logger
}

func New(next overlay.Lookup, opts Options) *Lookup {
	if opts.Size == 0 {
		opts.Size = 1024
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logger.L()
	}
	return &Lookup{
		next: next,
		lru:  NewLRU[*geo.Boundary](opts.Size, opts.TTL),
		rc:   opts.Redis,
		neg:  negative{rc: opts.Redis, ttl: opts.NegativeTTL, now: time.Now},
		ttl:  opts.TTL,
		log:  opts.Logger,
	}
}

// Key：规范化查询词；大小写与多余空白不影响命中
func Key(query string) string {
	return keyPrefix + strings.ToLower(strings.Join(strings.Fields(query), " "))
}

func (l *Lookup) Resolve(ctx context.Context, query string) (*geo.Boundary, error) {
	key := Key(query)
	if b, ok := l.lru.Get(key); ok {
		metrics.CacheHitsTotal.WithLabelValues("memory").Inc()
		return b, nil
	}
	if l.rc != nil {
		if b, ok := l.redisGet(ctx, key); ok {
			metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
			l.lru.Set(key, b)
			return b, nil
		}
		if seen, err := l.neg.seen(ctx, key); err == nil && seen {
			metrics.CacheHitsTotal.WithLabelValues("negative").Inc()
			return nil, fmt.Errorf("%w: %q (cached)", nominatim.ErrNotFound, query)
		}
	}
	metrics.CacheMissesTotal.Inc()
	b, err := l.next.Resolve(ctx, query)
	if err != nil {
		if errors.Is(err, nominatim.ErrNotFound) && ctx.Err() == nil {
			if e := l.neg.add(ctx, key); e != nil {
				l.log.Debug("boundary_cache_negative_error", "key", key, "err", e)
			}
		}
		return nil, err
	}
	l.lru.Set(key, b)
	if l.rc != nil {
		l.redisSet(ctx, key, b)
	}
	return b, nil
}

func (l *Lookup) redisGet(ctx context.Context, key string) (*geo.Boundary, bool) {
	s, err := l.rc.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			l.log.Debug("boundary_cache_get_error", "key", key, "err", err)
		}
		return nil, false
	}
	var b geo.Boundary
	if err := json.Unmarshal([]byte(s), &b); err != nil || b.Geometry.Validate() != nil {
		l.log.Warn("boundary_cache_corrupt", "key", key)
		_ = l.rc.Del(ctx, key).Err()
		return nil, false
	}
	return &b, true
}

func (l *Lookup) redisSet(ctx context.Context, key string, b *geo.Boundary) {
	buf, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := l.rc.Set(ctx, key, buf, l.ttl).Err(); err != nil {
		l.log.Debug("boundary_cache_set_error", "key", key, "err", err)
	}
}
