package middleware

import (
	"net/http"
	"sync"
	"time"

	"boundary-overlay/internal/logger"
)

// 文档注释：令牌桶限流（每秒）
// 背景：边界服务会把请求转发到有使用配额的上游；入口限速避免突发流量把配额耗尽。
// 约束：简化实现，每个自然秒重置令牌，不做排队，超额直接返回 429。
type TokenBucket struct {
	capacity int
	tokens   int
	lastSec  int64
	mu       sync.Mutex
	now      func() time.Time
}

func NewTokenBucket(qps int) *TokenBucket {
	return &TokenBucket{capacity: qps, tokens: qps, lastSec: time.Now().Unix(), now: time.Now}
}

func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	nowSec := tb.now().Unix()
	if tb.lastSec != nowSec {
		tb.lastSec = nowSec
		tb.tokens = tb.capacity
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// RateLimit：qps <= 0 时不限速
func RateLimit(qps int) func(http.Handler) http.Handler {
	if qps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	logger.L().Info("rate_limit_enabled", "qps", qps)
	return limit(NewTokenBucket(qps))
}

func limit(tb *TokenBucket) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !tb.Allow() {
				logger.L().Debug("rate_limited", "path", r.URL.Path)
				w.Header().Set("retry-after", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
