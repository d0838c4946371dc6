package nominatim

import (
	"context"
	"sync"
	"time"
)

// 文档注释：上游请求节流
// 背景：公共 Nominatim 实例要求单客户端不超过 1 次/秒；边界切换频繁时在客户端侧排队而不是被上游封禁。
// 约束：按固定间隔放行，不做突发；等待期间可被 ctx 取消。
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

// NewLimiter：qps<=0 时返回 nil，表示不限速
func NewLimiter(qps float64) *Limiter {
	if qps <= 0 {
		return nil
	}
	return &Limiter{interval: time.Duration(float64(time.Second) / qps)}
}

// Wait：阻塞到允许发出下一次请求
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	l.mu.Lock()
	now := time.Now()
	at := l.next
	if at.Before(now) {
		at = now
	}
	l.next = at.Add(l.interval)
	l.mu.Unlock()
	d := time.Until(at)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		l.release(at)
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// release：被取消的等待归还其时间片，避免后续请求被已放弃的排队拖慢
func (l *Limiter) release(at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.next.Equal(at.Add(l.interval)) {
		l.next = at
	}
}
