package cache

import (
	"container/list"
	"sync"
	"time"
)

// 文档注释：进程内 LRU 缓存
// 背景：同一地点在短时间内被反复选中（样式重载重绘、来回切换），命中时无需再访问 Redis 或上游。
// 约束：容量 <= 0 时不缓存；过期条目在读取时惰性淘汰。
type LRU[V any] struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	lst  *list.List
	dict map[string]*list.Element
	now  func() time.Time
}

type entry[V any] struct {
	k   string
	v   V
	exp time.Time
}

func NewLRU[V any](capacity int, ttl time.Duration) *LRU[V] {
	return &LRU[V]{cap: capacity, ttl: ttl, lst: list.New(), dict: make(map[string]*list.Element), now: time.Now}
}

func (c *LRU[V]) Get(k string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	e, ok := c.dict[k]
	if !ok {
		return zero, false
	}
	it := e.Value.(entry[V])
	if !c.now().Before(it.exp) {
		c.lst.Remove(e)
		delete(c.dict, k)
		return zero, false
	}
	c.lst.MoveToFront(e)
	return it.v, true
}

func (c *LRU[V]) Set(k string, v V) {
	if c.cap <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	it := entry[V]{k: k, v: v, exp: c.now().Add(c.ttl)}
	if e, ok := c.dict[k]; ok {
		e.Value = it
		c.lst.MoveToFront(e)
		return
	}
	c.dict[k] = c.lst.PushFront(it)
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		delete(c.dict, back.Value.(entry[V]).k)
		c.lst.Remove(back)
	}
}

func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}
