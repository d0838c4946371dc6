package cache

import (
	"context"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	negativePrefix = "boundary:miss:"
	negativeBits   = 1 << 20
	negativeK      = 4
)

// 文档注释：计算布隆过滤器位置
// 背景：FNV64a 加索引扰动生成 k 个位置，供 GETBIT/SETBIT 使用。
func bloomPositions(data []byte, m uint32, k int) []int64 {
	pos := make([]int64, k)
	for i := 0; i < k; i++ {
		h := fnv.New64a()
		h.Write([]byte{byte(i)})
		h.Write(data)
		pos[i] = int64(uint32(h.Sum64() % uint64(m)))
	}
	return pos
}

// 文档注释：未命中记录（Redis 位图布隆过滤器）
// 背景：上游对无结果的地名同样计入限速配额；短期内重复查询同一无结果地名时直接判定未找到。
// 约束：按 ttl 切分时间窗口，每个窗口一张位图，写入只落在当前窗口；查询只看当前与上一个窗口，记录因此在 ttl 到 2*ttl 之间失效，不随新写入顺延。
// 位图的过期时刻是绝对时间（下一窗口结束），重复写入不会改变它。rc 为 nil 时一律视为未见过。
type negative struct {
	rc  *redis.Client
	ttl time.Duration
	now func() time.Time
}

func (n negative) window(t time.Time) int64 {
	return t.UnixNano() / int64(n.ttl)
}

func bucketKey(w int64) string {
	return negativePrefix + strconv.FormatInt(w, 10)
}

func (n negative) seen(ctx context.Context, key string) (bool, error) {
	if n.rc == nil {
		return false, nil
	}
	w := n.window(n.now())
	for _, bk := range []string{bucketKey(w), bucketKey(w - 1)} {
		ok, err := n.seenIn(ctx, bk, key)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (n negative) seenIn(ctx context.Context, bucket, key string) (bool, error) {
	for _, p := range bloomPositions([]byte(key), negativeBits, negativeK) {
		b, err := n.rc.GetBit(ctx, bucket, p).Result()
		if err != nil {
			return false, err
		}
		if b == 0 {
			return false, nil
		}
	}
	return true, nil
}

func (n negative) add(ctx context.Context, key string) error {
	if n.rc == nil {
		return nil
	}
	w := n.window(n.now())
	bk := bucketKey(w)
	pipe := n.rc.TxPipeline()
	for _, p := range bloomPositions([]byte(key), negativeBits, negativeK) {
		pipe.SetBit(ctx, bk, p, 1)
	}
	pipe.ExpireAt(ctx, bk, time.Unix(0, (w+2)*int64(n.ttl)))
	_, err := pipe.Exec(ctx)
	return err
}

// Invalidate：某地边界被人工修正后清除其缓存；布隆过滤器无法按条删除，未命中位图整体清空
func Invalidate(ctx context.Context, rc *redis.Client, query string) error {
	keys := []string{Key(query)}
	iter := rc.Scan(ctx, 0, negativePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return rc.Del(ctx, keys...).Err()
}
