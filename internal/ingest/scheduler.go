package ingest

import (
	"context"
	"time"

	"boundary-overlay/internal/logger"
)

// nextWeekdayAt：计算下一个指定星期几整点的时间点（严格晚于 now）
func nextWeekdayAt(now time.Time, wd time.Weekday, hour int) time.Time {
	for i := 0; i <= 7; i++ {
		d := now.AddDate(0, 0, i)
		if d.Weekday() != wd {
			continue
		}
		t := time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, now.Location())
		if t.After(now) {
			return t
		}
	}
	d := now.AddDate(0, 0, 7)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, now.Location())
}

// 文档注释：每周一次的后台任务
// 背景：本地快照随数据发布周期更新；每周一在 hour 点重新读取。
// 约束：hour 超出 0..23 时不启动；错误只记录，任务继续调度；ctx 取消后停止。
func StartWeekly(ctx context.Context, name string, hour int, fn func(context.Context) error) {
	if hour < 0 || hour > 23 {
		logger.L().Info("schedule_disabled", "task", name)
		return
	}
	l := logger.L()
	next := nextWeekdayAt(time.Now(), time.Monday, hour)
	l.Info("schedule_next", "task", name, "at", next)
	go func() {
		for {
			t := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			l.Info("schedule_start", "task", name)
			if err := fn(ctx); err != nil {
				l.Error("schedule_error", "task", name, "err", err)
			} else {
				l.Info("schedule_done", "task", name)
			}
			next = nextWeekdayAt(time.Now(), time.Monday, hour)
		}
	}()
}
