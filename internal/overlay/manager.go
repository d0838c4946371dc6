package overlay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"boundary-overlay/internal/logger"
)

const (
	DefaultReloadDebounce    = 100 * time.Millisecond
	DefaultStylePollInterval = 50 * time.Millisecond
	DefaultStyleWaitTimeout  = 10 * time.Second
)

// 文档注释：Manager 参数
// 背景：ReloadDebounce 用于吸收一次样式重载期间连续触发的 styledata，合适取值取决于地图引擎，保持可调。
// 约束：零值取默认；OnLoading 在 Manager 的事件协程上调用，回调内不得调用 Close。
type Options struct {
	Logger            *slog.Logger
	OnLoading         LoadingFunc
	ReloadDebounce    time.Duration
	StylePollInterval time.Duration
	StyleWaitTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = logger.L()
	}
	if o.ReloadDebounce <= 0 {
		o.ReloadDebounce = DefaultReloadDebounce
	}
	if o.StylePollInterval <= 0 {
		o.StylePollInterval = DefaultStylePollInterval
	}
	if o.StyleWaitTimeout <= 0 {
		o.StyleWaitTimeout = DefaultStyleWaitTimeout
	}
	return o
}

// State：Manager 当前状态快照
type State struct {
	Location      Location
	HasLayer      bool
	Loading       bool
	Cycle         string
	Generation    uint64
	ReloadPending bool
	Closed        bool
}

// 文档注释：边界覆盖层管理器
// 背景：所有状态只在单个事件协程内读写；地图事件、查询完成、去抖定时器都投递闭包到邮箱，由事件协程串行执行。
// 约束：邮箱无界且投递不阻塞，引擎在 AddLayer 内同步派发事件也不会死锁；关闭后投递一律丢弃。
type Manager struct {
	engine Engine
	lookup Lookup
	opts   Options
	log    *slog.Logger

	ctx  context.Context
	stop context.CancelFunc
	box  mailbox
	done chan struct{}

	// 以下字段仅由事件协程访问
	loc      Location
	gen      uint64
	cycle    *cycle
	hasLayer bool
	loading  bool
	zoomOff  func()
	styleOff func()
	reload   *time.Timer
}

// New：创建并启动管理器，立即订阅 styledata；首次 SetLocation 触发第一轮绘制
func New(engine Engine, lookup Lookup, opts Options) *Manager {
	opts = opts.withDefaults()
	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		engine: engine,
		lookup: lookup,
		opts:   opts,
		log:    opts.Logger,
		ctx:    ctx,
		stop:   stop,
		box:    mailbox{wake: make(chan struct{}, 1)},
		done:   make(chan struct{}),
	}
	m.styleOff = engine.On(EventStyleData, func() { m.post(m.onStyleData) })
	go m.run()
	return m
}

// SetLocation：选中地点变化；与当前值相同则忽略，空地点移除覆盖层且不发起查询
func (m *Manager) SetLocation(loc Location) {
	m.post(func() {
		if loc == m.loc {
			return
		}
		m.loc = loc
		m.startCycle("location")
	})
}

// Refresh：按当前地点重新查询并绘制
func (m *Manager) Refresh() {
	m.post(func() { m.startCycle("refresh") })
}

// State：同步读取状态；关闭后返回 Closed=true
func (m *Manager) State() State {
	ch := make(chan State, 1)
	if !m.post(func() { ch <- m.state() }) {
		return State{Closed: true}
	}
	select {
	case s := <-ch:
		return s
	case <-m.done:
		return State{Closed: true}
	}
}

// Close：取消在途查询、解除监听、移除自有图层与数据源；可重复调用，返回时清理已完成
func (m *Manager) Close() {
	m.stop()
	<-m.done
}

func (m *Manager) state() State {
	s := State{Location: m.loc, HasLayer: m.hasLayer, Loading: m.loading, Generation: m.gen, ReloadPending: m.reload != nil}
	if m.cycle != nil {
		s.Cycle = m.cycle.id
	}
	return s
}

func (m *Manager) post(fn func()) bool {
	if m.ctx.Err() != nil {
		return false
	}
	m.box.put(fn)
	return true
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			m.teardown()
			return
		case <-m.box.wake:
			for _, fn := range m.box.drain() {
				if m.ctx.Err() != nil {
					break
				}
				fn()
			}
		}
	}
}

func (m *Manager) teardown() {
	if m.cycle != nil {
		m.cycle.cancel()
		m.cycle = nil
	}
	if m.loading {
		m.setLoading(false)
	}
	if m.reload != nil {
		m.reload.Stop()
		m.reload = nil
	}
	if m.zoomOff != nil {
		m.zoomOff()
		m.zoomOff = nil
	}
	m.removeOverlay()
	if m.styleOff != nil {
		m.styleOff()
		m.styleOff = nil
	}
	m.box.drain()
	m.log.Debug("boundary_manager_closed", "generation", m.gen)
}

func (m *Manager) setLoading(v bool) {
	m.loading = v
	if m.opts.OnLoading != nil {
		m.opts.OnLoading(v)
	}
}

// mailbox：无界闭包队列，wake 容量为 1 用于合并唤醒
type mailbox struct {
	mu   sync.Mutex
	q    []func()
	wake chan struct{}
}

func (b *mailbox) put(fn func()) {
	b.mu.Lock()
	b.q = append(b.q, fn)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *mailbox) drain() []func() {
	b.mu.Lock()
	q := b.q
	b.q = nil
	b.mu.Unlock()
	return q
}
