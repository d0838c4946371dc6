// 包 bridge：通过 websocket 驱动浏览器页面中的真实地图实例
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"boundary-overlay/internal/logger"
	"boundary-overlay/internal/overlay"
)

// ErrClosed：桥接连接已关闭
var ErrClosed = errors.New("bridge closed")

const (
	defaultCallTimeout = 5 * time.Second
	pingInterval       = 20 * time.Second
	readTimeout        = 60 * time.Second
	writeTimeout       = 5 * time.Second
)

// Options：桥接参数；零值取默认
type Options struct {
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// 文档注释：websocket 地图引擎
// 背景：实现 overlay.Engine；每个查询或变更都是一次同步请求/回复，页面推送的 styledata/zoomend 事件扇出给 On 订阅者。
// 约束：连接断开后所有调用返回 overlay.ErrEngineGone，与宿主卸载地图等价；事件回调在读协程上执行，不得阻塞。
type Bridge struct {
	conn    *websocket.Conn
	timeout time.Duration
	log     *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   uint64
	pending  map[uint64]chan frame
	handlers map[overlay.Event]map[int]func()
	nextH    int

	done      chan struct{}
	closeOnce sync.Once
}

// New：接管连接并启动读协程与心跳
func New(conn *websocket.Conn, opts Options) *Bridge {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.L()
	}
	b := &Bridge{
		conn:     conn,
		timeout:  opts.CallTimeout,
		log:      opts.Logger,
		pending:  make(map[uint64]chan frame),
		handlers: make(map[overlay.Event]map[int]func()),
		done:     make(chan struct{}),
	}
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go b.readLoop()
	go b.pingLoop()
	return b
}

// Done：连接结束时关闭
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Close：关闭连接；等待中的调用以 overlay.ErrEngineGone 返回
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.writeMu.Lock()
		_ = b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		b.writeMu.Unlock()
		err = b.conn.Close()
		close(b.done)
		b.mu.Lock()
		for id, ch := range b.pending {
			close(ch)
			delete(b.pending, id)
		}
		b.mu.Unlock()
	})
	return err
}

func (b *Bridge) readLoop() {
	defer b.Close()
	for {
		_, msg, err := b.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.log.Debug("bridge_read_error", "err", err)
			}
			return
		}
		b.conn.SetReadDeadline(time.Now().Add(readTimeout))
		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			b.log.Warn("bridge_bad_frame", "err", err)
			continue
		}
		if f.Event != "" {
			b.emit(overlay.Event(f.Event))
			continue
		}
		b.mu.Lock()
		ch, ok := b.pending[f.ID]
		delete(b.pending, f.ID)
		b.mu.Unlock()
		if !ok {
			b.log.Debug("bridge_orphan_reply", "id", f.ID)
			continue
		}
		ch <- f
	}
}

func (b *Bridge) pingLoop() {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			b.writeMu.Lock()
			err := b.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout))
			b.writeMu.Unlock()
			if err != nil {
				b.log.Debug("bridge_ping_error", "err", err)
				_ = b.Close()
				return
			}
		}
	}
}

// call：发送一条命令并等待回复；out 非空时解码 result
func (b *Bridge) call(op string, args any, out any) error {
	ch := make(chan frame, 1)
	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		return overlay.ErrEngineGone
	default:
	}
	b.nextID++
	id := b.nextID
	b.pending[id] = ch
	b.mu.Unlock()

	buf, err := json.Marshal(command{ID: id, Op: op, Args: args})
	if err != nil {
		b.forget(id)
		return fmt.Errorf("encode %s: %w", op, err)
	}
	b.writeMu.Lock()
	b.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = b.conn.WriteMessage(websocket.TextMessage, buf)
	b.writeMu.Unlock()
	if err != nil {
		b.forget(id)
		_ = b.Close()
		return overlay.ErrEngineGone
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case f, ok := <-ch:
		if !ok {
			return overlay.ErrEngineGone
		}
		if !f.OK {
			if f.Code == codeGone {
				return overlay.ErrEngineGone
			}
			return fmt.Errorf("%s: %s", op, f.Error)
		}
		if out != nil && len(f.Result) > 0 {
			if err := json.Unmarshal(f.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", op, err)
			}
		}
		return nil
	case <-timer.C:
		b.forget(id)
		return fmt.Errorf("%s: no reply within %s", op, b.timeout)
	}
}

func (b *Bridge) forget(id uint64) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *Bridge) emit(ev overlay.Event) {
	b.mu.Lock()
	hs := b.handlers[ev]
	ids := make([]int, 0, len(hs))
	for id := range hs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, hs[id])
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (b *Bridge) IsStyleLoaded() bool {
	var ok bool
	if err := b.call(opIsStyleLoaded, nil, &ok); err != nil {
		return false
	}
	return ok
}

func (b *Bridge) HasSource(id string) (bool, error) {
	var ok bool
	err := b.call(opHasSource, idArgs{ID: id}, &ok)
	return ok, err
}

func (b *Bridge) HasLayer(id string) (bool, error) {
	var ok bool
	err := b.call(opHasLayer, idArgs{ID: id}, &ok)
	return ok, err
}

func (b *Bridge) AddSource(id string, src overlay.GeoJSONSource) error {
	return b.call(opAddSource, sourceArgs{ID: id, Source: src}, nil)
}

func (b *Bridge) RemoveSource(id string) error {
	return b.call(opRemoveSource, idArgs{ID: id}, nil)
}

func (b *Bridge) AddLayer(layer overlay.FillLayer) error {
	return b.call(opAddLayer, layer, nil)
}

func (b *Bridge) RemoveLayer(id string) error {
	return b.call(opRemoveLayer, idArgs{ID: id}, nil)
}

func (b *Bridge) SetPaintProperty(layerID, name string, value any) error {
	return b.call(opSetPaintProperty, paintArgs{Layer: layerID, Name: name, Value: value}, nil)
}

func (b *Bridge) FlyTo(cam overlay.Camera) error {
	return b.call(opFlyTo, cam, nil)
}

func (b *Bridge) Zoom() (float64, error) {
	var z float64
	err := b.call(opGetZoom, nil, &z)
	return z, err
}

// On：本地订阅；页面始终推送 styledata 与 zoomend
func (b *Bridge) On(ev overlay.Event, fn func()) func() {
	b.mu.Lock()
	b.nextH++
	id := b.nextH
	if b.handlers[ev] == nil {
		b.handlers[ev] = make(map[int]func())
	}
	b.handlers[ev][id] = fn
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers[ev], id)
			b.mu.Unlock()
		})
	}
}
