package bridge

import (
	"net/http"

	"github.com/gorilla/websocket"

	"boundary-overlay/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
}

// 文档注释：桥接入口
// 背景：页面打开后连接 /bridge；每条连接包装为一个 Bridge 交给 fn，fn 返回或连接断开后关闭。
// 约束：沿用 websocket 默认的同源检查；fn 在请求协程上运行，可阻塞到 Bridge.Done。
func Handler(opts Options, fn func(*Bridge)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.L().Debug("bridge_upgrade_error", "err", err, "remote", r.RemoteAddr)
			return
		}
		b := New(conn, opts)
		defer b.Close()
		b.log.Info("bridge_connected", "remote", r.RemoteAddr)
		fn(b)
	})
}

// PageHandler：返回内置的地图页面，页面脚本连接同源 /bridge
func PageHandler(styleURL string) http.Handler {
	if styleURL == "" {
		styleURL = DefaultStyleURL
	}
	body := []byte(pageHead + `<script>const STYLE_URL = ` + jsString(styleURL) + `;</script>` + pageScript)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/html; charset=utf-8")
		w.Header().Set("cache-control", "no-store")
		_, _ = w.Write(body)
	})
}
