// 包 logger：边界服务的访问日志中间件，记录方法、路径、查询词、状态、耗时与字节数
package logger

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// recorder：记录状态码与写出字节数；支持 Hijack，桥接端点的 websocket 升级经过本中间件
type recorder struct {
	http.ResponseWriter
	code     int
	n        int
	hijacked bool
}

func (r *recorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.n += n
	return n, err
}

func (r *recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.hijacked = true
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *recorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// AccessMiddleware：生成访问日志中间件
// 约束：不读取请求体；q 参数原样记录，便于排查“查无边界”的地名；5xx 以 warn 级别输出；升级后的连接在关闭时记录一次
func AccessMiddleware(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			rec := &recorder{ResponseWriter: w, code: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, req)
			lvl := slog.LevelDebug
			if rec.code >= 500 {
				lvl = slog.LevelWarn
			}
			l.Log(req.Context(), lvl, "http_access",
				"method", req.Method,
				"path", req.URL.Path,
				"q", req.URL.Query().Get("q"),
				"status", rec.code,
				"bytes", rec.n,
				"upgraded", rec.hijacked,
				"duration_ms", time.Since(start).Milliseconds(),
				"ip", req.RemoteAddr,
			)
		})
	}
}
