// 包 api：边界服务的 HTTP 路由
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"boundary-overlay/internal/cache"
	"boundary-overlay/internal/geo"
	"boundary-overlay/internal/geoip"
	"boundary-overlay/internal/logger"
	"boundary-overlay/internal/metrics"
	"boundary-overlay/internal/nominatim"
	"boundary-overlay/internal/sources"
	"boundary-overlay/internal/store"
)

// Deps：路由依赖；除 Sources 外均可为空
type Deps struct {
	Sources    *sources.Manager
	Redis      *redis.Client
	Locator    *geoip.Locator
	Store      *store.Store
	CacheTTL   time.Duration
	AdminToken string
	Log        *slog.Logger
}

type server struct {
	Deps
	writeBack *sources.WriteBack
}

// 文档注释：构建路由
// 背景：/search 与 Nominatim 搜索接口兼容，覆盖层可直接把 BOUNDARY_SERVICE_URL 指向本服务；
// /locate 按访问者 IP 给出默认地点；/boundaries 供管理端写入自有边界。
func BuildRoutes(d Deps) *mux.Router {
	if d.Log == nil {
		d.Log = logger.L()
	}
	if d.CacheTTL <= 0 {
		d.CacheTTL = 24 * time.Hour
	}
	s := &server{Deps: d}
	if d.Store != nil {
		s.writeBack = &sources.WriteBack{Store: d.Store}
	}
	r := mux.NewRouter()
	r.Use(requestID)
	r.HandleFunc("/search", s.search).Methods(http.MethodGet)
	r.HandleFunc("/locate", s.locate).Methods(http.MethodGet)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if d.Store != nil {
		r.HandleFunc("/boundaries/{country}", s.putBoundary).Methods(http.MethodPut)
		r.HandleFunc("/boundaries/{country}/{city}", s.putBoundary).Methods(http.MethodPut)
	}
	return r
}

// requestID：透传或生成 X-Request-Id
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// 文档注释：/search
// 约束：q 必填；无结果返回 200 与空数组（与上游一致）；全部数据源失败返回 502；结果按规范化查询词缓存在 Redis。
func (s *server) search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	metrics.SearchRequestsTotal.Inc()
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q")
		return
	}
	key := "search:" + strings.TrimPrefix(cache.Key(q), "boundary:")
	if s.Redis != nil {
		if b, err := s.Redis.Get(ctx, key).Bytes(); err == nil {
			w.Header().Set("x-cache", "hit")
			w.Header().Set("content-type", "application/json; charset=utf-8")
			_, _ = w.Write(b)
			return
		}
	}
	places, src, err := s.Sources.Search(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.Log.Warn("search_error", "q", q, "err", err)
		writeError(w, http.StatusBadGateway, "boundary sources unavailable")
		return
	}
	if places == nil {
		places = []nominatim.Place{}
		metrics.EmptyResultsTotal.Inc()
	}
	body, err := json.Marshal(places)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode")
		return
	}
	if s.Redis != nil && len(places) > 0 {
		if err := s.Redis.Set(ctx, key, body, s.CacheTTL).Err(); err != nil {
			s.Log.Debug("search_cache_set_error", "key", key, "err", err)
		}
	}
	if src == "upstream" && s.writeBack != nil {
		go s.saveUpstream(q, places)
	}
	s.Log.Debug("search_ok", "q", q, "source", src, "results", len(places))
	w.Header().Set("x-boundary-source", src)
	w.Header().Set("content-type", "application/json; charset=utf-8")
	_, _ = w.Write(append(body, '\n'))
}

func (s *server) saveUpstream(q string, places []nominatim.Place) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.writeBack.Save(ctx, q, places); err != nil {
		s.Log.Debug("search_writeback_error", "q", q, "err", err)
	}
}

// /locate：{country, city}；无法推断时返回 404
func (s *server) locate(w http.ResponseWriter, r *http.Request) {
	ip := getClientIP(r)
	loc, ok := s.Locator.Locate(ip)
	if !ok {
		writeError(w, http.StatusNotFound, "location unknown")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"country": loc.Country, "city": loc.City, "query": loc.Query()})
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	st := s.Sources.Status()
	status, code := "ok", http.StatusOK
	if len(s.Sources.Healthy()) == 0 {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "sources": st})
}

// 文档注释：PUT /boundaries/{country}[/{city}]
// 约束：x-admin-token 必须与配置一致（未配置时拒绝全部写入）；请求体为 {name, geojson, center}，center 缺失时取几何代表点。
func (s *server) putBoundary(w http.ResponseWriter, r *http.Request) {
	t := r.Header.Get("x-admin-token")
	if s.AdminToken == "" || t != s.AdminToken {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	vars := mux.Vars(r)
	var b geo.Boundary
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<20)).Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	polys, err := b.Geometry.Polygons()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if b.Center == (geo.Point{}) {
		b.Center = geo.Representative(polys)
	}
	if err := s.Store.Upsert(r.Context(), vars["country"], vars["city"], b); err != nil {
		if errors.Is(err, geo.ErrMalformed) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.Log.Error("boundary_upsert_error", "country", vars["country"], "city", vars["city"], "err", err)
		writeError(w, http.StatusInternalServerError, "store")
		return
	}
	if s.Redis != nil {
		q := vars["country"]
		if c := vars["city"]; c != "" {
			q = c + ", " + q
		}
		_ = s.Redis.Del(r.Context(), "search:"+strings.TrimPrefix(cache.Key(q), "boundary:")).Err()
		if err := cache.Invalidate(r.Context(), s.Redis, q); err != nil {
			s.Log.Debug("boundary_cache_invalidate_error", "q", q, "err", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
