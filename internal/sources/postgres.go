package sources

import (
	"context"

	"boundary-overlay/internal/nominatim"
	"boundary-overlay/internal/store"
)

// Postgres：已入库边界；查询词按 "城市, 国家" 拆分后精确匹配
type Postgres struct {
	Store *store.Store
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Search(ctx context.Context, q string) ([]nominatim.Place, error) {
	country, city := ParseQuery(q)
	r, err := p.Store.Find(ctx, country, city)
	if err != nil || r == nil {
		return nil, err
	}
	pl := nominatim.FromBoundary(r.Boundary)
	pl.PlaceID = r.ID
	return []nominatim.Place{pl}, nil
}

func (p *Postgres) Heartbeat(ctx context.Context) error { return p.Store.Ping(ctx) }

// 文档注释：写回上游结果
// 背景：上游命中后写入边界库，之后同一地点由本地库直接返回，减少对公共服务的请求。
// 约束：仅写入可转换为边界的首个结果；写库失败只记录不影响查询。
type WriteBack struct {
	Store *store.Store
}

func (w *WriteBack) Save(ctx context.Context, q string, places []nominatim.Place) error {
	if len(places) == 0 {
		return nil
	}
	b, err := places[0].ToBoundary()
	if err != nil {
		return err
	}
	country, city := ParseQuery(q)
	return w.Store.Upsert(ctx, country, city, *b)
}
