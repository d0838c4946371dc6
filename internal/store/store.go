// 包 store：PostgreSQL 边界库的数据访问层
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"boundary-overlay/internal/geo"
	"boundary-overlay/internal/logger"
)

// Store：持有连接池
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping：连通性检查，供数据源心跳使用
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Record：一条已入库的边界
type Record struct {
	ID        int64
	Country   string
	City      string
	Boundary  geo.Boundary
	UpdatedAt time.Time
}

// 文档注释：按国家与城市查找边界
// 约束：大小写与首尾空白不敏感；city 为空查国家级边界；未命中返回 (nil, nil)。
func (s *Store) Find(ctx context.Context, country, city string) (*Record, error) {
	country, city = strings.TrimSpace(country), strings.TrimSpace(city)
	if country == "" {
		return nil, nil
	}
	logger.L().Debug("db_boundary_find", "country", country, "city", city)
	row := s.db.QueryRowContext(ctx,
		`SELECT id, country, city, name, geojson, lat, lon, updated_at FROM _boundaries
		 WHERE lower(country)=lower($1) AND lower(city)=lower($2) LIMIT 1`, country, city)
	var r Record
	var raw []byte
	err := row.Scan(&r.ID, &r.Country, &r.City, &r.Boundary.Name, &raw, &r.Boundary.Center.Lat, &r.Boundary.Center.Lon, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &r.Boundary.Geometry); err != nil {
		return nil, fmt.Errorf("%w: row %d: %v", geo.ErrMalformed, r.ID, err)
	}
	return &r, nil
}

// 文档注释：写入或更新边界
// 约束：几何先校验再写库；冲突时覆盖几何、名称与代表点。
func (s *Store) Upsert(ctx context.Context, country, city string, b geo.Boundary) error {
	country, city = strings.TrimSpace(country), strings.TrimSpace(city)
	if country == "" {
		return errors.New("upsert boundary: empty country")
	}
	if err := b.Geometry.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(b.Geometry)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO _boundaries(country, city, name, geojson, lat, lon, updated_at)
		 VALUES($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT ((lower(country)), (lower(city))) DO UPDATE
		 SET name=EXCLUDED.name, geojson=EXCLUDED.geojson, lat=EXCLUDED.lat, lon=EXCLUDED.lon, updated_at=now()`,
		country, city, b.Name, string(raw), b.Center.Lat, b.Center.Lon)
	if err != nil {
		return err
	}
	logger.L().Debug("db_boundary_upsert", "country", country, "city", city)
	return nil
}

// Count：已入库边界数
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM _boundaries`).Scan(&n)
	return n, err
}
