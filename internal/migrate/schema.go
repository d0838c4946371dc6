package migrate

import (
	"context"
	"database/sql"

	"boundary-overlay/internal/logger"
)

// 背景：首次运行自动创建边界表与索引，供本地边界数据源与导入使用
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；国家/城市按小写唯一，city 为空串表示国家级边界
var stmts = []string{
	`CREATE TABLE IF NOT EXISTS _boundaries (
		id BIGSERIAL PRIMARY KEY,
		country TEXT NOT NULL,
		city TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		geojson JSONB NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_boundary_place ON _boundaries ((lower(country)), (lower(city)))`,
	`CREATE INDEX IF NOT EXISTS idx_boundary_updated ON _boundaries (updated_at)`,
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
