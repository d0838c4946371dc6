package utils

import (
	"database/sql"

	_ "github.com/lib/pq"

	"boundary-overlay/internal/config"
	"boundary-overlay/internal/logger"
)

// OpenPostgres：按配置打开连接池；未配置主机时返回 (nil, nil)
func OpenPostgres(cfg config.Postgres) (*sql.DB, error) {
	if cfg.Host == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	logger.L().Debug("pg_config", "host", cfg.Host, "db", cfg.DB, "max_open", cfg.MaxOpenConns)
	return db, nil
}
