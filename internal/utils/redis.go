// 包 utils：外部连接（PostgreSQL、Redis、TLS 证书）的打开与准备
package utils

import (
	"github.com/redis/go-redis/v9"

	"boundary-overlay/internal/config"
	"boundary-overlay/internal/logger"
)

// OpenRedis：按配置打开 Redis 客户端
// 约束：未配置主机时返回 nil，调用方据此关闭 Redis 相关功能
func OpenRedis(cfg config.Redis) *redis.Client {
	addr := cfg.Addr()
	if addr == "" {
		return nil
	}
	logger.L().Debug("redis_config", "addr", addr, "db", cfg.DB)
	return redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Pass, DB: cfg.DB})
}
