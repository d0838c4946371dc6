// 包 config：集中读取服务与命令行工具的运行参数
// 背景：沿用 .env + 环境变量的配置方式，另支持一个可选 TOML 文件；优先级为 环境变量 > TOML > 默认值。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"

	"boundary-overlay/internal/overlay"
)

const (
	DefaultServiceURL = "https://nominatim.openstreetmap.org/search"
	DefaultUserAgent  = "boundary-overlay/1.0"
	DefaultAddr       = ":8080"
	DefaultAPIBase    = "/api"
)

// Redis：缓存连接参数；Host 为空表示禁用
type Redis struct {
	Host string `toml:"host"`
	Port string `toml:"port"`
	Pass string `toml:"pass"`
	DB   int    `toml:"db"`
}

// Addr：host:port
func (r Redis) Addr() string {
	if r.Host == "" {
		return ""
	}
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

// Postgres：边界库连接参数；Host 为空表示禁用
type Postgres struct {
	Host         string `toml:"host"`
	Port         string `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DB           string `toml:"db"`
	SSLMode      string `toml:"sslmode"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// DSN：lib/pq 连接串
func (p Postgres) DSN() string {
	dsn := "postgres://" + p.User
	if p.Password != "" {
		dsn += ":" + p.Password
	}
	return dsn + "@" + p.Host + ":" + p.Port + "/" + p.DB + "?sslmode=" + p.SSLMode
}

// 文档注释：运行配置
// 约束：时长字段在 TOML 中以毫秒/秒整数书写，字段名带单位后缀；环境变量同名大写。
type Config struct {
	ServiceURL string
	UserAgent  string
	Timeout    time.Duration

	ReloadDebounce    time.Duration
	StylePollInterval time.Duration
	StyleWaitTimeout  time.Duration

	CacheSize int
	CacheTTL  time.Duration

	UpstreamQPS       float64
	HeartbeatInterval time.Duration

	Redis    Redis
	Postgres Postgres

	GeoIPPath          string
	SnapshotDir        string
	SnapshotReloadHour int

	Addr             string
	APIBase          string
	RateLimitEnabled bool
	RateLimitQPS     int
	TLSEnable        bool
	TLSCertPath      string
	TLSKeyPath       string
	AdminToken       string
	AllowList        []string
	RealIPHeader     string
}

// file：TOML 文件结构
type file struct {
	Boundary struct {
		ServiceURL  string  `toml:"service_url"`
		UserAgent   string  `toml:"user_agent"`
		TimeoutMS   int     `toml:"timeout_ms"`
		CacheSize   int     `toml:"cache_size"`
		CacheTTLS   int     `toml:"cache_ttl_s"`
		UpstreamQPS float64 `toml:"upstream_qps"`
	} `toml:"boundary"`
	Style struct {
		ReloadDebounceMS int `toml:"reload_debounce_ms"`
		PollIntervalMS   int `toml:"poll_interval_ms"`
		WaitTimeoutMS    int `toml:"wait_timeout_ms"`
	} `toml:"style"`
	Sources struct {
		HeartbeatS  int    `toml:"heartbeat_s"`
		SnapshotDir string `toml:"snapshot_dir"`
		ReloadHour  *int   `toml:"reload_hour"`
		GeoIPPath   string `toml:"geoip_path"`
	} `toml:"sources"`
	Server struct {
		Addr         string   `toml:"addr"`
		APIBase      string   `toml:"api_base"`
		RateLimitQPS int      `toml:"rate_limit_qps"`
		Allow        []string `toml:"allow"`
		RealIPHeader string   `toml:"real_ip_header"`
	} `toml:"server"`
	Redis    Redis    `toml:"redis"`
	Postgres Postgres `toml:"postgres"`
}

// Defaults：未配置任何来源时的取值
func Defaults() Config {
	return Config{
		ServiceURL:         DefaultServiceURL,
		UserAgent:          DefaultUserAgent,
		Timeout:            5 * time.Second,
		ReloadDebounce:     overlay.DefaultReloadDebounce,
		StylePollInterval:  overlay.DefaultStylePollInterval,
		StyleWaitTimeout:   overlay.DefaultStyleWaitTimeout,
		CacheSize:          1024,
		CacheTTL:           24 * time.Hour,
		UpstreamQPS:        1,
		HeartbeatInterval:  10 * time.Second,
		SnapshotReloadHour: 3,
		Postgres: Postgres{
			Port:         "5432",
			User:         "postgres",
			DB:           "boundaries",
			SSLMode:      "disable",
			MaxOpenConns: 20,
			MaxIdleConns: 10,
		},
		Addr:         DefaultAddr,
		APIBase:      DefaultAPIBase,
		RateLimitQPS: 200,
		TLSCertPath:  filepath.Join("data", "certs", "server.crt"),
		TLSKeyPath:   filepath.Join("data", "certs", "server.key"),
	}
}

// LoadDotEnv：读取工作目录与 data/env 下的 .env；文件缺失不报错，已存在的环境变量不被覆盖
func LoadDotEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
}

// 文档注释：加载配置
// 背景：path 为空时取 OVERLAY_CONFIG；TOML 文件缺失时仅使用默认值与环境变量。
// 约束：TOML 语法错误或环境变量取值非法时返回错误，不静默回退。
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		path = os.Getenv("OVERLAY_CONFIG")
	}
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			var f file
			if err := toml.Unmarshal(b, &f); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
			cfg.applyFile(f)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(f file) {
	setStr(&c.ServiceURL, f.Boundary.ServiceURL)
	setStr(&c.UserAgent, f.Boundary.UserAgent)
	setMillis(&c.Timeout, f.Boundary.TimeoutMS)
	if f.Boundary.CacheSize > 0 {
		c.CacheSize = f.Boundary.CacheSize
	}
	if f.Boundary.CacheTTLS > 0 {
		c.CacheTTL = time.Duration(f.Boundary.CacheTTLS) * time.Second
	}
	if f.Boundary.UpstreamQPS != 0 {
		c.UpstreamQPS = f.Boundary.UpstreamQPS
	}
	setMillis(&c.ReloadDebounce, f.Style.ReloadDebounceMS)
	setMillis(&c.StylePollInterval, f.Style.PollIntervalMS)
	setMillis(&c.StyleWaitTimeout, f.Style.WaitTimeoutMS)
	if f.Sources.HeartbeatS > 0 {
		c.HeartbeatInterval = time.Duration(f.Sources.HeartbeatS) * time.Second
	}
	setStr(&c.SnapshotDir, f.Sources.SnapshotDir)
	if f.Sources.ReloadHour != nil {
		c.SnapshotReloadHour = *f.Sources.ReloadHour
	}
	setStr(&c.GeoIPPath, f.Sources.GeoIPPath)
	setStr(&c.Addr, f.Server.Addr)
	setStr(&c.APIBase, f.Server.APIBase)
	if f.Server.RateLimitQPS > 0 {
		c.RateLimitEnabled = true
		c.RateLimitQPS = f.Server.RateLimitQPS
	}
	if len(f.Server.Allow) > 0 {
		c.AllowList = f.Server.Allow
	}
	setStr(&c.RealIPHeader, f.Server.RealIPHeader)
	setStr(&c.Redis.Host, f.Redis.Host)
	setStr(&c.Redis.Port, f.Redis.Port)
	setStr(&c.Redis.Pass, f.Redis.Pass)
	if f.Redis.DB > 0 {
		c.Redis.DB = f.Redis.DB
	}
	setStr(&c.Postgres.Host, f.Postgres.Host)
	setStr(&c.Postgres.Port, f.Postgres.Port)
	setStr(&c.Postgres.User, f.Postgres.User)
	setStr(&c.Postgres.Password, f.Postgres.Password)
	setStr(&c.Postgres.DB, f.Postgres.DB)
	setStr(&c.Postgres.SSLMode, f.Postgres.SSLMode)
	if f.Postgres.MaxOpenConns > 0 {
		c.Postgres.MaxOpenConns = f.Postgres.MaxOpenConns
	}
	if f.Postgres.MaxIdleConns > 0 {
		c.Postgres.MaxIdleConns = f.Postgres.MaxIdleConns
	}
}

func (c *Config) applyEnv() error {
	var errs []error
	envStr(&c.ServiceURL, "BOUNDARY_SERVICE_URL")
	envStr(&c.UserAgent, "BOUNDARY_USER_AGENT")
	errs = append(errs,
		envMillis(&c.Timeout, "BOUNDARY_TIMEOUT_MS"),
		envMillis(&c.ReloadDebounce, "STYLE_RELOAD_DEBOUNCE_MS"),
		envMillis(&c.StylePollInterval, "STYLE_POLL_INTERVAL_MS"),
		envMillis(&c.StyleWaitTimeout, "STYLE_WAIT_TIMEOUT_MS"),
		envInt(&c.CacheSize, "BOUNDARY_CACHE_SIZE"),
		envSeconds(&c.CacheTTL, "BOUNDARY_CACHE_TTL_S"),
		envFloat(&c.UpstreamQPS, "UPSTREAM_QPS"),
		envSeconds(&c.HeartbeatInterval, "SOURCE_HEARTBEAT_S"),
		envInt(&c.SnapshotReloadHour, "SNAPSHOT_RELOAD_HOUR"),
		envInt(&c.Redis.DB, "REDIS_DB"),
		envInt(&c.Postgres.MaxOpenConns, "PG_MAX_OPEN_CONNS"),
		envInt(&c.Postgres.MaxIdleConns, "PG_MAX_IDLE_CONNS"),
		envInt(&c.RateLimitQPS, "RATE_LIMIT_QPS"),
		envBool(&c.RateLimitEnabled, "RATE_LIMIT_ENABLED"),
		envBool(&c.TLSEnable, "TLS_ENABLE"),
	)
	envStr(&c.Redis.Host, "REDIS_HOST")
	envStr(&c.Redis.Port, "REDIS_PORT")
	envStr(&c.Redis.Pass, "REDIS_PASS")
	envStr(&c.Postgres.Host, "PG_HOST")
	envStr(&c.Postgres.Port, "PG_PORT")
	envStr(&c.Postgres.User, "PG_USER")
	envStr(&c.Postgres.Password, "PG_PASSWORD")
	envStr(&c.Postgres.DB, "PG_DB")
	envStr(&c.Postgres.SSLMode, "PG_SSLMODE")
	envStr(&c.GeoIPPath, "GEOIP_PATH")
	envStr(&c.SnapshotDir, "SNAPSHOT_DIR")
	envStr(&c.Addr, "ADDR")
	envStr(&c.APIBase, "API_BASE")
	envStr(&c.TLSCertPath, "TLS_CERT_PATH")
	envStr(&c.TLSKeyPath, "TLS_KEY_PATH")
	envStr(&c.AdminToken, "ADMIN_TOKEN")
	envStr(&c.RealIPHeader, "REAL_IP_HEADER")
	if v := strings.TrimSpace(os.Getenv("ALLOW_LIST")); v != "" {
		c.AllowList = strings.Split(v, ",")
	}
	return errors.Join(errs...)
}

// OverlayOptions：覆盖层管理器的时序参数
func (c Config) OverlayOptions() overlay.Options {
	return overlay.Options{
		ReloadDebounce:    c.ReloadDebounce,
		StylePollInterval: c.StylePollInterval,
		StyleWaitTimeout:  c.StyleWaitTimeout,
	}
}

func setStr(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setMillis(dst *time.Duration, ms int) {
	if ms > 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

func envStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		setStr(dst, v)
	}
}

func envInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func envFloat(dst *float64, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: invalid number %q", key, v)
	}
	*dst = f
	return nil
}

func envBool(dst *bool, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: invalid bool %q", key, v)
	}
	*dst = b
	return nil
}

func envMillis(dst *time.Duration, key string) error {
	n := -1
	if err := envInt(&n, key); err != nil {
		return err
	}
	setMillis(dst, n)
	return nil
}

func envSeconds(dst *time.Duration, key string) error {
	n := -1
	if err := envInt(&n, key); err != nil {
		return err
	}
	if n > 0 {
		*dst = time.Duration(n) * time.Second
	}
	return nil
}
