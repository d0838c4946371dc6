// 包 geoip：按访问者 IP 推断初始选中地点
package geoip

import (
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"

	"boundary-overlay/internal/logger"
	"boundary-overlay/internal/overlay"
)

type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
	Close() error
}

// 文档注释：IP 定位器
// 背景：读取 GeoLite2-City mmdb；页面首次打开时据此给出默认地点，用户选择后不再使用。
// 约束：只取英文名称以匹配边界服务的查询词；私网与回环地址一律视为未知。
type Locator struct {
	r cityReader
}

func Open(path string) (*Locator, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	logger.L().Info("geoip_open_ok", "path", path)
	return &Locator{r: r}, nil
}

func (l *Locator) Close() error {
	if l == nil || l.r == nil {
		return nil
	}
	return l.r.Close()
}

// Locate：ip 可带端口；未知时返回 false
func (l *Locator) Locate(ip string) (overlay.Location, bool) {
	if l == nil || l.r == nil {
		return overlay.Location{}, false
	}
	parsed := parseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() {
		return overlay.Location{}, false
	}
	rec, err := l.r.City(parsed)
	if err != nil {
		logger.L().Debug("geoip_lookup_error", "ip", ip, "err", err)
		return overlay.Location{}, false
	}
	loc := overlay.Location{Country: rec.Country.Names["en"], City: rec.City.Names["en"]}
	if loc.Empty() {
		return overlay.Location{}, false
	}
	return loc, true
}

func parseIP(s string) net.IP {
	s = strings.TrimSpace(s)
	if ip := net.ParseIP(s); ip != nil {
		return ip
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return net.ParseIP(host)
	}
	return nil
}
