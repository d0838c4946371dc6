package sources

import (
	"context"

	"boundary-overlay/internal/nominatim"
)

// Upstream：Nominatim 或兼容服务
type Upstream struct {
	Client *nominatim.Client
}

func (u *Upstream) Name() string { return "upstream" }

func (u *Upstream) Search(ctx context.Context, q string) ([]nominatim.Place, error) {
	return u.Client.Search(ctx, q)
}

func (u *Upstream) Heartbeat(ctx context.Context) error { return u.Client.Status(ctx) }
