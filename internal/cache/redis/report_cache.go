package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// ReportCache keeps the latest report per symbol so a restarted process or
// an external dashboard can read it.
type ReportCache struct {
	c *Client
}

// NewReportCache creates a ReportCache backed by c.
func NewReportCache(c *Client) *ReportCache {
	return &ReportCache{c: c}
}

// SetLatest stores payload for symbol with ttl.
func (rc *ReportCache) SetLatest(ctx context.Context, symbol string, payload []byte, ttl time.Duration) error {
	if err := rc.c.rdb.Set(ctx, rc.c.Key("report", symbol), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set report %s: %w", symbol, err)
	}
	return nil
}

// GetLatest returns the cached report or domain.ErrNotFound.
func (rc *ReportCache) GetLatest(ctx context.Context, symbol string) ([]byte, error) {
	b, err := rc.c.rdb.Get(ctx, rc.c.Key("report", symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get report %s: %w", symbol, err)
	}
	return b, nil
}

var _ domain.ReportCache = (*ReportCache)(nil)
