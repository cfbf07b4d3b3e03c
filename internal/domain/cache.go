package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// Lease is a held distributed lock.
type Lease interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// ReportCache keeps the most recent report per symbol.
type ReportCache interface {
	SetLatest(ctx context.Context, symbol string, payload []byte, ttl time.Duration) error
	GetLatest(ctx context.Context, symbol string) ([]byte, error)
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
