package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// unlockLua deletes the key only while it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends the TTL only while the key still holds the caller's token.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager hands out instance leases: SET NX with a TTL, refreshed and
// released only by the token holder.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	refresh  *redis.Script
}

// NewLockManager creates a LockManager backed by c.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		refresh:  redis.NewScript(refreshLua),
	}
}

// Acquire takes the lease for key. It returns domain.ErrLockHeld when
// another holder has it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	token := uuid.New().String()
	lk := lm.c.Key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}
	return &lease{lm: lm, key: lk, token: token}, nil
}

type lease struct {
	lm    *LockManager
	key   string
	token string

	once sync.Once
}

// Refresh extends the lease. It returns domain.ErrLockHeld once the key
// has expired or been taken by someone else.
func (l *lease) Refresh(ctx context.Context, ttl time.Duration) error {
	n, err := l.lm.refresh.Run(ctx, l.lm.c.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: refresh lock %s: %w", l.key, err)
	}
	if n == 0 {
		return domain.ErrLockHeld
	}
	return nil
}

// Release drops the lease. Safe to call more than once.
func (l *lease) Release() {
	l.once.Do(func() {
		// The caller's context may already be cancelled at shutdown.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.lm.unlockSc.Run(ctx, l.lm.c.rdb, []string{l.key}, l.token).Err()
	})
}

var _ domain.LockManager = (*LockManager)(nil)
