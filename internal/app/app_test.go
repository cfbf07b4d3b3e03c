package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/config"
	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/notify"
)

type fakeLease struct {
	mu       sync.Mutex
	errs     []error
	refresh  int
	released bool
}

func (l *fakeLease) Refresh(context.Context, time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refresh++
	if len(l.errs) == 0 {
		return nil
	}
	err := l.errs[0]
	l.errs = l.errs[1:]
	return err
}

func (l *fakeLease) Release() { l.released = true }

type fakeLocks struct {
	lease *fakeLease
	err   error
	keys  []string
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (domain.Lease, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}
	return f.lease, nil
}

type memSender struct {
	mu     sync.Mutex
	titles []string
}

func (m *memSender) Send(_ context.Context, title, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles = append(m.titles, title)
	return nil
}
func (m *memSender) Name() string { return "mem" }

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Defaults()
	cfg.Redis.LeaseTTL.Duration = 30 * time.Millisecond
	return New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAcquireLease(t *testing.T) {
	a := testApp(t)
	lease := &fakeLease{}
	locks := &fakeLocks{lease: lease}

	got, err := a.acquireLease(context.Background(), &Dependencies{LockManager: locks})
	require.NoError(t, err)
	require.Equal(t, lease, got)
	require.Equal(t, []string{"instance:fUSD"}, locks.keys)

	a.Close()
	require.True(t, lease.released)
}

func TestAcquireLeaseHeldElsewhere(t *testing.T) {
	a := testApp(t)
	_, err := a.acquireLease(context.Background(), &Dependencies{LockManager: &fakeLocks{err: domain.ErrLockHeld}})
	require.ErrorIs(t, err, domain.ErrLockHeld)
	require.Contains(t, err.Error(), "another instance manages fUSD")
}

func TestAcquireLeaseWithoutRedis(t *testing.T) {
	a := testApp(t)
	got, err := a.acquireLease(context.Background(), &Dependencies{})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestKeepLeaseStopsWhenTaken(t *testing.T) {
	a := testApp(t)
	sender := &memSender{}
	n := notify.NewNotifier([]notify.Sender{sender}, []string{notify.EventLeaseLost}, a.logger)
	lease := &fakeLease{errs: []error{nil, domain.ErrLockHeld}}

	err := a.keepLease(context.Background(), lease, n)
	require.ErrorIs(t, err, ErrLeaseLost)
	require.Equal(t, 2, lease.refresh)
	require.Equal(t, []string{"Instance lease lost"}, sender.titles)
}

func TestKeepLeaseRetriesTransientErrors(t *testing.T) {
	a := testApp(t)
	a.cfg.Redis.LeaseTTL.Duration = 300 * time.Millisecond
	lease := &fakeLease{errs: []error{errors.New("timeout"), nil}}

	ctx, cancel := context.WithTimeout(context.Background(), 350*time.Millisecond)
	defer cancel()
	err := a.keepLease(ctx, lease, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	lease.mu.Lock()
	defer lease.mu.Unlock()
	require.GreaterOrEqual(t, lease.refresh, 2)
}

func TestStrategyConfigFromFunding(t *testing.T) {
	a := testApp(t)
	a.cfg.Funding.Strategy = "target"
	a.cfg.Funding.TargetRates = []float64{20, 10}

	sc := a.strategyConfig()
	require.Equal(t, "target", sc.Name)
	require.Equal(t, 2, sc.Period)
	require.Equal(t, []float64{20, 10}, sc.TargetRates)
	require.Equal(t, 30*time.Second, sc.Cooldown)
	require.Equal(t, time.Minute, sc.TickInterval)
}

func TestUnsupportedMode(t *testing.T) {
	a := testApp(t)
	a.cfg.Mode = "backtest"
	a.cfg.Exchange.ApiSecret = "secret"

	err := a.Run(context.Background())
	require.ErrorContains(t, err, `unsupported mode "backtest"`)
	a.Close()
}
