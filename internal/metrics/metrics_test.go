package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveEvent(domain.EventBorrowUpdated)
	m.ObserveEvent(domain.EventBorrowUpdated)
	m.DecodeError()
	m.Reconnect()
	m.ObserveCommand("borrow", nil, time.Millisecond)
	m.ObserveCommand("borrow", domain.ErrRateLimited, time.Millisecond)
	m.ObserveCommand("return", errors.New("boom"), time.Millisecond)
	m.ObserveReplacement("replace", domain.OutcomeReplaced)

	require.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("borrow_updated")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.DecodeErrorsTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ReconnectsTotal))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("borrow", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("borrow", "rate_limited")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("return", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ReplacementsTotal.WithLabelValues("replace", "replaced")))
}

func TestGaugesAndHandler(t *testing.T) {
	m := New()
	m.SetBorrowState(domain.Totals{NetUsing: 300, NetUnused: 50}, 0.0002, 0.0001)

	require.Equal(t, 300.0, testutil.ToFloat64(m.BorrowedAmount.WithLabelValues("using")))
	require.Equal(t, 50.0, testutil.ToFloat64(m.BorrowedAmount.WithLabelValues("unused")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "fundbot_borrow_weighted_rate 0.0002"))
}

func TestRegistriesAreIndependent(t *testing.T) {
	require.NotPanics(t, func() {
		_ = New()
		_ = New()
	})
}
