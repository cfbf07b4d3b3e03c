package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

type memSender struct {
	mu    sync.Mutex
	name  string
	err   error
	sends []string
}

func (m *memSender) Send(_ context.Context, title, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, title+"|"+message)
	return m.err
}

func (m *memSender) Name() string { return m.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &memSender{name: "mem"}
	n := NewNotifier([]Sender{s}, []string{EventAuthFailed, " "}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventReport, "r", "ignored"))
	require.NoError(t, n.Notify(context.Background(), EventAuthFailed, "auth", "rejected"))
	require.Equal(t, []string{"auth|rejected"}, s.sends)
	require.False(t, n.Enabled(EventReport))
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	s := &memSender{name: "mem"}
	n := NewNotifier([]Sender{s}, nil, discardLogger())
	require.NoError(t, n.Notify(context.Background(), EventReport, "r", "m"))
	require.Len(t, s.sends, 1)
}

func TestNotifierNilAndNoSenders(t *testing.T) {
	var n *Notifier
	require.NoError(t, n.Notify(context.Background(), EventReport, "t", "m"))
	require.False(t, NewNotifier(nil, nil, discardLogger()).Enabled(EventReport))
}

func TestNotifierJoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	bad := &memSender{name: "bad", err: boom}
	good := &memSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), EventReport, "t", "m")
	require.ErrorIs(t, err, boom)
	require.Len(t, good.sends, 1, "a failing sender does not block the others")
}

func TestNotifyReplacementRoutesByOutcome(t *testing.T) {
	s := &memSender{name: "mem"}
	n := NewNotifier([]Sender{s}, []string{EventReplacementFailed}, discardLogger())

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := domain.Replacement{
		Strategy:     "replace",
		Symbol:       "fUSD",
		TargetAmount: 500,
		TargetRate:   0.0002,
		Outcome:      domain.OutcomeReplaced,
		StartedAt:    start,
		CompletedAt:  start.Add(3 * time.Second),
	}
	require.NoError(t, n.NotifyReplacement(context.Background(), r))
	require.Empty(t, s.sends)

	r.Outcome = domain.OutcomeFailed
	require.NoError(t, n.NotifyReplacement(context.Background(), r))
	require.Len(t, s.sends, 1)
	require.True(t, strings.HasPrefix(s.sends[0], "fUSD replace: failed|"))
	require.Contains(t, s.sends[0], "7.3000% APR")
	require.Contains(t, s.sends[0], "took 3s")
}

func TestTelegramAndDiscordSenders(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var m map[string]string
		_ = json.Unmarshal(raw, &m)
		mu.Lock()
		bodies[r.URL.Path] = m
		mu.Unlock()
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("bad"))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tg := NewTelegramSender("TOKEN", "42").WithAPIBase(srv.URL + "/")
	require.NoError(t, tg.Send(context.Background(), "Title", "body"))
	require.Equal(t, "42", bodies["/botTOKEN/sendMessage"]["chat_id"])
	require.Equal(t, "*Title*\nbody", bodies["/botTOKEN/sendMessage"]["text"])

	dc := NewDiscordSender(srv.URL + "/hook")
	require.NoError(t, dc.Send(context.Background(), "Title", "body"))
	require.Equal(t, "**Title**\nbody", bodies["/hook"]["content"])

	err := NewDiscordSender(srv.URL+"/fail").Send(context.Background(), "t", "m")
	require.ErrorContains(t, err, "discord: unexpected status 400")
}
