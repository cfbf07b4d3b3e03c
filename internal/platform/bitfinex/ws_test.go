package bitfinex

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/crypto"
	"github.com/alanyoungcy/fundingbot/internal/domain"
)

type countingStreamObserver struct {
	decodeErrors atomic.Int64
	reconnects   atomic.Int64
}

func (o *countingStreamObserver) DecodeError() { o.decodeErrors.Add(1) }
func (o *countingStreamObserver) Reconnect()   { o.reconnects.Add(1) }

func wsServer(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestStreamAuthFailureIsFatal(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		m := readEvent(t, conn)
		if m["event"] != "auth" {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"auth","status":"FAILED","chanId":0,"code":10100,"msg":"apikey: invalid"}`))
		// Keep the connection open until the client hangs up.
		_, _, _ = conn.ReadMessage()
	})

	s := NewStream(StreamConfig{URL: url, Symbol: "fUSD", Auth: crypto.NewHMACAuth("k", "s")})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Run(ctx)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, open := <-s.Events()
	require.False(t, open)
}

func TestStreamEmitsBookAndAccountEvents(t *testing.T) {
	obs := &countingStreamObserver{}
	url := wsServer(t, func(conn *websocket.Conn) {
		auth := readEvent(t, conn)
		require.Equal(t, "auth", auth["event"])
		require.Equal(t, "k", auth["apiKey"])
		require.True(t, strings.HasPrefix(auth["authPayload"].(string), "AUTH"))

		sub := readEvent(t, conn)
		require.Equal(t, "subscribe", sub["event"])
		require.Equal(t, "book", sub["channel"])
		require.Equal(t, "fUSD", sub["symbol"])

		for _, msg := range []string{
			`{"event":"info","version":2}`,
			`{"event":"auth","status":"OK","chanId":0}`,
			`{"event":"subscribed","channel":"book","chanId":9,"symbol":"fUSD"}`,
			`garbage`,
			`[9,[[0.0002,2,3,1000]]]`,
			`[0,"hb"]`,
			`[0,"fcn",[1,"fUSD",-1,1,1,100,0,"ACTIVE",null,null,null,0.0003,2]]`,
		} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		}
		_, _, _ = conn.ReadMessage()
	})

	s := NewStream(StreamConfig{URL: url, Symbol: "fUSD", Auth: crypto.NewHMACAuth("k", "s"), Observer: obs})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	var got []domain.Event
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-s.Events():
			got = append(got, ev)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}

	require.Equal(t, domain.EventOfferSnapshot, got[0].Kind)
	require.Len(t, got[0].Offers, 1)
	require.Equal(t, domain.EventBorrowUpdated, got[1].Kind)
	require.Equal(t, int64(1), got[1].Borrow.ID)
	require.Equal(t, int64(1), obs.decodeErrors.Load())
	require.True(t, s.Connected())
	require.False(t, s.LastMessageAt().IsZero())

	cancel()
	select {
	case err := <-done:
		require.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestStreamReconnectsOnServerRestart(t *testing.T) {
	var sessions atomic.Int64
	url := wsServer(t, func(conn *websocket.Conn) {
		n := sessions.Add(1)
		_ = readEvent(t, conn) // subscribe
		if n == 1 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"info","code":20051,"msg":"restart"}`))
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"subscribed","channel":"book","chanId":3,"symbol":"fUSD"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[3,[0.0001,2,1,10]]`))
		_, _, _ = conn.ReadMessage()
	})

	obs := &countingStreamObserver{}
	s := NewStream(StreamConfig{URL: url, Symbol: "fUSD", Observer: obs})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	select {
	case ev := <-s.Events():
		require.Equal(t, domain.EventOfferUpdated, ev.Kind)
	case <-time.After(10 * time.Second):
		t.Fatal("no event after reconnect")
	}
	require.GreaterOrEqual(t, sessions.Load(), int64(2))
	require.GreaterOrEqual(t, obs.reconnects.Load(), int64(1))
}
