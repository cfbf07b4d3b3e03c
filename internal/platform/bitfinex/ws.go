package bitfinex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/fundingbot/internal/crypto"
	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const (
	// wsWriteWait is the time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// wsPongWait is the time allowed to read the next message. The server
	// sends heartbeats every 15s per channel.
	wsPongWait = 30 * time.Second

	// wsPingPeriod sends pings at this interval. Must be less than pongWait.
	wsPingPeriod = (wsPongWait * 9) / 10

	// wsMaxReconnectInterval caps the exponential backoff.
	wsMaxReconnectInterval = 60 * time.Second

	// wsEventBuffer is the capacity of the outbound event channel.
	wsEventBuffer = 1024
)

var errServerRestart = errors.New("bitfinex/ws: server requested reconnect")

// StreamObserver receives connection level signals. Implementations must
// be safe for concurrent use.
type StreamObserver interface {
	DecodeError()
	Reconnect()
}

type nopObserver struct{}

func (nopObserver) DecodeError() {}
func (nopObserver) Reconnect()   {}

// StreamConfig configures a Stream.
type StreamConfig struct {
	URL    string
	Symbol string

	// Auth signs the account subscription. Without it only the public
	// book is streamed.
	Auth *crypto.HMACAuth

	Observer StreamObserver
	Logger   *slog.Logger
}

// Stream maintains the websocket connection and publishes normalized
// events on a single channel in arrival order.
type Stream struct {
	url      string
	symbol   string
	auth     *crypto.HMACAuth
	observer StreamObserver
	logger   *slog.Logger

	events  chan domain.Event
	decoder *Decoder

	mu        sync.Mutex
	connected bool
	lastMsg   time.Time
}

// NewStream creates a Stream. Call Run to connect.
func NewStream(cfg StreamConfig) *Stream {
	if cfg.URL == "" {
		cfg.URL = DefaultWSURL
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Stream{
		url:      cfg.URL,
		symbol:   cfg.Symbol,
		auth:     cfg.Auth,
		observer: cfg.Observer,
		logger:   cfg.Logger.With(slog.String("component", "bitfinex_ws")),
		events:   make(chan domain.Event, wsEventBuffer),
		decoder:  NewDecoder(),
	}
}

// Events returns the channel events are published on. It is closed when
// Run returns.
func (s *Stream) Events() <-chan domain.Event {
	return s.events
}

// Connected reports whether a session is currently open.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// LastMessageAt is the arrival time of the most recent frame.
func (s *Stream) LastMessageAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMsg
}

// Run connects and keeps the stream alive until ctx is cancelled or the
// exchange rejects the credentials. Transport failures are retried with
// exponential backoff and never returned.
func (s *Stream) Run(ctx context.Context) error {
	defer close(s.events)

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = wsMaxReconnectInterval

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.session(ctx, backoffCfg)
		if errors.Is(err, domain.ErrUnauthorized) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.observer.Reconnect()
		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = wsMaxReconnectInterval
		}
		s.logger.Warn("stream disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", sleep),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// session runs one connection from dial to disconnect.
func (s *Stream) session(ctx context.Context, backoffCfg *backoff.ExponentialBackOff) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("bitfinex/ws: connect: %w", err)
	}
	defer conn.Close()

	s.decoder.Reset()
	s.setConnected(true)
	defer s.setConnected(false)

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	if s.auth != nil {
		payload, nonce, sig := s.auth.WSAuth()
		if err := s.writeJSON(conn, authRequest{
			Event:       "auth",
			APIKey:      s.auth.Key,
			AuthSig:     sig,
			AuthNonce:   nonce,
			AuthPayload: payload,
			Filter:      authFilter,
		}); err != nil {
			return fmt.Errorf("bitfinex/ws: auth: %w", err)
		}
	}
	if err := s.writeJSON(conn, subscribeRequest{
		Event:   "subscribe",
		Channel: "book",
		Symbol:  s.symbol,
		Prec:    bookPrecision,
		Len:     bookLength,
	}); err != nil {
		return fmt.Errorf("bitfinex/ws: subscribe: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		// Unblocks ReadMessage on shutdown.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteWait))
		_ = conn.Close()
	}()
	go s.pingLoop(connCtx, conn)

	s.logger.Info("stream connected", slog.String("url", s.url), slog.String("symbol", s.symbol))
	backoffCfg.Reset()

	return s.readLoop(connCtx, conn)
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err)
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		s.touch()

		frame, err := s.decoder.Decode(raw)
		if err != nil {
			s.observer.DecodeError()
			s.logger.Warn("dropping malformed message",
				slog.String("error", err.Error()),
				slog.Int("bytes", len(raw)),
			)
			continue
		}

		if frame.Control != nil {
			if err := s.handleControl(frame.Control); err != nil {
				return err
			}
			continue
		}

		for _, ev := range frame.Events {
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *Stream) handleControl(ev *controlEvent) error {
	switch ev.Event {
	case "auth":
		if ev.Status != "OK" {
			s.logger.Error("authentication rejected", slog.String("msg", ev.Msg), slog.Int("code", ev.Code))
			return fmt.Errorf("%w: %s", domain.ErrUnauthorized, ev.Msg)
		}
		s.logger.Info("stream authenticated")
	case "subscribed":
		if ev.Channel == "book" {
			s.decoder.BindBook(ev.ChanID)
			s.logger.Debug("book subscribed", slog.Int64("chan_id", ev.ChanID), slog.String("symbol", ev.Symbol))
		}
	case "info":
		if ev.Code == infoReconnect {
			return errServerRestart
		}
		if ev.Version != 0 {
			s.logger.Debug("server info", slog.Int("version", ev.Version))
		}
	case "error":
		s.logger.Warn("server error", slog.String("msg", ev.Msg), slog.Int("code", ev.Code))
	}
	return nil
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				s.logger.Debug("ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (s *Stream) writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Stream) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *Stream) touch() {
	s.mu.Lock()
	s.lastMsg = time.Now()
	s.mu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
