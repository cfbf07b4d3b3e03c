// Package bitfinex implements the exchange gateway for the Bitfinex v2
// funding API: an authenticated websocket stream that normalizes account
// and book messages into domain events, and a signed REST client for
// funding commands.
package bitfinex

const (
	// DefaultWSURL is the public v2 websocket endpoint. Authenticated
	// account messages share the same connection on channel 0.
	DefaultWSURL = "wss://api.bitfinex.com/ws/2"

	// DefaultRESTURL is the authenticated v2 REST root.
	DefaultRESTURL = "https://api.bitfinex.com"

	accountChannel = 0

	bookPrecision = "P0"
	bookLength    = "100"

	// infoReconnect asks clients to reconnect because the server is
	// about to restart.
	infoReconnect = 20051
)

// authFilter limits account messages to funding, wallet and position data.
var authFilter = []string{"funding", "wallet", "position"}

type authRequest struct {
	Event       string   `json:"event"`
	APIKey      string   `json:"apiKey"`
	AuthSig     string   `json:"authSig"`
	AuthNonce   string   `json:"authNonce"`
	AuthPayload string   `json:"authPayload"`
	Filter      []string `json:"filter,omitempty"`
}

type subscribeRequest struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
	Prec    string `json:"prec"`
	Len     string `json:"len"`
}

// controlEvent is any JSON object frame: info, auth, subscribed, error.
type controlEvent struct {
	Event   string `json:"event"`
	Status  string `json:"status"`
	Channel string `json:"channel"`
	ChanID  int64  `json:"chanId"`
	Symbol  string `json:"symbol"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Version int    `json:"version"`
}

type submitOfferRequest struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
	Rate   string `json:"rate"`
	Period int    `json:"period"`
}

type idRequest struct {
	ID int64 `json:"id"`
}
