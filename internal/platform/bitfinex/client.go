package bitfinex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundingbot/internal/crypto"
	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const (
	pathOfferSubmit  = "/v2/auth/w/funding/offer/submit"
	pathOfferCancel  = "/v2/auth/w/funding/offer/cancel"
	pathFundingClose = "/v2/auth/w/funding/close"

	// Error codes carried in ["error", CODE, MESSAGE] bodies.
	codeRateLimit = 11010
	codeAuth      = 10100

	amountPlaces = 8
)

// Client is the signed REST client for funding commands.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates a REST client. baseURL is the API root without the
// /v2 prefix, e.g. "https://api.bitfinex.com".
func NewClient(baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultRESTURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SubmitFundingOffer places a LIMIT funding offer. A negative amount asks to
// borrow. The returned order carries the exchange-assigned id.
func (c *Client) SubmitFundingOffer(ctx context.Context, symbol string, amount, rate float64, period int) (domain.Order, error) {
	if amount == 0 || rate <= 0 || period <= 0 {
		return domain.Order{}, fmt.Errorf("%w: amount=%v rate=%v period=%d", domain.ErrInvalidOffer, amount, rate, period)
	}
	req := submitOfferRequest{
		Type:   "LIMIT",
		Symbol: symbol,
		Amount: formatAmount(amount),
		Rate:   formatRate(rate),
		Period: period,
	}

	body, err := c.doSignedRequest(ctx, pathOfferSubmit, req)
	if err != nil {
		return domain.Order{}, fmt.Errorf("submit funding offer: %w", err)
	}

	payload, err := parseNotification(body)
	if err != nil {
		return domain.Order{}, fmt.Errorf("submit funding offer: %w", err)
	}
	r, err := decodeRow(payload)
	if err != nil {
		return domain.Order{}, fmt.Errorf("submit funding offer: %w", err)
	}
	return orderFromRow(r), nil
}

// CancelFundingOffer cancels one of the account's open funding offers.
func (c *Client) CancelFundingOffer(ctx context.Context, id int64) error {
	body, err := c.doSignedRequest(ctx, pathOfferCancel, idRequest{ID: id})
	if err != nil {
		return fmt.Errorf("cancel funding offer %d: %w", id, err)
	}
	if _, err := parseNotification(body); err != nil {
		return fmt.Errorf("cancel funding offer %d: %w", id, err)
	}
	return nil
}

// CloseFunding returns a taken funding contract before it expires.
func (c *Client) CloseFunding(ctx context.Context, id int64) error {
	body, err := c.doSignedRequest(ctx, pathFundingClose, idRequest{ID: id})
	if err != nil {
		return fmt.Errorf("close funding %d: %w", id, err)
	}
	if _, err := parseNotification(body); err != nil {
		return fmt.Errorf("close funding %d: %w", id, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) doSignedRequest(ctx context.Context, path string, payload any) ([]byte, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("%w: api credentials not configured", domain.ErrUnauthorized)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.auth.RESTHeaders(path, data) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx responses to domain errors. Error bodies have
// the shape ["error", CODE, MESSAGE].
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var code int
	var msg string
	var parts []any
	if err := json.Unmarshal(body, &parts); err == nil && len(parts) >= 3 {
		if v, ok := parts[1].(float64); ok {
			code = int(v)
		}
		msg, _ = parts[2].(string)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch {
	case statusCode == http.StatusTooManyRequests || code == codeRateLimit:
		return fmt.Errorf("bitfinex: %w: %s", domain.ErrRateLimited, msg)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden ||
		code == codeAuth || strings.HasPrefix(msg, "apikey"):
		return fmt.Errorf("bitfinex: %w: %s", domain.ErrUnauthorized, msg)
	case statusCode == http.StatusNotFound || strings.Contains(strings.ToLower(msg), "not found"):
		return fmt.Errorf("bitfinex: %w: %s", domain.ErrNotFound, msg)
	default:
		return fmt.Errorf("bitfinex: HTTP %d (code %d): %w: %s", statusCode, code, domain.ErrRejected, msg)
	}
}

// parseNotification unwraps [MTS, TYPE, MESSAGE_ID, null, DATA, CODE,
// STATUS, TEXT] and returns DATA when STATUS is SUCCESS.
func parseNotification(body []byte) (json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return nil, fmt.Errorf("%w: notification: %v", domain.ErrDecode, err)
	}
	if len(parts) < 8 {
		return nil, fmt.Errorf("%w: notification has %d fields", domain.ErrDecode, len(parts))
	}

	var status, text string
	_ = json.Unmarshal(parts[6], &status)
	_ = json.Unmarshal(parts[7], &text)
	if status != "SUCCESS" {
		if strings.Contains(strings.ToLower(text), "not found") {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, text)
		}
		return nil, fmt.Errorf("%w: %s: %s", domain.ErrRejected, status, text)
	}
	return parts[4], nil
}

func formatAmount(v float64) string {
	return decimal.NewFromFloat(v).Round(amountPlaces).String()
}

func formatRate(v float64) string {
	return decimal.NewFromFloat(v).String()
}
