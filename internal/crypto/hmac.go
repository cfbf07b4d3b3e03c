package crypto

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

// HMACAuth holds the credentials for authenticated exchange requests.
type HMACAuth struct {
	Key    string
	Secret string

	lastNonce atomic.Int64
}

// NewHMACAuth returns an HMACAuth for the given API key pair.
func NewHMACAuth(key, secret string) *HMACAuth {
	return &HMACAuth{Key: key, Secret: secret}
}

// Nonce returns a strictly increasing microsecond timestamp. The exchange
// rejects any nonce that is not larger than the previous one for a key.
func (h *HMACAuth) Nonce() string {
	for {
		now := time.Now().UnixMicro()
		last := h.lastNonce.Load()
		if now <= last {
			now = last + 1
		}
		if h.lastNonce.CompareAndSwap(last, now) {
			return strconv.FormatInt(now, 10)
		}
	}
}

// RESTHeaders returns the headers for an authenticated REST call.
// The signature is hex(HMAC-SHA384(secret, "/api" + path + nonce + body)).
//
// Returned header keys:
//   - bfx-nonce
//   - bfx-apikey
//   - bfx-signature
func (h *HMACAuth) RESTHeaders(path string, body []byte) map[string]string {
	return h.RESTHeadersAt(path, body, h.Nonce())
}

// RESTHeadersAt is like RESTHeaders but lets the caller supply the nonce
// (useful for deterministic testing).
func (h *HMACAuth) RESTHeadersAt(path string, body []byte, nonce string) map[string]string {
	message := "/api" + path + nonce + string(body)
	return map[string]string{
		"bfx-nonce":     nonce,
		"bfx-apikey":    h.Key,
		"bfx-signature": hmacSHA384Hex([]byte(h.Secret), message),
	}
}

// WSAuth returns the payload, nonce and signature for the websocket auth
// event. The payload is "AUTH" followed by the nonce.
func (h *HMACAuth) WSAuth() (payload, nonce, sig string) {
	nonce = h.Nonce()
	payload = "AUTH" + nonce
	return payload, nonce, hmacSHA384Hex([]byte(h.Secret), payload)
}

// hmacSHA384Hex computes HMAC-SHA384 of message using key and returns the
// result hex encoded.
func hmacSHA384Hex(key []byte, message string) string {
	mac := hmac.New(sha512.New384, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
