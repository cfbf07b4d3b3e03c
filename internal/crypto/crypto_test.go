package crypto

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRESTHeadersSignature(t *testing.T) {
	h := NewHMACAuth("api-key", "api-secret")
	body := []byte(`{"id":123}`)

	headers := h.RESTHeadersAt("/v2/auth/w/funding/close", body, "1700000000000000")

	mac := hmac.New(sha512.New384, []byte("api-secret"))
	mac.Write([]byte("/api/v2/auth/w/funding/close1700000000000000" + `{"id":123}`))
	want := hex.EncodeToString(mac.Sum(nil))

	require.Equal(t, "api-key", headers["bfx-apikey"])
	require.Equal(t, "1700000000000000", headers["bfx-nonce"])
	require.Equal(t, want, headers["bfx-signature"])
	require.Len(t, headers["bfx-signature"], 96)
}

func TestNonceStrictlyIncreases(t *testing.T) {
	h := NewHMACAuth("k", "s")
	prev := int64(0)
	for i := 0; i < 1000; i++ {
		n, err := strconv.ParseInt(h.Nonce(), 10, 64)
		require.NoError(t, err)
		require.Greater(t, n, prev)
		prev = n
	}
}

func TestWSAuthPayload(t *testing.T) {
	h := NewHMACAuth("k", "s")
	payload, nonce, sig := h.WSAuth()

	require.Equal(t, "AUTH"+nonce, payload)
	require.Equal(t, hmacSHA384Hex([]byte("s"), payload), sig)
}

func TestHMACAuthStringRedacts(t *testing.T) {
	h := NewHMACAuth("abcdefgh", "topsecretvalue")
	require.Equal(t, "HMACAuth{key=abcd****, secret=tops****}", h.String())
}

func TestEncryptDecryptSecret(t *testing.T) {
	blob, err := EncryptSecret("my-api-secret", "hunter2")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	require.Equal(t, "my-api-secret", got)

	_, err = DecryptSecret(blob, "wrong")
	require.ErrorContains(t, err, "decryption failed")
}

func TestLoadSecretResolutionOrder(t *testing.T) {
	got, err := LoadSecret(SecretConfig{RawSecret: "raw", EncryptedPath: "/nonexistent"})
	require.NoError(t, err)
	require.Equal(t, "raw", got)

	blob, err := EncryptSecret("from-file", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "from-file", got)

	_, err = LoadSecret(SecretConfig{})
	require.Error(t, err)
}
