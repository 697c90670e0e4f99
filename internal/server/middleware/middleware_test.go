package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/quantumledger/internal/crypto"
)

const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func echoBody() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	})
}

func TestOwnerSignature(t *testing.T) {
	signer, err := crypto.NewSigner(testKey)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	h := OwnerSignature(time.Minute, func() time.Time { return now })(echoBody())

	body := []byte(`{"amount":5}`)
	sign := func(path string, ts int64) string {
		sig, err := signer.SignRequest(crypto.Request{Method: http.MethodPost, Path: path, Body: body, Timestamp: ts})
		require.NoError(t, err)
		return sig
	}
	send := func(path, owner, sig string, ts int64) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set(OwnerHeader, owner)
		req.Header.Set(OwnerSignatureHeader, sig)
		req.Header.Set(OwnerTimestampHeader, strconv.FormatInt(ts, 10))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	const path = "/api/markets/0/deposits"
	owner := signer.Address().Hex()

	rec := send(path, owner, sign(path, now.Unix()), now.Unix())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(body), rec.Body.String(), "body is restored for the handler")

	rec = send(path, "0x0000000000000000000000000000000000000b0b", sign(path, now.Unix()), now.Unix())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = send("/api/markets/1/deposits", owner, sign(path, now.Unix()), now.Unix())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	stale := now.Add(-2 * time.Minute).Unix()
	rec = send(path, owner, sign(path, stale), stale)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOwnerSignatureIgnoresAnonymousRequests(t *testing.T) {
	h := OwnerSignature(time.Minute, nil)(echoBody())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/markets/0", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthPublicPaths(t *testing.T) {
	h := Auth("secret", "/api/health")(echoBody())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/markets/0", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example"})(echoBody())
	req := httptest.NewRequest(http.MethodOptions, "/api/markets", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), OwnerSignatureHeader)
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCORSOrigins(t *testing.T) {
	h := CORS([]string{"https://app.example"})(echoBody())

	req := httptest.NewRequest(http.MethodOptions, "/api/markets", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Simple requests pass through without CORS grants.
	req = httptest.NewRequest(http.MethodGet, "/api/markets/0", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/markets/0", nil)
	req.Header.Set("Origin", "https://APP.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://APP.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, RequestIDHeader, rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", extractClientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:5555"
	assert.Equal(t, "198.51.100.4", extractClientIP(req))
}
