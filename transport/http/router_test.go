package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/vaultgate/adapters/events"
	"github.com/layer-3/vaultgate/adapters/store"
	"github.com/layer-3/vaultgate/adapters/tokenizer"
	"github.com/layer-3/vaultgate/adapters/users"
	"github.com/layer-3/vaultgate/internal/eth"
	"github.com/layer-3/vaultgate/service"
)

const cookieName = "vaultgate_session"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := users.OpenSQLite("file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo, err := users.NewBunUserRepository(context.Background(), db)
	require.NoError(t, err)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	svc := service.NewAuthService(
		service.Config{
			Domain:    "wallet.example.com",
			URI:       "https://wallet.example.com",
			Statement: "Sign in to the wallet dashboard.",
		},
		tokenizer.NewJWTTokenizer(key, "vaultgate"),
		store.NewMemoryStore(),
		repo,
		events.NopPublisher{},
		zerolog.Nop(),
	)

	return SetupRouter(svc, CookieOptions{Name: cookieName}, zerolog.Nop())
}

// browser keeps cookies between requests the way a browser would
type browser struct {
	t       *testing.T
	router  *gin.Engine
	cookies map[string]*http.Cookie
}

func newBrowser(t *testing.T, router *gin.Engine) *browser {
	return &browser{t: t, router: router, cookies: map[string]*http.Cookie{}}
}

func (b *browser) do(method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	b.t.Helper()

	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(b.t, err)
		r = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	for _, c := range b.cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		b.cookies[c.Name] = c
	}
	return w
}

func (b *browser) xsrf() map[string]string {
	c, ok := b.cookies[XSRFCookie]
	require.True(b.t, ok)
	return map[string]string{HeaderXSRF: c.Value}
}

type nonceResponse struct {
	Nonce     string `json:"nonce"`
	CSRFToken string `json:"csrf_token"`
	ExpiresAt string `json:"expires_at"`
	Domain    string `json:"domain"`
	URI       string `json:"uri"`
	Version   string `json:"version"`
	ChainID   uint64 `json:"chain_id"`
	Message   string `json:"message"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

type wallet struct {
	key     *ecdsa.PrivateKey
	address string
}

func newWallet(t *testing.T) wallet {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

func (w wallet) sign(t *testing.T, message string) string {
	sig, err := eth.SignText(w.key, []byte(message))
	require.NoError(t, err)
	return hexutil.Encode(sig)
}

func (b *browser) signIn(w wallet) *httptest.ResponseRecorder {
	b.t.Helper()
	res := b.do(http.MethodGet, "/auth/nonce?address="+w.address, nil, nil)
	require.Equal(b.t, http.StatusOK, res.Code)
	nonce := decode[nonceResponse](b.t, res)

	return b.do(http.MethodPost, "/auth/login", gin.H{
		"message":   nonce.Message,
		"signature": w.sign(b.t, nonce.Message),
		"address":   w.address,
	}, b.xsrf())
}

func TestHealth(t *testing.T) {
	w := newBrowser(t, newTestRouter(t)).do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestNonce(t *testing.T) {
	b := newBrowser(t, newTestRouter(t))
	wal := newWallet(t)

	w := b.do(http.MethodGet, "/auth/nonce?address="+strings.ToLower(wal.address)+"&chain_id=10", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	res := decode[nonceResponse](t, w)
	assert.Regexp(t, `^[a-f0-9]{32}$`, res.Nonce)
	assert.Equal(t, "wallet.example.com", res.Domain)
	assert.Equal(t, "https://wallet.example.com", res.URI)
	assert.Equal(t, "1", res.Version)
	assert.Equal(t, uint64(10), res.ChainID)
	assert.Contains(t, res.Message, "\n"+wal.address+"\n")
	assert.Contains(t, res.Message, "Nonce: "+res.Nonce)

	session := b.cookies[cookieName]
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	xsrf := b.cookies[XSRFCookie]
	require.NotNil(t, xsrf)
	assert.False(t, xsrf.HttpOnly)
	assert.Equal(t, res.CSRFToken, xsrf.Value)

	// the same session is reused while its cookie is valid
	again := decode[nonceResponse](t, b.do(http.MethodGet, "/auth/nonce", nil, nil))
	assert.Equal(t, res.CSRFToken, again.CSRFToken)
	assert.NotEqual(t, res.Nonce, again.Nonce)
	assert.Empty(t, again.Message)
}

func TestNonceRejectsBadQuery(t *testing.T) {
	b := newBrowser(t, newTestRouter(t))

	w := b.do(http.MethodGet, "/auth/nonce?address=0x1234", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"address"`)

	w = b.do(http.MethodGet, "/auth/nonce?chain_id=mainnet", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"chain_id"`)
}

func TestLoginFlow(t *testing.T) {
	b := newBrowser(t, newTestRouter(t))
	wal := newWallet(t)

	w := b.do(http.MethodGet, "/api/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"message":"Unauthenticated."}`, w.Body.String())

	b.do(http.MethodGet, "/auth/nonce", nil, nil)
	anonXSRF := b.cookies[XSRFCookie].Value
	anonSession := b.cookies[cookieName].Value

	w = b.signIn(wal)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	assert.Empty(t, w.Body.String())
	assert.NotEqual(t, anonXSRF, b.cookies[XSRFCookie].Value)
	assert.NotEqual(t, anonSession, b.cookies[cookieName].Value)

	w = b.do(http.MethodGet, "/api/me", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	me := decode[map[string]any](t, w)
	assert.Equal(t, strings.ToLower(wal.address), me["address"])
	assert.Nil(t, me["email"])
	assert.Equal(t, false, me["email_verified"])
	assert.NotZero(t, me["id"])

	userSession := b.cookies[cookieName].Value

	w = b.do(http.MethodPost, "/auth/logout", nil, b.xsrf())
	require.Equal(t, http.StatusNoContent, w.Code)

	w = b.do(http.MethodGet, "/api/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// the revoked cookie stays revoked
	b.cookies[cookieName].Value = userSession
	w = b.do(http.MethodGet, "/api/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRequiresCSRF(t *testing.T) {
	b := newBrowser(t, newTestRouter(t))
	wal := newWallet(t)

	nonce := decode[nonceResponse](t, b.do(http.MethodGet, "/auth/nonce?address="+wal.address, nil, nil))
	body := gin.H{
		"message":   nonce.Message,
		"signature": wal.sign(t, nonce.Message),
		"address":   wal.address,
	}

	w := b.do(http.MethodPost, "/auth/login", body, nil)
	assert.Equal(t, StatusCSRFMismatch, w.Code)
	assert.JSONEq(t, `{"message":"CSRF token mismatch."}`, w.Body.String())

	w = b.do(http.MethodPost, "/auth/login", body, map[string]string{HeaderCSRF: "forged"})
	assert.Equal(t, StatusCSRFMismatch, w.Code)

	// the rejected attempts did not burn the nonce
	w = b.do(http.MethodPost, "/auth/login", body, map[string]string{HeaderCSRF: nonce.CSRFToken})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestLoginValidation(t *testing.T) {
	b := newBrowser(t, newTestRouter(t))
	wal := newWallet(t)
	nonce := decode[nonceResponse](t, b.do(http.MethodGet, "/auth/nonce?address="+wal.address, nil, nil))
	sig := wal.sign(t, nonce.Message)

	tests := []struct {
		name  string
		body  gin.H
		field string
	}{
		{"missing message", gin.H{"signature": sig, "address": wal.address}, "message"},
		{"missing signature", gin.H{"message": nonce.Message, "address": wal.address}, "signature"},
		{"short signature", gin.H{"message": nonce.Message, "signature": sig[:100], "address": wal.address}, "signature"},
		{"missing address", gin.H{"message": nonce.Message, "signature": sig}, "address"},
		{"address without prefix", gin.H{"message": nonce.Message, "signature": sig, "address": wal.address[2:]}, "address"},
		{"address with suffix", gin.H{"message": nonce.Message, "signature": sig, "address": wal.address + "00"}, "address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := b.do(http.MethodPost, "/auth/login", tt.body, b.xsrf())
			require.Equal(t, http.StatusUnprocessableEntity, w.Code)

			res := decode[struct {
				Message string              `json:"message"`
				Errors  map[string][]string `json:"errors"`
			}](t, w)
			assert.NotEmpty(t, res.Message)
			assert.Contains(t, res.Errors, tt.field)
		})
	}
}

func TestLoginRejectsInvalidSignature(t *testing.T) {
	b := newBrowser(t, newTestRouter(t))
	wal, other := newWallet(t), newWallet(t)

	nonce := decode[nonceResponse](t, b.do(http.MethodGet, "/auth/nonce?address="+wal.address, nil, nil))
	w := b.do(http.MethodPost, "/auth/login", gin.H{
		"message":   nonce.Message,
		"signature": other.sign(t, nonce.Message),
		"address":   wal.address,
	}, b.xsrf())

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.JSONEq(t, `{"message":"Invalid signature.","errors":{"signature":["Invalid signature."]}}`, w.Body.String())

	w = b.do(http.MethodGet, "/api/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRejectsReplay(t *testing.T) {
	b := newBrowser(t, newTestRouter(t))
	wal := newWallet(t)

	nonce := decode[nonceResponse](t, b.do(http.MethodGet, "/auth/nonce?address="+wal.address, nil, nil))
	body := gin.H{
		"message":   nonce.Message,
		"signature": wal.sign(t, nonce.Message),
		"address":   wal.address,
	}
	require.Equal(t, http.StatusNoContent, b.do(http.MethodPost, "/auth/login", body, b.xsrf()).Code)

	w := b.do(http.MethodPost, "/auth/login", body, b.xsrf())
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid signature.")

	// a second browser cannot replay it either
	eve := newBrowser(t, b.router)
	eve.do(http.MethodGet, "/auth/nonce", nil, nil)
	w = eve.do(http.MethodPost, "/auth/login", body, eve.xsrf())
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestLogoutIsIdempotent(t *testing.T) {
	b := newBrowser(t, newTestRouter(t))

	b.do(http.MethodGet, "/auth/nonce", nil, nil)
	for i := 0; i < 2; i++ {
		w := b.do(http.MethodPost, "/auth/logout", nil, b.xsrf())
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}
