// Package vaultgate is a Go client for the sign-in service. It keeps the session
// and XSRF cookies in a jar and replays the CSRF token the way a browser frontend does.
package vaultgate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	xsrfCookie         = "XSRF-TOKEN"
	xsrfHeader         = "X-XSRF-TOKEN"
	statusCSRFMismatch = 419
)

// NonceResponse is returned by GET /auth/nonce
type NonceResponse struct {
	Nonce     string `json:"nonce"`
	CSRFToken string `json:"csrf_token"`
	ExpiresAt string `json:"expires_at"`
	Domain    string `json:"domain"`
	URI       string `json:"uri"`
	Version   string `json:"version"`
	Statement string `json:"statement"`
	ChainID   uint64 `json:"chain_id"`
	IssuedAt  string `json:"issued_at"`
	Message   string `json:"message,omitempty"`
}

// User is returned by GET /api/me
type User struct {
	ID            int64   `json:"id"`
	Address       string  `json:"address"`
	Email         *string `json:"email"`
	EmailVerified bool    `json:"email_verified"`
	CreatedAt     string  `json:"created_at"`
}

// HTTPClient talks to the service over HTTP
type HTTPClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	chainID    uint64
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client with its own cookie jar. chainID is sent with
// SignIn nonce requests; zero lets the server choose.
func NewHTTPClient(baseURL string, chainID uint64) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &HTTPClient{
		baseURL: u,
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
		chainID: chainID,
	}, nil
}

func (c *HTTPClient) Nonce(ctx context.Context, address string, chainID uint64) (*NonceResponse, error) {
	q := url.Values{}
	if address != "" {
		q.Set("address", address)
	}
	if chainID != 0 {
		q.Set("chain_id", strconv.FormatUint(chainID, 10))
	}

	var res NonceResponse
	if err := c.do(ctx, http.MethodGet, "/auth/nonce", q, nil, http.StatusOK, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *HTTPClient) Login(ctx context.Context, message, signature, address string) error {
	body := map[string]string{
		"message":   message,
		"signature": signature,
		"address":   address,
	}
	return c.do(ctx, http.MethodPost, "/auth/login", nil, body, http.StatusNoContent, nil)
}

func (c *HTTPClient) SignIn(ctx context.Context, signer Signer) (*User, error) {
	nonce, err := c.Nonce(ctx, signer.Address(), c.chainID)
	if err != nil {
		return nil, err
	}

	sig, err := signer.SignText([]byte(nonce.Message))
	if err != nil {
		return nil, err
	}

	if err := c.Login(ctx, nonce.Message, hexutil.Encode(sig), signer.Address()); err != nil {
		return nil, err
	}
	return c.Me(ctx)
}

func (c *HTTPClient) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, nil, http.StatusOK, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *HTTPClient) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, http.StatusNoContent, nil)
}

func (c *HTTPClient) xsrfToken(u *url.URL) string {
	for _, cookie := range c.httpClient.Jar.Cookies(u) {
		if cookie.Name == xsrfCookie {
			return cookie.Value
		}
	}
	return ""
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body any, want int, out any) error {
	u := c.baseURL.JoinPath(path)
	u.RawQuery = query.Encode()

	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		if token := c.xsrfToken(u); token != "" {
			req.Header.Set(xsrfHeader, token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return nil
}
