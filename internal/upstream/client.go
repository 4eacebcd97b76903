// Package upstream talks to the stream transcoding provider: it logs in,
// caches the bearer token and issues authenticated requests.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/your-org/streamcore/internal/models"
	"github.com/your-org/streamcore/internal/observability"
)

// TokenTTL is how long a login token is reused before logging in again.
const TokenTTL = 10 * time.Minute

// loginPaths are tried in order until one accepts the credentials.
var loginPaths = []string{
	"/auth/login",
	"/api/auth/login",
	"/api/v1/auth/login",
	"/login",
}

type Config struct {
	BaseURL  string
	Email    string
	Password string
	Timeout  time.Duration
}

// Client is safe for concurrent use. One instance is shared by every camera
// operation in the process.
type Client struct {
	baseURL  string
	email    string
	password string
	http     *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	refresh singleflight.Group
	now     func() time.Time
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		email:    cfg.Email,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout},
		now:      time.Now,
	}
}

// Token returns the cached bearer token, logging in when it is missing or expired.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	v, err, _ := c.refresh.Do("login", func() (interface{}, error) {
		token, err := c.login(ctx)
		if err != nil {
			observability.UpstreamLogins.WithLabelValues("error").Inc()
			return "", err
		}
		observability.UpstreamLogins.WithLabelValues("ok").Inc()

		c.mu.Lock()
		c.token = token
		c.expiresAt = c.now().Add(TokenTTL)
		c.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// InvalidateToken drops the cached token so the next call logs in again.
func (c *Client) InvalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *Client) login(ctx context.Context) (string, error) {
	if c.email == "" || c.password == "" {
		return "", fmt.Errorf("%w: DROPLET_EMAIL and DROPLET_PASSWORD must be set", models.ErrAuth)
	}

	body, err := json.Marshal(map[string]string{"email": c.email, "password": c.password})
	if err != nil {
		return "", fmt.Errorf("marshal login: %w", err)
	}

	var attempts []error
	for _, path := range loginPaths {
		token, err := c.tryLogin(ctx, path, body)
		if err == nil {
			slog.Debug("upstream login succeeded", "endpoint", path)
			return token, nil
		}
		attempts = append(attempts, fmt.Errorf("%s: %w", path, err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("%w: %w", models.ErrAuth, errors.Join(attempts...))
}

func (c *Client) tryLogin(ctx context.Context, path string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUpstreamNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var payload struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	switch {
	case payload.Token != "":
		return payload.Token, nil
	case payload.AccessToken != "":
		return payload.AccessToken, nil
	default:
		return "", errors.New("login response has no token")
	}
}

// AuthFetch issues an authenticated request against path (relative to the
// base URL). A 401 invalidates the token, logs in again and retries once.
// The caller owns the returned body.
func (c *Client) AuthFetch(ctx context.Context, method, path string, body []byte, header http.Header) (*http.Response, error) {
	resp, err := c.doAuthorized(ctx, method, path, body, header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	slog.Info("upstream rejected token, re-authenticating", "path", path)
	c.InvalidateToken()
	return c.doAuthorized(ctx, method, path, body, header)
}

func (c *Client) doAuthorized(ctx context.Context, method, path string, body []byte, header http.Header) (*http.Response, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUpstreamNetwork, err)
	}
	return resp, nil
}
