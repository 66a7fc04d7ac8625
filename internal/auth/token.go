// Package auth manages the bearer token used to authenticate ingestion calls.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/GabrielNunesIT/azmon-sink/internal/config"
	"github.com/GabrielNunesIT/go-libs/logger"
)

// AuthError reports a failed token acquisition.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token acquisition failed: %s: %v", e.Reason, e.Err)
	}
	return "token acquisition failed: " + e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// HTTPDoer abstracts HTTP client operations for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Ensure http.Client implements HTTPDoer.
var _ HTTPDoer = (*http.Client)(nil)

// TokenCache holds the current bearer token and refreshes it through the
// client-credentials grant. The token has no tracked expiry; staleness is
// discovered reactively when a delivery fails and the cache is invalidated.
// The cached value is swapped under the mutex, so concurrent readers see
// either the old token or the new one, never a partial value.
type TokenCache struct {
	cfg    config.AuthConfig
	client HTTPDoer
	logger logger.ILogger

	mu    sync.Mutex
	token string
}

// Option configures a TokenCache.
type Option func(*TokenCache)

// WithHTTPClient sets a custom HTTP client for testing.
func WithHTTPClient(client HTTPDoer) Option {
	return func(t *TokenCache) {
		t.client = client
	}
}

// NewTokenCache creates a token cache for the given credentials.
// No token is fetched until Current or Refresh is called.
func NewTokenCache(cfg config.AuthConfig, log logger.ILogger, opts ...Option) *TokenCache {
	t := &TokenCache{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: log.SubLogger("TokenCache"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Current returns the cached token, fetching a fresh one if none is cached
// or the cache was invalidated.
func (t *TokenCache) Current(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" {
		return t.token, nil
	}
	return t.fetchLocked(ctx)
}

// Invalidate marks the cached token stale, forcing the next Current call
// to fetch a fresh one.
func (t *TokenCache) Invalidate() {
	t.mu.Lock()
	t.token = ""
	t.mu.Unlock()
	t.logger.Debug("cached token invalidated")
}

// Refresh discards the cached token and fetches a new one.
func (t *TokenCache) Refresh(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.token = ""
	_, err := t.fetchLocked(ctx)
	return err
}

// fetchLocked performs the client-credentials exchange (caller must hold
// the lock). Credential values are never logged.
func (t *TokenCache) fetchLocked(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("client_id", t.cfg.ClientID)
	form.Set("client_secret", t.cfg.ClientSecret)
	form.Set("scope", t.cfg.Scope)
	form.Set("grant_type", "client_credentials")

	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token",
		strings.TrimRight(t.cfg.LoginEndpoint, "/"), t.cfg.TenantID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Reason: "building token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Errorf("token request failed: %v", err)
		return "", &AuthError{Reason: "token request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.logger.Errorf("token request rejected: status=%d", resp.StatusCode)
		return "", &AuthError{Reason: fmt.Sprintf("token endpoint returned status %d", resp.StatusCode)}
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.logger.Errorf("token response unreadable: %v", err)
		return "", &AuthError{Reason: "parsing token response", Err: err}
	}
	if body.AccessToken == "" {
		t.logger.Errorf("token response missing access_token field")
		return "", &AuthError{Reason: "token response missing access_token field"}
	}

	t.token = body.AccessToken
	t.logger.Debug("bearer token refreshed")
	return t.token, nil
}
