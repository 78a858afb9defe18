// Package shapeways integrates with the Shapeways print-on-demand vendor:
// OAuth2 client-credentials tokens, model uploads, and per-material price
// quotes. The integration is optional end to end; missing credentials
// soft-disable it rather than failing the pipeline.
package shapeways

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pawprints_backend/core"
	"pawprints_backend/logging"

	"go.uber.org/zap"
)

// expiryMargin is subtracted from the vendor-reported lifetime so a token is
// refreshed before it can expire mid-request.
const expiryMargin = 60 * time.Second

// ErrNotConfigured reports that vendor credentials are missing. Callers treat
// this as a permanently degraded integration, not a failure.
var ErrNotConfigured = errors.New("shapeways: client credentials not configured")

// TokenSource exchanges client credentials for bearer tokens and caches the
// result until shortly before expiry.
//
// Thread Safety: safe for concurrent use. At most one exchange runs at a
// time; concurrent callers share the cached token.
type TokenSource struct {
	clientID     string
	clientSecret string
	baseURL      string
	client       *http.Client
	logger       *logging.Logger
	now          func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenSource creates a token source from configuration.
// Returns ErrNotConfigured when either credential is missing.
func NewTokenSource(cfg *core.Config, logger *logging.Logger) (*TokenSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("shapeways: config cannot be nil")
	}
	if !cfg.HasShapeways() {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		return nil, fmt.Errorf("shapeways: logger cannot be nil")
	}

	return &TokenSource{
		clientID:     cfg.ShapewaysClientID,
		clientSecret: cfg.ShapewaysClientSecret,
		baseURL:      strings.TrimRight(cfg.ShapewaysBaseURL, "/"),
		client:       core.GetHTTPClient(cfg, cfg.TokenTimeout),
		logger:       logger.Named("shapeways"),
		now:          time.Now,
	}, nil
}

// tokenResponse is the consumed subset of the OAuth2 token response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a valid bearer token, exchanging credentials only when the
// cached one is missing or within the expiry margin.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && ts.now().Before(ts.expiresAt) {
		return ts.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", ts.clientID)
	form.Set("client_secret", ts.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.baseURL+"/oauth2/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("shapeways: failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("shapeways: token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return "", fmt.Errorf("shapeways: token exchange returned %d: %s", resp.StatusCode, detail)
	}

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("shapeways: failed to decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("shapeways: token response carried no access token")
	}

	lifetime := time.Duration(parsed.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = time.Hour
	}

	ts.token = parsed.AccessToken
	ts.expiresAt = ts.now().Add(lifetime - expiryMargin)
	ts.logger.Info("vendor token refreshed",
		zap.Duration("lifetime", lifetime))
	return ts.token, nil
}
