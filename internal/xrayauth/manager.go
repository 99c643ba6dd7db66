// Package xrayauth implements the bridge's authentication lifecycle:
// acquiring, caching, refreshing, and concurrently sharing a bearer
// token obtained from Xray's client-credentials authenticate endpoint.
package xrayauth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/xray-tool-bridge/core/internal/config"
	"github.com/xray-tool-bridge/core/internal/jsonutil"
	"github.com/xray-tool-bridge/core/internal/xrayerrors"
)

const (
	refreshSkew    = 5 * time.Minute
	fallbackExpiry = time.Hour
	authPath       = "/api/v2/authenticate"
)

// Token is an opaque bearer credential with a decoded expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

func (t Token) expiredAsOf(now time.Time) bool {
	return t.Value == "" || now.Add(refreshSkew).After(t.ExpiresAt)
}

// Manager obtains and refreshes a single Token, guaranteeing at most
// one in-flight authenticate RPC across concurrent callers.
type Manager struct {
	creds      config.Credentials
	httpClient *http.Client
	now        func() time.Time

	mu    sync.Mutex
	token Token

	group singleflight.Group
}

// NewManager constructs a Manager bound to a single shared HTTP client.
func NewManager(creds config.Credentials, httpClient *http.Client) *Manager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Manager{
		creds:      creds,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// GetValidToken returns a token that is valid for at least refreshSkew
// longer, refreshing it first if necessary. Concurrent callers that
// arrive while a refresh is in flight observe the same result: the
// singleflight.Group collapses them into the one RPC already running.
func (m *Manager) GetValidToken(ctx context.Context) (Token, error) {
	m.mu.Lock()
	cached := m.token
	m.mu.Unlock()

	if !cached.expiredAsOf(m.now()) {
		return cached, nil
	}

	v, err, _ := m.group.Do("authenticate", func() (interface{}, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

// Invalidate forces the next GetValidToken call to refresh, used by the
// GraphQL client after observing a 401.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.token = Token{}
	m.mu.Unlock()
}

func (m *Manager) refresh(ctx context.Context) (Token, error) {
	// Re-check under the singleflight call: another waiter may have
	// refreshed between our cache read and acquiring the flight.
	m.mu.Lock()
	cached := m.token
	m.mu.Unlock()
	if !cached.expiredAsOf(m.now()) {
		return cached, nil
	}

	body, err := jsonutil.Marshal(map[string]string{
		"client_id":     m.creds.ClientID,
		"client_secret": m.creds.ClientSecret,
	})
	if err != nil {
		return Token{}, &xrayerrors.AuthenticationError{Reason: "encoding authenticate request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.creds.BaseURL+authPath, bytes.NewReader(body))
	if err != nil {
		return Token{}, &xrayerrors.AuthenticationError{Reason: "building authenticate request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return Token{}, &xrayerrors.AuthenticationError{Reason: "authenticate request failed", Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Token{}, &xrayerrors.AuthenticationError{Reason: "reading authenticate response", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Token{}, &xrayerrors.AuthenticationError{Reason: fmt.Sprintf("authenticate returned status %d", resp.StatusCode)}
	}

	raw, err := extractTokenValue(respBody)
	if err != nil {
		return Token{}, &xrayerrors.AuthenticationError{Reason: err.Error()}
	}
	if raw == "" {
		return Token{}, &xrayerrors.AuthenticationError{Reason: "authenticate response did not contain a token"}
	}

	token := Token{Value: raw, ExpiresAt: m.now().Add(fallbackExpiry)}
	if exp, ok := decodeExpiry(raw); ok {
		token.ExpiresAt = exp
	}

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	return token, nil
}

// extractTokenValue accepts both response shapes the upstream is known
// to use: a bare JSON string, or a {"token": "..."} envelope.
func extractTokenValue(body []byte) (string, error) {
	var asString string
	if err := jsonutil.Unmarshal(body, &asString); err == nil {
		return asString, nil
	}

	var asObject struct {
		Token string `json:"token"`
	}
	if err := jsonutil.Unmarshal(body, &asObject); err != nil {
		return "", fmt.Errorf("unrecognized authenticate response shape: %w", err)
	}
	return asObject.Token, nil
}

// decodeExpiry reads the exp claim from a JWT without verifying its
// signature: the issuer is already trusted by virtue of having just
// authenticated us, and we hold no key material to verify against.
// The claim is treated as a refresh-scheduling hint, not a security
// boundary.
func decodeExpiry(raw string) (time.Time, bool) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
