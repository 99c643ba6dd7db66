// Package graphqlclient dispatches GraphQL operations against Xray's
// single endpoint with token injection, uniform error surfacing, and
// automatic re-authentication on 401, built on machinebox/graphql.
package graphqlclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/machinebox/graphql"

	"github.com/xray-tool-bridge/core/internal/jsonutil"
	"github.com/xray-tool-bridge/core/internal/xrayauth"
	"github.com/xray-tool-bridge/core/internal/xrayerrors"
)

const (
	graphqlPath    = "/api/v2/graphql"
	defaultTimeout = 30 * time.Second
	bodyPreviewCap = 512
)

// TokenSource is the subset of xrayauth.Manager the client depends on,
// narrowed for testability.
type TokenSource interface {
	GetValidToken(ctx context.Context) (xrayauth.Token, error)
	Invalidate()
}

// Client executes GraphQL operations against one Xray base URL using a
// single pooled *http.Client for the component's lifetime. Request
// construction and dispatch is delegated to machinebox/graphql; since
// that library does not expose the raw HTTP status code or body to its
// caller, a capturing http.RoundTripper records both so Execute can make
// the 401 / 2xx-with-errors / other-non-2xx distinction §4.3 requires.
type Client struct {
	auth TokenSource
	gql  *graphql.Client
	http *http.Client
}

// New constructs a Client. httpClient may be nil to get a default
// connection-pooling client with the component's default timeout.
func New(baseURL string, auth TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := &http.Client{
		Transport: &capturingTransport{base: base},
		Timeout:   httpClient.Timeout,
		Jar:       httpClient.Jar,
	}
	return &Client{
		auth: auth,
		gql:  graphql.NewClient(baseURL+graphqlPath, graphql.WithHTTPClient(wrapped)),
		http: wrapped,
	}
}

// Execute runs operation with variables, injecting a bearer token and
// retrying exactly once on a 401 after forcing re-authentication.
func (c *Client) Execute(ctx context.Context, operation string, variables map[string]any) (map[string]any, error) {
	data, err := c.attempt(ctx, operation, variables)
	if err == nil {
		return data, nil
	}

	if isUnauthorized(err) {
		c.auth.Invalidate()
		data, err2 := c.attempt(ctx, operation, variables)
		if err2 == nil {
			return data, nil
		}
		if isUnauthorized(err2) {
			return nil, &xrayerrors.AuthenticationError{Reason: "two consecutive 401 responses from upstream"}
		}
		return nil, err2
	}

	return nil, err
}

type unauthorizedError struct{}

func (unauthorizedError) Error() string { return "unauthorized" }

func isUnauthorized(err error) bool {
	_, ok := err.(unauthorizedError)
	return ok
}

// attempt performs a single dispatch: obtain a token, POST the request
// via machinebox/graphql, then classify the response using the status
// and raw body our capturingTransport recorded for this call.
func (c *Client) attempt(ctx context.Context, operation string, variables map[string]any) (map[string]any, error) {
	token, err := c.auth.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	req := graphql.NewRequest(operation)
	for k, v := range variables {
		req.Var(k, v)
	}
	req.Header.Set("Authorization", "Bearer "+token.Value)

	cap := &capture{}
	ctx = withCapture(ctx, cap)

	var discard map[string]any
	runErr := c.gql.Run(ctx, req, &discard)

	if cap.status == 0 {
		// No response was ever captured: a transport-level failure
		// (DNS, TCP, TLS, timeout, context cancellation) occurred
		// before any status line arrived.
		return nil, &xrayerrors.NetworkError{Op: "graphql dispatch", Cause: runErrOrCtx(ctx, runErr)}
	}

	if cap.status == http.StatusUnauthorized {
		return nil, unauthorizedError{}
	}

	bodyPrefix := preview(cap.body)

	var parsed struct {
		Data   map[string]any `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	_ = jsonutil.Unmarshal(cap.body, &parsed)

	if cap.status < 200 || cap.status >= 300 {
		return nil, &xrayerrors.GraphQLError{Operation: operationName(operation), StatusCode: cap.status, BodyPrefix: bodyPrefix}
	}

	if len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, e := range parsed.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, &xrayerrors.GraphQLError{Operation: operationName(operation), Messages: msgs, BodyPrefix: bodyPrefix}
	}

	return parsed.Data, nil
}

func runErrOrCtx(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	return ctx.Err()
}

func preview(b []byte) string {
	if len(b) > bodyPreviewCap {
		return string(b[:bodyPreviewCap])
	}
	return string(b)
}

func operationName(operation string) string {
	if len(operation) > 64 {
		return operation[:64] + "..."
	}
	return operation
}

// --- status/body capture plumbing ---

type capture struct {
	status int
	body   []byte
}

type captureKey struct{}

func withCapture(ctx context.Context, c *capture) context.Context {
	return context.WithValue(ctx, captureKey{}, c)
}

func fromContext(ctx context.Context) (*capture, bool) {
	c, ok := ctx.Value(captureKey{}).(*capture)
	return c, ok
}

// capturingTransport records the status code and full response body of
// each round trip whose context carries a *capture, then restores the
// body so the caller (machinebox/graphql) can still read it normally.
type capturingTransport struct {
	base http.RoundTripper
}

func (t *capturingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}

	cap, ok := fromContext(req.Context())
	if !ok {
		return resp, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return resp, fmt.Errorf("reading response body: %w", readErr)
	}
	cap.status = resp.StatusCode
	cap.body = body
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}
