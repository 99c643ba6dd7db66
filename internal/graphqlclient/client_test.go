package graphqlclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xray-tool-bridge/core/internal/xrayauth"
	"github.com/xray-tool-bridge/core/internal/xrayerrors"
)

type fakeTokenSource struct {
	value       int32 // incremented on each Invalidate, used to produce distinct token values
	invalidated int32
}

func (f *fakeTokenSource) GetValidToken(ctx context.Context) (xrayauth.Token, error) {
	return xrayauth.Token{Value: "token-" + itoa(atomic.LoadInt32(&f.value))}, nil
}

func (f *fakeTokenSource) Invalidate() {
	atomic.AddInt32(&f.invalidated, 1)
	atomic.AddInt32(&f.value, 1)
}

func itoa(i int32) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [12]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func TestExecute_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"getTest":{"issueId":"1162822"}}}`))
	}))
	defer server.Close()

	c := New(server.URL, &fakeTokenSource{}, server.Client())
	data, err := c.Execute(context.Background(), "query { getTest }", nil)
	require.NoError(t, err)
	got, ok := data["getTest"].(map[string]any)
	require.True(t, ok, "expected getTest subtree, got %#v", data)
	assert.Equal(t, "1162822", got["issueId"])
}

func TestExecute_GraphQLErrorsArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errors":[{"message":"field not found"}]}`))
	}))
	defer server.Close()

	c := New(server.URL, &fakeTokenSource{}, server.Client())
	_, err := c.Execute(context.Background(), "query { bogus }", nil)
	require.Error(t, err)

	ge, ok := err.(*xrayerrors.GraphQLError)
	require.True(t, ok, "expected *xrayerrors.GraphQLError, got %T: %v", err, err)
	assert.Equal(t, xrayerrors.KindGraphQL, ge.Kind())
}

func TestExecute_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`internal error`))
	}))
	defer server.Close()

	c := New(server.URL, &fakeTokenSource{}, server.Client())
	_, err := c.Execute(context.Background(), "query { x }", nil)

	ge, ok := err.(*xrayerrors.GraphQLError)
	require.True(t, ok, "expected *xrayerrors.GraphQLError, got %T: %v", err, err)
	assert.Equal(t, http.StatusInternalServerError, ge.StatusCode)
}

// TestExecute_401ThenRecover is scenario D: a 401 on the first attempt
// triggers exactly one invalidate+retry and the caller observes success.
func TestExecute_401ThenRecover(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"ok":true}}`))
	}))
	defer server.Close()

	ts := &fakeTokenSource{}
	c := New(server.URL, ts, server.Client())
	data, err := c.Execute(context.Background(), "query { ok }", nil)
	require.NoError(t, err)
	assert.Equal(t, true, data["ok"])
	assert.EqualValues(t, 1, atomic.LoadInt32(&ts.invalidated), "expected exactly one invalidate")
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "expected exactly 2 upstream calls")
}

// TestExecute_DoubleUnauthorized is the second half of invariant 11: a
// 401 on the retry surfaces as AuthenticationError.
func TestExecute_DoubleUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := New(server.URL, &fakeTokenSource{}, server.Client())
	_, err := c.Execute(context.Background(), "query { x }", nil)

	ae, ok := err.(*xrayerrors.AuthenticationError)
	require.True(t, ok, "expected *xrayerrors.AuthenticationError, got %T: %v", err, err)
	assert.Equal(t, xrayerrors.KindAuthentication, ae.Kind())
}

func TestExecute_NetworkFailure(t *testing.T) {
	c := New("https://127.0.0.1:0", &fakeTokenSource{}, &http.Client{})
	_, err := c.Execute(context.Background(), "query { x }", nil)
	_, ok := err.(*xrayerrors.NetworkError)
	assert.True(t, ok, "expected *xrayerrors.NetworkError, got %T: %v", err, err)
}
