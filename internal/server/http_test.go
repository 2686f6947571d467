package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taskmcp/tasksvr/internal/config"
)

const testKey = "test-key-123"

type httpFixture struct {
	*stack
	server *HTTPServer
	ts     *httptest.Server
}

func newHTTPFixture(t *testing.T, mutate func(*HTTPConfig)) *httpFixture {
	t.Helper()
	s := newStack(t)
	cfg := HTTPConfig{
		Keys:              []config.APIKeyEntry{{Name: "test", Key: testKey}},
		HeartbeatInterval: 30 * time.Second,
		StreamTimeout:     5 * time.Minute,
		MaxStreams:        10,
		Dispatcher:        s.dispatcher,
		Hub:               s.hub,
		Audit:             s.auditLog,
		Metrics:           s.metrics,
		Logger:            s.logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	hs := NewHTTPServer(cfg)
	ts := httptest.NewServer(hs.Router())
	t.Cleanup(ts.Close)
	return &httpFixture{stack: s, server: hs, ts: ts}
}

func (f *httpFixture) do(t *testing.T, method, path, key, body string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rdr)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set(apiKeyHeader, key)
	}
	res, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func bodyOf(t *testing.T, res *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(b)
}

func TestHealthEndpointSkipsAuth(t *testing.T) {
	f := newHTTPFixture(t, nil)
	res := f.do(t, http.MethodGet, "/mcp/health", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.JSONEq(t, `{"status":"UP","transport":"http"}`, bodyOf(t, res))
}

// The health exemption is an exact path match; anything nested under /mcp
// stays behind the key gate.
func TestNestedHealthPathStaysGated(t *testing.T) {
	f := newHTTPFixture(t, nil)
	res := f.do(t, http.MethodGet, "/mcp/evil/health", "", "")
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.JSONEq(t,
		`{"jsonrpc":"2.0","error":{"code":-32001,"message":"Missing API key"},"id":null}`,
		bodyOf(t, res))
}

func TestMissingAPIKey(t *testing.T) {
	f := newHTTPFixture(t, nil)
	res := f.do(t, http.MethodPost, "/mcp", "", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "ApiKey", res.Header.Get("WWW-Authenticate"))
	require.JSONEq(t,
		`{"jsonrpc":"2.0","error":{"code":-32001,"message":"Missing API key"},"id":null}`,
		bodyOf(t, res))
	require.Contains(t, f.auditBuf.String(), "AUTH_FAILURE")
}

func TestInvalidAPIKeyIsLoggedOnlyAsDigest(t *testing.T) {
	f := newHTTPFixture(t, nil)
	const wrong = "wrong-key-000"
	res := f.do(t, http.MethodPost, "/mcp", wrong, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.JSONEq(t,
		`{"jsonrpc":"2.0","error":{"code":-32001,"message":"Invalid API key"},"id":null}`,
		bodyOf(t, res))

	audited := f.auditBuf.String()
	require.Contains(t, audited, keyDigest(wrong))
	require.NotContains(t, audited, wrong)
}

func TestValidKeyPassesAndIsAudited(t *testing.T) {
	f := newHTTPFixture(t, nil)
	res := f.do(t, http.MethodPost, "/mcp", testKey, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, bodyOf(t, res))

	audited := f.auditBuf.String()
	require.Contains(t, audited, "AUTH_SUCCESS")
	require.NotContains(t, audited, testKey)
}

func TestSecurityHeadersOnEveryMcpResponse(t *testing.T) {
	f := newHTTPFixture(t, nil)
	for _, path := range []string{"/mcp/health", "/mcp"} {
		res := f.do(t, http.MethodGet, path, "", "")
		h := res.Header
		require.Equal(t, "nosniff", h.Get("X-Content-Type-Options"), path)
		require.Equal(t, "DENY", h.Get("X-Frame-Options"), path)
		require.Equal(t, "max-age=31536000; includeSubDomains", h.Get("Strict-Transport-Security"), path)
		require.Equal(t, "no-store", h.Get("Cache-Control"), path)
		require.Equal(t, "no-cache", h.Get("Pragma"), path)
	}
}

func TestMetricsEndpointOutsideAuth(t *testing.T) {
	f := newHTTPFixture(t, nil)
	res := f.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := bodyOf(t, res)
	require.Contains(t, body, "tasksvr_sse_sessions")
	require.Contains(t, body, "tasksvr_pool_queue_depth")
	// /metrics lives outside the /mcp scope, so no security headers
	require.Empty(t, res.Header.Get("X-Frame-Options"))
}

func TestNotificationOnlyPostGets202(t *testing.T) {
	f := newHTTPFixture(t, nil)
	res := f.do(t, http.MethodPost, "/mcp", testKey, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	require.Empty(t, bodyOf(t, res))

	res = f.do(t, http.MethodPost, "/mcp", testKey,
		`[{"jsonrpc":"2.0","method":"notifications/initialized"},{"jsonrpc":"2.0","method":"notifications/cancelled"}]`)
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	require.Empty(t, bodyOf(t, res))
}

func TestBatchOverHTTP(t *testing.T) {
	f := newHTTPFixture(t, nil)
	res := f.do(t, http.MethodPost, "/mcp", testKey,
		`[{"jsonrpc":"2.0","id":1,"method":"ping"},{"jsonrpc":"2.0","method":"notifications/initialized"},{"jsonrpc":"2.0","id":2,"method":"ping"}]`)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := bodyOf(t, res)
	require.True(t, strings.HasPrefix(body, "["), "batch reply must be an array: %s", body)
	require.Contains(t, body, `"id":1`)
	require.Contains(t, body, `"id":2`)
}

func TestAuthDisabledBypassesGate(t *testing.T) {
	f := newHTTPFixture(t, func(cfg *HTTPConfig) {
		cfg.Keys = nil
		cfg.AuthDisabled = true
	})
	res := f.do(t, http.MethodPost, "/mcp", "", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestDeleteSessionErrors(t *testing.T) {
	f := newHTTPFixture(t, nil)

	res := f.do(t, http.MethodDelete, "/mcp", testKey, "")
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, f.ts.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set(apiKeyHeader, testKey)
	req.Header.Set(sessionHeader, "no-such-session")
	res2, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer res2.Body.Close()
	require.Equal(t, http.StatusNotFound, res2.StatusCode)
}

func TestDeleteRemovesRegisteredSession(t *testing.T) {
	f := newHTTPFixture(t, nil)
	sess := f.hub.Register()
	require.Equal(t, 1, f.hub.sessionCount())

	req, err := http.NewRequest(http.MethodDelete, f.ts.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set(apiKeyHeader, testKey)
	req.Header.Set(sessionHeader, sess.ID)
	res, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	require.Equal(t, 0, f.hub.sessionCount())

	select {
	case <-sess.Done():
	default:
		t.Fatal("session should be closed after DELETE")
	}
}

func TestCORSPreflightWithExplicitOrigin(t *testing.T) {
	f := newHTTPFixture(t, func(cfg *HTTPConfig) {
		cfg.CORSEnabled = true
		cfg.CORSAllowedOrigins = []string{"https://app.example.com"}
	})
	req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, "https://app.example.com", res.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", res.Header.Get("Access-Control-Allow-Credentials"))
}

func TestCORSWildcardDisablesCredentials(t *testing.T) {
	f := newHTTPFixture(t, func(cfg *HTTPConfig) {
		cfg.CORSEnabled = true
		cfg.CORSAllowedOrigins = []string{"*"}
	})
	req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://anywhere.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	require.Empty(t, res.Header.Get("Access-Control-Allow-Credentials"))
}
