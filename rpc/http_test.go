package rpc

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthAndMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, ServerConfig{})

	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	env.call(t, "escrow_getFeeVault")
	resp, err = http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.Contains(string(body), "payai_rpc_requests_total"))
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t, nil, ServerConfig{})

	status, resp := env.post(t, []byte("   "))
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidRequest, resp.Error.Code)

	status, resp = env.post(t, []byte("{not json"))
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeParseError, resp.Error.Code)

	status, resp = env.post(t, []byte(`{"jsonrpc":"1.0","method":"escrow_getFeeVault","id":1}`))
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidRequest, resp.Error.Code)

	status, resp = env.call(t, "escrow_doesNotExist")
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	status, resp = env.call(t, "escrow_getBalance")
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeEscrowInvalidParams, resp.Error.Code)
}

func TestRateLimiterPerSource(t *testing.T) {
	limiter := newRateLimiter(60, 2)
	now := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.allow("10.0.0.1"))
	require.True(t, limiter.allow("10.0.0.1"))
	require.False(t, limiter.allow("10.0.0.1"))
	require.True(t, limiter.allow("10.0.0.2"))

	now = now.Add(time.Second)
	require.True(t, limiter.allow("10.0.0.1"))
}

func TestServerRejectsOverLimit(t *testing.T) {
	env := newTestEnv(t, nil, ServerConfig{RequestsPerMinute: 1, Burst: 1})

	status, _ := env.call(t, "escrow_getFeeVault")
	require.Equal(t, http.StatusOK, status)
	status, resp := env.call(t, "escrow_getFeeVault")
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestClientSourceIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	proxies, _ := newProxySet(nil)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.0.2.10:7000"
	req.Header.Set("X-Forwarded-For", "198.51.100.8")

	require.Equal(t, "192.0.2.10", proxies.clientSource(req))
}

func TestClientSourceHonorsForwardedForFromTrustedProxy(t *testing.T) {
	proxies, rejected := newProxySet([]string{"10.0.0.1", "not-an-ip"})
	require.Equal(t, []string{"not-an-ip"}, rejected)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:8080"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 198.51.100.7:443 , 10.0.0.1")
	require.Equal(t, "198.51.100.7", proxies.clientSource(req))

	req.Header.Set("X-Forwarded-For", "garbage")
	require.Equal(t, "10.0.0.1", proxies.clientSource(req))

	req.Header.Set("X-Forwarded-For", strings.Repeat("198.51.100.1,", maxForwardedForAddrs)+"198.51.100.2")
	require.Equal(t, "10.0.0.1", proxies.clientSource(req))
}

func TestSpoofedForwardedForDoesNotBypassLimit(t *testing.T) {
	env := newTestEnv(t, nil, ServerConfig{RequestsPerMinute: 1, Burst: 1})

	send := func(forwarded string) int {
		body := strings.NewReader(`{"jsonrpc":"2.0","method":"escrow_getFeeVault","id":1}`)
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/", body)
		require.NoError(t, err)
		req.Header.Set("X-Forwarded-For", forwarded)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	require.Equal(t, http.StatusOK, send("198.51.100.1"))
	require.Equal(t, http.StatusTooManyRequests, send("198.51.100.2"))
}
