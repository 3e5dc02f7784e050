package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapyard/swapyard/internal/config"
	"github.com/swapyard/swapyard/internal/logging"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Port:               "0",
		Env:                "development",
		LogLevel:           "error",
		TradeTTL:           config.DefaultTradeTTL,
		ExpirySweepEvery:   config.DefaultExpirySweepEvery,
		ExpiryRetryBackoff: config.DefaultExpiryRetryBackoff,
		RateLimitRPS:       1000,
	}
	srv, err := New(cfg, logging.New("error", "text"))
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.scheduler.Stop()
		srv.limiter.Stop()
	})
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, "GET", "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Not ready until Run has started the listener.
	w = doJSON(t, srv, "GET", "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	srv.ready.Store(true)
	w = doJSON(t, srv, "GET", "/health/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["healthy"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "swapyard_")
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, "GET", "/health/live", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

// TestTradeFlowOverHTTP drives a full propose/accept cycle through the wired
// router: resources created over the API end up traded, and the receiver's
// acceptance leaves a notification for the initiator.
func TestTradeFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	createResource := func(owner, name string) string {
		w := doJSON(t, srv, "POST", "/v1/resources", map[string]string{
			"ownerId": owner, "name": name,
		})
		require.Equal(t, http.StatusCreated, w.Code)
		body := decodeBody(t, w)
		return body["resource"].(map[string]interface{})["id"].(string)
	}

	resA := createResource("alice", "lawnmower")
	resB := createResource("bob", "ladder")

	w := doJSON(t, srv, "POST", "/v1/trades", map[string]interface{}{
		"initiatorId": "alice",
		"receiverId":  "bob",
		"resourceIds": []string{resA, resB},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	tradeID := decodeBody(t, w)["trade"].(map[string]interface{})["id"].(string)

	w = doJSON(t, srv, "POST", "/v1/trades/"+tradeID+"/accept", map[string]string{
		"actingUserId": "bob",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "accepted", decodeBody(t, w)["trade"].(map[string]interface{})["status"])

	w = doJSON(t, srv, "GET", "/v1/resources/"+resA, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "traded", decodeBody(t, w)["resource"].(map[string]interface{})["status"])

	w = doJSON(t, srv, "GET", "/v1/users/alice/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.GreaterOrEqual(t, decodeBody(t, w)["count"].(float64), float64(1))
}

func TestSecurityHeadersApplied(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, "GET", "/health/live", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestUnknownRouteReturns404(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, "GET", "/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
