package resource

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandlerTest(t *testing.T) (*gin.Engine, *MemoryLedger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ledger := NewMemoryLedger()
	h := NewHandler(ledger)

	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))
	return r, ledger
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCreateResourceEndpoint(t *testing.T) {
	r, _ := setupHandlerTest(t)

	w := doJSON(r, "POST", "/v1/resources", `{"ownerId":"alice","name":"garden rake"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	res := body["resource"].(map[string]any)
	assert.Equal(t, "alice", res["ownerId"])
	assert.Equal(t, "garden rake", res["name"])
	assert.Equal(t, "available", res["status"])
	assert.True(t, strings.HasPrefix(res["id"].(string), "res_"))
}

func TestCreateResourceEndpoint_Validation(t *testing.T) {
	r, _ := setupHandlerTest(t)

	// Whitespace-only names fail the required check after sanitizing.
	w := doJSON(r, "POST", "/v1/resources", `{"ownerId":"alice","name":"   "}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decodeBody(t, w)["error"])

	long := strings.Repeat("x", maxNameLength+1)
	w = doJSON(r, "POST", "/v1/resources", `{"ownerId":"alice","name":"`+long+`"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decodeBody(t, w)["error"])
}

func TestGetResourceEndpoint(t *testing.T) {
	r, _ := setupHandlerTest(t)

	w := doJSON(r, "POST", "/v1/resources", `{"ownerId":"alice","name":"ladder"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeBody(t, w)["resource"].(map[string]any)["id"].(string)

	w = doJSON(r, "GET", "/v1/resources/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, "GET", "/v1/resources/res_0123456789abcdef01234567", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeBody(t, w)["error"])
}

func TestGetResourceEndpoint_MalformedID(t *testing.T) {
	r, _ := setupHandlerTest(t)

	for _, bad := range []string{"res_short", "trd_0123456789abcdef01234567", "junk"} {
		w := doJSON(r, "GET", "/v1/resources/"+bad, "")
		require.Equal(t, http.StatusBadRequest, w.Code, bad)
		assert.Equal(t, "invalid_id", decodeBody(t, w)["error"])
	}
}

func TestListUserResourcesEndpoint(t *testing.T) {
	r, _ := setupHandlerTest(t)

	for _, name := range []string{"rake", "ladder"} {
		w := doJSON(r, "POST", "/v1/resources", `{"ownerId":"alice","name":"`+name+`"}`)
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := doJSON(r, "POST", "/v1/resources", `{"ownerId":"bob","name":"drill"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(r, "GET", "/v1/users/alice/resources", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decodeBody(t, w)["count"])
}
