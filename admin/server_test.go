package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/relogdev/relog/common"
	"github.com/relogdev/relog/coordinator"
	"github.com/stretchr/testify/require"
)

type fakeJob struct{}

func (fakeJob) Status() coordinator.Status {
	return coordinator.Status{
		State: coordinator.StateRunning,
		Tables: []coordinator.TableStatus{
			{Table: "orders", Artifact: "orders", Running: true},
			{Table: "users", Artifact: "users_v2", Running: false, Error: "source unavailable"},
		},
	}
}

func (fakeJob) Offsets() map[string]common.Position {
	return map[string]common.Position{
		"orders": {Kind: common.PositionLSN, Token: 42},
	}
}

func testRouter(token string) http.Handler {
	h := &handlers{job: fakeJob{}}
	r := chi.NewRouter()
	r.Use(authMiddleware(token))
	r.Get("/status", h.handleStatus)
	r.Get("/tables", h.handleTables)
	r.Get("/offsets", h.handleOffsets)
	return r
}

func get(t *testing.T, router http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	rec := get(t, testRouter(""), "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data coordinator.Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, coordinator.StateRunning, body.Data.State)
	require.Len(t, body.Data.Tables, 2)
	require.Equal(t, "source unavailable", body.Data.Tables[1].Error)
}

func TestOffsetsEndpoint(t *testing.T) {
	rec := get(t, testRouter(""), "/offsets", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "lsn:42", body.Data["orders"])
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	router := testRouter("sekrit")

	rec := get(t, router, "/status", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(t, router, "/status", map[string]string{"Authorization": "Bearer wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(t, router, "/status", map[string]string{"Authorization": "Basic sekrit"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_AcceptsBearerToken(t *testing.T) {
	rec := get(t, testRouter("sekrit"), "/status", map[string]string{"Authorization": "Bearer sekrit"})
	require.Equal(t, http.StatusOK, rec.Code)
}
