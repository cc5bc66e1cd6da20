package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/warehouse-risk/internal/app"
	"github.com/OFFIS-RIT/warehouse-risk/internal/config"
	mid "github.com/OFFIS-RIT/warehouse-risk/internal/server/middleware"
	"github.com/OFFIS-RIT/warehouse-risk/internal/server/routes"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/common"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/graph"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/metrics"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/risk"
	"github.com/OFFIS-RIT/warehouse-risk/pkg/schema"
)

var hmacSecret = []byte("test-secret")

func newTestServer(t *testing.T, secure bool) *echo.Echo {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)

	registry := schema.Warehouse()
	g := graph.New(registry)
	_, err = g.Apply(context.Background(), graph.DemoBatch())
	require.NoError(t, err)

	a, err := app.Build(cfg, registry, g, nil, metrics.New())
	require.NoError(t, err)

	wrapped := &mid.App{App: a}
	if secure {
		wrapped.MasterAPIKey = "master-key"
		wrapped.Keyfunc = func(*jwt.Token) (any, error) { return hmacSecret, nil }
	}
	return New(wrapped)
}

func do(e *echo.Echo, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(hmacSecret)
	require.NoError(t, err)
	return s
}

func TestAskRanksWarehouses(t *testing.T) {
	e := newTestServer(t, false)

	rec := do(e, http.MethodPost, "/api/ask", `{"question":"Show me the top 5 highest risk warehouses"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Text     string           `json:"text"`
		Scores   []risk.RiskScore `json:"scores"`
		Fallback bool             `json:"fallback"`
		Metadata struct {
			RequestID string `json:"request_id"`
			Intent    string `json:"intent"`
		} `json:"metadata"`
		Trace json.RawMessage `json:"trace"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Scores)
	assert.Equal(t, "WH_002", body.Scores[0].EntityID)
	assert.True(t, body.Fallback)
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), body.Metadata.RequestID)
	assert.Empty(t, body.Trace)
}

func TestAskErrors(t *testing.T) {
	e := newTestServer(t, false)

	rec := do(e, http.MethodPost, "/api/ask", `{"question":"What is the meaning of life?"}`, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kind":"UnresolvableIntent"`)

	rec = do(e, http.MethodPost, "/api/ask", `{"question":"   "}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/api/ask", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWarehouseRisk(t *testing.T) {
	e := newTestServer(t, false)

	rec := do(e, http.MethodGet, "/api/warehouses/WH_003/risk", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var profile risk.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &profile))
	assert.Equal(t, "WH_003", profile.Score.EntityID)
	assert.True(t, profile.Score.Degraded)

	rec = do(e, http.MethodGet, "/api/warehouses/ZN_1/risk", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(e, http.MethodGet, "/api/warehouses/risk", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report risk.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Len(t, report.Warehouses, 4)

	rec = do(e, http.MethodGet, "/api/reports/latest", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuth(t *testing.T) {
	e := newTestServer(t, true)

	rec := do(e, http.MethodGet, "/api/warehouses/WH_001/risk", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, http.MethodGet, "/api/warehouses/WH_001/risk", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, http.MethodGet, "/api/warehouses/risk", "", "master-key")
	assert.Equal(t, http.StatusOK, rec.Code)

	exp := time.Now().Add(time.Hour).Unix()
	user := signed(t, jwt.MapClaims{"sub": "user-1", "exp": exp})
	rec = do(e, http.MethodGet, "/api/warehouses/WH_001/risk", "", user)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(e, http.MethodGet, "/api/warehouses/risk", "", user)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := signed(t, jwt.MapClaims{"sub": "admin-1", "role": "admin", "exp": exp})
	rec = do(e, http.MethodGet, "/api/warehouses/risk", "", admin)
	assert.Equal(t, http.StatusOK, rec.Code)

	expired := signed(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Hour).Unix()})
	rec = do(e, http.MethodGet, "/api/warehouses/WH_001/risk", "", expired)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	anonymous := signed(t, jwt.MapClaims{"exp": exp})
	rec = do(e, http.MethodGet, "/api/warehouses/WH_001/risk", "", anonymous)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestServer(t, true)

	rec := do(e, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `warehouse_risk_http_requests_total{method="GET",route="/health",status="OK"} 1`)
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("lookup: %w", common.ErrNotFound), http.StatusNotFound},
		{common.Errorf(common.KindUnresolvableIntent, "x"), http.StatusUnprocessableEntity},
		{common.Errorf(common.KindAmbiguousReference, "x"), http.StatusUnprocessableEntity},
		{common.Errorf(common.KindSchemaViolation, "x"), http.StatusBadRequest},
		{common.Errorf(common.KindResultTooLarge, "x"), http.StatusRequestEntityTooLarge},
		{common.Errorf(common.KindStoreUnavailable, "x"), http.StatusServiceUnavailable},
		{common.Errorf(common.KindOverloaded, "x"), http.StatusServiceUnavailable},
		{common.Errorf(common.KindTimeout, "x"), http.StatusGatewayTimeout},
		{common.Errorf(common.KindSynthesisFailed, "x"), http.StatusInternalServerError},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, routes.StatusOf(tc.err), tc.err.Error())
	}
}
