package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apk-analysis/apk-drift/internal/api/handlers"
	"github.com/apk-analysis/apk-drift/internal/config"
	"github.com/apk-analysis/apk-drift/internal/metrics"
	"github.com/apk-analysis/apk-drift/internal/repository"
	"github.com/apk-analysis/apk-drift/internal/service"
	"github.com/apk-analysis/apk-drift/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T, token string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logrus.New()
	log.SetOutput(io.Discard)

	db, err := repository.InitDB(&config.DatabaseConfig{Type: "sqlite", Path: ":memory:"}, log)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	store := storage.NewLocalStore(t.TempDir())
	runs := service.NewExtractionService(repository.NewRunRepository(db, log), store, log)
	artifacts := service.NewArtifactService(store, log)

	m := metrics.New("test", prometheus.NewRegistry())
	cfg := &config.ServerConfig{Mode: "debug", Token: token}
	return SetupRouter(cfg, log, m, handlers.NewRunHandler(runs, artifacts, nil, log))
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil).WithContext(context.Background())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	r := setupTestServer(t, "secret")
	w := get(r, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestRouter_Metrics(t *testing.T) {
	r := setupTestServer(t, "")
	get(r, "/health", "")

	w := get(r, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_http_requests_total")
}

func TestRouter_TokenAuth(t *testing.T) {
	r := setupTestServer(t, "secret")

	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/runs", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/runs", "wrong").Code)

	w := get(r, "/api/runs", "secret")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":0`)
}

func TestRouter_RunNotFound(t *testing.T) {
	r := setupTestServer(t, "")
	assert.Equal(t, http.StatusNotFound, get(r, "/api/runs/nope", "").Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	r := setupTestServer(t, "")
	req := httptest.NewRequest("OPTIONS", "/api/runs", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
