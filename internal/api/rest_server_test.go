package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/annel0/voxel-agent/internal/agent"
	"github.com/annel0/voxel-agent/internal/auth"
	"github.com/annel0/voxel-agent/internal/logging"
	"github.com/annel0/voxel-agent/internal/movement"
	"github.com/annel0/voxel-agent/internal/vec"
	"github.com/annel0/voxel-agent/internal/world"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server   *RestServer
	nav      *agent.Navigator
	mover    *movement.SimMover
	operator string
	viewer   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	quiet := logging.NewWriterLogger("api", io.Discard, logging.ERROR)
	w := world.NewFlatWorld(63)
	mover := movement.NewSimMover(w, vec.New(0, 64, 0))
	nav := agent.NewNavigator(w, mover, agent.DefaultOptions(), agent.WithLogger(quiet))

	issuer, err := auth.NewTokenIssuer("", time.Hour)
	require.NoError(t, err)
	operator, err := issuer.Issue("alice", auth.RoleOperator)
	require.NoError(t, err)
	viewer, err := issuer.Issue("bob", auth.RoleViewer)
	require.NoError(t, err)

	rs := NewRestServer(Config{
		Navigator: nav,
		Issuer:    issuer,
		Registry:  prometheus.NewRegistry(),
		Logger:    quiet,
	})
	return &testEnv{server: rs, nav: nav, mover: mover, operator: operator, viewer: viewer}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, GenericResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var resp GenericResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec, resp
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, _ = env.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agent_api_http_request_duration_seconds")
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/api/navigation", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/navigation", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/navigate", env.viewer, `{"x":1,"y":64,"z":0}`)
	assert.Equal(t, http.StatusForbidden, rec.Code, "наблюдатель не управляет агентом")
}

func TestNavigateLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/navigate", env.operator, `{"x":12,"y":64,"z":-4}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.True(t, resp.Success)

	require.Eventually(t, func() bool {
		return !env.nav.Snapshot().Running
	}, 10*time.Second, 10*time.Millisecond)

	snap := env.nav.Snapshot()
	require.NotNil(t, snap.Last)
	assert.True(t, snap.Last.Reached)

	rec, _ = env.do(t, http.MethodGet, "/api/position", env.viewer, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	pos, err := env.mover.CurrentPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, vec.New(12, 64, -4), pos)

	rec, _ = env.do(t, http.MethodGet, "/api/navigation", env.viewer, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reached":true`)

	rec, _ = env.do(t, http.MethodDelete, "/api/navigation", env.operator, "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "нечего отменять")
}

func TestNavigateValidation(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/navigate", env.operator, `{"x":1,"z":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/navigate", env.operator, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/api/cache", env.viewer, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"session"`)

	rec, _ = env.do(t, http.MethodDelete, "/api/cache", env.operator, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/status", env.viewer, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"goroutines"`)
}
