package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinesia/kinesia/internal/shared"
	"github.com/kinesia/kinesia/internal/view"
)

func newBareRouter(t *testing.T) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	templates, err := view.NewEngine()
	require.NoError(t, err)
	return NewRouter(RouterParams{
		Config:         &Config{AppEnv: "development"},
		Templates:      templates,
		SessionManager: shared.NewSessionManager(client, "kinesia_session", time.Hour, false),
		CSRFManager:    shared.NewCSRFManager("test-secret"),
	})
}

func TestHealthz(t *testing.T) {
	router := newBareRouter(t)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"status":"ok"}`, res.Body.String())
}

func TestHomeRedirectsAnonymousToLogin(t *testing.T) {
	router := newBareRouter(t)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/login", res.Header().Get("Location"))
}

func TestStaticAssetsCached(t *testing.T) {
	router := newBareRouter(t)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/static/js/queue.js", nil))

	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "public, max-age=3600", res.Header().Get("Cache-Control"))
	assert.Contains(t, res.Body.String(), "EventSource")
}
