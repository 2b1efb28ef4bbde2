package app

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinesia/kinesia/internal/shared"
	_ "github.com/kinesia/kinesia/testing"
)

type stackFixture struct {
	router   http.Handler
	sessions *shared.SessionManager
}

func newStackFixture(t *testing.T) stackFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(client, "kinesia_session", time.Hour, false)
	csrf := shared.NewCSRFManager("test-secret")

	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Config:         &Config{AppEnv: "development"},
		SessionManager: sessions,
		CSRFManager:    csrf,
	}) {
		r.Use(mw)
	}
	r.Get("/token", func(w http.ResponseWriter, r *http.Request) {
		token, err := csrf.EnsureToken(shared.SessionFromContext(r.Context()))
		require.NoError(t, err)
		_, _ = io.WriteString(w, token)
	})
	r.Post("/submit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return stackFixture{router: r, sessions: sessions}
}

func (f stackFixture) issueToken(t *testing.T) (*http.Cookie, string) {
	t.Helper()
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/token", nil))
	require.Equal(t, http.StatusOK, res.Code)
	for _, c := range res.Result().Cookies() {
		if c.Name == f.sessions.CookieName() {
			return c, res.Body.String()
		}
	}
	t.Fatal("session cookie not issued")
	return nil, ""
}

func TestCSRFRejectsMissingToken(t *testing.T) {
	f := newStackFixture(t)
	cookie, _ := f.issueToken(t)

	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.AddCookie(cookie)
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)

	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestCSRFAcceptsHeaderAndFormToken(t *testing.T) {
	f := newStackFixture(t)
	cookie, token := f.issueToken(t)

	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.AddCookie(cookie)
	req.Header.Set(shared.CSRFHeader, token)
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	assert.Equal(t, http.StatusNoContent, res.Code)

	form := url.Values{shared.CSRFFormField: {token}}
	req = httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	res = httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	assert.Equal(t, http.StatusNoContent, res.Code)
}

func TestCSRFRejectsTokenFromAnotherSession(t *testing.T) {
	f := newStackFixture(t)
	_, foreign := f.issueToken(t)
	cookie, _ := f.issueToken(t)

	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.AddCookie(cookie)
	req.Header.Set(shared.CSRFHeader, foreign)
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)

	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestSecureHeadersApplied(t *testing.T) {
	f := newStackFixture(t)
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/token", nil))

	assert.Equal(t, "DENY", res.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, res.Header().Get("Content-Security-Policy"), "default-src 'self'")
}

func TestStrictLimitCountsOnlyPosts(t *testing.T) {
	r := chi.NewRouter()
	r.Use(strictLimit())
	r.Get("/login", func(w http.ResponseWriter, r *http.Request) {})
	r.Post("/login", func(w http.ResponseWriter, r *http.Request) {})

	for i := 0; i < 20; i++ {
		res := httptest.NewRecorder()
		r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/login", nil))
		require.Equal(t, http.StatusOK, res.Code)
	}
	for i := 0; i < 10; i++ {
		res := httptest.NewRecorder()
		r.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/login", nil))
		require.Equal(t, http.StatusOK, res.Code, "attempt %d", i+1)
	}
	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, res.Code)
	assert.Contains(t, res.Body.String(), "Demasiados intentos")
}

func TestUnlessStreamingBypassesWrappedMiddleware(t *testing.T) {
	blocked := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
	}
	h := unlessStreaming(blocked)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	res := httptest.NewRecorder()
	h.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/queue/events", nil))
	assert.Equal(t, http.StatusTeapot, res.Code)

	req := httptest.NewRequest(http.MethodGet, "/queue/events", nil)
	req.Header.Set("Accept", "text/event-stream")
	res = httptest.NewRecorder()
	h.ServeHTTP(res, req)
	assert.Equal(t, http.StatusOK, res.Code)
}
