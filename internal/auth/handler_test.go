package auth_test

import (
	"context"
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
	"golang.org/x/crypto/bcrypt"

	"github.com/kinesia/kinesia/internal/auth"
	"github.com/kinesia/kinesia/internal/shared"
	"github.com/kinesia/kinesia/internal/view"
	_ "github.com/kinesia/kinesia/testing"
)

type stubRepo struct {
	cred *auth.Credential
	err  error
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.Credential, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.cred == nil || s.cred.Email != email {
		return nil, shared.ErrNotFound
	}
	return s.cred, nil
}

type auditLog struct{ actions []string }

func (a *auditLog) Record(ctx context.Context, entry shared.AuditLog) error {
	a.actions = append(a.actions, entry.Action)
	return nil
}

type authFixture struct {
	router   http.Handler
	sessions *shared.SessionManager
	audit    *auditLog
}

func newAuthFixture(t *testing.T, repo auth.Repository) authFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := shared.NewSessionManager(redisClient, "test_session", time.Hour, false)
	csrf := shared.NewCSRFManager("csrfsecret")
	templates, err := view.NewEngine()
	require.NoError(t, err)
	audit := &auditLog{}
	handler := auth.NewHandler(nil, auth.NewService(repo, audit, nil), templates, sessions, csrf)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sessions.Load(r.Context(), r)
			require.NoError(t, err)
			ctx := shared.ContextWithSession(r.Context(), sess)
			next.ServeHTTP(&committingWriter{ResponseWriter: w, commit: func() {
				require.NoError(t, sessions.Commit(ctx, w, sess))
			}}, r.WithContext(ctx))
		})
	})
	handler.MountRoutes(r)
	return authFixture{router: r, sessions: sessions, audit: audit}
}

// committingWriter persists the session before headers are flushed.
type committingWriter struct {
	http.ResponseWriter
	commit    func()
	committed bool
}

func (c *committingWriter) WriteHeader(status int) {
	if !c.committed {
		c.committed = true
		c.commit()
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *committingWriter) Write(b []byte) (int, error) {
	if !c.committed {
		c.WriteHeader(http.StatusOK)
	}
	return c.ResponseWriter.Write(b)
}

func sessionCookie(res *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range res.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestLoginPage(t *testing.T) {
	f := newAuthFixture(t, &stubRepo{})

	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/login", nil))

	assert.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "<form")
	assert.Contains(t, res.Body.String(), `name="csrf_token"`)
	assert.NotNil(t, sessionCookie(res, f.sessions.CookieName()))
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newAuthFixture(t, &stubRepo{cred: &auth.Credential{ID: 1, Email: "user@test.local", PasswordHash: hashed(t, "correctpass"), IsActive: true}})

	form := url.Values{"email": {"user@test.local"}, "password": {"wrongpass"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)

	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "Email o contraseña incorrectos")
	assert.Empty(t, f.audit.actions)
}

func TestLoginValidationErrors(t *testing.T) {
	f := newAuthFixture(t, &stubRepo{})

	form := url.Values{"email": {"not-an-email"}, "password": {""}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)

	assert.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, res.Body.String(), "Email inválido")
	assert.Contains(t, res.Body.String(), "Campo obligatorio")
}

func TestLoginSuccessRenewsSessionAndLogoutDestroysIt(t *testing.T) {
	f := newAuthFixture(t, &stubRepo{cred: &auth.Credential{ID: 7, Email: "user@test.local", Name: "Ursula", PasswordHash: hashed(t, "correctpass"), IsActive: true}})

	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/login", nil))
	before := sessionCookie(res, f.sessions.CookieName())
	require.NotNil(t, before)

	form := url.Values{"email": {"User@Test.local"}, "password": {"correctpass"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(before)
	res = httptest.NewRecorder()
	f.router.ServeHTTP(res, req)

	require.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/", res.Header().Get("Location"))
	after := sessionCookie(res, f.sessions.CookieName())
	require.NotNil(t, after)
	assert.NotEqual(t, before.Value, after.Value)

	check := httptest.NewRequest(http.MethodGet, "/", nil)
	check.AddCookie(after)
	sess, err := f.sessions.Load(context.Background(), check)
	require.NoError(t, err)
	assert.Equal(t, "user@test.local", sess.Principal())

	req = httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(after)
	res = httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	assert.Equal(t, "/login", res.Header().Get("Location"))

	sess, err = f.sessions.Load(context.Background(), check)
	require.NoError(t, err)
	assert.Empty(t, sess.Principal())
	assert.Equal(t, []string{"auth.login", "auth.logout"}, f.audit.actions)
}

func TestAuthenticateStoreOutage(t *testing.T) {
	svc := auth.NewService(&stubRepo{err: shared.ErrTransport}, nil, nil)
	_, err := svc.Authenticate(context.Background(), "a@x.com", "whatever")
	assert.ErrorIs(t, err, shared.ErrTransport)
}
