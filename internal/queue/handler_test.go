package queue

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinesia/kinesia/internal/rbac"
	"github.com/kinesia/kinesia/internal/shared"
	"github.com/kinesia/kinesia/internal/view"
	_ "github.com/kinesia/kinesia/testing"
)

type fixedSubscriber struct{ events []CallEvent }

func (f fixedSubscriber) Subscribe(ctx context.Context) (<-chan CallEvent, error) {
	out := make(chan CallEvent, len(f.events))
	for _, ev := range f.events {
		out <- ev
	}
	close(out)
	return out, nil
}

func newQueueRouter(t *testing.T, f queueFixture, sub Subscriber) http.Handler {
	t.Helper()
	templates, err := view.NewEngine()
	require.NoError(t, err)
	h := NewHandler(slog.Default(), f.svc, sub, nil, templates, shared.NewCSRFManager("secret"), rbac.Middleware{Logger: slog.Default()})
	r := chi.NewRouter()
	r.Route("/queue", h.MountRoutes)
	return r
}

func queueRequest(method, target string, authz rbac.Context, body url.Values) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(body.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	ctx := shared.ContextWithSession(req.Context(), &shared.Session{ID: "test"})
	return req.WithContext(rbac.WithContext(ctx, authz))
}

func TestStreamWritesCallEvents(t *testing.T) {
	f := newQueueFixture()
	router := newQueueRouter(t, f, fixedSubscriber{events: []CallEvent{{AppointmentID: 3, Ticket: 12, PatientName: "Ana Pérez", Sound: SoundBell, Volume: 60, Repeat: 2}}})

	res := httptest.NewRecorder()
	router.ServeHTTP(res, queueRequest(http.MethodGet, "/queue/events", staff(rbac.ViewQueue), nil))

	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "text/event-stream", res.Header().Get("Content-Type"))
	body := res.Body.String()
	assert.Contains(t, body, "event: call\n")
	assert.Contains(t, body, `"ticket":12`)
	assert.Contains(t, body, `"sound":"bell"`)
}

func TestStreamRequiresQueueAccess(t *testing.T) {
	f := newQueueFixture()
	router := newQueueRouter(t, f, fixedSubscriber{})

	res := httptest.NewRecorder()
	req := queueRequest(http.MethodGet, "/queue/events", staff(rbac.ViewPatients), nil)
	req.Header.Set("Accept", "application/json")
	router.ServeHTTP(res, req)
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestCallNextJSON(t *testing.T) {
	f := newQueueFixture()
	_, err := f.svc.Add(context.Background(), staff(rbac.ManageQueue), 2)
	require.NoError(t, err)
	router := newQueueRouter(t, f, fixedSubscriber{})

	req := queueRequest(http.MethodPost, "/queue/next", staff(rbac.ManageQueue), nil)
	req.Header.Set("Accept", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"patient_name":"Bruno Díaz"`)

	res = httptest.NewRecorder()
	router.ServeHTTP(res, req.Clone(req.Context()))
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestAddFormRedirectsWithFlash(t *testing.T) {
	f := newQueueFixture()
	router := newQueueRouter(t, f, fixedSubscriber{})

	req := queueRequest(http.MethodPost, "/queue", staff(rbac.ManageQueue), url.Values{"patient_id": {"1"}})
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	assert.Equal(t, http.StatusSeeOther, res.Code)
	assert.Equal(t, "/queue", res.Header().Get("Location"))
	sess := shared.SessionFromContext(req.Context())
	flash := sess.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "Turno 1 asignado a Ana Pérez", flash.Message)
}

func TestSettingsFormRerendersOnError(t *testing.T) {
	f := newQueueFixture()
	router := newQueueRouter(t, f, fixedSubscriber{})

	form := url.Values{"sound": {"siren"}, "volume": {"50"}, "repeat": {"1"}}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, queueRequest(http.MethodPost, "/queue/settings", staff(rbac.ConfigureQueue), form))

	assert.Equal(t, http.StatusUnprocessableEntity, res.Code)
	assert.Contains(t, res.Body.String(), "Valor no permitido")
	assert.Nil(t, f.settings.saved)
}
