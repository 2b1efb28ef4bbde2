package contact

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinesia/kinesia/internal/shared"
	"github.com/kinesia/kinesia/internal/view"
	"github.com/kinesia/kinesia/jobs"
	_ "github.com/kinesia/kinesia/testing"
)

type recordingQueue struct {
	payloads []jobs.SendEmailPayload
	opts     [][]asynq.Option
	err      error
}

func (q *recordingQueue) EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload, opts ...asynq.Option) error {
	if q.err != nil {
		return q.err
	}
	q.payloads = append(q.payloads, payload)
	q.opts = append(q.opts, opts)
	return nil
}

func TestSubmitEnqueuesSingleAttempt(t *testing.T) {
	queue := &recordingQueue{}
	svc := NewService(queue, "admin@clinica.test", nil)

	err := svc.Submit(context.Background(), Input{Name: "  Lucía   Ramos ", Email: "Lucia@Mail.test", Message: "Quisiera acceso"})
	require.NoError(t, err)

	require.Len(t, queue.payloads, 1)
	got := queue.payloads[0]
	assert.Equal(t, "admin@clinica.test", got.To)
	assert.Equal(t, "lucia@mail.test", got.ReplyTo)
	assert.Equal(t, "Solicitud de acceso: Lucía Ramos", got.Subject)
	assert.Contains(t, got.Body, "Quisiera acceso")
	require.Len(t, queue.opts[0], 1)
	assert.Equal(t, asynq.MaxRetryOpt, queue.opts[0][0].Type())
	assert.Equal(t, 0, queue.opts[0][0].Value())
}

func TestSubmitValidation(t *testing.T) {
	queue := &recordingQueue{}
	svc := NewService(queue, "admin@clinica.test", nil)

	err := svc.Submit(context.Background(), Input{Name: "", Email: "nope", Message: " "})
	var fieldErrs shared.ValidationErrors
	require.True(t, errors.As(err, &fieldErrs))
	assert.Equal(t, "Campo obligatorio", fieldErrs["name"])
	assert.Equal(t, "Email inválido", fieldErrs["email"])
	assert.Equal(t, "Campo obligatorio", fieldErrs["message"])
	assert.Empty(t, queue.payloads)
}

func TestSubmitQueueFailure(t *testing.T) {
	svc := NewService(&recordingQueue{err: errors.New("redis down")}, "admin@clinica.test", nil)
	err := svc.Submit(context.Background(), Input{Name: "Ana", Email: "ana@x.test", Message: "hola"})
	assert.ErrorIs(t, err, shared.ErrTransport)
}

func contactRouter(t *testing.T, queue Enqueuer) http.Handler {
	t.Helper()
	templates, err := view.NewEngine()
	require.NoError(t, err)
	h := NewHandler(slog.Default(), NewService(queue, "admin@clinica.test", nil), templates, shared.NewCSRFManager("secret"))
	r := chi.NewRouter()
	r.Route("/contact", h.MountRoutes)
	return r
}

func postContact(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/contact/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req.WithContext(shared.ContextWithSession(req.Context(), &shared.Session{ID: "test"}))
}

func TestContactHandlerFlashesOutcome(t *testing.T) {
	queue := &recordingQueue{}
	router := contactRouter(t, queue)

	req := postContact(url.Values{"name": {"Ana"}, "email": {"ana@x.test"}, "message": {"hola"}})
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	assert.Equal(t, http.StatusSeeOther, res.Code)
	flash := shared.SessionFromContext(req.Context()).PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "success", flash.Kind)

	queue.err = errors.New("redis down")
	req = postContact(url.Values{"name": {"Ana"}, "email": {"ana@x.test"}, "message": {"hola"}})
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	assert.Equal(t, http.StatusSeeOther, res.Code)
	flash = shared.SessionFromContext(req.Context()).PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "error", flash.Kind)
}

func TestContactHandlerRerendersInvalidForm(t *testing.T) {
	router := contactRouter(t, &recordingQueue{})
	res := httptest.NewRecorder()
	router.ServeHTTP(res, postContact(url.Values{"name": {"Ana"}, "email": {"bad"}, "message": {"hola"}}))
	assert.Equal(t, http.StatusUnprocessableEntity, res.Code)
	assert.Contains(t, res.Body.String(), "Email inválido")
	assert.Contains(t, res.Body.String(), `value="Ana"`)
}
