package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/kinesia/kinesia/internal/patients"
	"github.com/kinesia/kinesia/internal/platform/httpx"
	"github.com/kinesia/kinesia/internal/rbac"
	"github.com/kinesia/kinesia/internal/shared"
	"github.com/kinesia/kinesia/internal/view"
)

var errStreamClosed = errors.New("queue: call stream closed")

// Subscriber streams call events.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan CallEvent, error)
}

// PatientLister supplies the patients offered in the add-to-queue form.
type PatientLister interface {
	List(ctx context.Context, authz rbac.Context, q string) ([]patients.Patient, error)
}

// Handler serves the queue pages, actions and event stream.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	events    Subscriber
	patients  PatientLister
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
	heartbeat time.Duration
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, events Subscriber, patients PatientLister, templates *view.Engine, csrf *shared.CSRFManager, rbac rbac.Middleware) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		events:    events,
		patients:  patients,
		templates: templates,
		csrf:      csrf,
		rbac:      rbac,
		heartbeat: 15 * time.Second,
	}
}

// MountRoutes registers queue routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.ViewQueue, rbac.ManageQueue))
		r.Get("/", h.list)
		r.Get("/display", h.display)
		r.Get("/events", h.stream)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.ManageQueue))
		r.Post("/", h.add)
		r.Post("/next", h.callNext)
		r.Post("/{id}/done", h.complete)
		r.Post("/{id}/cancel", h.cancel)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.ConfigureQueue))
		r.Get("/settings", h.showSettings)
		r.Post("/settings", h.saveSettings)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	authz := rbac.FromContext(r.Context())
	appointments, err := h.service.Today(r.Context(), authz)
	if err != nil {
		h.logger.Error("list queue failed", slog.Any("error", err))
		h.render(w, r, "pages/queue_list.html", map[string]any{"Errors": map[string]string{"general": shared.UserSafeMessage(err)}}, http.StatusServiceUnavailable)
		return
	}
	var options []patients.Patient
	if h.patients != nil && authz.Has(rbac.ManageQueue) {
		if options, err = h.patients.List(r.Context(), authz, ""); err != nil {
			options = nil
		}
	}
	h.render(w, r, "pages/queue_list.html", map[string]any{"Appointments": appointments, "Patients": options}, http.StatusOK)
}

func (h *Handler) display(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/queue_display.html", map[string]any{"Sounds": Sounds()}, http.StatusOK)
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	patientID, _ := strconv.ParseInt(r.PostFormValue("patient_id"), 10, 64)
	a, err := h.service.Add(r.Context(), rbac.FromContext(r.Context()), patientID)
	if err != nil {
		h.actionFailed(w, r, "add to queue", err)
		return
	}
	h.respond(w, r, http.StatusCreated, a, "Turno "+strconv.Itoa(a.Ticket)+" asignado a "+a.PatientName)
}

func (h *Handler) callNext(w http.ResponseWriter, r *http.Request) {
	a, ev, err := h.service.CallNext(r.Context(), rbac.FromContext(r.Context()))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			if httpx.WantsJSON(r) {
				httpx.Problem(w, http.StatusNotFound, "Not Found", "No hay pacientes en espera")
				return
			}
			h.redirectWithFlash(w, r, "info", "No hay pacientes en espera")
			return
		}
		h.actionFailed(w, r, "call next", err)
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, ev)
		return
	}
	h.redirectWithFlash(w, r, "success", "Llamando turno "+strconv.Itoa(a.Ticket)+": "+a.PatientName)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Complete, "Turno finalizado")
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel, "Turno cancelado")
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, rbac.Context, int64) (Appointment, error), message string) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.NotFound(w, r)
		return
	}
	a, err := fn(r.Context(), rbac.FromContext(r.Context()), id)
	if err != nil {
		h.actionFailed(w, r, "queue transition", err)
		return
	}
	h.respond(w, r, http.StatusOK, a, message)
}

func (h *Handler) showSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.Settings(r.Context(), rbac.FromContext(r.Context()))
	if err != nil {
		h.logger.Error("load queue settings failed", slog.Any("error", err))
		settings = DefaultSettings()
	}
	h.render(w, r, "pages/queue_settings.html", map[string]any{
		"Form":   SettingsInput{SoundEnabled: settings.SoundEnabled, Sound: string(settings.Sound), Volume: settings.Volume, Repeat: settings.Repeat},
		"Sounds": Sounds(),
		"Errors": map[string]string{},
	}, http.StatusOK)
}

func (h *Handler) saveSettings(w http.ResponseWriter, r *http.Request) {
	var in SettingsInput
	if httpx.WantsJSON(r) {
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	} else {
		in.SoundEnabled = r.PostFormValue("sound_enabled") == "on"
		in.Sound = r.PostFormValue("sound")
		in.Volume, _ = strconv.Atoi(r.PostFormValue("volume"))
		in.Repeat, _ = strconv.Atoi(r.PostFormValue("repeat"))
	}
	settings, err := h.service.SaveSettings(r.Context(), rbac.FromContext(r.Context()), in)
	if err != nil {
		var fieldErrs shared.ValidationErrors
		switch {
		case httpx.WantsJSON(r):
			httpx.RespondError(w, err)
		case errors.As(err, &fieldErrs):
			h.render(w, r, "pages/queue_settings.html", map[string]any{"Form": in, "Sounds": Sounds(), "Errors": map[string]string(fieldErrs)}, http.StatusUnprocessableEntity)
		default:
			h.actionFailed(w, r, "save queue settings", err)
		}
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, settings)
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Configuración guardada"})
	}
	http.Redirect(w, r, "/queue/settings", http.StatusSeeOther)
}

// stream pushes call events as server-sent events until the client goes away.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events, err := h.events.Subscribe(ctx)
	if err != nil {
		h.logger.Error("subscribe to calls", slog.Any("error", err))
		http.Error(w, shared.UserSafeMessage(err), http.StatusServiceUnavailable)
		return
	}

	// The server write timeout would otherwise cut the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("retry: 3000\n\n"))
	flusher.Flush()

	frames := make(chan []byte)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case ev, ok := <-events:
				if !ok {
					return errStreamClosed
				}
				data, err := json.Marshal(ev)
				if err != nil {
					return err
				}
				select {
				case frames <- append(append([]byte("event: call\ndata: "), data...), '\n', '\n'):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				select {
				case frames <- []byte(": ping\n\n"):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
	})
	go func() {
		_ = g.Wait()
		close(frames)
	}()

	for frame := range frames {
		if ctx.Err() != nil {
			continue
		}
		if _, err := w.Write(frame); err != nil {
			cancel()
			continue
		}
		flusher.Flush()
	}
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, a Appointment, message string) {
	if httpx.WantsJSON(r) {
		httpx.JSON(w, status, a)
		return
	}
	h.redirectWithFlash(w, r, "success", message)
}

func (h *Handler) actionFailed(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.WantsJSON(r) {
		if errors.Is(err, shared.ErrTransport) {
			h.logger.Error(op+" failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	if errors.Is(err, shared.ErrForbidden) {
		rbac.Deny(w, r, rbac.FromContext(r.Context()))
		return
	}
	if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrNotFound) {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	h.redirectWithFlash(w, r, "error", shared.UserSafeMessage(err))
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(sess)
	viewData := view.TemplateData{
		Title:       "Cola de atención",
		CSRFToken:   csrfToken,
		Flash:       sess.PopFlash(),
		CurrentPath: r.URL.Path,
		Authz:       rbac.FromContext(r.Context()),
		Data:        data,
	}
	if err := h.templates.Render(w, status, template, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, "/queue", http.StatusSeeOther)
}
