package patients

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kinesia/kinesia/internal/rbac"
	"github.com/kinesia/kinesia/internal/shared"
	"github.com/kinesia/kinesia/internal/view"
)

// Handler serves the patient pages.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbac}
}

// MountRoutes registers patient routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.ViewPatients, rbac.EditPatients))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.EditPatients))
		r.Get("/new", h.newForm)
		r.Post("/", h.create)
		r.Get("/{id}/edit", h.editForm)
		r.Post("/{id}", h.update)
	})
}

type formErrors map[string]string

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	patients, err := h.service.List(r.Context(), rbac.FromContext(r.Context()), q)
	if err != nil {
		h.logger.Error("list patients failed", slog.Any("error", err))
		h.render(w, r, "pages/patients_list.html", map[string]any{"Query": q, "Errors": formErrors{"general": shared.UserSafeMessage(err)}}, http.StatusServiceUnavailable)
		return
	}
	h.render(w, r, "pages/patients_list.html", map[string]any{"Query": q, "Patients": patients}, http.StatusOK)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	p, ok := h.load(w, r)
	if !ok {
		return
	}
	h.render(w, r, "pages/patients_show.html", map[string]any{"Patient": p}, http.StatusOK)
}

func (h *Handler) newForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/patients_form.html", map[string]any{"Form": Input{}, "Errors": formErrors{}}, http.StatusOK)
}

func (h *Handler) editForm(w http.ResponseWriter, r *http.Request) {
	p, ok := h.load(w, r)
	if !ok {
		return
	}
	h.render(w, r, "pages/patients_form.html", map[string]any{"ID": p.ID, "Form": FromPatient(p), "Errors": formErrors{}}, http.StatusOK)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	in, ok := parseInput(w, r)
	if !ok {
		return
	}
	p, err := h.service.Create(r.Context(), rbac.FromContext(r.Context()), in)
	if err != nil {
		h.formFailed(w, r, 0, in, err)
		return
	}
	h.redirectWithFlash(w, r, "/patients/"+strconv.FormatInt(p.ID, 10), "success", "Paciente registrado")
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	in, ok := parseInput(w, r)
	if !ok {
		return
	}
	p, err := h.service.Update(r.Context(), rbac.FromContext(r.Context()), id, in)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.formFailed(w, r, id, in, err)
		return
	}
	h.redirectWithFlash(w, r, "/patients/"+strconv.FormatInt(p.ID, 10), "success", "Paciente actualizado")
}

func (h *Handler) formFailed(w http.ResponseWriter, r *http.Request, id int64, in Input, err error) {
	var fieldErrs shared.ValidationErrors
	errs := formErrors{"general": shared.UserSafeMessage(err)}
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &fieldErrs):
		errs = formErrors(fieldErrs)
		status = http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrForbidden):
		rbac.Deny(w, r, rbac.FromContext(r.Context()))
		return
	default:
		h.logger.Error("save patient failed", slog.Any("error", err))
	}
	data := map[string]any{"Form": in, "Errors": errs}
	if id > 0 {
		data["ID"] = id
	}
	h.render(w, r, "pages/patients_form.html", data, status)
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (Patient, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return Patient{}, false
	}
	p, err := h.service.Get(r.Context(), rbac.FromContext(r.Context()), id)
	switch {
	case err == nil:
		return p, true
	case errors.Is(err, shared.ErrNotFound):
		http.NotFound(w, r)
	case errors.Is(err, shared.ErrForbidden):
		rbac.Deny(w, r, rbac.FromContext(r.Context()))
	default:
		h.logger.Error("load patient failed", slog.Any("error", err))
		http.Error(w, shared.UserSafeMessage(err), http.StatusServiceUnavailable)
	}
	return Patient{}, false
}

func parseInput(w http.ResponseWriter, r *http.Request) (Input, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return Input{}, false
	}
	return Input{
		FullName:  r.PostFormValue("full_name"),
		Document:  r.PostFormValue("document"),
		Phone:     r.PostFormValue("phone"),
		Email:     r.PostFormValue("email"),
		BirthDate: r.PostFormValue("birth_date"),
		Notes:     r.PostFormValue("notes"),
	}, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.NotFound(w, r)
		return 0, false
	}
	return id, true
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(sess)
	viewData := view.TemplateData{
		Title:       "Pacientes",
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

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
