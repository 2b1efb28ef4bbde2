package contact

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kinesia/kinesia/internal/rbac"
	"github.com/kinesia/kinesia/internal/shared"
	"github.com/kinesia/kinesia/internal/view"
)

// Handler serves the public access request form.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf}
}

// MountRoutes registers contact routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.show)
	r.Post("/", h.submit)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, Input{}, map[string]string{}, http.StatusOK)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	in := Input{
		Name:    r.PostFormValue("name"),
		Email:   r.PostFormValue("email"),
		Message: r.PostFormValue("message"),
	}
	err := h.service.Submit(r.Context(), in)
	var fieldErrs shared.ValidationErrors
	switch {
	case err == nil:
		h.flash(r, "success", "Solicitud enviada. Te contactaremos pronto.")
	case errors.As(err, &fieldErrs):
		h.render(w, r, in, fieldErrs, http.StatusUnprocessableEntity)
		return
	default:
		h.logger.Error("contact submit failed", slog.Any("error", err))
		h.flash(r, "error", "No pudimos enviar la solicitud. Intenta más tarde.")
	}
	http.Redirect(w, r, "/contact", http.StatusSeeOther)
}

func (h *Handler) flash(r *http.Request, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, form Input, errs map[string]string, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(sess)
	viewData := view.TemplateData{
		Title:       "Solicitar acceso",
		CSRFToken:   csrfToken,
		Flash:       sess.PopFlash(),
		CurrentPath: r.URL.Path,
		Authz:       rbac.FromContext(r.Context()),
		Data:        map[string]any{"Form": form, "Errors": errs},
	}
	if err := h.templates.Render(w, status, "pages/contact.html", viewData); err != nil {
		h.logger.Error("render contact", slog.Any("error", err))
	}
}
