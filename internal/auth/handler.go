package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kinesia/kinesia/internal/rbac"
	"github.com/kinesia/kinesia/internal/shared"
	"github.com/kinesia/kinesia/internal/view"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      shared.NewValidator(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Email    string `form:"email" validate:"required,email"`
	Password string `form:"password" validate:"required"`
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	if shared.PrincipalFromContext(r.Context()) != "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.renderLogin(w, r, loginPageData{Errors: map[string]string{}}, http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	form := loginForm{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	formErrs := map[string]string{}
	if err := shared.ValidateStruct(h.validator, form); err != nil {
		var fieldErrs shared.ValidationErrors
		if errors.As(err, &fieldErrs) {
			formErrs = fieldErrs
		} else {
			formErrs["general"] = shared.UserSafeMessage(err)
		}
	}

	if len(formErrs) == 0 {
		cred, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
		switch {
		case err == nil && sess != nil:
			h.sessionManager.Renew(sess)
			h.csrfManager.Rotate(sess)
			sess.SetPrincipal(cred.Email)
			sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Bienvenida/o, " + cred.Name})
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		case err == nil:
			h.logger.Error("session missing during login")
			formErrs["general"] = shared.UserSafeMessage(errors.New("session missing"))
		case errors.Is(err, shared.ErrInvalidCredentials):
			formErrs["general"] = shared.UserSafeMessage(err)
		default:
			h.logger.Error("authenticate", slog.Any("error", err))
			formErrs["general"] = shared.UserSafeMessage(err)
		}
	}

	form.Password = ""
	h.renderLogin(w, r, loginPageData{Form: form, Errors: formErrs}, http.StatusBadRequest)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.service.SignedOut(r.Context(), sess.Principal())
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, data loginPageData, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(sess)
	viewData := view.TemplateData{
		Title:       "Ingresar",
		CSRFToken:   csrfToken,
		Flash:       sess.PopFlash(),
		CurrentPath: r.URL.Path,
		Authz:       rbac.Anonymous(),
		Data:        data,
	}
	if err := h.templates.Render(w, status, "pages/login.html", viewData); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
	}
}
