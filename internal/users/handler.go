package users

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

// Handler manages the admin user pages. It is mounted behind the admin guard.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	table     *rbac.RoleTable
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, table *rbac.RoleTable, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	return &Handler{logger: logger, service: service, table: table, templates: templates, csrf: csrf}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listUsers)
	r.Get("/new", h.showCreateUserForm)
	r.Post("/", h.createUser)
	r.Post("/{id}/role", h.updateRole)
	r.Post("/{id}/permissions", h.updatePermissions)
	r.Get("/{id}/delete", h.confirmDelete)
	r.Post("/{id}/delete", h.deleteUser)
}

type formErrors map[string]string

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	authz := rbac.FromContext(r.Context())
	users, err := h.service.ListUsers(r.Context(), authz)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		h.render(w, r, "pages/users_list.html", map[string]any{
			"Listing": NewListing(nil, authz, h.table),
			"Errors":  formErrors{"general": shared.UserSafeMessage(err)},
		}, http.StatusServiceUnavailable)
		return
	}
	h.render(w, r, "pages/users_list.html", map[string]any{"Listing": NewListing(users, authz, h.table)}, http.StatusOK)
}

func (h *Handler) showCreateUserForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/users_form.html", map[string]any{
		"Form":   CreateUserInput{Role: string(rbac.DefaultRole)},
		"Roles":  h.table.Roles(),
		"Errors": formErrors{},
	}, http.StatusOK)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	input := CreateUserInput{
		Name:        r.PostFormValue("name"),
		Email:       r.PostFormValue("email"),
		Role:        r.PostFormValue("role"),
		Password:    r.PostFormValue("password"),
		Permissions: r.PostForm["permissions"],
	}
	user, err := h.service.CreateUser(r.Context(), rbac.FromContext(r.Context()), input)
	if err != nil {
		var fieldErrs shared.ValidationErrors
		errs := formErrors{"general": shared.UserSafeMessage(err)}
		status := http.StatusInternalServerError
		if errors.As(err, &fieldErrs) {
			errs = formErrors(fieldErrs)
			status = http.StatusUnprocessableEntity
		} else {
			h.logger.Error("create user failed", slog.Any("error", err))
		}
		input.Password = ""
		h.render(w, r, "pages/users_form.html", map[string]any{"Form": input, "Roles": h.table.Roles(), "Errors": errs}, status)
		return
	}
	h.redirectWithFlash(w, r, "/admin/users", "success", "Usuario "+user.Email+" creado")
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.service.UpdateRole(r.Context(), rbac.FromContext(r.Context()), id, r.PostFormValue("role")); err != nil {
		h.mutationFailed(w, r, "update role", err)
		return
	}
	h.redirectWithFlash(w, r, "/admin/users", "success", "Rol actualizado")
}

func (h *Handler) updatePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if _, err := h.service.UpdatePermissions(r.Context(), rbac.FromContext(r.Context()), id, r.PostForm["permissions"]); err != nil {
		h.mutationFailed(w, r, "update permissions", err)
		return
	}
	h.redirectWithFlash(w, r, "/admin/users", "success", "Permisos actualizados")
}

func (h *Handler) confirmDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	authz := rbac.FromContext(r.Context())
	users, err := h.service.ListUsers(r.Context(), authz)
	if err != nil {
		h.mutationFailed(w, r, "load user", err)
		return
	}
	row, found := NewListing(users, authz, h.table).Row(id)
	if !found || !row.CanDelete {
		h.redirectWithFlash(w, r, "/admin/users", "error", shared.UserSafeMessage(shared.ErrNotFound))
		return
	}
	h.render(w, r, "pages/users_delete.html", map[string]any{"User": row.User}, http.StatusOK)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	confirmed := r.PostFormValue("confirm") == "yes"
	err := h.service.DeleteUser(r.Context(), rbac.FromContext(r.Context()), id, confirmed)
	switch {
	case errors.Is(err, shared.ErrConfirmationRequired):
		h.redirectWithFlash(w, r, "/admin/users", "info", "Eliminación cancelada")
	case err != nil:
		h.mutationFailed(w, r, "delete user", err)
	default:
		h.redirectWithFlash(w, r, "/admin/users", "success", "Usuario eliminado")
	}
}

func (h *Handler) mutationFailed(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, shared.ErrForbidden) {
		rbac.Deny(w, r, rbac.FromContext(r.Context()))
		return
	}
	if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrSelfModification) && !errors.Is(err, shared.ErrNotFound) {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	h.redirectWithFlash(w, r, "/admin/users", "error", shared.UserSafeMessage(err))
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(sess)
	viewData := view.TemplateData{
		Title:       "Usuarios",
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
