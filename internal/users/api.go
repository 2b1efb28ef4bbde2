package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kinesia/kinesia/internal/platform/httpx"
	"github.com/kinesia/kinesia/internal/rbac"
	"github.com/kinesia/kinesia/internal/shared"
)

// APIHandler serves the JSON variant of the admin surface.
type APIHandler struct {
	logger  *slog.Logger
	service *Service
	table   *rbac.RoleTable
}

// NewAPIHandler builds APIHandler instance.
func NewAPIHandler(logger *slog.Logger, service *Service, table *rbac.RoleTable) *APIHandler {
	return &APIHandler{logger: logger, service: service, table: table}
}

// MountRoutes registers the JSON user routes.
func (h *APIHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Patch("/{id}/role", h.updateRole)
	r.Put("/{id}/permissions", h.updatePermissions)
	r.Delete("/{id}", h.delete)
}

// UserResponse is the wire form of a user row.
type UserResponse struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	Effective   []string  `json:"effective_permissions"`
	IsActive    bool      `json:"is_active"`
	IsSelf      bool      `json:"is_self"`
	CanEditRole bool      `json:"can_edit_role"`
	CanDelete   bool      `json:"can_delete"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type roleRequest struct {
	Role string `json:"role"`
}

type permissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (h *APIHandler) list(w http.ResponseWriter, r *http.Request) {
	authz := rbac.FromContext(r.Context())
	users, err := h.service.ListUsers(r.Context(), authz)
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	listing := NewListing(users, authz, h.table)
	out := make([]UserResponse, 0, len(listing.Rows))
	for _, row := range listing.Rows {
		out = append(out, toResponse(row))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": out})
}

func (h *APIHandler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateUserInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	authz := rbac.FromContext(r.Context())
	user, err := h.service.CreateUser(r.Context(), authz, input)
	if err != nil {
		h.fail(w, "create user", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.single(user, authz))
}

func (h *APIHandler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := apiID(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	authz := rbac.FromContext(r.Context())
	user, err := h.service.UpdateRole(r.Context(), authz, id, req.Role)
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.single(user, authz))
}

func (h *APIHandler) updatePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := apiID(w, r)
	if !ok {
		return
	}
	var req permissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	authz := rbac.FromContext(r.Context())
	user, err := h.service.UpdatePermissions(r.Context(), authz, id, req.Permissions)
	if err != nil {
		h.fail(w, "update permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.single(user, authz))
}

func (h *APIHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := apiID(w, r)
	if !ok {
		return
	}
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	if err := h.service.DeleteUser(r.Context(), rbac.FromContext(r.Context()), id, confirmed); err != nil {
		h.fail(w, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) single(user User, authz rbac.Context) UserResponse {
	row, _ := NewListing([]User{user}, authz, h.table).Row(user.ID)
	return toResponse(row)
}

func (h *APIHandler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, shared.ErrTransport) || !isDomainError(err) {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func isDomainError(err error) bool {
	for _, target := range []error{shared.ErrValidation, shared.ErrNotFound, shared.ErrForbidden, shared.ErrConflict, shared.ErrSelfModification, shared.ErrConfirmationRequired} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func apiID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}

func toResponse(row Row) UserResponse {
	perms := permissionsParam(row.Permissions)
	if perms == nil {
		perms = []string{}
	}
	effective := permissionsParam(row.Effective)
	if effective == nil {
		effective = []string{}
	}
	return UserResponse{
		ID:          row.ID,
		Email:       row.Email,
		Name:        row.Name,
		Role:        string(row.Role),
		Permissions: perms,
		Effective:   effective,
		IsActive:    row.IsActive,
		IsSelf:      row.IsSelf,
		CanEditRole: row.CanEditRole,
		CanDelete:   row.CanDelete,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
