package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kinesia/kinesia/internal/rbac"
	"github.com/kinesia/kinesia/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	List(ctx context.Context) ([]User, error)
	GetByID(ctx context.Context, id int64) (User, error)
	Create(ctx context.Context, in NewUser) (User, error)
	UpdateRole(ctx context.Context, id int64, role rbac.Role) (User, error)
	UpdatePermissions(ctx context.Context, id int64, perms []rbac.Permission) (User, error)
	Delete(ctx context.Context, id int64) error
}

// Notifier delivers account emails. A nil Notifier disables them.
type Notifier interface {
	SendWelcome(ctx context.Context, email, name, initialPassword string) error
}

// Service handles user administration. Every mutation requires an admin actor and
// refuses to change or delete the actor's own account.
type Service struct {
	repo      RepositoryPort
	audit     shared.AuditRecorder
	notifier  Notifier
	validator *validator.Validate
	logger    *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		audit:     audit,
		notifier:  notifier,
		validator: shared.NewValidator(),
		logger:    logger,
	}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context, actor rbac.Context) ([]User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.repo.List(ctx)
}

// CreateUser validates the input and stores a new user. Invalid input never reaches the store.
func (s *Service) CreateUser(ctx context.Context, actor rbac.Context, in CreateUserInput) (User, error) {
	if err := requireAdmin(actor); err != nil {
		return User{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Role = strings.TrimSpace(in.Role)

	fieldErrs := shared.ValidationErrors{}
	if err := shared.ValidateStruct(s.validator, in); err != nil {
		verr, ok := err.(shared.ValidationErrors)
		if !ok {
			return User{}, err
		}
		fieldErrs = verr
	}
	role := rbac.DefaultRole
	if in.Role != "" {
		parsed, err := rbac.ParseRole(in.Role)
		if err != nil {
			fieldErrs["role"] = "Rol desconocido"
		}
		role = parsed
	}
	perms, err := rbac.ParsePermissions(nonEmpty(in.Permissions))
	if err != nil {
		fieldErrs["permissions"] = "Permiso desconocido"
	}
	if len(fieldErrs) > 0 {
		return User{}, fieldErrs
	}

	password := in.Password
	generated := password == ""
	if generated {
		if password, err = randomPassword(); err != nil {
			return User{}, err
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}

	user, err := s.repo.Create(ctx, NewUser{
		Email:        in.Email,
		Name:         in.Name,
		Role:         role,
		Permissions:  perms,
		PasswordHash: string(hash),
	})
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			return User{}, shared.ValidationErrors{"email": "Ya existe un usuario con ese email"}
		}
		return User{}, err
	}
	s.record(ctx, actor, "user.create", user.ID, map[string]any{"email": user.Email, "role": string(user.Role)})

	if generated && s.notifier != nil {
		if err := s.notifier.SendWelcome(ctx, user.Email, user.Name, password); err != nil {
			s.logger.Warn("users: welcome email not queued", slog.String("email", user.Email), slog.Any("error", err))
		}
	}
	return user, nil
}

// UpdateRole persists a new role for the user and returns the stored row.
// Concurrent edits are last-write-wins.
func (s *Service) UpdateRole(ctx context.Context, actor rbac.Context, id int64, rawRole string) (User, error) {
	if err := requireOther(actor, id); err != nil {
		return User{}, err
	}
	role, err := rbac.ParseRole(rawRole)
	if err != nil {
		return User{}, shared.ValidationErrors{"role": "Rol desconocido"}
	}
	user, err := s.repo.UpdateRole(ctx, id, role)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actor, "user.update_role", id, map[string]any{"role": string(role)})
	return user, nil
}

// UpdatePermissions replaces the user's explicit permission list. An empty list
// restores the role default.
func (s *Service) UpdatePermissions(ctx context.Context, actor rbac.Context, id int64, raw []string) (User, error) {
	if err := requireOther(actor, id); err != nil {
		return User{}, err
	}
	perms, err := rbac.ParsePermissions(nonEmpty(raw))
	if err != nil {
		return User{}, shared.ValidationErrors{"permissions": "Permiso desconocido"}
	}
	user, err := s.repo.UpdatePermissions(ctx, id, perms)
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actor, "user.update_permissions", id, map[string]any{"permissions": permissionsParam(perms)})
	return user, nil
}

// DeleteUser removes a user once the actor has confirmed. Without confirmation
// nothing is touched.
func (s *Service) DeleteUser(ctx context.Context, actor rbac.Context, id int64, confirmed bool) error {
	if err := requireOther(actor, id); err != nil {
		return err
	}
	if !confirmed {
		return shared.ErrConfirmationRequired
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "user.delete", id, nil)
	return nil
}

func (s *Service) record(ctx context.Context, actor rbac.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor.Principal,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("users: audit", slog.String("action", action), slog.Any("error", err))
	}
}

func requireAdmin(actor rbac.Context) error {
	if !actor.IsAdmin() {
		return shared.ErrForbidden
	}
	return nil
}

func requireOther(actor rbac.Context, id int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if actor.Account.ID == id {
		return shared.ErrSelfModification
	}
	return nil
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func randomPassword() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("users: generate password: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", "")[:16], nil
}
