package patients

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kinesia/kinesia/internal/rbac"
	"github.com/kinesia/kinesia/internal/shared"
)

const listLimit = 200

// RepositoryPort defines data access methods for patients.
type RepositoryPort interface {
	List(ctx context.Context, query string, limit int) ([]Patient, error)
	Get(ctx context.Context, id int64) (Patient, error)
	Create(ctx context.Context, rec Record, createdBy string) (Patient, error)
	Update(ctx context.Context, id int64, rec Record) (Patient, error)
}

// Service holds patient business rules.
type Service struct {
	repo      RepositoryPort
	audit     shared.AuditRecorder
	validator *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, validator: shared.NewValidator(), logger: logger, now: time.Now}
}

// List returns patients visible to authz, optionally filtered by q.
func (s *Service) List(ctx context.Context, authz rbac.Context, q string) ([]Patient, error) {
	if !authz.HasAny(rbac.ViewPatients, rbac.EditPatients) {
		return nil, shared.ErrForbidden
	}
	return s.repo.List(ctx, q, listLimit)
}

// Get returns one patient.
func (s *Service) Get(ctx context.Context, authz rbac.Context, id int64) (Patient, error) {
	if !authz.HasAny(rbac.ViewPatients, rbac.EditPatients) {
		return Patient{}, shared.ErrForbidden
	}
	return s.repo.Get(ctx, id)
}

// Create validates and stores a new patient.
func (s *Service) Create(ctx context.Context, authz rbac.Context, in Input) (Patient, error) {
	if !authz.Has(rbac.EditPatients) {
		return Patient{}, shared.ErrForbidden
	}
	rec, err := s.normalise(in)
	if err != nil {
		return Patient{}, err
	}
	p, err := s.repo.Create(ctx, rec, authz.Principal)
	if err != nil {
		return Patient{}, conflictAsField(err)
	}
	s.record(ctx, authz, "patient.create", p.ID)
	return p, nil
}

// Update validates and stores changes to a patient.
func (s *Service) Update(ctx context.Context, authz rbac.Context, id int64, in Input) (Patient, error) {
	if !authz.Has(rbac.EditPatients) {
		return Patient{}, shared.ErrForbidden
	}
	rec, err := s.normalise(in)
	if err != nil {
		return Patient{}, err
	}
	p, err := s.repo.Update(ctx, id, rec)
	if err != nil {
		return Patient{}, conflictAsField(err)
	}
	s.record(ctx, authz, "patient.update", p.ID)
	return p, nil
}

func (s *Service) normalise(in Input) (Record, error) {
	in.FullName = strings.Join(strings.Fields(in.FullName), " ")
	in.Document = strings.ToUpper(strings.TrimSpace(in.Document))
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.BirthDate = strings.TrimSpace(in.BirthDate)
	in.Notes = strings.TrimSpace(in.Notes)

	fieldErrs := shared.ValidationErrors{}
	if err := shared.ValidateStruct(s.validator, in); err != nil {
		if !errors.As(err, &fieldErrs) {
			return Record{}, err
		}
	}
	rec := Record{FullName: in.FullName, Document: in.Document, Phone: in.Phone, Email: in.Email, Notes: in.Notes}
	if _, bad := fieldErrs["birth_date"]; !bad && in.BirthDate != "" {
		d, err := time.Parse(dateLayout, in.BirthDate)
		switch {
		case err != nil:
			fieldErrs["birth_date"] = "Fecha inválida"
		case d.After(s.now()):
			fieldErrs["birth_date"] = "La fecha no puede ser futura"
		default:
			rec.BirthDate = &d
		}
	}
	if len(fieldErrs) > 0 {
		return Record{}, fieldErrs
	}
	return rec, nil
}

func (s *Service) record(ctx context.Context, authz rbac.Context, action string, id int64) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Actor: authz.Principal, Action: action, Entity: "patient", EntityID: strconv.FormatInt(id, 10)}); err != nil {
		s.logger.Warn("patients: audit", slog.String("action", action), slog.Any("error", err))
	}
}

func conflictAsField(err error) error {
	if errors.Is(err, shared.ErrConflict) {
		return shared.ValidationErrors{"document": "Ya existe un paciente con ese documento"}
	}
	return err
}
