package queue

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kinesia/kinesia/internal/rbac"
	"github.com/kinesia/kinesia/internal/shared"
)

// RepositoryPort defines data access methods for the queue.
type RepositoryPort interface {
	ListDay(ctx context.Context, day time.Time) ([]Appointment, error)
	Enqueue(ctx context.Context, patientID int64, day, scheduledAt time.Time) (Appointment, error)
	CallNext(ctx context.Context, day, at time.Time) (Appointment, error)
	Transition(ctx context.Context, id int64, status Status, at time.Time) (Appointment, error)
}

// SettingsPort loads and saves notification settings.
type SettingsPort interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, settings Settings) error
}

// Publisher announces calls to waiting-room displays.
type Publisher interface {
	Publish(ctx context.Context, ev CallEvent) error
}

// CallObserver counts calls, typically for metrics.
type CallObserver interface {
	ObserveQueueCall()
}

// Service implements the daily queue.
type Service struct {
	repo      RepositoryPort
	settings  SettingsPort
	events    Publisher
	observer  CallObserver
	audit     shared.AuditRecorder
	validator *validator.Validate
	logger    *slog.Logger
	loc       *time.Location
	now       func() time.Time
}

// Options wires optional collaborators.
type Options struct {
	Observer CallObserver
	Audit    shared.AuditRecorder
	Logger   *slog.Logger
	Location *time.Location
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, settings SettingsPort, events Publisher, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		repo:      repo,
		settings:  settings,
		events:    events,
		observer:  opts.Observer,
		audit:     opts.Audit,
		validator: shared.NewValidator(),
		logger:    opts.Logger,
		loc:       opts.Location,
		now:       time.Now,
	}
}

// Today returns today's queue ordered by ticket.
func (s *Service) Today(ctx context.Context, authz rbac.Context) ([]Appointment, error) {
	if !authz.HasAny(rbac.ViewQueue, rbac.ManageQueue) {
		return nil, shared.ErrForbidden
	}
	return s.repo.ListDay(ctx, s.today())
}

// Add puts a patient at the end of today's queue.
func (s *Service) Add(ctx context.Context, authz rbac.Context, patientID int64) (Appointment, error) {
	if !authz.Has(rbac.ManageQueue) {
		return Appointment{}, shared.ErrForbidden
	}
	if patientID <= 0 {
		return Appointment{}, shared.ValidationErrors{"patient_id": "Seleccione un paciente"}
	}
	a, err := s.repo.Enqueue(ctx, patientID, s.today(), s.now().In(s.loc))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Appointment{}, shared.ValidationErrors{"patient_id": "El paciente no existe"}
		}
		return Appointment{}, err
	}
	s.record(ctx, authz, "queue.add", a.ID)
	return a, nil
}

// CallNext calls the lowest waiting ticket and announces it with the configured sound.
// A failed announcement does not undo the call.
func (s *Service) CallNext(ctx context.Context, authz rbac.Context) (Appointment, CallEvent, error) {
	if !authz.Has(rbac.ManageQueue) {
		return Appointment{}, CallEvent{}, shared.ErrForbidden
	}
	now := s.now().In(s.loc)
	a, err := s.repo.CallNext(ctx, s.today(), now)
	if err != nil {
		return Appointment{}, CallEvent{}, err
	}
	settings, err := s.settings.Load(ctx)
	if err != nil {
		s.logger.Warn("queue: settings unavailable, using defaults", slog.Any("error", err))
		settings = DefaultSettings()
	}
	ev := NewCallEvent(a, settings, now)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("queue: call not announced", slog.Int64("appointment_id", a.ID), slog.Any("error", err))
	}
	if s.observer != nil {
		s.observer.ObserveQueueCall()
	}
	s.record(ctx, authz, "queue.call", a.ID)
	return a, ev, nil
}

// Complete marks an appointment as attended.
func (s *Service) Complete(ctx context.Context, authz rbac.Context, id int64) (Appointment, error) {
	return s.transition(ctx, authz, id, StatusDone, "queue.done")
}

// Cancel removes an appointment from the active queue.
func (s *Service) Cancel(ctx context.Context, authz rbac.Context, id int64) (Appointment, error) {
	return s.transition(ctx, authz, id, StatusCancelled, "queue.cancel")
}

// Settings returns the notification settings.
func (s *Service) Settings(ctx context.Context, authz rbac.Context) (Settings, error) {
	if !authz.Has(rbac.ConfigureQueue) {
		return Settings{}, shared.ErrForbidden
	}
	return s.settings.Load(ctx)
}

// SaveSettings validates and stores new notification settings.
func (s *Service) SaveSettings(ctx context.Context, authz rbac.Context, in SettingsInput) (Settings, error) {
	if !authz.Has(rbac.ConfigureQueue) {
		return Settings{}, shared.ErrForbidden
	}
	if err := shared.ValidateStruct(s.validator, in); err != nil {
		return Settings{}, err
	}
	settings := Settings{SoundEnabled: in.SoundEnabled, Sound: Sound(in.Sound), Volume: in.Volume, Repeat: in.Repeat}
	if err := s.settings.Save(ctx, settings); err != nil {
		return Settings{}, err
	}
	if s.audit != nil {
		meta := map[string]any{"sound": string(settings.Sound), "volume": settings.Volume, "repeat": settings.Repeat, "enabled": settings.SoundEnabled}
		if err := s.audit.Record(ctx, shared.AuditLog{Actor: authz.Principal, Action: "queue.settings", Entity: "queue_settings", EntityID: "default", Meta: meta}); err != nil {
			s.logger.Warn("queue: audit", slog.Any("error", err))
		}
	}
	return settings, nil
}

// NewCallEvent builds the announcement of a. A disabled sound leaves Sound empty.
func NewCallEvent(a Appointment, settings Settings, at time.Time) CallEvent {
	ev := CallEvent{
		AppointmentID: a.ID,
		Ticket:        a.Ticket,
		PatientName:   a.PatientName,
		Volume:        settings.Volume,
		Repeat:        settings.Repeat,
		CalledAt:      at,
	}
	if settings.SoundEnabled {
		ev.Sound = settings.Sound
	}
	return ev
}

func (s *Service) transition(ctx context.Context, authz rbac.Context, id int64, status Status, action string) (Appointment, error) {
	if !authz.Has(rbac.ManageQueue) {
		return Appointment{}, shared.ErrForbidden
	}
	a, err := s.repo.Transition(ctx, id, status, s.now().In(s.loc))
	if err != nil {
		return Appointment{}, err
	}
	s.record(ctx, authz, action, a.ID)
	return a, nil
}

func (s *Service) today() time.Time {
	y, m, d := s.now().In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Service) record(ctx context.Context, authz rbac.Context, action string, id int64) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Actor: authz.Principal, Action: action, Entity: "appointment", EntityID: strconv.FormatInt(id, 10)}); err != nil {
		s.logger.Warn("queue: audit", slog.String("action", action), slog.Any("error", err))
	}
}
