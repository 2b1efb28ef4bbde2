package contact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/kinesia/kinesia/internal/shared"
	"github.com/kinesia/kinesia/jobs"
)

// Enqueuer submits outbound email to the job queue.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload, opts ...asynq.Option) error
}

// Input is the access request form.
type Input struct {
	Name    string `form:"name" json:"name" validate:"required,max=120"`
	Email   string `form:"email" json:"email" validate:"required,email"`
	Message string `form:"message" json:"message" validate:"required,max=4000"`
}

// Service forwards access requests to the clinic administrator.
type Service struct {
	queue      Enqueuer
	adminEmail string
	validator  *validator.Validate
	logger     *slog.Logger
}

// NewService builds Service instance. adminEmail receives every request.
func NewService(queue Enqueuer, adminEmail string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{queue: queue, adminEmail: adminEmail, validator: shared.NewValidator(), logger: logger}
}

// Submit validates in and enqueues a single delivery attempt to the administrator.
func (s *Service) Submit(ctx context.Context, in Input) error {
	in.Name = strings.Join(strings.Fields(in.Name), " ")
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Message = strings.TrimSpace(in.Message)
	if err := shared.ValidateStruct(s.validator, in); err != nil {
		return err
	}
	if s.queue == nil || s.adminEmail == "" {
		return fmt.Errorf("contact: %w: delivery not configured", shared.ErrTransport)
	}
	payload := jobs.SendEmailPayload{
		To:      s.adminEmail,
		ReplyTo: in.Email,
		Subject: "Solicitud de acceso: " + in.Name,
		Body:    "Nombre: " + in.Name + "\nEmail: " + in.Email + "\n\n" + in.Message + "\n",
	}
	if err := s.queue.EnqueueSendEmail(ctx, payload, asynq.MaxRetry(0)); err != nil {
		if errors.Is(err, shared.ErrTransport) {
			return err
		}
		return fmt.Errorf("contact: %w: %w", shared.ErrTransport, err)
	}
	s.logger.Info("access request queued", slog.String("from", in.Email))
	return nil
}
