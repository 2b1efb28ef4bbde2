package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/kinesia/kinesia/internal/shared"
)

// dummyHash is compared against when no usable account exists, so unknown and
// known emails cost the same bcrypt work.
var dummyHash = sync.OnceValue(func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("kinesia-no-such-account"), bcrypt.DefaultCost)
	if err != nil {
		panic("auth: generate dummy hash: " + err.Error())
	}
	return h
})

// Service wraps authentication business rules.
type Service struct {
	repo    Repository
	audit   shared.AuditRecorder
	logger  *slog.Logger
	compare func(hash, password []byte) error
}

// NewService constructs a new Service.
func NewService(repo Repository, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, compare: bcrypt.CompareHashAndPassword}
}

// Authenticate validates email/password credentials. Every failure other than a
// store outage is reported as shared.ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Credential, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	cred, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrTransport) {
			return nil, err
		}
		_ = s.compare(dummyHash(), []byte(password))
		return nil, shared.ErrInvalidCredentials
	}
	if err := s.compare([]byte(cred.PasswordHash), []byte(password)); err != nil || !cred.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	s.record(ctx, cred, "auth.login")
	return cred, nil
}

// SignedOut records the end of a session for principal.
func (s *Service) SignedOut(ctx context.Context, principal string) {
	if principal == "" {
		return
	}
	s.record(ctx, &Credential{Email: principal}, "auth.logout")
}

func (s *Service) record(ctx context.Context, cred *Credential, action string) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{Actor: cred.Email, Action: action, Entity: "session", EntityID: cred.Email}
	if cred.ID != 0 {
		entry.EntityID = strconv.FormatInt(cred.ID, 10)
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("auth: audit", slog.String("action", action), slog.Any("error", err))
	}
}
