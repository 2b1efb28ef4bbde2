package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/wneessen/go-mail"
)

// Mailer sends a single email.
type Mailer interface {
	Send(ctx context.Context, msg SendEmailPayload) error
}

// SMTPConfig describes the outbound SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPMailer delivers mail through an SMTP relay, upgrading to STARTTLS when
// offered and authenticating when credentials are set.
type SMTPMailer struct {
	cfg     SMTPConfig
	mu      sync.Mutex
	deliver func(ctx context.Context, msgs ...*mail.Msg) error
	now     func() time.Time
}

// NewSMTPMailer builds an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(timeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client %s: %w", cfg.Host, err)
	}
	return &SMTPMailer{cfg: cfg, deliver: client.DialAndSendWithContext, now: time.Now}, nil
}

// Send composes payload and hands it to the relay. Sends are serialised over
// the single client.
func (m *SMTPMailer) Send(ctx context.Context, payload SendEmailPayload) error {
	msg, err := m.compose(payload)
	if err != nil {
		return fmt.Errorf("compose mail to %s: %v: %w", payload.To, err, asynq.SkipRetry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deliver(ctx, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", payload.To, err)
	}
	return nil
}

func (m *SMTPMailer) compose(payload SendEmailPayload) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, err
	}
	if err := msg.To(payload.To); err != nil {
		return nil, err
	}
	if payload.ReplyTo != "" {
		if err := msg.ReplyTo(payload.ReplyTo); err != nil {
			return nil, err
		}
	}
	msg.Subject(payload.Subject)
	msg.SetDateWithValue(m.now())
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextPlain, payload.Body)
	return msg, nil
}
