// Package email renders and sends the transactional emails: admin
// invitations, new-request notifications and moderation decisions.
package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/spaceplaces/server/internal/config"
	"github.com/spaceplaces/server/internal/metrics"
)

//go:embed templates/*.html
var templateFS embed.FS

// Message is a rendered email ready for a Sender.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type Service struct {
	config    config.EmailConfig
	sender    Sender
	templates *template.Template
	logger    zerolog.Logger
}

// NewService picks the sender for cfg.Provider. When email is disabled the
// messages are rendered and logged but never sent.
func NewService(cfg config.EmailConfig, logger zerolog.Logger) (*Service, error) {
	logger = logger.With().Str("component", "email").Logger()

	var sender Sender
	if cfg.Enabled {
		if err := validateEmailAddress(cfg.From); err != nil {
			return nil, fmt.Errorf("invalid sender email in config: %w", err)
		}
		switch cfg.Provider {
		case "resend":
			if cfg.ResendAPIKey == "" {
				return nil, fmt.Errorf("RESEND_API_KEY is required for the resend provider")
			}
			sender = NewResendSender(cfg.ResendAPIKey, cfg.From, logger)
		case "smtp":
			sender = NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.From)
		default:
			return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
		}
	} else {
		sender = logSender{logger: logger}
	}
	return NewServiceWithSender(cfg, sender, logger)
}

// NewServiceWithSender is used by tests and by callers with a custom sender.
func NewServiceWithSender(cfg config.EmailConfig, sender Sender, logger zerolog.Logger) (*Service, error) {
	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	return &Service{config: cfg, sender: sender, templates: templates, logger: logger}, nil
}

type InvitationData struct {
	InvitedBy   string
	InviteLink  string
	ExpiresAt   time.Time
	CurrentYear int
}

// SendInvitation emails an admin invitation link.
func (s *Service) SendInvitation(ctx context.Context, to, inviteLink, invitedBy string, expiresAt time.Time) error {
	if err := validateLink(inviteLink); err != nil {
		return fmt.Errorf("invalid invite link: %w", err)
	}
	data := InvitationData{
		InvitedBy:   invitedBy,
		InviteLink:  inviteLink,
		ExpiresAt:   expiresAt,
		CurrentYear: time.Now().Year(),
	}
	return s.deliver(ctx, "invitation", to, "Invitation to the SpacePlaces back-office", data)
}

type NewRequestData struct {
	Kind        string // "place" or "edit"
	RequestID   int64
	Title       string
	Language    string
	ReviewLink  string
	CurrentYear int
}

// NotifyNewRequest tells the moderation address about a new submission.
// It is a no-op when no address is configured.
func (s *Service) NotifyNewRequest(ctx context.Context, data NewRequestData) error {
	if s.config.AdminNotify == "" {
		s.logger.Debug().Int64("request_id", data.RequestID).Msg("no admin notification address configured")
		return nil
	}
	if err := validateLink(data.ReviewLink); err != nil {
		return fmt.Errorf("invalid review link: %w", err)
	}
	data.CurrentYear = time.Now().Year()
	subject := fmt.Sprintf("New %s request #%d", data.Kind, data.RequestID)
	return s.deliver(ctx, "new_request", s.config.AdminNotify, subject, data)
}

type DecisionData struct {
	Locale      string
	Accepted    bool
	Title       string
	Reason      string
	PlaceLink   string
	CurrentYear int
}

var decisionSubjects = map[string][2]string{
	"fr": {"Votre proposition a été acceptée", "Votre proposition n'a pas été retenue"},
	"en": {"Your submission was accepted", "Your submission was not accepted"},
}

// SendDecision tells a requester how their submission was moderated, in the
// locale they used when submitting.
func (s *Service) SendDecision(ctx context.Context, to string, data DecisionData) error {
	subjects, ok := decisionSubjects[data.Locale]
	if !ok {
		data.Locale = "en"
		subjects = decisionSubjects["en"]
	}
	if data.PlaceLink != "" {
		if err := validateLink(data.PlaceLink); err != nil {
			return fmt.Errorf("invalid place link: %w", err)
		}
	}
	data.CurrentYear = time.Now().Year()
	subject := subjects[1]
	if data.Accepted {
		subject = subjects[0]
	}
	return s.deliver(ctx, "decision_"+data.Locale, to, subject, data)
}

func (s *Service) deliver(ctx context.Context, name, to, subject string, data any) error {
	if err := validateEmailAddress(to); err != nil {
		metrics.EmailsSentTotal.WithLabelValues(name, "invalid").Inc()
		return fmt.Errorf("invalid recipient email: %w", err)
	}

	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name+".html", data); err != nil {
		metrics.EmailsSentTotal.WithLabelValues(name, "error").Inc()
		return fmt.Errorf("render template %s: %w", name, err)
	}

	if err := s.sender.Send(ctx, Message{To: to, Subject: subject, HTML: buf.String()}); err != nil {
		metrics.EmailsSentTotal.WithLabelValues(name, "error").Inc()
		return fmt.Errorf("send %s email: %w", name, err)
	}
	metrics.EmailsSentTotal.WithLabelValues(name, "success").Inc()
	s.logger.Info().Str("template", name).Str("to", to).Msg("email sent")
	return nil
}

// validateEmailAddress rejects malformed addresses and header injection.
func validateEmailAddress(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("invalid email format: %w", err)
	}
	if strings.ContainsAny(addr.Address, "\r\n") {
		return fmt.Errorf("invalid email address: contains newline characters")
	}
	return nil
}

// validateLink only lets absolute http(s) URLs into templates.
func validateLink(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

type logSender struct {
	logger zerolog.Logger
}

func (l logSender) Send(_ context.Context, msg Message) error {
	l.logger.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("email disabled, message not sent")
	return nil
}
