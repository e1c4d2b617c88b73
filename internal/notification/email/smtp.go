package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Sink renders a notification through its HTML template and mails it to the recipient.
type Sink struct {
	cfg       Config
	log       *zap.Logger
	templates *template.Template
	send      SendFunc
}

func NewSink(cfg Config, log *zap.Logger) (*Sink, error) {
	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	return &Sink{
		cfg:       cfg,
		log:       log.Named("notification.email"),
		templates: templates,
		send:      smtp.SendMail,
	}, nil
}

// WithSender replaces the SMTP transport.
func (s *Sink) WithSender(send SendFunc) *Sink {
	s.send = send
	return s
}

func (s *Sink) Notify(ctx context.Context, n notificationdomain.Notification) error {
	if strings.TrimSpace(n.Recipient) == "" {
		return notificationdomain.ErrMissingRecipient
	}
	body, err := s.render(n)
	if err != nil {
		return err
	}
	subject := strings.TrimSpace(n.Subject)
	if subject == "" {
		subject = defaultSubject(n.Kind)
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	msg := buildMessage(s.cfg.From, n.Recipient, subject, body)
	if err := s.send(addr, auth, s.cfg.From, []string{n.Recipient}, msg); err != nil {
		return fmt.Errorf("send %s email: %w", n.Kind, err)
	}
	s.log.Debug("email sent", zap.String("kind", string(n.Kind)), zap.String("org_id", n.OrgID.String()))
	return nil
}

func (s *Sink) render(n notificationdomain.Notification) (string, error) {
	name := string(n.Kind) + ".html"
	if s.templates.Lookup(name) == nil {
		return "", notificationdomain.ErrInvalidKind
	}
	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, name, n.Data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return body.String(), nil
}

func buildMessage(from, to, subject, htmlBody string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}

func defaultSubject(kind notificationdomain.Kind) string {
	switch kind {
	case notificationdomain.KindPaymentSucceeded:
		return "Payment received"
	case notificationdomain.KindCreditsAdded:
		return "Credits added to your account"
	case notificationdomain.KindRefundRequested:
		return "Refund in progress"
	default:
		return "Account notification"
	}
}
