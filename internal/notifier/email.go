// Package notifier implements the Notifier capability RecordingQueue
// depends on for operator alerting (recordingqueue.Notifier): an email
// sender adapted from the teacher's voicemail SMTP client, and a push sender
// adapted from its FCM gateway. RecorderCoordinator takes no Notifier.
package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"time"
)

// SMTPConfig holds the SMTP server configuration for operator alert email.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string
}

// Valid reports whether the minimum required fields are set.
func (c SMTPConfig) Valid() bool {
	return c.Host != "" && c.Port != 0 && c.From != ""
}

// smtpClient abstracts the methods used from *smtp.Client for testing.
type smtpClient interface {
	Hello(localName string) error
	Auth(a smtp.Auth) error
	Mail(from string) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// EmailSender delivers operator alerts (e.g. recording queue pressure) over
// SMTP. Grounded in internal/email/sender.go, generalized from a
// voicemail-specific notification to an arbitrary subject/body.
type EmailSender struct {
	cfg      SMTPConfig
	logger   *slog.Logger
	dialFunc func(addr string, tlsConfig *tls.Config) (smtpClient, error)
}

// NewEmailSender creates an EmailSender.
func NewEmailSender(cfg SMTPConfig, logger *slog.Logger) *EmailSender {
	return &EmailSender{
		cfg:      cfg,
		logger:   logger.With("subsystem", "notifier-email"),
		dialFunc: defaultDial,
	}
}

// Notify implements recordingqueue.Notifier.
func (s *EmailSender) Notify(ctx context.Context, recipient, subject, body string) error {
	if !s.cfg.Valid() {
		return fmt.Errorf("notifier: smtp not configured")
	}
	if recipient == "" {
		return fmt.Errorf("notifier: no recipient email address")
	}

	msg := buildMessage(s.cfg, recipient, subject, body)

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	tlsConfig := &tls.Config{ServerName: s.cfg.Host}

	client, err := s.dialFunc(addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("connecting to smtp server: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("smtp hello: %w", err)
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}

	if err := client.Quit(); err != nil {
		s.logger.Warn("smtp quit error (non-fatal)", "error", err)
	}

	s.logger.Info("operator alert email sent", "to", recipient, "subject", subject)
	return nil
}

func defaultDial(addr string, tlsConfig *tls.Config) (smtpClient, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	return smtp.NewClient(conn, host)
}

func buildMessage(cfg SMTPConfig, to, subject, body string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&buf, "\r\n")
	buf.WriteString(body)
	return buf.Bytes()
}
