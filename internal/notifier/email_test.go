package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"testing"
)

type fakeSMTPClient struct {
	dataBuf    bytes.Buffer
	mailFrom   string
	rcptTo     string
	quitCalled bool
	authCalled bool
	rcptErr    error
}

func (c *fakeSMTPClient) Hello(string) error { return nil }
func (c *fakeSMTPClient) Auth(a smtp.Auth) error {
	c.authCalled = true
	return nil
}
func (c *fakeSMTPClient) Mail(from string) error {
	c.mailFrom = from
	return nil
}
func (c *fakeSMTPClient) Rcpt(to string) error {
	c.rcptTo = to
	return c.rcptErr
}
func (c *fakeSMTPClient) Data() (io.WriteCloser, error) {
	return nopCloser{&c.dataBuf}, nil
}
func (c *fakeSMTPClient) Quit() error {
	c.quitCalled = true
	return nil
}
func (c *fakeSMTPClient) Close() error { return nil }

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEmailSenderRejectsUnconfiguredSMTP(t *testing.T) {
	s := NewEmailSender(SMTPConfig{}, testLogger())
	if err := s.Notify(context.Background(), "ops@example.com", "subj", "body"); err == nil {
		t.Fatal("expected error for unconfigured smtp")
	}
}

func TestEmailSenderRejectsEmptyRecipient(t *testing.T) {
	s := NewEmailSender(SMTPConfig{Host: "smtp.example.com", Port: 587, From: "core@example.com"}, testLogger())
	if err := s.Notify(context.Background(), "", "subj", "body"); err == nil {
		t.Fatal("expected error for empty recipient")
	}
}

func TestEmailSenderSendsViaInjectedDialer(t *testing.T) {
	fake := &fakeSMTPClient{}
	s := NewEmailSender(SMTPConfig{Host: "smtp.example.com", Port: 587, From: "core@example.com"}, testLogger())
	s.dialFunc = func(addr string, tlsConfig *tls.Config) (smtpClient, error) {
		return fake, nil
	}

	if err := s.Notify(context.Background(), "ops@example.com", "recording queue at capacity", "details here"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if fake.mailFrom != "core@example.com" {
		t.Fatalf("expected mail from core@example.com, got %s", fake.mailFrom)
	}
	if fake.rcptTo != "ops@example.com" {
		t.Fatalf("expected rcpt to ops@example.com, got %s", fake.rcptTo)
	}
	if !fake.quitCalled {
		t.Fatal("expected Quit to be called")
	}
	if !bytes.Contains(fake.dataBuf.Bytes(), []byte("details here")) {
		t.Fatalf("expected body in message, got %s", fake.dataBuf.String())
	}
}

func TestEmailSenderPropagatesRcptError(t *testing.T) {
	fake := &fakeSMTPClient{rcptErr: errors.New("mailbox unavailable")}
	s := NewEmailSender(SMTPConfig{Host: "smtp.example.com", Port: 587, From: "core@example.com"}, testLogger())
	s.dialFunc = func(addr string, tlsConfig *tls.Config) (smtpClient, error) {
		return fake, nil
	}

	if err := s.Notify(context.Background(), "ops@example.com", "subj", "body"); err == nil {
		t.Fatal("expected rcpt error to propagate")
	}
}
