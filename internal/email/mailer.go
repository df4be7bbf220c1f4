package email

import (
	"context"
	"fmt"
	"net/smtp"
)

// Mailer sends a single email with both HTML and plain-text bodies.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// SMTPMailer is a Mailer backed by a plain SMTP relay.
type SMTPMailer struct {
	Host string
	Port string
	From string
	// Auth is nil for unauthenticated relays (e.g. a local MailHog).
	Auth smtp.Auth
}

func NewSMTPMailer(host, port, from, username, password string) *SMTPMailer {
	m := &SMTPMailer{Host: host, Port: port, From: from}
	if username != "" {
		m.Auth = smtp.PlainAuth("", username, password, host)
	}
	return m
}

const mimeBoundary = "storefront-alt-boundary"

func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := "From: " + m.From + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=" + mimeBoundary + "\r\n" +
		"\r\n" +
		"--" + mimeBoundary + "\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
		textBody + "\r\n" +
		"--" + mimeBoundary + "\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n\r\n" +
		htmlBody + "\r\n" +
		"--" + mimeBoundary + "--\r\n"

	addr := m.Host + ":" + m.Port
	if err := smtp.SendMail(addr, m.Auth, m.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", addr, err)
	}
	return nil
}
