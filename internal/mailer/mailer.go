// Package mailer sends transactional mail over SMTP. Only the password-reset
// message exists today.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config carries SMTP connection settings and the frontend base URL used to
// build links in message bodies.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// TLS selects implicit TLS (SMTPS, typically port 465). When false,
	// smtp.SendMail negotiates STARTTLS on its own (port 25/587).
	TLS bool

	FrontendURL string
}

// Mailer delivers transactional mail.
type Mailer struct {
	cfg Config
	log *zap.Logger
}

// New returns a Mailer. Callers should only construct one when an SMTP host
// is configured; auth.Service treats a nil mailer as "log instead of send".
func New(cfg Config, log *zap.Logger) *Mailer {
	return &Mailer{cfg: cfg, log: log}
}

// SendPasswordReset mails the reset link for the given token.
func (m *Mailer) SendPasswordReset(ctx context.Context, to, token string) error {
	link := m.cfg.FrontendURL + "/reset-password?token=" + url.QueryEscape(token)

	body := "Hello,\r\n\r\n" +
		"A password reset was requested for your account. Open the link below " +
		"to choose a new password:\r\n\r\n" +
		link + "\r\n\r\n" +
		"The link expires in 30 minutes. If you did not request this, you can " +
		"ignore this message; your password is unchanged.\r\n"

	if err := m.send(ctx, []string{to}, "Reset your password", body); err != nil {
		return err
	}
	m.log.Info("password reset mail sent", zap.String("to", to))
	return nil
}

func (m *Mailer) send(_ context.Context, to []string, subject, body string) error {
	msg := buildMessage(m.cfg.From, to, subject, body)
	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprintf("%d", m.cfg.Port))

	if m.cfg.TLS {
		return m.sendTLS(addr, to, msg)
	}
	return m.sendPlain(addr, to, msg)
}

// sendPlain uses smtp.SendMail which handles both plaintext and STARTTLS
// negotiation automatically.
func (m *Mailer) sendPlain(addr string, to []string, msg []byte) error {
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, m.cfg.From, to, msg); err != nil {
		return fmt.Errorf("mailer: smtp.SendMail: %w", err)
	}
	return nil
}

// sendTLS establishes an implicit TLS connection before the SMTP handshake,
// for servers that expect TLS from the first byte.
func (m *Mailer) sendTLS(addr string, to []string, msg []byte) error {
	tlsCfg := &tls.Config{
		ServerName: m.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsCfg)
	if err != nil {
		return fmt.Errorf("mailer: tls.Dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("mailer: smtp.NewClient: %w", err)
	}
	defer client.Close()

	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("mailer: smtp auth: %w", err)
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("mailer: MAIL FROM: %w", err)
	}
	for _, r := range to {
		if err := client.Rcpt(r); err != nil {
			return fmt.Errorf("mailer: RCPT TO %s: %w", r, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("mailer: DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("mailer: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("mailer: close DATA: %w", err)
	}

	return client.Quit()
}

// buildMessage composes a minimal RFC 5322 message.
func buildMessage(from string, to []string, subject, body string) []byte {
	var sb strings.Builder
	sb.WriteString("From: " + from + "\r\n")
	sb.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	sb.WriteString("Subject: " + subject + "\r\n")
	sb.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	return []byte(sb.String())
}
