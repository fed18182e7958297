package notification

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"
)

type Email struct {
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// LogMailer writes emails to the log instead of delivering them.
type LogMailer struct {
	Log *slog.Logger
}

func (m LogMailer) Send(ctx context.Context, e Email) error {
	log := m.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "email", "to", e.To, "subject", e.Subject)
	return nil
}

type SMTPConfig struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
}

type SMTPMailer struct {
	cfg  SMTPConfig
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	m := &SMTPMailer{cfg: cfg, send: smtp.SendMail}
	if cfg.Username != "" {
		host, _, _ := net.SplitHostPort(cfg.Addr)
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, e Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", e.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", e.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(e.Body, "\n", "\r\n"))

	if err := m.send(m.cfg.Addr, m.auth, m.cfg.From, []string{e.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", e.To, err)
	}
	return nil
}
