package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig addresses a submission server. Auth is skipped when User is
// empty.
type SMTPConfig struct {
	Addr string
	User string
	Pass string
	From string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers mails through an SMTP server.
type SMTPSender struct {
	cfg  SMTPConfig
	send sendFunc
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("smtp address is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp sender address is required")
	}
	return &SMTPSender{cfg: cfg, send: smtp.SendMail}, nil
}

func (s *SMTPSender) SendOTP(ctx context.Context, email, code, purpose string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var a smtp.Auth
	if s.cfg.User != "" {
		host, _, err := net.SplitHostPort(s.cfg.Addr)
		if err != nil {
			return fmt.Errorf("parse smtp address: %w", err)
		}
		a = smtp.PlainAuth("", s.cfg.User, s.cfg.Pass, host)
	}
	raw := s.render(ComposeOTP(email, code, purpose))
	if err := s.send(s.cfg.Addr, a, s.cfg.From, []string{email}, raw); err != nil {
		return fmt.Errorf("send smtp mail: %w", err)
	}
	return nil
}

func (s *SMTPSender) render(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}
