package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"

	"github.com/google/uuid"
	"github.com/jordan-wright/email"
)

// SMTPConfig addresses an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// StartTLS upgrades the connection before authenticating.
	StartTLS bool
}

// Addr returns host:port, defaulting the port to 587.
func (c SMTPConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 587
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// SMTPSender delivers messages through an SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

var _ Sender = (*SMTPSender)(nil)

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	return &SMTPSender{cfg: cfg}, nil
}

// Send submits msg in the background and waits for the relay's answer or
// ctx. When ctx ends first the delivery may still complete.
func (s *SMTPSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}

	id := fmt.Sprintf("<%s@geneflow>", uuid.NewString())
	e := email.NewEmail()
	e.From = msg.From
	e.To = msg.To
	e.Subject = msg.Subject
	e.HTML = []byte(msg.HTML)
	e.Headers = textproto.MIMEHeader{}
	e.Headers.Set("Message-Id", id)

	done := make(chan error, 1)
	go func() { done <- s.deliver(e) }()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send to %v: %w", msg.To, err)
		}
		return id, nil
	case <-ctx.Done():
		return "", fmt.Errorf("smtp send to %v: %w", msg.To, ctx.Err())
	}
}

func (s *SMTPSender) deliver(e *email.Email) error {
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if s.cfg.StartTLS {
		return e.SendWithStartTLS(s.cfg.Addr(), auth, &tls.Config{ServerName: s.cfg.Host})
	}
	return e.Send(s.cfg.Addr(), auth)
}
