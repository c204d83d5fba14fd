package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/tgcesports/notifier/internal/config"
)

// SMTPSender delivers messages to a configured relay
type SMTPSender struct {
	cfg      config.SMTPConfig
	envelope Envelope
	signer   *Signer
	logger   *slog.Logger
	now      func() time.Time
}

// NewSMTPSender creates a relay sender. signer may be nil.
func NewSMTPSender(cfg config.SMTPConfig, envelope Envelope, signer *Signer, logger *slog.Logger) *SMTPSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{
		cfg:      cfg,
		envelope: envelope,
		signer:   signer,
		logger:   logger,
		now:      time.Now,
	}
}

// Send builds, signs and relays one message
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	data := s.envelope.Build(msg, s.now())
	if s.signer != nil {
		signed, err := s.signer.Sign(data)
		if err != nil {
			s.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", s.signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	if err := s.deliver(ctx, msg.To, data); err != nil {
		return err
	}

	s.logger.Debug("message relayed", "recipient", msg.To, "relay", s.cfg.Host)
	return nil
}

func (s *SMTPSender) deliver(ctx context.Context, to string, data []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &SendError{
			Recipient: to,
			Temporary: true,
			Message:   fmt.Sprintf("connection failed to %s: %v", addr, err),
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(s.cfg.Timeout)
	}
	conn.SetDeadline(deadline)

	tlsConfig := &tls.Config{
		ServerName: s.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	var client *smtp.Client
	switch s.cfg.TLS {
	case "tls":
		client = smtp.NewClient(tls.Client(conn, tlsConfig))
	case "none":
		client = smtp.NewClient(conn)
	default:
		client, err = smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			conn.Close()
			return categorize(to, err, "STARTTLS")
		}
	}
	defer client.Close()

	if err := client.Hello(s.cfg.HELO); err != nil {
		return categorize(to, err, "HELO")
	}

	if s.cfg.Username != "" {
		auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return categorize(to, err, "AUTH")
		}
	}

	if err := client.SendMail(s.envelope.From, []string{to}, bytes.NewReader(data)); err != nil {
		return categorize(to, err, "SEND")
	}

	client.Quit()
	return nil
}

// smtpCodePattern matches SMTP response codes at word boundaries
var smtpCodePattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// categorize maps a relay error to a SendError. 5xx replies are permanent,
// everything else is temporary.
func categorize(to string, err error, stage string) *SendError {
	se := &SendError{
		Recipient: to,
		Temporary: true,
		Message:   fmt.Sprintf("%s failed: %v", stage, err),
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		se.Temporary = smtpErr.Code/100 != 5
		return se
	}

	if m := smtpCodePattern.FindStringSubmatch(err.Error()); len(m) > 1 {
		se.Temporary = !strings.HasPrefix(m[1], "5")
	}
	return se
}
