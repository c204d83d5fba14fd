// Package mailer delivers rendered notifications through an SMTP relay.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Headers set on every notification
const (
	HeaderKind       = "X-Notification-Kind"
	HeaderTournament = "X-Tournament-ID"
)

// Message is one rendered email addressed to a single recipient
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string
	// Headers are extra headers added verbatim, e.g. X-Notification-Kind
	Headers map[string]string
}

// Sender delivers a message. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to the Sender interface
type SenderFunc func(ctx context.Context, msg Message) error

// Send calls f
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// SendError is a per-recipient delivery failure
type SendError struct {
	Recipient string
	Temporary bool
	Message   string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %s", e.Recipient, e.Message)
}

// IsTemporary reports whether err is a transient delivery failure.
// Unknown errors are treated as temporary.
func IsTemporary(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Temporary
	}
	return true
}

// Validate checks that a message can be built
func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("recipient is required")
	}
	if _, err := mail.ParseAddress(m.To); err != nil {
		return &SendError{Recipient: m.To, Message: "invalid address: " + err.Error()}
	}
	if m.HTML == "" && m.Text == "" {
		return fmt.Errorf("message body is required")
	}
	return nil
}

// Envelope holds the sender identity used to build messages
type Envelope struct {
	From     string
	FromName string
}

// Build constructs RFC 5322 message data. A message carrying both parts is
// sent as multipart/alternative.
func (e Envelope) Build(msg Message, now time.Time) []byte {
	var buf bytes.Buffer

	from := (&mail.Address{Name: e.FromName, Address: e.From}).String()
	to := (&mail.Address{Name: msg.ToName, Address: msg.To}).String()

	buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject)))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", now.Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: <%s@%s>\r\n", uuid.New().String(), domainOf(e.From)))

	for k, v := range msg.Headers {
		buf.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}
	buf.WriteString("MIME-Version: 1.0\r\n")

	switch {
	case msg.HTML != "" && msg.Text != "":
		boundary := uuid.New().String()
		buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
		buf.WriteString("\r\n")

		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(msg.Text)
		buf.WriteString("\r\n")

		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(msg.HTML)
		buf.WriteString("\r\n")

		buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	case msg.HTML != "":
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(msg.HTML)
	default:
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("\r\n")
		buf.WriteString(msg.Text)
	}

	return buf.Bytes()
}

func domainOf(address string) string {
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return "localhost"
	}
	return strings.ToLower(address[at+1:])
}
