package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestEnvelopeBuildMultipart(t *testing.T) {
	env := Envelope{From: "noreply@tgcesports.gg", FromName: "TGC Esports"}
	now := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	data := string(env.Build(Message{
		To:      "player@mailinator.com",
		ToName:  "Player One",
		Subject: "Tournament Reminder: Cup",
		HTML:    "<p>Hello</p>",
		Text:    "Hello",
		Headers: map[string]string{"X-Notification-Kind": "reminder"},
	}, now))

	for _, want := range []string{
		"From: \"TGC Esports\" <noreply@tgcesports.gg>\r\n",
		"To: \"Player One\" <player@mailinator.com>\r\n",
		"Subject: Tournament Reminder: Cup\r\n",
		"Date: Sun, 15 Jun 2025 10:00:00 +0000\r\n",
		"@tgcesports.gg>\r\n",
		"X-Notification-Kind: reminder\r\n",
		"Content-Type: multipart/alternative; boundary=",
		"Content-Type: text/plain; charset=utf-8\r\n\r\nHello\r\n",
		"Content-Type: text/html; charset=utf-8\r\n\r\n<p>Hello</p>\r\n",
	} {
		if !strings.Contains(data, want) {
			t.Errorf("message missing %q\n%s", want, data)
		}
	}
}

func TestEnvelopeBuildEncodesSubject(t *testing.T) {
	env := Envelope{From: "noreply@tgcesports.gg"}
	data := string(env.Build(Message{
		To:      "a@mailinator.com",
		Subject: "تذكير البطولة",
		HTML:    "<p>x</p>",
	}, time.Now()))

	if !strings.Contains(data, "Subject: =?utf-8?q?") {
		t.Errorf("non-ASCII subject not encoded:\n%s", data)
	}
	if strings.Contains(data, "multipart") {
		t.Error("HTML-only message should not be multipart")
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"valid", Message{To: "a@b.com", HTML: "x"}, false},
		{"text only", Message{To: "a@b.com", Text: "x"}, false},
		{"no recipient", Message{HTML: "x"}, true},
		{"bad address", Message{To: "not-an-address", HTML: "x"}, true},
		{"no body", Message{To: "a@b.com"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsTemporary(t *testing.T) {
	if IsTemporary(&SendError{Temporary: false}) {
		t.Error("permanent SendError reported temporary")
	}
	if !IsTemporary(fmt.Errorf("wrap: %w", &SendError{Temporary: true})) {
		t.Error("wrapped temporary SendError reported permanent")
	}
	if !IsTemporary(errors.New("unknown")) {
		t.Error("unknown errors should be temporary")
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		err  string
		temp bool
	}{
		{"550 5.1.1 user unknown", false},
		{"451 try again later", true},
		{"connection reset", true},
	}

	for _, tt := range tests {
		se := categorize("a@b.com", errors.New(tt.err), "RCPT")
		if se.Temporary != tt.temp {
			t.Errorf("categorize(%q).Temporary = %v, want %v", tt.err, se.Temporary, tt.temp)
		}
		if se.Recipient != "a@b.com" {
			t.Errorf("Recipient = %q", se.Recipient)
		}
	}
}

func TestThrottled(t *testing.T) {
	var calls int
	next := SenderFunc(func(ctx context.Context, msg Message) error {
		calls++
		return nil
	})

	unlimited := NewThrottled(next, 0)
	for i := 0; i < 5; i++ {
		if err := unlimited.Send(context.Background(), Message{}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	if calls != 5 {
		t.Errorf("calls = %d, want 5", calls)
	}

	slow := NewThrottled(next, 0.001)
	slow.Send(context.Background(), Message{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := slow.Send(ctx, Message{}); err == nil {
		t.Error("Send() should fail when the context ends before a token is available")
	}
}
