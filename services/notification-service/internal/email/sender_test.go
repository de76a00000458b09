package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestBuildMessageHeaders(t *testing.T) {
	msg := buildMessage("from@x.test", "to@x.test", "Booking\r\nBcc: evil@x.test", "hello")
	if !strings.HasPrefix(msg, "From: from@x.test\r\nTo: to@x.test\r\n") {
		t.Fatalf("unexpected header block: %q", msg)
	}
	if strings.Contains(msg, "\r\nBcc:") {
		t.Fatalf("expected subject newlines to be stripped, got %q", msg)
	}
	if !strings.HasSuffix(msg, "\r\n\r\nhello\r\n") {
		t.Fatalf("expected body after blank line, got %q", msg)
	}
}

func TestSendUsesConfiguredRelay(t *testing.T) {
	s := NewSMTPSender("mailpit", "1025", "")
	var gotAddr, gotFrom string
	var gotTo []string
	s.send = func(addr string, _ smtp.Auth, from string, to []string, _ []byte) error {
		gotAddr, gotFrom, gotTo = addr, from, to
		return nil
	}
	if err := s.Send("a@x.test", "s", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAddr != "mailpit:1025" {
		t.Fatalf("expected mailpit:1025, got %s", gotAddr)
	}
	if gotFrom != "no-reply@consultslot.local" {
		t.Fatalf("expected default from, got %s", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "a@x.test" {
		t.Fatalf("expected single recipient, got %v", gotTo)
	}
}

func TestSendRejectsHeaderInjection(t *testing.T) {
	s := NewSMTPSender("h", "25", "f@x.test")
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("should not be called")
	}
	if err := s.Send("a@x.test\r\nBcc: b@x.test", "s", "b"); err == nil {
		t.Fatalf("expected error for injected recipient")
	}
}
