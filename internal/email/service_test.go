package email

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"gopkg.in/gomail.v2"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderNotificationTemplate(t *testing.T) {
	html, err := renderTemplate(notificationTemplate, NotificationData{
		AppName:       "EurobanSync",
		RecipientName: "Ana",
		Title:         "Documento Aprobado",
		Message:       `Tu documento "Balance <2024>" ha sido aprobado`,
		DocumentURL:   "https://app.example.com/documents/doc-1",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if !strings.Contains(html, "Documento Aprobado") {
		t.Error("template should contain the title")
	}
	if !strings.Contains(html, "Balance &lt;2024&gt;") {
		t.Error("template should escape the message")
	}
	if !strings.Contains(html, "https://app.example.com/documents/doc-1") {
		t.Error("template should contain the document link")
	}
}

func TestSendNotificationUsesSender(t *testing.T) {
	var (
		gotFrom string
		gotTo   []string
		body    bytes.Buffer
	)
	sender := gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		gotFrom = from
		gotTo = to
		_, err := msg.WriteTo(&body)
		return err
	})
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com", FromName: "EurobanSync"}).
		WithSender(sender)

	err := svc.SendNotification(context.Background(), "ana@example.com", NotificationData{
		RecipientName: "Ana",
		Title:         "Cambios Solicitados",
		Message:       "Revisa la hoja 2",
	})
	if err != nil {
		t.Fatalf("SendNotification() error = %v", err)
	}
	if gotFrom != "noreply@example.com" {
		t.Fatalf("from = %q", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "ana@example.com" {
		t.Fatalf("to = %v", gotTo)
	}
	if !strings.Contains(body.String(), "Subject: Cambios Solicitados") {
		t.Fatalf("message missing subject:\n%s", body.String())
	}
}

func TestSendRequiresConfiguration(t *testing.T) {
	err := NewService(Config{}).Send(context.Background(), "a@example.com", "s", "t", "")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Send() error = %v, want ErrNotConfigured", err)
	}
}
