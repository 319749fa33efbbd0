// Package email delivers notification emails via SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strconv"

	"gopkg.in/gomail.v2"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	sender gomail.Sender
}

func NewService(config Config) *Service {
	return &Service{config: config}
}

// WithSender replaces the SMTP dialer; tests capture messages this way.
func (s *Service) WithSender(sender gomail.Sender) *Service {
	s.sender = sender
	return s
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// NotificationData fills the notification template.
type NotificationData struct {
	AppName       string
	RecipientName string
	Title         string
	Message       string
	DocumentURL   string
}

// SendNotification mails one in-app notification to its recipient.
func (s *Service) SendNotification(ctx context.Context, to string, data NotificationData) error {
	if data.AppName == "" {
		data.AppName = "EurobanSync"
	}
	html, err := renderTemplate(notificationTemplate, data)
	if err != nil {
		return fmt.Errorf("render notification template: %w", err)
	}
	text := data.Message
	if data.DocumentURL != "" {
		text += "\n\n" + data.DocumentURL
	}
	return s.Send(ctx, to, data.Title, text, html)
}

// Send delivers a message with a plain text body and an HTML alternative.
func (s *Service) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.config.From, s.config.FromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", textBody)
	if htmlBody != "" {
		msg.AddAlternative("text/html", htmlBody)
	}

	if s.sender != nil {
		return gomail.Send(s.sender, msg)
	}
	port, err := strconv.Atoi(s.config.Port)
	if err != nil {
		return fmt.Errorf("invalid smtp port %q: %w", s.config.Port, err)
	}
	dialer := gomail.NewDialer(s.config.Host, port, s.config.Username, s.config.Password)
	if err := dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const notificationTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0b3d91; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0b3d91; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hola {{.RecipientName}},</p>

    <h2>{{.Title}}</h2>
    <p>{{.Message}}</p>
    {{if .DocumentURL}}
    <p>
        <a href="{{.DocumentURL}}" class="button">Ver documento</a>
    </p>
    {{end}}

    <div class="footer">
        <p>Recibes este correo porque tienes una cuenta en {{.AppName}}.</p>
    </div>
</body>
</html>`
