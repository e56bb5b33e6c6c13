package notifier

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	"time"

	"otp-service/internal/config"
	"otp-service/internal/model"
)

var (
	// ErrSMTPHostPortRequired is returned when Host/Port are missing.
	ErrSMTPHostPortRequired = errors.New("smtp host and port are required")
	// ErrSMTPNoRecipients is returned when To is empty.
	ErrSMTPNoRecipients = errors.New("no recipients provided")
	// ErrSMTPNoSender is returned when no From address is configured.
	ErrSMTPNoSender = errors.New("no sender provided")
)

// Message represents an email payload.
type Message struct {
	From     string
	To       []string
	Subject  string
	TextBody string
	HTMLBody string
}

// MailSender dispatches a rendered Message.
type MailSender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTP delivers codes by email.
type SMTP struct {
	sender  MailSender
	from    string
	subject string
	appName string
}

func NewSMTP(sender MailSender, cfg config.MailConfig, appName string) *SMTP {
	return &SMTP{
		sender:  sender,
		from:    cfg.From,
		subject: cfg.Subject,
		appName: appName,
	}
}

func (s *SMTP) Deliver(ctx context.Context, d Delivery) error {
	if d.Channel != model.ChannelEmail {
		return fmt.Errorf("%w: smtp cannot deliver to %q", ErrUnsupportedChannel, d.Channel)
	}

	html, err := renderOTPHTML(s.appName, d)
	if err != nil {
		return fmt.Errorf("failed to render otp email: %w", err)
	}

	return s.sender.Send(ctx, Message{
		From:     s.from,
		To:       []string{d.Identifier},
		Subject:  s.subject,
		TextBody: renderOTPText(s.appName, d),
		HTMLBody: html,
	})
}

var otpHTMLTemplate = template.Must(template.New("otp").Parse(`<div style="font-family:system-ui,Arial,sans-serif;line-height:1.5">
  <h1 style="color:#0f4c81;margin-bottom:4px;">{{.AppName}}</h1>
  <p>Use the code below to complete your sign-in:</p>
  <p style="font-size:28px;letter-spacing:6px;margin:16px 0"><strong>{{.Code}}</strong></p>
  <p>Valid until: <strong>{{.ExpiresAt}}</strong></p>
</div>`))

func renderOTPHTML(appName string, d Delivery) (string, error) {
	var sb strings.Builder
	err := otpHTMLTemplate.Execute(&sb, struct {
		AppName   string
		Code      string
		ExpiresAt string
	}{appName, d.Code, d.ExpiresAt.UTC().Format(time.RFC1123)})
	return sb.String(), err
}

func renderOTPText(appName string, d Delivery) string {
	return fmt.Sprintf("%s\r\nCode: %s\r\nValid until: %s\r\n", appName, d.Code, d.ExpiresAt.UTC().Format(time.RFC1123))
}

// SMTPSender is a MailSender backed by net/smtp.
type SMTPSender struct {
	addr        string
	defaultFrom string
	auth        smtp.Auth
	sendMail    func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg config.MailConfig) (*SMTPSender, error) {
	if cfg.SMTPHost == "" || cfg.SMTPPort == 0 {
		return nil, ErrSMTPHostPortRequired
	}

	var auth smtp.Auth
	if cfg.SMTPUsername != "" && cfg.SMTPPassword != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}

	return &SMTPSender{
		addr:        fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		defaultFrom: cfg.From,
		auth:        auth,
		sendMail:    smtp.SendMail,
	}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.To) == 0 {
		return ErrSMTPNoRecipients
	}

	from := msg.From
	if from == "" {
		from = s.defaultFrom
	}
	if from == "" {
		return ErrSMTPNoSender
	}

	raw, err := buildRawMessage(from, msg)
	if err != nil {
		return err
	}

	// SendMail has no context; a cancelled delivery is dropped before dialing
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.sendMail(s.addr, s.auth, envelopeAddress(from), msg.To, raw)
}

func buildRawMessage(from string, msg Message) ([]byte, error) {
	for _, v := range append([]string{from, msg.Subject}, msg.To...) {
		if strings.ContainsAny(v, "\r\n") {
			return nil, errors.New("smtp header contains line break")
		}
	}

	body, contentType := buildBody(msg)

	headers := []string{
		fmt.Sprintf("From: %s", from),
		fmt.Sprintf("To: %s", strings.Join(msg.To, ", ")),
		fmt.Sprintf("Subject: %s", msg.Subject),
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: %s", contentType),
	}

	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + body), nil
}

// envelopeAddress extracts addr from "Name <addr>".
func envelopeAddress(from string) string {
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.LastIndex(from, ">"); j > i {
			return from[i+1 : j]
		}
	}
	return from
}

func buildBody(msg Message) (body string, contentType string) {
	if msg.HTMLBody != "" && msg.TextBody != "" {
		boundary := multipartBoundary()
		var sb strings.Builder
		sb.WriteString("This is a multipart message in MIME format.\r\n")
		fmt.Fprintf(&sb, "--%s\r\n", boundary)
		sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		sb.WriteString(msg.TextBody)
		sb.WriteString("\r\n")
		fmt.Fprintf(&sb, "--%s\r\n", boundary)
		sb.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		sb.WriteString(msg.HTMLBody)
		sb.WriteString("\r\n")
		fmt.Fprintf(&sb, "--%s--", boundary)
		return sb.String(), fmt.Sprintf("multipart/alternative; boundary=%s", boundary)
	}

	if msg.HTMLBody != "" {
		return msg.HTMLBody, "text/html; charset=UTF-8"
	}
	return msg.TextBody, "text/plain; charset=UTF-8"
}

func multipartBoundary() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "otp-boundary-fallback"
	}
	return "otp-boundary-" + hex.EncodeToString(b[:])
}
