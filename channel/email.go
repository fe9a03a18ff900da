package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"regexp"
	"strings"
	"time"

	"github.com/herald-sh/herald/notification"
)

// ChannelEmail is the name the Email channel registers under.
const ChannelEmail = "email"

// headerNameRe restricts extra header names carried in notification
// metadata under the "header_" prefix.
var headerNameRe = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// EmailConfig holds SMTP connection settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// UseTLS dials an implicit-TLS SMTP port (465). Certificates are
	// always verified against Host.
	UseTLS bool
}

// Email delivers notifications over SMTP.
type Email struct {
	cfg EmailConfig
}

// NewEmail creates the SMTP channel.
func NewEmail(cfg EmailConfig) *Email {
	return &Email{cfg: cfg}
}

// Name implements Channel.
func (e *Email) Name() string { return ChannelEmail }

// Validate checks the recipient address and rejects any field that
// could smuggle extra headers into the message.
func (e *Email) Validate(n *notification.Notification) error {
	if strings.TrimSpace(n.Recipient) == "" {
		return &ValidationError{Channel: ChannelEmail, Field: "recipient", Reason: "empty"}
	}
	if _, err := mail.ParseAddress(n.Recipient); err != nil {
		return &ValidationError{Channel: ChannelEmail, Field: "recipient", Reason: err.Error()}
	}
	if strings.ContainsAny(n.Recipient, "\r\n") {
		return &ValidationError{Channel: ChannelEmail, Field: "recipient", Reason: "contains line break"}
	}
	if strings.ContainsAny(n.Subject, "\r\n") {
		return &ValidationError{Channel: ChannelEmail, Field: "subject", Reason: "contains line break"}
	}
	return nil
}

// Send builds the message and submits it to the configured SMTP server.
func (e *Email) Send(ctx context.Context, n *notification.Notification) (*Result, error) {
	msg := e.buildMessage(n)
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	var err error
	if e.cfg.UseTLS {
		err = e.sendTLS(ctx, addr, auth, n.Recipient, msg)
	} else {
		err = e.sendPlain(ctx, addr, auth, n.Recipient, msg)
	}
	if err != nil {
		return nil, &ChannelError{Channel: ChannelEmail, Err: err}
	}

	return &Result{
		Channel: ChannelEmail,
		Detail: map[string]string{
			"recipient": n.Recipient,
			"server":    addr,
		},
	}, nil
}

func (e *Email) sendPlain(ctx context.Context, addr string, auth smtp.Auth, to string, msg []byte) error {
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, e.cfg.From, []string{to}, msg)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (e *Email) sendTLS(ctx context.Context, addr string, auth smtp.Auth, to string, msg []byte) error {
	d := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: 10 * time.Second},
		Config:    &tls.Config{ServerName: e.cfg.Host, MinVersion: tls.VersionTLS12},
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	c, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(e.cfg.From); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// buildMessage assembles RFC 5322 headers and body. Every header value
// passes through sanitizeHeader, and metadata headers are restricted to
// a safe name alphabet, so a crafted payload cannot add headers of its
// own.
func (e *Email) buildMessage(n *notification.Notification) []byte {
	var b strings.Builder
	writeHeader := func(name, value string) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(sanitizeHeader(value))
		b.WriteString("\r\n")
	}

	writeHeader("From", e.cfg.From)
	writeHeader("To", n.Recipient)
	writeHeader("Subject", n.Subject)
	writeHeader("Date", time.Now().UTC().Format(time.RFC1123Z))
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", "text/plain; charset=UTF-8")

	for key, value := range n.Metadata {
		name, ok := strings.CutPrefix(key, "header_")
		if !ok || !headerNameRe.MatchString(name) {
			continue
		}
		writeHeader("X-"+name, value)
	}

	b.WriteString("\r\n")
	b.WriteString(n.Message)
	return []byte(b.String())
}

// sanitizeHeader strips CR and LF so a value can never terminate its
// header line.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}
