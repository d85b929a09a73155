// ABOUTME: Email sender: agent markdown rendered to HTML, delivered over SMTP
// ABOUTME: Multipart mail with a plain-text fallback alongside the HTML body

package channels

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// EmailConfig configures the SMTP sender.
type EmailConfig struct {
	// Addr is the SMTP host:port.
	Addr string
	From string
	// Username and Password enable PLAIN auth when set.
	Username string
	Password string
	// Subject is the subject line for outbound replies.
	Subject string
}

// EmailSender delivers agent replies as HTML email.
type EmailSender struct {
	cfg      EmailConfig
	markdown goldmark.Markdown
	logger   *slog.Logger

	// sendMail is swapped in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailSender creates the SMTP sender.
func NewEmailSender(cfg EmailConfig, logger *slog.Logger) *EmailSender {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Subject == "" {
		cfg.Subject = "New reply to your conversation"
	}
	return &EmailSender{
		cfg: cfg,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
		logger:   logger.With("component", "email"),
		sendMail: smtp.SendMail,
	}
}

// Send renders the reply and delivers it. The recipient is the address the
// conversation's user ID maps to.
func (s *EmailSender) Send(ctx context.Context, recipient, text string) error {
	if !strings.Contains(recipient, "@") {
		return fmt.Errorf("invalid email recipient %q", recipient)
	}

	msg, err := s.buildMessage(recipient, text)
	if err != nil {
		return fmt.Errorf("building email: %w", err)
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		host := s.cfg.Addr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)
	}

	// net/smtp has no context support; respect cancellation before the dial
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.sendMail(s.cfg.Addr, auth, s.cfg.From, []string{recipient}, msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	s.logger.Debug("email sent", "to", recipient)
	return nil
}

// buildMessage assembles a multipart/alternative message: the raw markdown
// as text/plain, the rendered HTML as text/html.
func (s *EmailSender) buildMessage(recipient, text string) ([]byte, error) {
	var html bytes.Buffer
	if err := s.markdown.Convert([]byte(text), &html); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}

	boundary := fmt.Sprintf("parley-%d", time.Now().UnixNano())
	var buf bytes.Buffer
	writeHeader := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	writeHeader("From", s.cfg.From)
	writeHeader("To", recipient)
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", s.cfg.Subject))
	writeHeader("Date", time.Now().Format(time.RFC1123Z))
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", fmt.Sprintf(`multipart/alternative; boundary=%q`, boundary))
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.WriteString(text)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	buf.Write(html.Bytes())
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes(), nil
}
