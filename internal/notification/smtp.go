package notification

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// ErrNoRecipient is returned for messages without a destination address.
var ErrNoRecipient = errors.New("notification has no recipient")

// SMTPConfig holds the outbound mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPNotifier delivers messages as plain text e-mail over implicit TLS.
type SMTPNotifier struct {
	cfg     SMTPConfig
	timeout time.Duration
}

// NewSMTPNotifier builds an e-mail notifier.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPNotifier{cfg: cfg, timeout: 10 * time.Second}
}

// Send delivers one message.
func (n *SMTPNotifier) Send(ctx context.Context, message Message) error {
	if message.Destination == "" {
		return ErrNoRecipient
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: n.timeout},
		Config:    &tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline) // nolint:errcheck
	}

	client, err := smtp.NewClient(conn, n.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if n.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(message.Destination); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(composeMail(n.cfg.From, message)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

func composeMail(from string, message Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", message.Destination)
	fmt.Fprintf(&b, "Subject: %s\r\n", stripHeaderBreaks(message.Subject))
	fmt.Fprintf(&b, "Message-ID: <%s@ledger>\r\n", message.ID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(message.Body, "\n", "\r\n"))
	return []byte(b.String())
}

func stripHeaderBreaks(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
