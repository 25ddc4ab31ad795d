package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	StartTLS    bool
	DialTimeout time.Duration
}

type SMTPTransport struct {
	cfg  SMTPConfig
	from string
}

func NewSMTPTransport(cfg SMTPConfig, from string) (*SMTPTransport, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if from == "" {
		return nil, errors.New("mail from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &SMTPTransport{cfg: cfg, from: from}, nil
}

func (t *SMTPTransport) Name() string { return "smtp" }

func (t *SMTPTransport) Send(ctx context.Context, m Mail) (MailResult, error) {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))

	dialer := net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return MailResult{}, fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return MailResult{}, err
	}
	defer c.Close()

	if t.cfg.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: t.cfg.Host}); err != nil {
				return MailResult{}, fmt.Errorf("starttls: %w", err)
			}
		}
	}
	if t.cfg.Username != "" {
		auth := smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return MailResult{}, fmt.Errorf("auth: %w", err)
		}
	}

	from := m.From
	if from == "" {
		from = t.from
	}
	if err := c.Mail(from); err != nil {
		return MailResult{}, err
	}
	if err := c.Rcpt(m.To); err != nil {
		return MailResult{}, err
	}

	w, err := c.Data()
	if err != nil {
		return MailResult{}, err
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), t.cfg.Host)
	if _, err := w.Write(buildMIME(from, m, messageID)); err != nil {
		_ = w.Close()
		return MailResult{}, err
	}
	if err := w.Close(); err != nil {
		return MailResult{}, err
	}

	return MailResult{MessageID: messageID}, c.Quit()
}

func buildMIME(from string, m Mail, messageID string) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteString("\r\n")
	}

	header("From", from)
	header("To", m.To)
	header("Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	header("Message-ID", messageID)
	header("Date", time.Now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="utf-8"`)
	header("Content-Transfer-Encoding", "8bit")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(m.HTML, "\n", "\r\n"))
	return b.Bytes()
}
