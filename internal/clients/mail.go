package clients

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Mail struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

type MailResult struct {
	MessageID string
}

// MailTransport hands a rendered reminder to a delivery system.
// A nil error means the transport accepted the message, not that it was delivered.
type MailTransport interface {
	Send(ctx context.Context, m Mail) (MailResult, error)
	Name() string
}

// LogTransport only writes the mail to the log. Used when no real transport is configured.
type LogTransport struct {
	log *zap.Logger
}

func NewLogTransport(log *zap.Logger) *LogTransport {
	if log == nil {
		log = zap.L()
	}
	return &LogTransport{log: log.Named("mail")}
}

func (t *LogTransport) Name() string { return "log" }

func (t *LogTransport) Send(ctx context.Context, m Mail) (MailResult, error) {
	if err := ctx.Err(); err != nil {
		return MailResult{}, err
	}
	id := "log-" + uuid.NewString()
	t.log.Info("mail not delivered, log transport active",
		zap.String("message_id", id),
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.Int("html_bytes", len(m.HTML)),
	)
	return MailResult{MessageID: id}, nil
}

type MailConfig struct {
	Transport string // smtp | amqp | log
	From      string
	SMTP      SMTPConfig
	AMQP      AMQPConfig
}

// NewMailTransport builds the transport selected in cfg.
func NewMailTransport(cfg MailConfig, log *zap.Logger) (MailTransport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", "log":
		return NewLogTransport(log), nil
	case "smtp":
		t, err := NewSMTPTransport(cfg.SMTP, cfg.From)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "amqp":
		t, err := NewAMQPTransport(cfg.AMQP, cfg.From)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Transport)
	}
}
