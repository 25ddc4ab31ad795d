package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type AMQPConfig struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
}

// amqpLink is an open connection with a confirm-mode channel on it.
type amqpLink struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

func (l *amqpLink) closed() bool {
	return l == nil || l.conn.IsClosed() || l.channel.IsClosed()
}

func (l *amqpLink) close() {
	if l == nil {
		return
	}
	l.channel.Close()
	l.conn.Close()
}

// AMQPTransport publishes mail jobs for an external mail worker. The mail queue is
// declared and bound on every (re)connect, so a confirmed publish has reached it.
type AMQPTransport struct {
	cfg  AMQPConfig
	from string
	log  *zap.Logger

	dial func(AMQPConfig) (*amqpLink, error)

	mu   sync.Mutex
	link *amqpLink
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

func dialMailQueue(cfg AMQPConfig) (*amqpLink, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	setup := func() error {
		if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
			return err
		}
		q, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil)
		if err != nil {
			return err
		}
		if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
			return err
		}
		// Send waits for the broker ack of every job.
		return ch.Confirm(false)
	}
	if err := setup(); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &amqpLink{conn: conn, channel: ch}, nil
}

func NewAMQPTransport(cfg AMQPConfig, from string) (*AMQPTransport, error) {
	cleanURL, err := sanitizeAMQPURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	cfg.URL = cleanURL
	if cfg.Exchange == "" {
		cfg.Exchange = "mail"
	}
	if cfg.Queue == "" {
		cfg.Queue = "mail.reminders"
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = "mail.reminder"
	}

	t := &AMQPTransport{
		cfg:  cfg,
		from: from,
		log:  zap.L().Named("amqp"),
		dial: dialMailQueue,
	}
	if _, err := t.channel(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *AMQPTransport) Name() string { return "amqp" }

// channel returns the current channel, re-dialing when the broker dropped the connection.
func (t *AMQPTransport) channel() (*amqp.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.link.closed() {
		return t.link.channel, nil
	}
	if t.link != nil {
		t.log.Warn("amqp connection lost, reconnecting")
		t.link.close()
		t.link = nil
	}

	link, err := t.dial(t.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect mail queue: %w", err)
	}
	t.link = link
	return link.channel, nil
}

type mailJob struct {
	MessageID string    `json:"message_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	HTML      string    `json:"html"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *AMQPTransport) Send(ctx context.Context, m Mail) (MailResult, error) {
	from := m.From
	if from == "" {
		from = t.from
	}
	job := mailJob{
		MessageID: uuid.NewString(),
		From:      from,
		To:        m.To,
		Subject:   m.Subject,
		HTML:      m.HTML,
		Text:      m.Text,
		CreatedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(job)
	if err != nil {
		return MailResult{}, err
	}

	ch, err := t.channel()
	if err != nil {
		return MailResult{}, err
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		t.cfg.Exchange,
		t.cfg.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.MessageID,
			Timestamp:    job.CreatedAt,
			Body:         body,
		},
	)
	if err != nil {
		return MailResult{}, err
	}
	ok, err := confirm.WaitContext(ctx)
	if err != nil {
		return MailResult{}, err
	}
	if !ok {
		return MailResult{}, errors.New("broker rejected mail job")
	}
	return MailResult{MessageID: job.MessageID}, nil
}

func (t *AMQPTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.link.close()
	t.link = nil
}
