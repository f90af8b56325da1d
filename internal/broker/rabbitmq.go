// Package broker publishes telemetry messages to the durable AMQP queue that
// feeds the upstream cloud. github.com/rabbitmq/amqp091-go is the de-facto
// standard Go client for RabbitMQ's wire protocol, chosen as the smallest
// faithful client for the broker's external interface. Its connect/channel/
// publish shape is a thin struct wrapping one real client, matching the
// telemetry sink's style.
package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/wmind/edge-gateway/internal/gwerrors"
)

// Config holds the RabbitMQ connection settings.
type Config struct {
	Host        string
	Port        int
	UserName    string
	Password    string
	VirtualHost string
	QueueName   string
}

func (c Config) url() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.UserName, c.Password, c.Host, c.Port, c.VirtualHost)
}

// Publisher owns one durable queue and publishes persistent JSON messages to
// it on the default exchange (routing key = queue name).
type Publisher struct {
	cfg  Config
	log  *zap.Logger
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher dials the broker, opens a channel and declares the queue
// durable/non-exclusive/non-auto-delete.
func NewPublisher(cfg Config, log *zap.Logger) (*Publisher, error) {
	p := &Publisher{cfg: cfg, log: log}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.DialConfig(p.cfg.url(), amqp.Config{Dial: amqp.DefaultDial(30 * time.Second)})
	if err != nil {
		return gwerrors.Transient("dial amqp broker", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return gwerrors.Transient("open amqp channel", err)
	}
	if _, err := ch.QueueDeclare(p.cfg.QueueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return gwerrors.Transient("declare amqp queue", err)
	}

	p.conn = conn
	p.ch = ch
	return nil
}

// Publish sends one persistent, application/json message with the default
// exchange's routing key set to the queue name.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	if p.ch == nil {
		if err := p.connect(); err != nil {
			return err
		}
	}
	err := p.ch.PublishWithContext(ctx, "", p.cfg.QueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		p.log.Warn("amqp publish failed, will reconnect on next attempt", zap.Error(err))
		p.Close()
		return gwerrors.Transient("publish amqp message", err)
	}
	return nil
}

// Ping reports whether the broker connection is currently open, for the
// process health check.
func (p *Publisher) Ping(context.Context) error {
	if p.conn == nil || p.conn.IsClosed() {
		return gwerrors.Transient("amqp connection closed", nil)
	}
	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() {
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}
