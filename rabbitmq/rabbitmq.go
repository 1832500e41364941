package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"seed-order-service/config"
	"seed-order-service/models"
)

type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Cfg     *config.Config
	log     *slog.Logger

	delayReady bool
}

func NewRabbitMQ(cfg *config.Config, log *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &RabbitMQ{
		Conn:    conn,
		Channel: ch,
		Cfg:     cfg,
		log:     log,
	}, nil
}

// SetupQueues declares the order exchange, the priority order queue with its
// dead-letter route, and the delayed exchange feeding the same queue.
func (r *RabbitMQ) SetupQueues() error {
	cfg := r.Cfg
	dlx := cfg.DeadLetterQueue + "_exchange"

	steps := []struct {
		what string
		run  func() error
	}{
		{"dead-letter exchange", func() error { return r.declareExchange(dlx, amqp.ExchangeDirect, nil) }},
		{"dead-letter queue", func() error { return r.declareQueue(cfg.DeadLetterQueue, nil) }},
		{"dead-letter binding", func() error {
			return r.Channel.QueueBind(cfg.DeadLetterQueue, cfg.DeadLetterQueue, dlx, false, nil)
		}},
		{"order exchange", func() error { return r.declareExchange(cfg.OrderExchange, amqp.ExchangeFanout, nil) }},
		{"order queue", func() error {
			return r.declareQueue(cfg.OrderQueue, amqp.Table{
				"x-max-priority":            cfg.MaxPriority,
				"x-dead-letter-exchange":    dlx,
				"x-dead-letter-routing-key": cfg.DeadLetterQueue,
			})
		}},
		{"order binding", func() error { return r.Channel.QueueBind(cfg.OrderQueue, "", cfg.OrderExchange, false, nil) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("setup %s: %w", step.what, err)
		}
	}
	return r.setupDelayExchange()
}

// setupDelayExchange needs the rabbitmq_delayed_message_exchange plugin.
// Without it the service runs with payment checks disabled.
func (r *RabbitMQ) setupDelayExchange() error {
	err := r.declareExchange(r.Cfg.DelayExchange, "x-delayed-message", amqp.Table{"x-delayed-type": amqp.ExchangeDirect})
	if err != nil {
		r.log.Warn("delayed exchange not supported, payment checks disabled", "error", err)
		// a failed declare closes the channel
		ch, chErr := r.Conn.Channel()
		if chErr != nil {
			return fmt.Errorf("reopen channel: %w", chErr)
		}
		r.Channel = ch
		return nil
	}
	if err := r.Channel.QueueBind(r.Cfg.OrderQueue, r.Cfg.OrderQueue, r.Cfg.DelayExchange, false, nil); err != nil {
		return fmt.Errorf("setup delayed binding: %w", err)
	}
	r.delayReady = true
	return nil
}

// DelaySupported reports whether SetupQueues declared the delayed exchange.
func (r *RabbitMQ) DelaySupported() bool {
	return r.delayReady
}

// durable, not auto-deleted, not internal
func (r *RabbitMQ) declareExchange(name, kind string, args amqp.Table) error {
	return r.Channel.ExchangeDeclare(name, kind, true, false, false, false, args)
}

// durable, not auto-deleted, not exclusive
func (r *RabbitMQ) declareQueue(name string, args amqp.Table) error {
	_, err := r.Channel.QueueDeclare(name, true, false, false, false, args)
	return err
}

// Publisher returns an event publisher on the service channel.
func (r *RabbitMQ) Publisher() *Publisher {
	return NewPublisher(r.Channel, r.Cfg)
}

func (r *RabbitMQ) Close() {
	if r.Channel != nil {
		if err := r.Channel.Close(); err != nil {
			r.log.Warn("close rabbitmq channel", "error", err)
		}
	}
	if r.Conn != nil {
		if err := r.Conn.Close(); err != nil {
			r.log.Warn("close rabbitmq connection", "error", err)
		}
	}
}

// channelPublisher is the part of *amqp.Channel used for publishing.
type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends order events as persistent JSON messages.
type Publisher struct {
	ch  channelPublisher
	cfg *config.Config
}

func NewPublisher(ch channelPublisher, cfg *config.Config) *Publisher {
	return &Publisher{ch: ch, cfg: cfg}
}

func (p *Publisher) PublishOrderEvent(ctx context.Context, event models.OrderEvent, priority uint8) error {
	msg, err := newMessage(event)
	if err != nil {
		return err
	}
	msg.Priority = priority

	if err := p.ch.PublishWithContext(ctx, p.cfg.OrderExchange, "", false, false, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	return nil
}

func (p *Publisher) PublishDelayedEvent(ctx context.Context, event models.OrderEvent, delay time.Duration) error {
	msg, err := newMessage(event)
	if err != nil {
		return err
	}
	msg.Headers = amqp.Table{"x-delay": delay.Milliseconds()}

	if err := p.ch.PublishWithContext(ctx, p.cfg.DelayExchange, p.cfg.OrderQueue, false, false, msg); err != nil {
		return fmt.Errorf("publish delayed %s event: %w", event.Type, err)
	}
	return nil
}

func newMessage(event models.OrderEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal order event: %w", err)
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.Occurred,
		ContentType:  "application/json",
		Type:         event.Type,
		Body:         body,
	}, nil
}
