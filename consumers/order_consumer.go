package consumers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"seed-order-service/config"
	"seed-order-service/models"
)

// OrderCanceller is the order operation the consumer drives.
type OrderCanceller interface {
	CancelIfPending(ctx context.Context, id int64) (bool, error)
}

type OrderConsumer struct {
	ch     *amqp.Channel
	cfg    *config.Config
	orders OrderCanceller
	log    *slog.Logger
	wg     sync.WaitGroup
}

func NewOrderConsumer(ch *amqp.Channel, cfg *config.Config, orders OrderCanceller, log *slog.Logger) *OrderConsumer {
	return &OrderConsumer{ch: ch, cfg: cfg, orders: orders, log: log}
}

// Start registers the order and dead-letter consumers and processes
// deliveries until ctx is done or the channel closes.
func (oc *OrderConsumer) Start(ctx context.Context) error {
	msgs, err := oc.ch.Consume(
		oc.cfg.OrderQueue,
		"order-service", // consumer tag
		false,           // auto-ack
		false,           // exclusive
		false,           // no-local
		false,           // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("register order consumer: %w", err)
	}

	dlqMsgs, err := oc.ch.Consume(
		oc.cfg.DeadLetterQueue,
		"order-service-dlq",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register dead-letter consumer: %w", err)
	}

	oc.wg.Add(2)
	go oc.run(ctx, msgs, oc.processOrderMessage)
	go oc.run(ctx, dlqMsgs, oc.processDeadLetterMessage)
	return nil
}

// Wait blocks until both delivery loops have exited.
func (oc *OrderConsumer) Wait() {
	oc.wg.Wait()
}

func (oc *OrderConsumer) run(ctx context.Context, msgs <-chan amqp.Delivery, handle func(context.Context, amqp.Delivery)) {
	defer oc.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			handle(ctx, msg)
		}
	}
}

func (oc *OrderConsumer) processOrderMessage(ctx context.Context, msg amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			oc.log.Error("recovered from panic in message processing", "panic", r)
			oc.nack(msg)
		}
	}()

	var event models.OrderEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil || event.OrderID <= 0 {
		oc.log.Warn("invalid order event", "body", string(msg.Body), "error", err)
		oc.nack(msg)
		return
	}

	l := oc.log.With("order_id", event.OrderID, "type", event.Type)
	switch event.Type {
	case models.EventPaymentCheck:
		cancelled, err := oc.orders.CancelIfPending(ctx, event.OrderID)
		if err != nil {
			l.Error("payment check failed", "error", err)
			oc.nack(msg)
			return
		}
		if cancelled {
			l.Info("auto-cancelled order due to non-payment")
		}
	case models.EventCreated, models.EventUpdated, models.EventStatusUpdated, models.EventDeleted:
		l.Info("order event received", "status", event.Status, "total", event.Total.String())
	default:
		l.Warn("unknown event type")
	}

	if err := msg.Ack(false); err != nil {
		l.Warn("ack failed", "error", err)
	}
}

func (oc *OrderConsumer) processDeadLetterMessage(ctx context.Context, msg amqp.Delivery) {
	oc.log.Warn("received dead letter", "body", string(msg.Body), "type", msg.Type)
	if err := msg.Ack(false); err != nil {
		oc.log.Warn("ack failed", "error", err)
	}
}

// nack rejects without requeue, routing the message to the dead-letter queue.
func (oc *OrderConsumer) nack(msg amqp.Delivery) {
	if err := msg.Nack(false, false); err != nil {
		oc.log.Warn("nack failed", "error", err)
	}
}
