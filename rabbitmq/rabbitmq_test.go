package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seed-order-service/config"
	"seed-order-service/models"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return f.err
}

var testCfg = &config.Config{
	OrderExchange: "orders_exchange",
	OrderQueue:    "orders_queue",
	DelayExchange: "delay_exchange",
}

func event(eventType string) models.OrderEvent {
	return models.OrderEvent{
		OrderID:     7,
		OrderNumber: "ORD-1-001",
		Type:        eventType,
		Status:      models.StatusPending,
		Total:       decimal.RequireFromString("411.50"),
		Occurred:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestPublishOrderEvent(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, testCfg)

	require.NoError(t, p.PublishOrderEvent(context.Background(), event(models.EventCreated), 9))
	require.Len(t, ch.sent, 1)

	sent := ch.sent[0]
	assert.Equal(t, "orders_exchange", sent.exchange)
	assert.Equal(t, uint8(9), sent.msg.Priority)
	assert.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)
	assert.Equal(t, "application/json", sent.msg.ContentType)

	var got models.OrderEvent
	require.NoError(t, json.Unmarshal(sent.msg.Body, &got))
	assert.Equal(t, int64(7), got.OrderID)
	assert.Equal(t, models.EventCreated, got.Type)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("411.5")))
}

func TestPublishDelayedEvent(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, testCfg)

	require.NoError(t, p.PublishDelayedEvent(context.Background(), event(models.EventPaymentCheck), 15*time.Minute))
	sent := ch.sent[0]
	assert.Equal(t, "delay_exchange", sent.exchange)
	assert.Equal(t, "orders_queue", sent.key)
	assert.Equal(t, int64(900000), sent.msg.Headers["x-delay"])
}

func TestPublish_WrapsChannelError(t *testing.T) {
	boom := errors.New("channel closed")
	p := NewPublisher(&fakeChannel{err: boom}, testCfg)

	err := p.PublishOrderEvent(context.Background(), event(models.EventDeleted), 5)
	assert.ErrorIs(t, err, boom)
}
