// Package ws publishes private order events to Redis.
package ws

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/exchange/brokerage/internal/repository"
	"github.com/exchange/brokerage/pkg/tracing"
)

// DefaultChannel is the per-customer event channel template.
const DefaultChannel = "private:customer:{customerId}:events"

const (
	EventCreated  = "created"
	EventCanceled = "canceled"
	EventMatched  = "matched"
	EventFill     = "fill"
)

// Publisher publishes private events.
type Publisher struct {
	client  redis.UniversalClient
	channel string
}

// NewPublisher creates a publisher.
func NewPublisher(client redis.UniversalClient, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

// ChannelFor resolves the channel for a customer.
func (p *Publisher) ChannelFor(customerID string) string {
	return strings.ReplaceAll(p.channel, "{customerId}", customerID)
}

// PublishOrderEvent publishes an order lifecycle event to the order owner.
func (p *Publisher) PublishOrderEvent(ctx context.Context, event string, order *repository.Order) error {
	return p.publish(ctx, order.CustomerID, "order", event, order)
}

// PublishFill publishes a fill to one side of the trade.
func (p *Publisher) PublishFill(ctx context.Context, customerID string, fill interface{}) error {
	return p.publish(ctx, customerID, "trade", EventFill, fill)
}

func (p *Publisher) publish(ctx context.Context, customerID, channel, event string, data interface{}) error {
	payload := map[string]interface{}{
		"channel": channel,
		"event":   event,
		"data":    data,
	}
	tracing.InjectEvent(ctx, payload)

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.ChannelFor(customerID), raw).Err()
}
