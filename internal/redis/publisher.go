package redisclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultEventsChannel = "appointments.events"

// Publisher fans JSON payloads out on a Redis pub/sub channel.
type Publisher struct {
	client  redis.Cmdable
	channel string
}

func NewPublisher(client redis.Cmdable, channel string) *Publisher {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	return &Publisher{client: client, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}
