package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, DefaultEventsChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewPublisher(rdb, "")
	require.NoError(t, p.Publish(ctx, map[string]string{"type": "appointment.accepted"}))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, DefaultEventsChannel, msg.Channel)
		assert.JSONEq(t, `{"type":"appointment.accepted"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestPublisher_MarshalError(t *testing.T) {
	_, rdb := newTestRedis(t)
	p := NewPublisher(rdb, "events")
	err := p.Publish(context.Background(), map[string]any{"bad": make(chan int)})
	assert.ErrorContains(t, err, "marshal event")
}
