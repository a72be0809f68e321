package rabbitmq

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueArgs(t *testing.T) {
	assert.Nil(t, queueArgs(&Config{QueueName: "batches_queue"}))

	args := queueArgs(&Config{QueueName: "batches_queue", DeadLetterExchange: "batches_dlx"})
	assert.Equal(t, amqp.Table{"x-dead-letter-exchange": "batches_dlx"}, args)
}

func TestNewPublishing(t *testing.T) {
	a := newPublishing([]byte(`{"batch_id":"x"}`), "application/json")
	b := newPublishing([]byte(`{"batch_id":"x"}`), "application/json")

	assert.Equal(t, amqp.Persistent, a.DeliveryMode)
	assert.Equal(t, "application/json", a.ContentType)
	assert.NotEmpty(t, a.MessageId)
	assert.NotEqual(t, a.MessageId, b.MessageId)
	assert.False(t, a.Timestamp.IsZero())
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond

	assert.Equal(t, 100*time.Millisecond, backoffDelay(base, 2, 0))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(base, 2, 1))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(base, 2, 2))
	assert.Equal(t, 900*time.Millisecond, backoffDelay(base, 3, 2))
}

func TestConfig_URL(t *testing.T) {
	cfg := &Config{Host: "mq", Port: 5673, User: "svc", Password: "p@ss/word", VHost: "embed"}

	uri, err := amqp.ParseURI(cfg.URL())
	require.NoError(t, err)
	assert.Equal(t, "mq", uri.Host)
	assert.Equal(t, 5673, uri.Port)
	assert.Equal(t, "svc", uri.Username)
	assert.Equal(t, "p@ss/word", uri.Password)
	assert.Equal(t, "embed", uri.Vhost)
}

func newTestClient(cfg *Config, publish func(context.Context, amqp.Publishing) error) *Client {
	c := &Client{config: cfg, logger: slog.New(slog.NewTextHandler(io.Discard, nil)), publish: publish}
	c.connected.Store(true)
	return c
}

func TestPublishWithRetry(t *testing.T) {
	cfg := &Config{PublishRetries: 3, PublishRetryDelay: time.Millisecond, PublishBackoffMult: 2}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var ids []string
		c := newTestClient(cfg, func(ctx context.Context, msg amqp.Publishing) error {
			ids = append(ids, msg.MessageId)
			if len(ids) < 3 {
				return errors.New("channel busy")
			}
			return nil
		})

		require.NoError(t, c.PublishWithRetry(context.Background(), []byte("{}"), "application/json"))
		require.Len(t, ids, 3)
		assert.Equal(t, ids[0], ids[2], "retries reuse the message id")
	})

	t.Run("gives up after all attempts", func(t *testing.T) {
		calls := 0
		c := newTestClient(cfg, func(ctx context.Context, msg amqp.Publishing) error {
			calls++
			return errors.New("channel closed")
		})

		err := c.PublishWithRetry(context.Background(), []byte("{}"), "application/json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "after 4 attempts")
		assert.Equal(t, 4, calls)
	})

	t.Run("stops when context is done", func(t *testing.T) {
		slow := &Config{PublishRetries: 5, PublishRetryDelay: time.Hour}
		ctx, cancel := context.WithCancel(context.Background())
		c := newTestClient(slow, func(context.Context, amqp.Publishing) error {
			cancel()
			return errors.New("channel busy")
		})

		err := c.PublishWithRetry(ctx, []byte("{}"), "application/json")
		assert.ErrorContains(t, err, "publish canceled after 1 attempts")
	})

	t.Run("not connected", func(t *testing.T) {
		c := newTestClient(cfg, nil)
		c.connected.Store(false)
		assert.ErrorIs(t, c.PublishWithRetry(context.Background(), nil, "application/json"), ErrNotConnected)
	})
}
