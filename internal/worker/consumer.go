package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/imgembed/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer sets up RabbitMQ consumer with QoS and returns delivery channel
func (w *Worker) setupConsumer(ctx context.Context) (<-chan amqp.Delivery, error) {
	if w.rabbitClient == nil {
		return nil, fmt.Errorf("rabbitmq client is nil")
	}

	channel := w.rabbitClient.GetChannel()
	if channel == nil {
		return nil, fmt.Errorf("rabbitmq channel is nil")
	}

	// prefetch_size 0: no byte limit; global false: per consumer
	if err := channel.Qos(w.prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	consumerTag := w.workerID

	deliveries, err := w.rabbitClient.Consume(consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", consumerTag),
		slog.String("worker_id", w.workerID),
		slog.String("queue", w.rabbitMQQueueName),
	)

	return deliveries, nil
}

// parseBatchMessage extracts and validates the batch id of a message body
func parseBatchMessage(body []byte) (*domain.BatchMessage, error) {
	var msg domain.BatchMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message JSON: %w", err)
	}

	if _, err := uuid.Parse(msg.BatchID); err != nil {
		return nil, fmt.Errorf("invalid batch_id %q: %w", msg.BatchID, err)
	}

	return &msg, nil
}

// errDeliveriesClosed is returned when the broker closes the consumer
var errDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// startMessageDispatcher hands deliveries to the batch loop until ctx is
// canceled or the delivery channel closes
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return errDeliveriesClosed
			}
			if !w.dispatch(ctx, delivery) {
				return nil
			}
		}
	}
}

// dispatch forwards one delivery to the batch loop. Malformed bodies are
// rejected without requeue so they land on the dead letter queue. Returns
// false when the worker is shutting down.
func (w *Worker) dispatch(ctx context.Context, delivery amqp.Delivery) bool {
	msg, err := parseBatchMessage(delivery.Body)
	if err != nil {
		w.logger.Error("Rejecting malformed message",
			slog.String("message_id", delivery.MessageId),
			slog.String("error", err.Error()),
		)
		if rejectErr := delivery.Reject(false); rejectErr != nil {
			w.logger.Error("Failed to reject malformed message",
				slog.String("error", rejectErr.Error()),
			)
		}
		return true
	}
	msg.DeliveryTag = delivery.DeliveryTag

	select {
	case w.batchesChan <- msg:
		w.logger.Debug("Batch dispatched",
			slog.String("batch_id", msg.BatchID),
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
		)
		return true
	case <-ctx.Done():
		// nobody will run it here; hand it back to the queue
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			w.logger.Error("Failed to NACK message on shutdown",
				slog.String("batch_id", msg.BatchID),
				slog.String("error", nackErr.Error()),
			)
		}
		return false
	}
}
