package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/imgembed/internal/worker/domain"
)

// action is what happens to a delivery once its batch has been handled
type action int

const (
	actionAck action = iota
	actionRequeue
	actionDeadLetter
)

func (a action) String() string {
	switch a {
	case actionAck:
		return "ack"
	case actionRequeue:
		return "requeue"
	default:
		return "dead-letter"
	}
}

// actionFor maps the result of processBatch to a delivery action. A batch
// that was deleted, is owned by someone else or is no longer pending is done
// with; other permanent failures are dead-lettered for inspection.
func actionFor(err error) action {
	switch {
	case err == nil, errors.Is(err, domain.ErrBatchAlreadyClaimed), errors.Is(err, domain.ErrBatchNotFound):
		return actionAck
	case domain.IsRetryable(err):
		return actionRequeue
	default:
		return actionDeadLetter
	}
}

// startProcessing starts the single goroutine that runs batches. The drawing
// host executes one command at a time, so batches never overlap.
func (w *Worker) startProcessing(ctx context.Context) {
	w.wg.Add(1)
	go w.processLoop(ctx)
}

func (w *Worker) processLoop(ctx context.Context) {
	defer w.wg.Done()

	w.logger.Info("Batch loop started", slog.String("worker_id", w.workerID))

	processed := 0
	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Batch loop stopping", slog.Int("processed", processed))
			return

		case <-ctx.Done():
			w.logger.Info("Batch loop stopping - context canceled", slog.Int("processed", processed))
			return

		case msg, ok := <-w.batchesChan:
			if !ok {
				return
			}

			err := w.processBatch(ctx, msg)
			processed++

			act := actionFor(err)
			switch {
			case err == nil:
			case act == actionAck:
				w.logger.Warn("Batch skipped",
					slog.String("batch_id", msg.BatchID),
					slog.String("reason", err.Error()),
				)
			default:
				w.logger.Error("Batch processing failed",
					slog.String("batch_id", msg.BatchID),
					slog.String("action", act.String()),
					slog.String("error", err.Error()),
				)
			}

			w.settle(msg, act)
		}
	}
}

// settle applies act to the delivery of msg
func (w *Worker) settle(msg *domain.BatchMessage, act action) {
	ch := w.acker()
	if ch == nil {
		w.logger.Error("Failed to get RabbitMQ channel for ACK/NACK",
			slog.String("batch_id", msg.BatchID),
		)
		return
	}

	var err error
	if act == actionAck {
		err = ch.Ack(msg.DeliveryTag, false)
	} else {
		err = ch.Nack(msg.DeliveryTag, false, act == actionRequeue)
	}

	if err != nil {
		w.logger.Error("Failed to settle message",
			slog.String("batch_id", msg.BatchID),
			slog.String("action", act.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Debug("Message settled",
		slog.String("batch_id", msg.BatchID),
		slog.String("action", act.String()),
	)
}
