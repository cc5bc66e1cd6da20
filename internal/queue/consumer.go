package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
)

// Handler processes one message body.
type Handler func(ctx context.Context, body []byte) error

type ConsumeOptions struct {
	// Retry routes failed messages through the retry and dead letter
	// queues declared by SetupQueues. Without it failures are dropped.
	Retry bool
}

// Consume delivers messages of queueName to handle one at a time until ctx
// is done.
func Consume(ctx context.Context, ch *amqp091.Channel, queueName string, opts ConsumeOptions, handle Handler) error {
	if err := ch.Qos(1, 0, false); err != nil {
		return err
	}
	msgs, err := ch.Consume(
		queueName,
		queueName+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping consumer", "queue", queueName)
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			process(ctx, ch, queueName, opts, msg, handle)
		}
	}
}

func process(ctx context.Context, ch publisher, queueName string, opts ConsumeOptions, msg amqp091.Delivery, handle Handler) {
	start := time.Now()
	err := handle(ctx, msg.Body)
	if err == nil {
		if err := msg.Ack(false); err != nil {
			logger.Error("Failed to ack message", "err", err)
		}
		logger.Info("Message processed successfully", "queue", queueName, "duration", time.Since(start).Round(time.Millisecond))
		return
	}

	logger.Error("Error processing message", "queue", queueName, "err", err)
	if !opts.Retry {
		_ = msg.Nack(false, false)
		return
	}
	handleProcessingError(ctx, ch, msg, queueName, err)
}

func retries(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// handleProcessingError republishes msg to the retry queue, or to the dead
// letter queue once it failed maxDeliveryAttempts times or cannot succeed.
func handleProcessingError(ctx context.Context, ch publisher, msg amqp091.Delivery, queueName string, cause error) {
	n := retries(msg.Headers)
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	target := queueName + "_retry"
	if n >= maxDeliveryAttempts || errors.Is(cause, errPermanent) {
		target = queueName + "_dlq"
		headers["x-error"] = cause.Error()
		logger.Info("Sending message to DLQ", "dlq", target)
	} else {
		headers["x-retries"] = int32(n + 1)
	}

	err := ch.PublishWithContext(ctx, "", target, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
	})
	if err != nil {
		logger.Error("Failed to republish message", "queue", target, "err", err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
