// Package queue carries snapshot signals over RabbitMQ. The ingestion side
// publishes snapshot.updated events on the pubsub exchange; workers rescore
// on them and servers refresh their graph view.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/warehouse-risk/pkg/logger"
)

const (
	Exchange            = "pubsub"
	SnapshotUpdatedKey  = "snapshot.updated"
	RescoreQueue        = "rescore_queue"
	retryDelayMs        = int32(10000)
	maxDeliveryAttempts = 10
)

func Dial(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// SetupQueues declares the exchange and the durable work queues, each with
// a dead letter queue and a delayed retry queue.
func SetupQueues(ch *amqp091.Channel, queueNames ...string) error {
	err := ch.ExchangeDeclare(
		Exchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("exchange declare failed: %w", err)
	}

	for _, name := range queueNames {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("queue declare %s failed: %w", name, err)
		}
		if err := ch.QueueBind(name, SnapshotUpdatedKey, Exchange, false, nil); err != nil {
			return fmt.Errorf("queue bind %s failed: %w", name, err)
		}

		dlqName := name + "_dlq"
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s failed: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             retryDelayMs,
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("queue declare %s failed: %w", retryName, err)
		}
	}

	return nil
}

// Subscribe declares an exclusive, auto deleted queue bound to the snapshot
// signals. Every server instance gets its own copy of each signal.
func Subscribe(ch *amqp091.Channel) (string, error) {
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("exchange declare failed: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("queue declare failed: %w", err)
	}
	if err := ch.QueueBind(q.Name, SnapshotUpdatedKey, Exchange, false, nil); err != nil {
		return "", fmt.Errorf("queue bind failed: %w", err)
	}
	return q.Name, nil
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// PublishSnapshotUpdated signals a new snapshot version.
func PublishSnapshotUpdated(ctx context.Context, ch publisher, ev SnapshotEvent) error {
	body, err := ev.Marshal()
	if err != nil {
		return err
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}
	if err := ch.PublishWithContext(ctx, Exchange, SnapshotUpdatedKey, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish snapshot signal: %w", err)
	}
	logger.Debug("[Queue] Published snapshot signal", "version", ev.Version, "entities", len(ev.EntityIDs))
	return nil
}
