package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Queue hands composed mails to a RabbitMQ queue for a separate mailer
// process to deliver.
type Queue struct {
	conn  *amqp.Connection
	ch    publisher
	queue string
}

// DialQueue connects to url and declares a durable queue.
func DialQueue(url, queue string) (*Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", queue, err)
	}
	return &Queue{conn: conn, ch: ch, queue: queue}, nil
}

func (q *Queue) SendOTP(ctx context.Context, email, code, purpose string) error {
	body, err := json.Marshal(ComposeOTP(email, code, purpose))
	if err != nil {
		return fmt.Errorf("marshal mail: %w", err)
	}
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish mail: %w", err)
	}
	return nil
}

func (q *Queue) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}
