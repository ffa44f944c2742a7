package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher owns a confirm-mode channel; every publish waits for the broker ack.
type Publisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &Publisher{channel: ch, exchange: exchange}, nil
}

func (p *Publisher) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	dc, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("broker nacked publish to %q", key)
	}
	return nil
}

// PublishJob routes an encoded job through the queue exchange.
func (p *Publisher) PublishJob(ctx context.Context, routingKey string, body []byte, attempts int) error {
	return p.publish(ctx, p.exchange, routingKey, jobPublishing(body, attempts))
}

// PublishDirect sends an encoded job straight to a queue via the default exchange.
func (p *Publisher) PublishDirect(ctx context.Context, queue string, body []byte, attempts int) error {
	return p.publish(ctx, "", queue, jobPublishing(body, attempts))
}

func (p *Publisher) Close() error {
	return p.channel.Close()
}

func jobPublishing(body []byte, attempts int) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			"x-attempts": int32(attempts),
		},
	}
}

type DLQPublisher struct {
	pub   *Publisher
	queue string
}

func NewDLQPublisher(pub *Publisher, dlqQueue string) *DLQPublisher {
	return &DLQPublisher{pub: pub, queue: dlqQueue}
}

func (dp *DLQPublisher) PublishToDLQ(ctx context.Context, msg []byte, reason string) error {
	return dp.pub.publish(ctx, "", dp.queue, amqp.Publishing{
		ContentType:  "application/json",
		Body:         msg,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			"x-dlq-reason": reason,
		},
	})
}
