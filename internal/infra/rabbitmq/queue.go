package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
	"go.uber.org/zap"
)

type QueueConfig struct {
	URL      string
	Queue    string
	Exchange string
	DLQ      string
}

// Queue is a port.JobQueue on RabbitMQ. A claim is an unacked basic.get, so
// the broker alone guarantees exclusivity and redelivers jobs held by a
// consumer that disappears. Retries wait in per-delay queues whose TTL
// dead-letters them back onto the main queue.
type Queue struct {
	conn     *amqp.Connection
	mu       sync.Mutex
	channel  *amqp.Channel
	pub      *Publisher
	dlq      *DLQPublisher
	queue    string
	exchange string
	logger   *zap.Logger

	inflight map[string]amqp.Delivery
	retryQs  map[int64]string
}

func NewQueue(cfg QueueConfig, logger *zap.Logger) (*Queue, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		conn.Close()
		return nil, err
	}

	pub, err := NewPublisher(conn, cfg.Exchange)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Queue{
		conn:     conn,
		channel:  ch,
		pub:      pub,
		dlq:      NewDLQPublisher(pub, cfg.DLQ),
		queue:    cfg.Queue,
		exchange: cfg.Exchange,
		logger:   logger.With(zap.String("queue", cfg.Queue)),
		inflight: make(map[string]amqp.Delivery),
		retryQs:  make(map[int64]string),
	}, nil
}

func declareTopology(ch *amqp.Channel, cfg QueueConfig) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	for _, q := range []string{cfg.Queue, cfg.DLQ} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}
	if err := ch.QueueBind(cfg.Queue, cfg.Queue, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", cfg.Queue, err)
	}
	return nil
}

func (q *Queue) Enqueue(ctx context.Context, kind string, payload []byte, opts entity.JobOptions) (string, error) {
	job := entity.NewJob(kind, payload, opts)
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	if err := q.pub.PublishJob(ctx, q.queue, body, job.Attempts); err != nil {
		return "", fmt.Errorf("publish job: %w", err)
	}
	return job.ID, nil
}

func (q *Queue) Claim(_ context.Context, consumer string) (*entity.Job, error) {
	q.mu.Lock()
	d, ok, err := q.channel.Get(q.queue, false)
	q.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("basic.get: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var job entity.Job
	if err := json.Unmarshal(d.Body, &job); err != nil || job.ID == "" {
		q.logger.Error("undecodable job, moving to dead letters", zap.Error(err))
		if derr := q.dlq.PublishToDLQ(context.Background(), d.Body, "undecodable job"); derr != nil {
			_ = d.Nack(false, true)
			return nil, fmt.Errorf("dead-letter undecodable job: %w", derr)
		}
		_ = d.Ack(false)
		return nil, nil
	}
	job.MarkActive()

	q.mu.Lock()
	q.inflight[job.ID] = d
	q.mu.Unlock()

	q.logger.Debug("job claimed",
		zap.String("job_id", job.ID),
		zap.String("consumer", consumer),
		zap.Int("attempt", job.Attempts),
		zap.Bool("redelivered", d.Redelivered),
	)
	return &job, nil
}

func (q *Queue) take(job *entity.Job) (amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	d, ok := q.inflight[job.ID]
	if !ok {
		return amqp.Delivery{}, fmt.Errorf("%w: %s", port.ErrJobNotActive, job.ID)
	}
	delete(q.inflight, job.ID)
	return d, nil
}

// Progress is advisory only; the broker has nowhere to keep it.
func (q *Queue) Progress(_ context.Context, job *entity.Job, percent int) error {
	q.mu.Lock()
	_, ok := q.inflight[job.ID]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", port.ErrJobNotActive, job.ID)
	}
	job.Progress = percent
	return nil
}

func (q *Queue) Complete(_ context.Context, job *entity.Job) error {
	d, err := q.take(job)
	if err != nil {
		return err
	}
	job.MarkCompleted()
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	return nil
}

// Retry republishes the job to a delay queue before acking the original, so
// a crash in between duplicates the job instead of losing it.
func (q *Queue) Retry(ctx context.Context, job *entity.Job, delay time.Duration, reason string) error {
	d, err := q.take(job)
	if err != nil {
		return err
	}
	job.MarkQueued(reason)
	body, err := json.Marshal(job)
	if err != nil {
		_ = d.Nack(false, true)
		return fmt.Errorf("encode job: %w", err)
	}

	retryQueue, err := q.retryQueue(delay)
	if err != nil {
		_ = d.Nack(false, true)
		return err
	}
	if err := q.pub.PublishDirect(ctx, retryQueue, body, job.Attempts); err != nil {
		_ = d.Nack(false, true)
		return fmt.Errorf("publish retry: %w", err)
	}
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	return nil
}

func (q *Queue) Fail(ctx context.Context, job *entity.Job, reason string) error {
	d, err := q.take(job)
	if err != nil {
		return err
	}
	job.MarkFailed(reason)
	body, err := json.Marshal(job)
	if err != nil {
		_ = d.Nack(false, true)
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.dlq.PublishToDLQ(ctx, body, reason); err != nil {
		_ = d.Nack(false, true)
		return fmt.Errorf("publish to dlq: %w", err)
	}
	if err := d.Ack(false); err != nil {
		return fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	return nil
}

// retryQueue declares, once per distinct delay, a queue that holds messages
// for delay and then dead-letters them to the main queue.
func (q *Queue) retryQueue(delay time.Duration) (string, error) {
	ms := delay.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if name, ok := q.retryQs[ms]; ok {
		return name, nil
	}
	name := fmt.Sprintf("%s.retry.%d", q.queue, ms)
	_, err := q.channel.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-message-ttl":             ms,
		"x-dead-letter-exchange":    q.exchange,
		"x-dead-letter-routing-key": q.queue,
	})
	if err != nil {
		return "", fmt.Errorf("declare retry queue %s: %w", name, err)
	}
	q.retryQs[ms] = name
	return name, nil
}

// Close returns unacked jobs to the broker by closing the channel.
func (q *Queue) Close() error {
	q.pub.Close()
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
