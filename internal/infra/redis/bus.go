package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
	"go.uber.org/zap"
)

const subscriberBuffer = 256

var errBusClosed = errors.New("redis bus closed")

// Bus is a port.EventBus over Redis PUBLISH/SUBSCRIBE. Every subscription
// owns a dedicated connection and goroutine.
type Bus struct {
	rc     *goredis.Client
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[*busSubscription]struct{}
	closed bool
}

type busSubscription struct {
	bus  *Bus
	ps   *goredis.PubSub
	done chan struct{}
	once sync.Once
}

func NewBus(rc *goredis.Client, logger *zap.Logger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		rc:     rc,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[*busSubscription]struct{}),
	}
}

func (b *Bus) Publish(ctx context.Context, channel string, data []byte) error {
	if err := b.rc.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns after Redis confirmed the subscription, so any message
// published afterwards reaches handler.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler port.MessageHandler) (port.Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errBusClosed
	}
	b.mu.Unlock()

	ps := b.rc.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	sub := &busSubscription{bus: b, ps: ps, done: make(chan struct{})}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ps.Close()
		return nil, errBusClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	msgs := ps.Channel(goredis.WithChannelSize(subscriberBuffer))
	go func() {
		defer close(sub.done)
		for msg := range msgs {
			handler(b.ctx, []byte(msg.Payload))
		}
	}()

	b.logger.Debug("subscribed", zap.String("channel", channel))
	return sub, nil
}

func (s *busSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	return s.close()
}

func (s *busSubscription) close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
	})
	return err
}

// Close ends every subscription. The client itself stays open.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var errs []error
	for sub := range subs {
		if err := sub.close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.cancel()
	return errors.Join(errs...)
}
