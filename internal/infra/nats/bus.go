package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
	"go.uber.org/zap"
)

const (
	subjectPrefix = "streamflix.events."
	flushTimeout  = 5 * time.Second
)

var errBusClosed = errors.New("nats bus closed")

// Bus is a port.EventBus on core NATS subjects. Core NATS keeps no history,
// which matches the bus contract of live fanout only.
type Bus struct {
	nc     *nats.Conn
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[*nats.Subscription]struct{}
	closed bool
}

// Connect dials url with reconnects enabled and wraps the connection in a Bus.
func Connect(url, name string, logger *zap.Logger) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	b := NewBus(nc, logger)
	return b, nil
}

func NewBus(nc *nats.Conn, logger *zap.Logger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		nc:     nc,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[*nats.Subscription]struct{}),
	}
}

func subject(channel string) string { return subjectPrefix + channel }

func (b *Bus) Publish(_ context.Context, channel string, data []byte) error {
	if err := b.nc.Publish(subject(channel), data); err != nil {
		return fmt.Errorf("nats publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe flushes the SUB to the server before returning so that later
// publishes from any connection are delivered.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler port.MessageHandler) (port.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errBusClosed
	}

	sub, err := b.nc.Subscribe(subject(channel), func(msg *nats.Msg) {
		handler(b.ctx, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", channel, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := b.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats flush %s: %w", channel, err)
	}
	b.subs[sub] = struct{}{}
	return &subscription{bus: b, sub: sub}, nil
}

type subscription struct {
	bus *Bus
	sub *nats.Subscription
}

func (s *subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s.sub]; !ok {
		return nil
	}
	delete(s.bus.subs, s.sub)
	return s.sub.Unsubscribe()
}

// Close drains subscriptions and closes the connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = map[*nats.Subscription]struct{}{}
	b.mu.Unlock()

	err := b.nc.Drain()
	b.cancel()
	return err
}
