package memory

import (
	"context"
	"sync"

	"github.com/rohittredhu/stream-flix/internal/domain/port"
)

const defaultSubscriberBuffer = 256

// Bus is a process-local port.EventBus. Each subscription drains its own
// buffered channel, so a slow handler only delays itself; messages that do
// not fit the buffer are dropped.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	buffer int
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

type subscription struct {
	bus     *Bus
	channel string
	ch      chan []byte
	once    sync.Once
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		subs:   make(map[string]map[*subscription]struct{}),
		buffer: buffer,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *Bus) Publish(_ context.Context, channel string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}
	for sub := range b.subs[channel] {
		msg := append([]byte(nil), data...)
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

func (b *Bus) Subscribe(_ context.Context, channel string, handler port.MessageHandler) (port.Subscription, error) {
	sub := &subscription{bus: b, channel: channel, ch: make(chan []byte, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errClosed
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		for msg := range sub.ch {
			handler(b.ctx, msg)
		}
	}()
	return sub, nil
}

func (s *subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *subscription) closeLocked() {
	s.once.Do(func() {
		delete(s.bus.subs[s.channel], s)
		if len(s.bus.subs[s.channel]) == 0 {
			delete(s.bus.subs, s.channel)
		}
		close(s.ch)
	})
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for sub := range subs {
			sub.closeLocked()
		}
	}
	b.cancel()
	return nil
}
