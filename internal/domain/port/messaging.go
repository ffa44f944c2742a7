package port

import "context"

// MessageHandler receives one raw message published on a channel.
type MessageHandler func(ctx context.Context, data []byte)

type Subscription interface {
	Unsubscribe() error
}

// EventBus is an at-most-once, cross-process fanout. Subscribe returns once
// the subscription is active; earlier messages are never delivered to it.
type EventBus interface {
	Publish(ctx context.Context, channel string, data []byte) error
	Subscribe(ctx context.Context, channel string, handler MessageHandler) (Subscription, error)
	Close() error
}
