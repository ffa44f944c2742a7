// Package eventbus carries the typed channel payloads over a port.EventBus.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
	"github.com/rohittredhu/stream-flix/internal/infra/metrics"
	"go.uber.org/zap"
)

type Publisher struct {
	bus    port.EventBus
	logger *zap.Logger
}

func NewPublisher(bus port.EventBus, logger *zap.Logger) *Publisher {
	return &Publisher{bus: bus, logger: logger.With(zap.String("component", "eventbus"))}
}

// Publish validates and sends payload on its channel.
func (p *Publisher) Publish(ctx context.Context, payload entity.Payload) error {
	channel := string(payload.Channel())
	evt, err := entity.NewEvent(payload)
	if err != nil {
		metrics.BusErrorsTotal.WithLabelValues(channel, "encode").Inc()
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		metrics.BusErrorsTotal.WithLabelValues(channel, "encode").Inc()
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.bus.Publish(ctx, channel, data); err != nil {
		metrics.BusErrorsTotal.WithLabelValues(channel, "publish").Inc()
		return err
	}
	metrics.BusMessagesTotal.WithLabelValues(channel, "out").Inc()
	return nil
}

// Emit is Publish for callers that must not fail because a notification
// could not be sent.
func (p *Publisher) Emit(ctx context.Context, payload entity.Payload) {
	if err := p.Publish(ctx, payload); err != nil {
		p.logger.Warn("event publish failed",
			zap.String("channel", string(payload.Channel())),
			zap.String("item_id", payload.ForItem()),
			zap.Error(err),
		)
	}
}

// Handler receives one decoded event.
type Handler func(ctx context.Context, evt entity.Event, payload entity.Payload)

// Subscribe registers h on every channel. Messages that do not decode to a
// valid payload are logged and dropped.
func Subscribe(ctx context.Context, bus port.EventBus, channels []entity.Channel, logger *zap.Logger, h Handler) (port.Subscription, error) {
	subs := make(multiSubscription, 0, len(channels))
	for _, ch := range channels {
		channel := ch
		sub, err := bus.Subscribe(ctx, string(channel), func(ctx context.Context, data []byte) {
			evt, payload, err := entity.DecodeEvent(data)
			if err == nil && evt.Channel != channel {
				err = fmt.Errorf("%w: envelope channel %q on %q", entity.ErrInvalidEvent, evt.Channel, channel)
			}
			if err != nil {
				metrics.BusErrorsTotal.WithLabelValues(string(channel), "decode").Inc()
				logger.Warn("dropping invalid event", zap.String("channel", string(channel)), zap.Error(err))
				return
			}
			metrics.BusMessagesTotal.WithLabelValues(string(channel), "in").Inc()
			h(ctx, evt, payload)
		})
		if err != nil {
			metrics.BusErrorsTotal.WithLabelValues(string(channel), "subscribe").Inc()
			_ = subs.Unsubscribe()
			return nil, fmt.Errorf("subscribe %s: %w", channel, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

type multiSubscription []port.Subscription

func (m multiSubscription) Unsubscribe() error {
	var errs []error
	for _, s := range m {
		if err := s.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
