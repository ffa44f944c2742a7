package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
	"github.com/rohittredhu/stream-flix/internal/infra/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingBus struct{ port.EventBus }

func (failingBus) Publish(context.Context, string, []byte) error { return errors.New("broker down") }

func TestPublishAndSubscribeTyped(t *testing.T) {
	ctx := context.Background()
	bus := memory.NewBus(8)
	defer bus.Close()

	got := make(chan entity.Payload, 1)
	sub, err := Subscribe(ctx, bus, entity.Channels, zap.NewNop(), func(_ context.Context, _ entity.Event, p entity.Payload) {
		got <- p
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	pub := NewPublisher(bus, zap.NewNop())
	require.NoError(t, pub.Publish(ctx, entity.LikeToggled{ItemID: "v1", UserID: "u1", Liked: true}))

	select {
	case p := <-got:
		like, ok := p.(entity.LikeToggled)
		require.True(t, ok)
		assert.Equal(t, "v1", like.ItemID)
		assert.True(t, like.Liked)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPublishRejectsInvalidPayload(t *testing.T) {
	bus := memory.NewBus(8)
	defer bus.Close()
	pub := NewPublisher(bus, zap.NewNop())

	err := pub.Publish(context.Background(), entity.CommentAdded{ItemID: "v1"})
	assert.ErrorIs(t, err, entity.ErrInvalidEvent)
}

func TestSubscribeDropsGarbage(t *testing.T) {
	ctx := context.Background()
	bus := memory.NewBus(8)
	defer bus.Close()

	got := make(chan entity.Payload, 2)
	_, err := Subscribe(ctx, bus, []entity.Channel{entity.ChannelCommentAdded}, zap.NewNop(), func(_ context.Context, _ entity.Event, p entity.Payload) {
		got <- p
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, string(entity.ChannelCommentAdded), []byte("not json")))
	pub := NewPublisher(bus, zap.NewNop())
	require.NoError(t, pub.Publish(ctx, entity.CommentAdded{ItemID: "v2", Comment: entity.CommentView{ID: "c1", Content: "hi"}}))

	select {
	case p := <-got:
		assert.Equal(t, "v2", p.ForItem())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	select {
	case p := <-got:
		t.Fatalf("unexpected payload %#v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitSwallowsErrors(t *testing.T) {
	pub := NewPublisher(failingBus{}, zap.NewNop())
	assert.NotPanics(t, func() {
		pub.Emit(context.Background(), entity.ItemProcessingFailed{ItemID: "v1", Error: "x"})
	})
	assert.Error(t, pub.Publish(context.Background(), entity.ItemProcessingFailed{ItemID: "v1", Error: "x"}))
}
