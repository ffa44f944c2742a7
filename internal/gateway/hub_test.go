package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func attach(t *testing.T, h *Hub, user string, limiter *rate.Limiter) *Client {
	t.Helper()
	c := newClient(h, nil, user, 16, limiter)
	require.NoError(t, h.register(c))
	return c
}

func next(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case raw, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for frame on %s", c.id)
		return frame{}
	}
}

func nothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected frame %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func send(h *Hub, c *Client, event string, data any) {
	raw, _ := json.Marshal(data)
	h.dispatch(c, Envelope{Event: event, Data: raw})
}

func count(t *testing.T, f frame) int {
	t.Helper()
	require.Equal(t, EventViewerCount, f.Event)
	var vc viewerCount
	require.NoError(t, json.Unmarshal(f.Data, &vc))
	return vc.Count
}

func TestHubViewerCounts(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := attach(t, h, "a", nil)
	b := attach(t, h, "b", nil)

	send(h, a, EventJoinItem, "v1")
	assert.Equal(t, 1, count(t, next(t, a)))

	send(h, b, EventJoinItem, map[string]string{"itemId": "v1"})
	assert.Equal(t, 2, count(t, next(t, a)))
	assert.Equal(t, 2, count(t, next(t, b)))

	send(h, b, EventLeaveItem, "v1")
	assert.Equal(t, 1, count(t, next(t, a)))
	assert.Equal(t, 1, count(t, next(t, b)))

	send(h, a, EventJoinItem, "")
	assert.Equal(t, EventError, next(t, a).Event)
}

// lastCount drains c and returns the last viewer count it was sent.
func lastCount(t *testing.T, c *Client) int {
	t.Helper()
	last := -1
	for {
		select {
		case raw := <-c.send:
			var f frame
			require.NoError(t, json.Unmarshal(raw, &f))
			last = count(t, f)
		default:
			return last
		}
	}
}

func TestHubConcurrentMembershipCounts(t *testing.T) {
	const viewers = 16
	for round := 0; round < 50; round++ {
		h := NewHub(zap.NewNop())
		clients := make([]*Client, viewers)
		for i := range clients {
			clients[i] = newClient(h, nil, fmt.Sprintf("u%d", i), 4*viewers, nil)
			require.NoError(t, h.register(clients[i]))
		}

		var wg sync.WaitGroup
		for _, c := range clients {
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				send(h, c, EventJoinItem, "X")
			}(c)
		}
		wg.Wait()
		for _, c := range clients {
			require.Equal(t, viewers, lastCount(t, c), "round %d, %s", round, c.id)
		}

		for _, c := range clients[:viewers/2] {
			wg.Add(1)
			go func(c *Client) {
				defer wg.Done()
				h.unregister(c)
			}(c)
		}
		wg.Wait()
		for _, c := range clients[viewers/2:] {
			require.Equal(t, viewers/2, lastCount(t, c), "round %d, %s", round, c.id)
		}
		assert.Equal(t, viewers/2, h.registry.Count("X"))
	}
}

func TestHubRoomIsolation(t *testing.T) {
	h := NewHub(zap.NewNop())
	member := attach(t, h, "m", nil)
	outsider := attach(t, h, "o", nil)

	send(h, member, EventJoinItem, "X")
	next(t, member)
	send(h, outsider, EventJoinItem, "Y")
	next(t, outsider)

	payload := entity.ItemProcessingFailed{ItemID: "X", Error: "upload failed"}
	evt, err := entity.NewEvent(payload)
	require.NoError(t, err)
	h.HandleEvent(context.Background(), evt, payload)

	f := next(t, member)
	assert.Equal(t, EventItemProcessingFailed, f.Event)
	assert.JSONEq(t, `{"itemId":"X","error":"upload failed"}`, string(f.Data))
	nothing(t, outsider)
}

func TestHubSignals(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := attach(t, h, "alice", nil)
	b := attach(t, h, "bob", nil)
	send(h, a, EventJoinItem, "v1")
	next(t, a)
	send(h, b, EventJoinItem, "v1")
	next(t, a)
	next(t, b)

	send(h, a, EventTyping, roomSignal{ItemID: "v1"})
	f := next(t, b)
	assert.Equal(t, EventUserTyping, f.Event)
	assert.JSONEq(t, `{"username":"alice"}`, string(f.Data))
	nothing(t, a)

	send(h, a, EventPlayback, roomSignal{ItemID: "v1", State: "paused", Timestamp: 12.5})
	f = next(t, b)
	assert.Equal(t, EventPlaybackState, f.Event)
	nothing(t, a)

	send(h, a, EventChatMessage, roomSignal{ItemID: "v1", Message: "hello", Username: "Alice"})
	for _, c := range []*Client{a, b} {
		f := next(t, c)
		require.Equal(t, EventChatMessage, f.Event)
		var msg chatMessage
		require.NoError(t, json.Unmarshal(f.Data, &msg))
		assert.Equal(t, "hello", msg.Message)
		assert.Equal(t, "Alice", msg.Username)
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.Timestamp.IsZero())
	}

	send(h, a, EventQualityChange, roomSignal{ItemID: "elsewhere", Quality: "720p"})
	assert.Equal(t, EventError, next(t, a).Event)
	nothing(t, b)
}

func TestHubRateLimitsSignals(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := attach(t, h, "a", rate.NewLimiter(rate.Every(time.Hour), 1))
	b := attach(t, h, "b", nil)
	send(h, a, EventJoinItem, "v1")
	next(t, a)
	send(h, b, EventJoinItem, "v1")
	next(t, a)
	next(t, b)

	send(h, a, EventTyping, roomSignal{ItemID: "v1"})
	next(t, b)
	send(h, a, EventTyping, roomSignal{ItemID: "v1"})
	nothing(t, b)

	// Joins are never limited.
	send(h, a, EventLeaveItem, "v1")
	assert.Equal(t, 1, count(t, next(t, b)))
}

func TestHubDisconnectLeavesEveryRoom(t *testing.T) {
	h := NewHub(zap.NewNop())
	gone := attach(t, h, "gone", nil)
	stay := attach(t, h, "stay", nil)
	for _, item := range []string{"v1", "v2"} {
		send(h, gone, EventJoinItem, item)
		next(t, gone)
	}
	send(h, stay, EventJoinItem, "v2")
	next(t, gone)
	next(t, stay)

	h.unregister(gone)
	assert.Equal(t, 1, count(t, next(t, stay)))

	stats := h.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, map[string]int{"v2": 1}, stats.Members)
	assert.False(t, gone.trySend([]byte("late")))

	// A second unregister is harmless.
	h.unregister(gone)
}

func TestHubSlowClientDoesNotBlockOthers(t *testing.T) {
	h := NewHub(zap.NewNop())
	slow := newClient(h, nil, "slow", 1, nil)
	require.NoError(t, h.register(slow))
	fast := attach(t, h, "fast", nil)

	send(h, slow, EventJoinItem, "v1")
	send(h, fast, EventJoinItem, "v1")
	next(t, fast)

	payload := entity.LikeToggled{ItemID: "v1", UserID: "u1", Liked: true}
	evt, err := entity.NewEvent(payload)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		h.HandleEvent(context.Background(), evt, payload)
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, EventLikeToggled, next(t, fast).Event)
	}
}

func TestHubCloseRejectsNewClients(t *testing.T) {
	h := NewHub(zap.NewNop())
	c := attach(t, h, "a", nil)
	h.Close()

	_, ok := <-c.send
	assert.False(t, ok)
	assert.ErrorIs(t, h.register(newClient(h, nil, "b", 1, nil)), errHubClosed)
}
