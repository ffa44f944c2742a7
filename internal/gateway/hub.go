package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
	"github.com/rohittredhu/stream-flix/internal/eventbus"
	"github.com/rohittredhu/stream-flix/internal/infra/metrics"
	"go.uber.org/zap"
)

var errHubClosed = errors.New("gateway hub closed")

// busEvents maps each bus channel to the event name viewers receive.
var busEvents = map[entity.Channel]string{
	entity.ChannelItemProcessed:        EventItemProcessed,
	entity.ChannelItemProcessingFailed: EventItemProcessingFailed,
	entity.ChannelCommentAdded:         EventNewComment,
	entity.ChannelLikeToggled:          EventLikeToggled,
}

// Hub owns the live connections of one gateway process and routes frames
// between them through the room registry.
type Hub struct {
	registry *Registry
	logger   *zap.Logger

	// membership serializes each room change with its count broadcast, so
	// the last count a member receives is the room's current size.
	membership sync.Mutex

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		registry: NewRegistry(),
		logger:   logger.With(zap.String("component", "gateway")),
		clients:  make(map[string]*Client),
	}
}

// Bridge subscribes the hub to every bus channel and forwards each event to
// the room of the item it concerns.
func (h *Hub) Bridge(ctx context.Context, bus port.EventBus) (port.Subscription, error) {
	return eventbus.Subscribe(ctx, bus, entity.Channels, h.logger, h.HandleEvent)
}

func (h *Hub) HandleEvent(_ context.Context, evt entity.Event, payload entity.Payload) {
	name, ok := busEvents[evt.Channel]
	if !ok {
		return
	}
	n := h.broadcast(payload.ForItem(), name, payload, "")
	h.logger.Debug("bus event forwarded",
		zap.String("channel", string(evt.Channel)),
		zap.String("item_id", payload.ForItem()),
		zap.Int("recipients", n),
	)
}

func (h *Hub) register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHubClosed
	}
	h.clients[c.id] = c
	metrics.GatewayConnections.Set(float64(len(h.clients)))
	return nil
}

// unregister drops c from the hub and from every room it joined, then
// tells the remaining members of those rooms the new count.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	metrics.GatewayConnections.Set(float64(len(h.clients)))
	h.mu.Unlock()
	if !ok {
		return
	}

	c.closeSend()
	h.membership.Lock()
	for itemID, n := range h.registry.LeaveAll(c.id) {
		h.broadcastCount(itemID, n)
	}
	h.membership.Unlock()
	metrics.GatewayRooms.Set(float64(h.registry.RoomCount()))
	h.logger.Debug("connection closed", zap.String("conn_id", c.id))
}

func (h *Hub) client(id string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}

func (h *Hub) join(c *Client, itemID string) {
	h.membership.Lock()
	defer h.membership.Unlock()
	n := h.registry.Join(c.id, itemID)
	metrics.GatewayRooms.Set(float64(h.registry.RoomCount()))
	h.broadcastCount(itemID, n)
}

func (h *Hub) leave(c *Client, itemID string) {
	h.membership.Lock()
	defer h.membership.Unlock()
	n, ok := h.registry.Leave(c.id, itemID)
	if !ok {
		return
	}
	metrics.GatewayRooms.Set(float64(h.registry.RoomCount()))
	h.broadcastCount(itemID, n)
	// The leaver is no longer a member but still sees the count it left behind.
	c.sendEvent(EventViewerCount, viewerCount{ItemID: itemID, Count: n})
}

func (h *Hub) broadcastCount(itemID string, n int) {
	h.broadcast(itemID, EventViewerCount, viewerCount{ItemID: itemID, Count: n}, "")
}

// broadcast sends one frame to every member of the room of itemID except
// the connection except. Sends never block; it returns how many were queued.
func (h *Hub) broadcast(itemID, event string, data any, except string) int {
	frame, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		h.logger.Error("failed to encode frame", zap.String("event", event), zap.Error(err))
		return 0
	}

	sent := 0
	for _, id := range h.registry.Members(itemID) {
		if id == except {
			continue
		}
		c := h.client(id)
		if c == nil {
			continue
		}
		if c.trySend(frame) {
			sent++
			metrics.GatewayMessagesTotal.WithLabelValues(event, "sent").Inc()
		} else {
			metrics.GatewayMessagesTotal.WithLabelValues(event, "dropped").Inc()
			h.logger.Warn("dropping frame for slow connection", zap.String("conn_id", id), zap.String("event", event))
		}
	}
	return sent
}

// dispatch handles one frame read from c.
func (h *Hub) dispatch(c *Client, env Envelope) {
	switch env.Event {
	case EventJoinItem, EventLeaveItem:
		itemID, err := decodeItemID(env.Data)
		if err != nil {
			c.sendError(env.Event + ": " + err.Error())
			return
		}
		if env.Event == EventJoinItem {
			h.join(c, itemID)
		} else {
			h.leave(c, itemID)
		}
		return
	}

	if !c.allow() {
		metrics.GatewayMessagesTotal.WithLabelValues(env.Event, "rate_limited").Inc()
		return
	}

	sig, err := decodeSignal(env.Data)
	if err != nil {
		c.sendError(env.Event + ": " + err.Error())
		return
	}
	if !h.registry.IsMember(c.id, sig.ItemID) {
		c.sendError(env.Event + ": join the item first")
		return
	}
	if sig.Username == "" {
		sig.Username = c.userID
	}

	switch env.Event {
	case EventChatMessage:
		if sig.Message == "" {
			c.sendError(env.Event + ": message is required")
			return
		}
		h.broadcast(sig.ItemID, EventChatMessage, chatMessage{
			ID:        uuid.NewString(),
			ItemID:    sig.ItemID,
			UserID:    c.userID,
			Message:   sig.Message,
			Username:  sig.Username,
			Avatar:    sig.Avatar,
			Timestamp: time.Now().UTC(),
		}, "")
	case EventTyping:
		h.broadcast(sig.ItemID, EventUserTyping, typingNotice{Username: sig.Username}, c.id)
	case EventStopTyping:
		h.broadcast(sig.ItemID, EventUserStopTyping, typingNotice{Username: sig.Username}, c.id)
	case EventQualityChange:
		h.broadcast(sig.ItemID, EventQualityChanged, qualityNotice{UserID: c.userID, Quality: sig.Quality}, c.id)
	case EventPlayback:
		h.broadcast(sig.ItemID, EventPlaybackState, playbackNotice{UserID: c.userID, State: sig.State, Timestamp: sig.Timestamp}, c.id)
	default:
		c.sendError("unknown event " + env.Event)
	}
}

type Stats struct {
	Connections int            `json:"connections"`
	Rooms       int            `json:"rooms"`
	Members     map[string]int `json:"members"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	conns := len(h.clients)
	h.mu.RUnlock()
	members := h.registry.Rooms()
	return Stats{Connections: conns, Rooms: len(members), Members: members}
}

// Close refuses new connections and closes the send side of every live
// one, which makes their write pumps send a close frame.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
	}
}
