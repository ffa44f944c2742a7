package gateway

import (
	"encoding/json"
	"errors"
	"time"
)

// Client to gateway events.
const (
	EventJoinItem      = "join-item"
	EventLeaveItem     = "leave-item"
	EventChatMessage   = "chat-message"
	EventTyping        = "typing"
	EventStopTyping    = "stop-typing"
	EventQualityChange = "stream-quality-change"
	EventPlayback      = "stream-playback"
)

// Gateway to client events.
const (
	EventViewerCount          = "viewer-count-update"
	EventItemProcessed        = "item-processed"
	EventItemProcessingFailed = "item-processing-failed"
	EventNewComment           = "new-comment"
	EventLikeToggled          = "like-toggled"
	EventUserTyping           = "user-typing"
	EventUserStopTyping       = "user-stop-typing"
	EventQualityChanged       = "quality-changed"
	EventPlaybackState        = "playback-state"
	EventError                = "error"
)

var errMissingItemID = errors.New("itemId is required")

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type viewerCount struct {
	ItemID string `json:"itemId"`
	Count  int    `json:"count"`
}

type errorMessage struct {
	Message string `json:"message"`
}

// roomSignal is the common shape of every client signal scoped to a room.
type roomSignal struct {
	ItemID    string  `json:"itemId"`
	Message   string  `json:"message,omitempty"`
	Username  string  `json:"username,omitempty"`
	Avatar    string  `json:"avatar,omitempty"`
	Quality   string  `json:"quality,omitempty"`
	State     string  `json:"state,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

type chatMessage struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"itemId"`
	UserID    string    `json:"userId,omitempty"`
	Message   string    `json:"message"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type typingNotice struct {
	Username string `json:"username"`
}

type qualityNotice struct {
	UserID  string `json:"userId,omitempty"`
	Quality string `json:"quality"`
}

type playbackNotice struct {
	UserID    string  `json:"userId,omitempty"`
	State     string  `json:"state"`
	Timestamp float64 `json:"timestamp"`
}

// decodeItemID accepts both a bare JSON string and an {"itemId": ...} object.
func decodeItemID(raw json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		if id == "" {
			return "", errMissingItemID
		}
		return id, nil
	}
	var obj struct {
		ItemID string `json:"itemId"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", err
	}
	if obj.ItemID == "" {
		return "", errMissingItemID
	}
	return obj.ItemID, nil
}

func decodeSignal(raw json.RawMessage) (roomSignal, error) {
	var s roomSignal
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, err
	}
	if s.ItemID == "" {
		return s, errMissingItemID
	}
	return s, nil
}
