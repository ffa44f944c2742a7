package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Channel string

const (
	ChannelItemProcessed        Channel = "item-processed"
	ChannelItemProcessingFailed Channel = "item-processing-failed"
	ChannelLikeToggled          Channel = "like-toggled"
	ChannelCommentAdded         Channel = "comment-added"
)

// Channels is every channel the subsystem publishes on.
var Channels = []Channel{
	ChannelItemProcessed,
	ChannelItemProcessingFailed,
	ChannelLikeToggled,
	ChannelCommentAdded,
}

var ErrInvalidEvent = errors.New("invalid event")

// Event is the envelope carried on the bus. It is never persisted.
type Event struct {
	Channel     Channel         `json:"channel"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"publishedAt"`
}

// Payload is implemented by the closed set of channel payloads below.
type Payload interface {
	Channel() Channel
	ForItem() string
	Validate() error
}

type ItemProcessed struct {
	ItemID string     `json:"itemId"`
	Status ItemStatus `json:"status"`
	Item   ItemRecord `json:"item"`
}

func (ItemProcessed) Channel() Channel  { return ChannelItemProcessed }
func (p ItemProcessed) ForItem() string { return p.ItemID }

func (p ItemProcessed) Validate() error {
	if p.ItemID == "" {
		return fmt.Errorf("%w: itemId is required", ErrInvalidEvent)
	}
	if p.Status != ItemStatusReady {
		return fmt.Errorf("%w: status must be %q", ErrInvalidEvent, ItemStatusReady)
	}
	return nil
}

type ItemProcessingFailed struct {
	ItemID string `json:"itemId"`
	Error  string `json:"error"`
}

func (ItemProcessingFailed) Channel() Channel  { return ChannelItemProcessingFailed }
func (p ItemProcessingFailed) ForItem() string { return p.ItemID }

func (p ItemProcessingFailed) Validate() error {
	if p.ItemID == "" {
		return fmt.Errorf("%w: itemId is required", ErrInvalidEvent)
	}
	return nil
}

type LikeToggled struct {
	ItemID string `json:"itemId"`
	UserID string `json:"userId"`
	Liked  bool   `json:"liked"`
}

func (LikeToggled) Channel() Channel  { return ChannelLikeToggled }
func (p LikeToggled) ForItem() string { return p.ItemID }

func (p LikeToggled) Validate() error {
	if p.ItemID == "" || p.UserID == "" {
		return fmt.Errorf("%w: itemId and userId are required", ErrInvalidEvent)
	}
	return nil
}

type CommentView struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Author  Author `json:"author"`
}

type CommentAdded struct {
	ItemID  string      `json:"itemId"`
	Comment CommentView `json:"comment"`
}

func (CommentAdded) Channel() Channel  { return ChannelCommentAdded }
func (p CommentAdded) ForItem() string { return p.ItemID }

func (p CommentAdded) Validate() error {
	if p.ItemID == "" || p.Comment.ID == "" {
		return fmt.Errorf("%w: itemId and comment.id are required", ErrInvalidEvent)
	}
	return nil
}

func NewCommentAdded(c Comment) CommentAdded {
	return CommentAdded{
		ItemID:  c.ItemID,
		Comment: CommentView{ID: c.ID, Content: c.Content, Author: c.Author},
	}
}

// NewEvent validates p and wraps it in an envelope stamped with the current time.
func NewEvent(p Payload) (Event, error) {
	if err := p.Validate(); err != nil {
		return Event{}, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", p.Channel(), err)
	}
	return Event{Channel: p.Channel(), Payload: raw, PublishedAt: time.Now().UTC()}, nil
}

// DecodePayload returns the typed payload for the envelope's channel.
func (e Event) DecodePayload() (Payload, error) {
	var p Payload
	switch e.Channel {
	case ChannelItemProcessed:
		var v ItemProcessed
		if err := json.Unmarshal(e.Payload, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		p = v
	case ChannelItemProcessingFailed:
		var v ItemProcessingFailed
		if err := json.Unmarshal(e.Payload, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		p = v
	case ChannelLikeToggled:
		var v LikeToggled
		if err := json.Unmarshal(e.Payload, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		p = v
	case ChannelCommentAdded:
		var v CommentAdded
		if err := json.Unmarshal(e.Payload, &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
		}
		p = v
	default:
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidEvent, e.Channel)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodeEvent parses a bus message into its envelope and typed payload.
func DecodeEvent(data []byte) (Event, Payload, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return e, nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	p, err := e.DecodePayload()
	return e, p, err
}
