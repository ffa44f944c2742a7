package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRoundTripPerChannel(t *testing.T) {
	payloads := []Payload{
		ItemProcessed{ItemID: "v1", Status: ItemStatusReady, Item: ItemRecord{ID: "v1", Status: ItemStatusReady}},
		ItemProcessingFailed{ItemID: "v1", Error: "upload failed"},
		LikeToggled{ItemID: "v1", UserID: "u1", Liked: true},
		CommentAdded{ItemID: "v1", Comment: CommentView{ID: "c1", Content: "hi"}},
	}
	for _, p := range payloads {
		t.Run(string(p.Channel()), func(t *testing.T) {
			ev, err := NewEvent(p)
			require.NoError(t, err)

			data, err := json.Marshal(ev)
			require.NoError(t, err)

			decoded, got, err := DecodeEvent(data)
			require.NoError(t, err)
			assert.Equal(t, p.Channel(), decoded.Channel)
			assert.Equal(t, p, got)
			assert.Equal(t, "v1", got.ForItem())
		})
	}
}

func TestNewEventValidates(t *testing.T) {
	_, err := NewEvent(ItemProcessed{ItemID: "v1", Status: ItemStatusFailed})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = NewEvent(CommentAdded{ItemID: "v1"})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestDecodeEventUnknownChannel(t *testing.T) {
	_, _, err := DecodeEvent([]byte(`{"channel":"video:deleted","payload":{}}`))
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, _, err = DecodeEvent([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestCommentAddedWirePayload(t *testing.T) {
	ev, err := NewEvent(NewCommentAdded(Comment{ID: "c1", ItemID: "v2", Content: "hi", Author: Author{ID: "u1", Username: "ana"}}))
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(ev.Payload, &wire))
	assert.Equal(t, "v2", wire["itemId"])
	comment := wire["comment"].(map[string]any)
	assert.Equal(t, "c1", comment["id"])
	assert.Equal(t, "hi", comment["content"])
}
