package chat

import (
	"time"

	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/docstore"
)

const (
	channelsCollection = "channels"
	messagesCollection = "messages"
)

// Channel is the summary document of a direct conversation. It carries
// display hints (preview, activity timestamp, unread counters), not message
// content; counters are per participant, keyed by user id.
type Channel struct {
	ID           string
	Participants []string
	Preview      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Unread       map[string]int64
}

// Peer returns the other participant. ok is false when self is not a
// participant of the channel.
func (c Channel) Peer(self string) (string, bool) {
	peer, selfSeen := "", false
	for _, p := range c.Participants {
		if p == self {
			selfSeen = true
		} else {
			peer = p
		}
	}
	if !selfSeen || peer == "" {
		return "", false
	}
	return peer, true
}

// Message is one chat message. SentAt is assigned by the store, never by the
// sender's clock.
type Message struct {
	ID        string
	ChannelID string
	SenderID  string
	Text      string
	SentAt    time.Time
}

func channelFromDoc(d docstore.Document) Channel {
	return Channel{
		ID:           d.ID,
		Participants: d.Strs("participants"),
		Preview:      d.Str("last_message_preview"),
		CreatedAt:    d.Time("created_at"),
		UpdatedAt:    d.Time("updated_at"),
		Unread:       d.IntMap("unread"),
	}
}

func messageFromDoc(d docstore.Document) Message {
	return Message{
		ID:        d.ID,
		ChannelID: d.Str("channel_id"),
		SenderID:  d.Str("sender_id"),
		Text:      d.Str("text"),
		SentAt:    d.Time("created_at"),
	}
}

func messageFields(m Message) map[string]any {
	return map[string]any{
		"channel_id": m.ChannelID,
		"sender_id":  m.SenderID,
		"text":       m.Text,
		"created_at": m.SentAt,
	}
}
