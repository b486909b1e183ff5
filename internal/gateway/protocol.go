// Package gateway hosts chat sessions over WebSocket: one authenticated
// connection runs one engine, one roster subscription, one read marker and
// one navigation controller, speaking a small JSON command/event protocol.
package gateway

import (
	"time"

	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/chat"
)

// Command ops accepted from clients.
const (
	OpOpen             = "open"
	OpClose            = "close"
	OpSend             = "send"
	OpLoadMore         = "load_more"
	OpMarkRead         = "mark_read"
	OpOpenDrawer       = "open_drawer"
	OpCloseDrawer      = "close_drawer"
	OpEnterChat        = "enter_chat"
	OpExitChat         = "exit_chat"
	OpOpenConversation = "open_conversation"
	OpBack             = "back"
)

// Event types pushed to clients.
const (
	EventWindow     = "window"
	EventRoster     = "roster"
	EventUnread     = "unread"
	EventSent       = "sent"
	EventSendFailed = "send_failed"
	EventActivity   = "activity"
	EventNav        = "nav"
	EventHistory    = "history"
	EventError      = "error"
)

// History actions carried by EventHistory. A client mirrors them onto its
// platform back stack and reports every resulting pop back as an OpBack
// command, including the ones these actions caused.
const (
	HistoryPush = "push"
	HistoryPop  = "pop"
)

// Screens announced by nav events.
const (
	ScreenList   = "list"
	ScreenChat   = "chat"
	ScreenClosed = "closed"
)

// Command is one client request.
type Command struct {
	Op      string `json:"op"`
	Peer    string `json:"peer,omitempty"`
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Event is one server push. Fields are populated per Type; everything else
// stays empty on the wire.
type Event struct {
	Type      string        `json:"type"`
	Channel   string        `json:"channel,omitempty"`
	Messages  []WireMessage `json:"messages,omitempty"`
	Loading   bool          `json:"loading,omitempty"`
	HasMore   bool          `json:"has_more,omitempty"`
	Sending   bool          `json:"sending,omitempty"`
	FromCache bool          `json:"from_cache,omitempty"`
	Entries   []WireEntry   `json:"entries,omitempty"`
	Unread    int           `json:"unread,omitempty"`
	Text      string        `json:"text,omitempty"`
	Screen    string        `json:"screen,omitempty"`
	Action    string        `json:"action,omitempty"`
	Tag       string        `json:"tag,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// WireMessage is one message as sent to clients.
type WireMessage struct {
	ID     string    `json:"id"`
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// WireEntry is one roster row as sent to clients.
type WireEntry struct {
	Channel   string    `json:"channel"`
	Peer      string    `json:"peer"`
	Preview   string    `json:"preview,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Unread    int64     `json:"unread,omitempty"`
}

func windowEvent(v chat.View) Event {
	msgs := make([]WireMessage, 0, len(v.Messages))
	for _, m := range v.Messages {
		msgs = append(msgs, WireMessage{
			ID:     m.ID,
			Sender: m.SenderID,
			Text:   m.Text,
			SentAt: m.SentAt,
		})
	}
	return Event{
		Type:      EventWindow,
		Channel:   v.ChannelID,
		Messages:  msgs,
		Loading:   v.Loading,
		HasMore:   v.HasMore,
		Sending:   v.Sending,
		FromCache: v.FromCache,
	}
}

func rosterEvent(entries []chat.RosterEntry) Event {
	rows := make([]WireEntry, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, WireEntry{
			Channel:   e.ChannelID,
			Peer:      e.PeerID,
			Preview:   e.Preview,
			UpdatedAt: e.UpdatedAt,
			Unread:    e.Unread,
		})
	}
	return Event{Type: EventRoster, Entries: rows}
}

func unreadEvent(channels int) Event {
	return Event{Type: EventUnread, Unread: channels}
}

func errorEvent(err error) Event {
	return Event{Type: EventError, Error: err.Error()}
}
