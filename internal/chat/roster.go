package chat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/docstore"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/normalize"
)

// DefaultRosterLimit caps the conversation list when no limit is configured.
const DefaultRosterLimit = 100

// RosterEntry is one row of the conversation list.
type RosterEntry struct {
	ChannelID string
	PeerID    string
	Preview   string
	UpdatedAt time.Time
	Unread    int64
}

// RosterEvents carries the roster's callbacks. Either field may be nil.
type RosterEvents struct {
	// OnList receives the full ordered list on every change.
	OnList func([]RosterEntry)

	// OnUnread receives the number of channels with unread messages. This
	// counts conversations needing attention, not individual messages.
	OnUnread func(channels int)

	OnError func(error)
}

// Roster maintains the live conversation list for one user through a single
// standing subscription: channels the user participates in, most recently
// active first, capped. The roster never writes; marking channels read is
// the ReadMarker's job, driven by the UI.
type Roster struct {
	self   string
	events RosterEvents
	log    zerolog.Logger
	sub    docstore.Subscription

	mu      sync.Mutex
	entries []RosterEntry
	unread  int
	closed  bool
}

// OpenRoster subscribes the conversation list for self.
func OpenRoster(svc docstore.Service, self string, limit int, events RosterEvents, log zerolog.Logger) (*Roster, error) {
	self = normalize.UserID(self)
	if err := ValidateUserID(self); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRosterLimit
	}
	r := &Roster{
		self:   self,
		events: events,
		log:    log.With().Str("component", "roster").Str("user", self).Logger(),
	}
	r.sub = svc.Subscribe(rosterQuery(self, limit), r.onSnapshot, r.onError)
	return r, nil
}

// Entries returns the current list.
func (r *Roster) Entries() []RosterEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RosterEntry(nil), r.entries...)
}

// UnreadChannels returns how many listed channels have unread messages.
func (r *Roster) UnreadChannels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread
}

// Close detaches the subscription.
func (r *Roster) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.sub.Unsubscribe()
}

func (r *Roster) onSnapshot(docs []docstore.Document) {
	entries := make([]RosterEntry, 0, len(docs))
	unread := 0
	for _, d := range docs {
		ch := channelFromDoc(d)
		peer, ok := ch.Peer(r.self)
		if !ok {
			continue
		}
		n := ch.Unread[r.self]
		if n > 0 {
			unread++
		}
		entries = append(entries, RosterEntry{
			ChannelID: ch.ID,
			PeerID:    peer,
			Preview:   ch.Preview,
			UpdatedAt: ch.UpdatedAt,
			Unread:    n,
		})
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.entries = entries
	r.unread = unread
	r.mu.Unlock()

	if r.events.OnList != nil {
		r.events.OnList(entries)
	}
	if r.events.OnUnread != nil {
		r.events.OnUnread(unread)
	}
}

func (r *Roster) onError(err error) {
	r.log.Warn().Err(err).Msg("roster subscription error")
	if r.events.OnError != nil {
		r.events.OnError(err)
	}
}
