package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/docstore"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/normalize"
)

var (
	// ErrEmptyMessage rejects blank text before any store call.
	ErrEmptyMessage = errors.New("message text is blank")

	// ErrNotParticipant means the acting user is not part of the channel.
	ErrNotParticipant = errors.New("user is not a channel participant")

	// ErrChannelNotFound wraps a missing channel document.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrSummaryStale marks an append whose message is durable but whose
	// channel summary update (preview, timestamps, unread counters) failed.
	// The message was sent; only the display hints lag behind.
	ErrSummaryStale = errors.New("channel summary update failed")
)

// Store performs all conversation reads and writes against the document
// store: the channels collection holds one summary document per pair, the
// messages collection holds the flat message log keyed by channel id.
type Store struct {
	svc docstore.Service
}

// NewStore returns a Store using the given backend.
func NewStore(svc docstore.Service) *Store {
	return &Store{svc: svc}
}

// CreateIfAbsent ensures the channel document for the pair exists and returns
// its id. Concurrent callers racing to create the same channel converge on a
// single document; losing the race is not an error.
func (s *Store) CreateIfAbsent(ctx context.Context, a, b string) (string, error) {
	if err := ValidatePair(a, b); err != nil {
		return "", err
	}
	id := ChannelID(a, b)
	if err := s.svc.PutIfAbsent(ctx, channelsCollection, id, s.newChannelFields(id)); err != nil {
		return "", fmt.Errorf("create channel %s: %w", id, err)
	}
	return id, nil
}

func (s *Store) newChannelFields(channelID string) map[string]any {
	pa, pb, _ := SplitChannelID(channelID)
	now := s.svc.Now()
	return map[string]any{
		"participants":         []string{pa, pb},
		"last_message_preview": "",
		"created_at":           now,
		"updated_at":           now,
		"unread":               map[string]any{},
	}
}

// Append writes a message and then refreshes the channel summary: preview,
// activity timestamp, the sender's counter back to zero and the peer's
// incremented by one. The message write is durable before the summary is
// touched; when only the summary fails the returned error wraps
// ErrSummaryStale and the message is still the returned value.
//
// knownPeerID may be empty, in which case the peer is resolved by reading the
// channel document at the cost of one extra read. Callers that already know
// the peer should pass it.
func (s *Store) Append(ctx context.Context, channelID, senderID, text, knownPeerID string) (Message, error) {
	senderID = normalize.UserID(senderID)
	if err := ValidateUserID(senderID); err != nil {
		return Message{}, err
	}
	if normalize.Blank(text) {
		return Message{}, ErrEmptyMessage
	}

	peerID := normalize.UserID(knownPeerID)
	if peerID == "" {
		ch, err := s.GetChannel(ctx, channelID)
		if err != nil {
			return Message{}, err
		}
		var ok bool
		peerID, ok = ch.Peer(senderID)
		if !ok {
			return Message{}, fmt.Errorf("append to %s as %s: %w", channelID, senderID, ErrNotParticipant)
		}
	}

	msg := Message{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		SenderID:  senderID,
		Text:      text,
		SentAt:    s.svc.Now(),
	}
	if err := s.svc.PutIfAbsent(ctx, messagesCollection, msg.ID, messageFields(msg)); err != nil {
		return Message{}, fmt.Errorf("append message to %s: %w", channelID, err)
	}

	if err := s.updateSummary(ctx, channelID, senderID, peerID, msg); err != nil {
		return msg, fmt.Errorf("%w: %w", ErrSummaryStale, err)
	}
	return msg, nil
}

func (s *Store) updateSummary(ctx context.Context, channelID, senderID, peerID string, msg Message) error {
	updates := []docstore.Update{
		docstore.Set("last_message_preview", msg.Text),
		docstore.Set("updated_at", msg.SentAt),
		docstore.Set("unread."+senderID, int64(0)),
		docstore.Inc("unread."+peerID, 1),
	}
	err := s.svc.Update(ctx, channelsCollection, channelID, updates...)
	if !errors.Is(err, docstore.ErrNotFound) {
		return err
	}

	// The channel document can legitimately be missing: its lazy creation at
	// open time is fire-and-forget. Sending recreates it and retries once.
	if err := s.svc.PutIfAbsent(ctx, channelsCollection, channelID, s.newChannelFields(channelID)); err != nil {
		return err
	}
	return s.svc.Update(ctx, channelsCollection, channelID, updates...)
}

// MarkRead zeroes the user's unread counter for the channel. Idempotent; a
// channel that does not exist yet counts as read.
func (s *Store) MarkRead(ctx context.Context, channelID, userID string) error {
	userID = normalize.UserID(userID)
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	err := s.svc.Update(ctx, channelsCollection, channelID, docstore.Set("unread."+userID, int64(0)))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark %s read for %s: %w", channelID, userID, err)
	}
	return nil
}

// GetChannel reads one channel summary.
func (s *Store) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	doc, err := s.svc.Get(ctx, channelsCollection, channelID)
	if errors.Is(err, docstore.ErrNotFound) {
		return Channel{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	if err != nil {
		return Channel{}, fmt.Errorf("get channel %s: %w", channelID, err)
	}
	return channelFromDoc(doc), nil
}

// MessagePage reads one page of messages strictly older than before, newest
// first from the store, returned in chronological order. A zero before means
// "from the newest".
func (s *Store) MessagePage(ctx context.Context, channelID string, before time.Time, limit int) ([]Message, error) {
	q := liveQuery(channelID, limit)
	if !before.IsZero() {
		q.StartAfter = before
	}
	docs, err := s.svc.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("page messages of %s: %w", channelID, err)
	}
	msgs := make([]Message, 0, len(docs))
	for _, d := range docs {
		msgs = append(msgs, messageFromDoc(d))
	}
	// The store answered newest first; the window wants chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// liveQuery is the newest-N message query a conversation subscribes to.
func liveQuery(channelID string, limit int) docstore.Query {
	return docstore.Query{
		Collection: messagesCollection,
		Filters:    []docstore.Filter{{Path: "channel_id", Op: docstore.OpEq, Value: channelID}},
		OrderBy:    docstore.Order{Path: "created_at", Desc: true},
		Limit:      limit,
	}
}

// rosterQuery is the "channels containing me" query the roster subscribes to.
func rosterQuery(self string, limit int) docstore.Query {
	return docstore.Query{
		Collection: channelsCollection,
		Filters:    []docstore.Filter{{Path: "participants", Op: docstore.OpContains, Value: self}},
		OrderBy:    docstore.Order{Path: "updated_at", Desc: true},
		Limit:      limit,
	}
}

// Indexes returns the secondary indexes the store's queries rely on: the
// per-channel message log ordered by time, and the roster scan over a user's
// channels by activity.
func Indexes() []docstore.IndexSpec {
	return []docstore.IndexSpec{
		{
			Collection: messagesCollection,
			Keys:       []docstore.Order{{Path: "channel_id"}, {Path: "created_at", Desc: true}},
		},
		{
			Collection: channelsCollection,
			Keys:       []docstore.Order{{Path: "participants"}, {Path: "updated_at", Desc: true}},
		},
	}
}
