// Package chat implements the direct-messaging core: deterministic channel
// identities, the conversation store, the per-channel message sync engine
// with its window cache, and the live conversation roster.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/docstore"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/normalize"
)

const (
	// DefaultWindowSize is the live window length when none is configured.
	DefaultWindowSize = 30

	// DefaultCacheCapacity bounds the channel cache when none is injected.
	DefaultCacheCapacity = 32

	createTimeout = 10 * time.Second
)

var (
	// ErrConversationClosed rejects operations on a closed conversation.
	ErrConversationClosed = errors.New("conversation closed")

	// ErrSendInFlight rejects a send while the previous one is unresolved.
	ErrSendInFlight = errors.New("send already in flight")
)

// View is the externally visible state of an open conversation. Each emission
// replaces the previous one wholesale.
type View struct {
	ChannelID string
	Messages  []Message
	Loading   bool
	HasMore   bool
	Sending   bool
	FromCache bool
}

// ConversationEvents carries the callbacks a conversation reports through.
// Either field may be nil. Callbacks run outside engine locks but are not
// synchronized with each other; hosts with a UI thread should trampoline.
type ConversationEvents struct {
	OnView  func(View)
	OnError func(error)
}

// Engine opens conversations and owns the process-wide channel cache. One
// engine serves one user session end to end.
type Engine struct {
	svc   docstore.Service
	store *Store
	cache *ChannelCache
	size  int
	log   zerolog.Logger

	mu   sync.Mutex
	open map[string]*Conversation
}

// NewEngine wires an engine over the given backend. A nil cache gets a
// default-capacity one; a non-positive window size falls back to
// DefaultWindowSize.
func NewEngine(svc docstore.Service, store *Store, cache *ChannelCache, windowSize int, log zerolog.Logger) *Engine {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if cache == nil {
		cache, _ = NewChannelCache(DefaultCacheCapacity)
	}
	return &Engine{
		svc:   svc,
		store: store,
		cache: cache,
		size:  windowSize,
		log:   log.With().Str("component", "chat-engine").Logger(),
		open:  make(map[string]*Conversation),
	}
}

// Open starts a conversation between self and peer. The returned conversation
// renders from the channel cache immediately when it can, attaches the live
// subscription in the background, and lazily creates the channel document
// without blocking on it. Opening a channel that is already open detaches the
// previous conversation first, so each channel carries at most one standing
// subscription.
func (e *Engine) Open(self, peer string, events ConversationEvents) (*Conversation, error) {
	if err := ValidatePair(self, peer); err != nil {
		return nil, err
	}
	self = normalize.UserID(self)
	peer = normalize.UserID(peer)
	id := ChannelID(self, peer)

	e.mu.Lock()
	prev := e.open[id]
	delete(e.open, id)
	e.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	c := &Conversation{
		engine: e,
		id:     id,
		self:   self,
		peer:   peer,
		events: events,
		win:    newWindow(e.size),
	}

	if st, ok := e.cache.Get(id); ok {
		c.win.restore(st)
		c.fromCache = true
	} else {
		c.loading = true
	}
	// First render is synchronous: cached messages on a hit, a loading state
	// on a miss.
	c.mu.Lock()
	v := c.viewLocked()
	c.mu.Unlock()
	c.emit(v)

	e.mu.Lock()
	e.open[id] = c
	e.mu.Unlock()

	// Lazy channel creation. Fire and forget: a failure here neither blocks
	// the subscription nor sending, which recreates the channel itself.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), createTimeout)
		defer cancel()
		if _, err := e.store.CreateIfAbsent(ctx, self, peer); err != nil {
			e.log.Warn().Err(err).Str("channel", id).Msg("lazy channel create failed")
		}
	}()

	sub := e.svc.Subscribe(liveQuery(id, e.size), c.onSnapshot, c.onSubscriptionError)
	c.mu.Lock()
	if c.closed {
		// A concurrent open of the same channel closed this conversation
		// between registration and subscribe.
		c.mu.Unlock()
		sub.Unsubscribe()
		return c, nil
	}
	c.sub = sub
	c.mu.Unlock()
	return c, nil
}

// CloseAll tears down every open conversation.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	convs := make([]*Conversation, 0, len(e.open))
	for _, c := range e.open {
		convs = append(convs, c)
	}
	e.open = make(map[string]*Conversation)
	e.mu.Unlock()
	for _, c := range convs {
		c.Close()
	}
}

// Cache exposes the engine's channel cache.
func (e *Engine) Cache() *ChannelCache { return e.cache }

func (e *Engine) forget(c *Conversation) {
	e.mu.Lock()
	if e.open[c.id] == c {
		delete(e.open, c.id)
	}
	e.mu.Unlock()
}

// Conversation is one open channel: a live window kept fresh by subscription,
// an older history grown by pagination, and the send path. All state changes
// are serialized by its mutex; views are emitted after the lock is released.
type Conversation struct {
	engine *Engine
	id     string
	self   string
	peer   string
	events ConversationEvents
	sub    docstore.Subscription

	mu        sync.Mutex
	win       *window
	loading   bool
	sending   bool
	paging    bool
	fromCache bool
	closed    bool
}

// ChannelID returns the channel this conversation is bound to.
func (c *Conversation) ChannelID() string { return c.id }

// Peer returns the other participant.
func (c *Conversation) Peer() string { return c.peer }

// FromCache reports whether the first render came from the channel cache.
func (c *Conversation) FromCache() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fromCache
}

// View returns the current render state.
func (c *Conversation) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Send validates and appends a message. Blank text is rejected with
// ErrEmptyMessage before anything else happens. The message is never
// injected into the window locally: it becomes visible only through the
// subscription, so it cannot appear twice. On failure the text is not
// consumed anywhere and the error is returned so the caller can put it back
// into the input.
func (c *Conversation) Send(ctx context.Context, text string) error {
	if normalize.Blank(text) {
		// A blank send never reaches the store and never toggles the
		// sending state.
		return ErrEmptyMessage
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConversationClosed
	}
	if c.sending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	c.sending = true
	v := c.viewLocked()
	c.mu.Unlock()
	c.emit(v)

	_, err := c.engine.store.Append(ctx, c.id, c.self, text, c.peer)

	c.mu.Lock()
	c.sending = false
	v = c.viewLocked()
	c.mu.Unlock()
	c.emit(v)

	if errors.Is(err, ErrSummaryStale) {
		// The message itself is durable; only the display hints lag. Treat
		// as sent rather than making the caller retype a delivered message.
		c.engine.log.Warn().Err(err).Str("channel", c.id).Msg("summary update failed after send")
		return nil
	}
	if err != nil {
		return fmt.Errorf("send to %s: %w", c.id, err)
	}
	return nil
}

// LoadMore fetches one page of messages older than the pagination cursor and
// folds it into the window. Without a cursor, with history exhausted, or
// with a page already in flight it is a silent no-op. On error the window is
// left exactly as it was so the caller can simply retry.
func (c *Conversation) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.paging || !c.win.hasMore || c.win.cursor.IsZero() {
		c.mu.Unlock()
		return nil
	}
	c.paging = true
	cursor := c.win.cursor
	c.mu.Unlock()

	page, err := c.engine.store.MessagePage(ctx, c.id, cursor, c.engine.size)

	c.mu.Lock()
	c.paging = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("load more of %s: %w", c.id, err)
	}
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.win.prependPage(page)
	c.engine.cache.Put(c.id, c.win.state())
	v := c.viewLocked()
	c.mu.Unlock()
	c.emit(v)
	return nil
}

// Close detaches the subscription. The last window state stays in the
// channel cache so reopening the channel renders instantly.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	if !c.loading {
		// Only windows that were actually hydrated are worth keeping; a
		// conversation closed before its first snapshot would cache an empty
		// state and mask the loading indicator on reopen.
		c.engine.cache.Put(c.id, c.win.state())
	}
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	c.engine.forget(c)
}

// onSnapshot handles one authoritative delivery of the newest messages,
// ordered newest first by the store.
func (c *Conversation) onSnapshot(docs []docstore.Document) {
	msgs := make([]Message, 0, len(docs))
	for _, d := range docs {
		msgs = append(msgs, messageFromDoc(d))
	}
	// Newest first from the store; the window wants chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.win.applySnapshot(msgs)
	c.loading = false
	c.engine.cache.Put(c.id, c.win.state())
	v := c.viewLocked()
	c.mu.Unlock()
	c.emit(v)
}

// onSubscriptionError clears the loading state and surfaces the error; the
// subscription itself stays attached and recovers on the next delivery.
func (c *Conversation) onSubscriptionError(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.loading = false
	v := c.viewLocked()
	c.mu.Unlock()
	c.emit(v)

	c.engine.log.Warn().Err(err).Str("channel", c.id).Msg("subscription error")
	if c.events.OnError != nil {
		c.events.OnError(err)
	}
}

func (c *Conversation) viewLocked() View {
	return View{
		ChannelID: c.id,
		Messages:  c.win.view(),
		Loading:   c.loading,
		HasMore:   c.win.hasMore,
		Sending:   c.sending,
		FromCache: c.fromCache,
	}
}

func (c *Conversation) emit(v View) {
	if c.events.OnView != nil {
		c.events.OnView(v)
	}
}
