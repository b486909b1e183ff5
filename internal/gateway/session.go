package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/chat"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/metrics"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/nav"
)

const commandTimeout = 10 * time.Second

// Conn is the transport a session talks through. *websocket.Conn satisfies
// it; tests plug in fakes.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Session is one authenticated connection: its own engine and window cache,
// an always-on roster subscription, a read marker and a navigation
// controller. Commands are handled one at a time in arrival order; events
// from subscriptions interleave freely.
type Session struct {
	gw     *Gateway
	conn   Conn
	user   string
	hubID  int64
	log    zerolog.Logger
	engine *chat.Engine
	roster *chat.Roster
	marker *chat.ReadMarker
	nav    *nav.Controller

	writeMu sync.Mutex

	mu   sync.Mutex
	conv *chat.Conversation
	peer string

	closeOnce sync.Once
}

func newSession(gw *Gateway, conn Conn, userID string) (*Session, error) {
	s := &Session{
		gw:   gw,
		conn: conn,
		user: userID,
		log:  gw.log.With().Str("user", userID).Logger(),
	}

	cache, err := chat.NewChannelCache(gw.cfg.CacheCapacity)
	if err != nil {
		return nil, err
	}
	s.engine = chat.NewEngine(gw.svc, gw.store, cache, gw.cfg.WindowSize, s.log)
	s.marker = chat.NewReadMarker(gw.store, userID, gw.cfg.ReadDebounce, s.log)
	s.nav = nav.NewController(sessionHistory{s}, sessionListener{s}, s.log)

	s.roster, err = chat.OpenRoster(gw.svc, userID, gw.cfg.RosterLimit, chat.RosterEvents{
		OnList:   s.onRoster,
		OnUnread: s.onUnread,
		OnError:  s.onSubscriptionError,
	}, s.log)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Send pushes one event to the client. Safe for concurrent use; the hub and
// every subscription callback go through here.
func (s *Session) Send(ev Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(ev)
}

// run reads commands until the connection drops, then tears the session
// down.
func (s *Session) run() {
	defer s.close()
	for {
		var cmd Command
		if err := s.conn.ReadJSON(&cmd); err != nil {
			s.log.Debug().Err(err).Msg("session read loop ended")
			return
		}
		s.handle(cmd)
	}
}

func (s *Session) handle(cmd Command) {
	switch cmd.Op {
	case OpOpen:
		s.openPeer(cmd.Peer)
	case OpClose:
		s.closeConversation()
	case OpSend:
		s.send(cmd.Text)
	case OpLoadMore:
		s.loadMore()
	case OpMarkRead:
		s.markRead(cmd.Channel)
	case OpOpenDrawer:
		s.nav.OpenDrawer()
	case OpCloseDrawer:
		s.nav.CloseDrawer()
	case OpEnterChat:
		s.enterChat(cmd.Peer)
	case OpExitChat:
		s.nav.ExitChat()
	case OpOpenConversation:
		s.openConversation(cmd.Peer)
	case OpBack:
		s.nav.HandleBack()
	default:
		s.push(errorEvent(errors.New("unknown op " + cmd.Op)))
	}
}

// openPeer attaches the conversation with peer directly, outside the
// drawer's navigation flow.
func (s *Session) openPeer(peer string) {
	if _, err := s.attach(peer); err != nil {
		s.push(errorEvent(err))
	}
}

func (s *Session) enterChat(peer string) {
	channelID, err := s.channelWith(peer)
	if err != nil {
		s.push(errorEvent(err))
		return
	}
	s.nav.EnterChat(channelID)
}

func (s *Session) openConversation(peer string) {
	channelID, err := s.channelWith(peer)
	if err != nil {
		s.push(errorEvent(err))
		return
	}
	s.nav.OpenConversation(channelID)
}

func (s *Session) channelWith(peer string) (string, error) {
	if err := chat.ValidatePair(s.user, peer); err != nil {
		return "", err
	}
	return chat.ChannelID(s.user, peer), nil
}

// attach opens the conversation with peer and makes it the session's
// current one, closing whichever conversation was current before.
func (s *Session) attach(peer string) (*chat.Conversation, error) {
	s.detach()
	conv, err := s.engine.Open(s.user, peer, chat.ConversationEvents{
		OnView:  s.onView,
		OnError: s.onSubscriptionError,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.conv = conv
	s.peer = conv.Peer()
	s.mu.Unlock()

	s.gw.metrics.RecordChannelOpen(conv.FromCache())
	return conv, nil
}

func (s *Session) detach() {
	s.mu.Lock()
	conv := s.conv
	s.conv = nil
	s.peer = ""
	s.mu.Unlock()
	if conv != nil {
		conv.Close()
	}
}

func (s *Session) closeConversation() {
	s.detach()
}

func (s *Session) current() (*chat.Conversation, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv, s.peer
}

func (s *Session) send(text string) {
	conv, peer := s.current()
	if conv == nil {
		s.gw.metrics.RecordSend(metrics.SendRejected)
		s.push(Event{Type: EventSendFailed, Text: text, Error: "no open conversation"})
		return
	}
	if !s.gw.limiter.Allow(s.user) {
		s.gw.metrics.RecordSend(metrics.SendThrottled)
		s.push(Event{Type: EventSendFailed, Channel: conv.ChannelID(), Text: text, Error: "rate limit exceeded"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	err := conv.Send(ctx, text)
	switch {
	case err == nil:
		s.gw.metrics.RecordSend(metrics.SendOK)
		s.push(Event{Type: EventSent, Channel: conv.ChannelID()})
		// Wake the peer's other devices; their subscriptions catch up on
		// their own, this just shortens the wait on polling backends.
		if err := s.gw.hub.SendToUser(peer, Event{Type: EventActivity, Channel: conv.ChannelID()}); err != nil {
			s.log.Debug().Str("peer", peer).Msg("peer not connected for activity nudge")
		}
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrSendInFlight):
		s.gw.metrics.RecordSend(metrics.SendRejected)
		s.push(Event{Type: EventSendFailed, Channel: conv.ChannelID(), Text: text, Error: err.Error()})
	default:
		s.gw.metrics.RecordSend(metrics.SendFailed)
		// The text rides along so the client can restore the input box.
		s.push(Event{Type: EventSendFailed, Channel: conv.ChannelID(), Text: text, Error: err.Error()})
	}
}

func (s *Session) loadMore() {
	conv, _ := s.current()
	if conv == nil {
		s.push(errorEvent(errors.New("no open conversation")))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := conv.LoadMore(ctx); err != nil {
		s.push(errorEvent(err))
		return
	}
	s.gw.metrics.RecordHistoryPage()
}

func (s *Session) markRead(channelID string) {
	a, b, ok := chat.SplitChannelID(channelID)
	if !ok || (a != s.user && b != s.user) {
		s.push(errorEvent(errors.New("not a participant of " + channelID)))
		return
	}
	s.marker.Mark(channelID)
	s.gw.metrics.RecordReadMark()
}

func (s *Session) onView(v chat.View) {
	s.gw.metrics.RecordWindowUpdate()
	s.push(windowEvent(v))
}

func (s *Session) onRoster(entries []chat.RosterEntry) {
	s.gw.metrics.RecordRosterUpdate()
	s.push(rosterEvent(entries))
}

func (s *Session) onUnread(channels int) {
	s.push(unreadEvent(channels))
}

func (s *Session) onSubscriptionError(err error) {
	s.push(errorEvent(err))
}

// push sends best effort; a dead connection surfaces in the read loop.
func (s *Session) push(ev Event) {
	if err := s.Send(ev); err != nil {
		s.log.Debug().Err(err).Str("event", ev.Type).Msg("push failed")
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.detach()
		s.engine.CloseAll()
		s.roster.Close()
		s.marker.Close()
		s.gw.hub.Unregister(s.user, s.hubID)
		s.gw.forget(s)
		s.gw.metrics.RecordSessionEnd()
		_ = s.conn.Close()
		s.log.Info().Msg("session closed")
	})
}

// sessionHistory mirrors the controller's virtual back stack onto the
// client's real one.
type sessionHistory struct{ s *Session }

func (h sessionHistory) Push(tag string) {
	h.s.push(Event{Type: EventHistory, Action: HistoryPush, Tag: tag})
}

func (h sessionHistory) Pop() {
	h.s.push(Event{Type: EventHistory, Action: HistoryPop})
}

// sessionListener turns navigation outcomes into screen events and keeps
// the attached conversation in line with what is on screen.
type sessionListener struct{ s *Session }

func (l sessionListener) ShowList() {
	l.s.detach()
	l.s.push(Event{Type: EventNav, Screen: ScreenList})
}

func (l sessionListener) ShowChat(channelID string) {
	a, b, ok := chat.SplitChannelID(channelID)
	if !ok {
		l.s.push(errorEvent(errors.New("bad channel " + channelID)))
		return
	}
	peer := a
	if peer == l.s.user {
		peer = b
	}
	if _, err := l.s.attach(peer); err != nil {
		l.s.push(errorEvent(err))
		return
	}
	l.s.push(Event{Type: EventNav, Screen: ScreenChat, Channel: channelID})
}

func (l sessionListener) DrawerClosed() {
	l.s.detach()
	l.s.push(Event{Type: EventNav, Screen: ScreenClosed})
}
