package gateway

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/auth"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/chat"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/docstore"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/metrics"
	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/normalize"
)

// Config tunes per-session behavior.
type Config struct {
	WindowSize         int
	CacheCapacity      int
	RosterLimit        int
	ReadDebounce       time.Duration
	MaxSessionsPerUser int
	SendPerMinute      int
	SendBurst          int
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = chat.DefaultWindowSize
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = chat.DefaultCacheCapacity
	}
	if c.RosterLimit <= 0 {
		c.RosterLimit = chat.DefaultRosterLimit
	}
	if c.ReadDebounce <= 0 {
		c.ReadDebounce = chat.DefaultReadDebounce
	}
	if c.MaxSessionsPerUser <= 0 {
		c.MaxSessionsPerUser = 8
	}
	if c.SendPerMinute <= 0 {
		c.SendPerMinute = 60
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 10
	}
	return c
}

// Gateway upgrades authenticated WebSocket connections into chat sessions.
type Gateway struct {
	svc      docstore.Service
	store    *chat.Store
	jwt      *auth.JWTManager
	hub      *Hub
	limiter  *LimiterStore
	metrics  metrics.Collector
	log      zerolog.Logger
	cfg      Config
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

// New wires a gateway over the given backend and token verifier.
func New(svc docstore.Service, store *chat.Store, jwt *auth.JWTManager, collector metrics.Collector, cfg Config, log zerolog.Logger) *Gateway {
	cfg = cfg.withDefaults()
	if collector == nil {
		collector = metrics.NoOp{}
	}
	return &Gateway{
		svc:     svc,
		store:   store,
		jwt:     jwt,
		hub:     NewHub(),
		limiter: NewLimiterStore(cfg.SendPerMinute, cfg.SendBurst, time.Minute),
		metrics: collector,
		log:     log.With().Str("component", "gateway").Logger(),
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sessions: make(map[*Session]struct{}),
	}
}

// Hub exposes the session hub.
func (g *Gateway) Hub() *Hub { return g.hub }

// ServeHTTP authenticates the request and runs the session until the
// connection drops.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.authenticate(w, r)
	if !ok {
		return
	}
	if g.hub.SessionCount(userID) >= g.cfg.MaxSessionsPerUser {
		g.log.Warn().Str("user", userID).Msg("session limit reached")
		http.Error(w, "too many sessions", http.StatusTooManyRequests)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s, err := newSession(g, conn, userID)
	if err != nil {
		g.log.Error().Err(err).Str("user", userID).Msg("session setup failed")
		_ = conn.Close()
		return
	}

	g.metrics.RecordSessionStart()
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		s.close()
		return
	}
	g.sessions[s] = struct{}{}
	g.mu.Unlock()

	s.hubID = g.hub.Register(userID, s)
	g.log.Info().Str("user", userID).Msg("session started")
	s.run()
}

// authenticate pulls the bearer token from the Authorization header or the
// token query parameter and resolves it to a user id.
func (g *Gateway) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); token == "" && strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimPrefix(header, "Bearer ")
	}
	if token == "" {
		g.metrics.RecordAuthFailure()
		http.Error(w, "missing token", http.StatusUnauthorized)
		return "", false
	}

	claims, err := g.jwt.VerifyToken(token)
	if err != nil {
		g.metrics.RecordAuthFailure()
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return "", false
	}
	userID := normalize.UserID(claims.UserID)
	if err := chat.ValidateUserID(userID); err != nil {
		g.metrics.RecordAuthFailure()
		http.Error(w, "invalid user", http.StatusUnauthorized)
		return "", false
	}
	return userID, true
}

func (g *Gateway) forget(s *Session) {
	g.mu.Lock()
	delete(g.sessions, s)
	g.mu.Unlock()
}

// Shutdown closes every live session and stops background work. New
// connections are refused afterwards.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	open := make([]*Session, 0, len(g.sessions))
	for s := range g.sessions {
		open = append(open, s)
	}
	g.mu.Unlock()

	for _, s := range open {
		s.close()
	}
	g.limiter.Stop()
	g.log.Info().Int("sessions", len(open)).Msg("gateway shut down")
}
