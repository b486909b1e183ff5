package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultReadDebounce is the coalescing window for mark-read writes.
const DefaultReadDebounce = 400 * time.Millisecond

const markTimeout = 5 * time.Second

// readTimer is the cancelable-delay abstraction behind the debounce; tests
// swap the factory to fire it deterministically. time.Timer satisfies it.
type readTimer interface {
	Stop() bool
}

type timerFactory func(d time.Duration, fn func()) readTimer

// ReadMarker debounces mark-read requests. While a conversation is on
// screen, every arriving message triggers another request; coalescing them
// keeps it to at most one counter write per debounce window and channel.
// Writes are best-effort: a failure is logged, never surfaced, since the
// next request repeats the same idempotent write.
type ReadMarker struct {
	store    *Store
	self     string
	delay    time.Duration
	newTimer timerFactory
	log      zerolog.Logger

	mu      sync.Mutex
	pending map[string]readTimer
	closed  bool
}

// NewReadMarker returns a marker writing as self. A non-positive delay falls
// back to DefaultReadDebounce.
func NewReadMarker(store *Store, self string, delay time.Duration, log zerolog.Logger) *ReadMarker {
	if delay <= 0 {
		delay = DefaultReadDebounce
	}
	return &ReadMarker{
		store:    store,
		self:     self,
		delay:    delay,
		newTimer: func(d time.Duration, fn func()) readTimer { return time.AfterFunc(d, fn) },
		log:      log.With().Str("component", "read-marker").Logger(),
		pending:  make(map[string]readTimer),
	}
}

// Mark requests that the channel be marked read. Repeated calls within the
// debounce window restart it, so a burst collapses into one write after the
// burst ends.
func (m *ReadMarker) Mark(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if t, ok := m.pending[channelID]; ok {
		t.Stop()
	}
	m.pending[channelID] = m.newTimer(m.delay, func() { m.fire(channelID) })
}

// Close cancels all timers and synchronously writes any marks still pending;
// the user did view those channels, closing must not lose that.
func (m *ReadMarker) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pending := m.pending
	m.pending = make(map[string]readTimer)
	m.mu.Unlock()

	for channelID, t := range pending {
		if t.Stop() {
			m.write(channelID)
		}
	}
}

func (m *ReadMarker) fire(channelID string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	delete(m.pending, channelID)
	m.mu.Unlock()
	m.write(channelID)
}

func (m *ReadMarker) write(channelID string) {
	ctx, cancel := context.WithTimeout(context.Background(), markTimeout)
	defer cancel()
	if err := m.store.MarkRead(ctx, channelID, m.self); err != nil {
		m.log.Warn().Err(err).Str("channel", channelID).Msg("mark read failed")
	}
}
