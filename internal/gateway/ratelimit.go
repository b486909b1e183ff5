package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Idle limiters are dropped after this long without activity.
const limiterIdleEviction = 10 * time.Minute

// LimiterStore keeps one token bucket per user for send throttling and
// evicts buckets of users who went quiet.
type LimiterStore struct {
	mu              sync.Mutex
	limit           rate.Limit
	burst           int
	users           map[string]*limiterEntry
	cleanupInterval time.Duration
	stopCh          chan struct{}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiterStore creates a store allowing perMinute sends sustained with
// the given burst capacity.
func NewLimiterStore(perMinute, burst int, cleanupInterval time.Duration) *LimiterStore {
	if perMinute <= 0 {
		perMinute = 60
	}
	if burst <= 0 {
		burst = perMinute
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	s := &LimiterStore{
		limit:           rate.Every(time.Minute / time.Duration(perMinute)),
		burst:           burst,
		users:           map[string]*limiterEntry{},
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *LimiterStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-limiterIdleEviction)
			s.mu.Lock()
			for userID, e := range s.users {
				if e.lastSeen.Before(cutoff) {
					delete(s.users, userID)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// Stop ends the cleanup goroutine.
func (s *LimiterStore) Stop() {
	close(s.stopCh)
}

// Allow reports whether the user may send right now.
func (s *LimiterStore) Allow(userID string) bool {
	s.mu.Lock()
	e, ok := s.users[userID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.users[userID] = e
	}
	e.lastSeen = time.Now()
	s.mu.Unlock()
	return e.limiter.Allow()
}
