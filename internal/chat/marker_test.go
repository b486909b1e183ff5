package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeTimer is a manually fired readTimer.
type fakeTimer struct {
	mu      sync.Mutex
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (t *fakeTimer) fire() {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	fn := t.fn
	t.mu.Unlock()
	fn()
}

type fakeTimers struct {
	mu   sync.Mutex
	made []*fakeTimer
}

func (f *fakeTimers) factory(_ time.Duration, fn func()) readTimer {
	t := &fakeTimer{fn: fn}
	f.mu.Lock()
	f.made = append(f.made, t)
	f.mu.Unlock()
	return t
}

func (f *fakeTimers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.made)
}

func (f *fakeTimers) last() *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.made[len(f.made)-1]
}

func newMarkerFixture(t *testing.T) (*stubSvc, *Store, *ReadMarker, *fakeTimers) {
	t.Helper()
	svc := newStubSvc()
	store := NewStore(svc)
	marker := NewReadMarker(store, "alice", time.Minute, zerolog.Nop())
	timers := &fakeTimers{}
	marker.newTimer = timers.factory
	return svc, store, marker, timers
}

func unreadFor(t *testing.T, store *Store, channelID, userID string) int64 {
	t.Helper()
	return mustGetChannel(t, store, channelID).Unread[userID]
}

func TestReadMarkerCoalescesBursts(t *testing.T) {
	svc, store, marker, timers := newMarkerFixture(t)
	ctx := context.Background()

	ab := ChannelID("alice", "bob")
	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, ab, "bob", "ping", "alice"); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	// Every arriving message nudges the marker; only the last nudge counts.
	for i := 0; i < 5; i++ {
		marker.Mark(ab)
	}
	if got := timers.count(); got != 5 {
		t.Fatalf("armed %d timers, want 5", got)
	}
	if got := unreadFor(t, store, ab, "alice"); got != 3 {
		t.Fatalf("unread before the debounce fired = %d, want 3", got)
	}

	_, updatesBefore := svc.counts()
	timers.last().fire()
	if _, updatesAfter := svc.counts(); updatesAfter != updatesBefore+1 {
		t.Fatalf("burst produced %d writes, want 1", updatesAfter-updatesBefore)
	}
	if got := unreadFor(t, store, ab, "alice"); got != 0 {
		t.Fatalf("unread after fire = %d, want 0", got)
	}
}

func TestReadMarkerTracksChannelsIndependently(t *testing.T) {
	_, store, marker, timers := newMarkerFixture(t)
	ctx := context.Background()

	ab := ChannelID("alice", "bob")
	ac := ChannelID("alice", "carol")
	for _, tc := range []struct{ id, sender string }{{ab, "bob"}, {ac, "carol"}} {
		if _, err := store.Append(ctx, tc.id, tc.sender, "hi", "alice"); err != nil {
			t.Fatalf("append to %s failed: %v", tc.id, err)
		}
	}

	marker.Mark(ab)
	marker.Mark(ac)
	if got := timers.count(); got != 2 {
		t.Fatalf("armed %d timers for two channels, want 2", got)
	}

	timers.made[0].fire()
	if got := unreadFor(t, store, ab, "alice"); got != 0 {
		t.Fatalf("first channel unread = %d after its own fire", got)
	}
	if got := unreadFor(t, store, ac, "alice"); got != 1 {
		t.Fatalf("second channel was marked by the first channel's timer")
	}

	timers.made[1].fire()
	if got := unreadFor(t, store, ac, "alice"); got != 0 {
		t.Fatalf("second channel unread = %d after fire", got)
	}
}

func TestReadMarkerCloseFlushesPending(t *testing.T) {
	_, store, marker, timers := newMarkerFixture(t)
	ctx := context.Background()

	ab := ChannelID("alice", "bob")
	if _, err := store.Append(ctx, ab, "bob", "unseen", "alice"); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	marker.Mark(ab)
	marker.Close()

	// The pending mark is written on the way out, not dropped.
	if got := unreadFor(t, store, ab, "alice"); got != 0 {
		t.Fatalf("unread after Close = %d, want 0", got)
	}

	armed := timers.count()
	marker.Mark(ab)
	if timers.count() != armed {
		t.Fatal("Mark after Close armed a timer")
	}
	marker.Close()
}

func TestReadMarkerFiredTimerDoesNotFlushTwice(t *testing.T) {
	svc, store, marker, timers := newMarkerFixture(t)
	ctx := context.Background()

	ab := ChannelID("alice", "bob")
	if _, err := store.Append(ctx, ab, "bob", "hello", "alice"); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	marker.Mark(ab)
	timers.last().fire()
	if got := unreadFor(t, store, ab, "alice"); got != 0 {
		t.Fatalf("unread after fire = %d, want 0", got)
	}

	_, updatesBefore := svc.counts()
	marker.Close()
	if _, updatesAfter := svc.counts(); updatesAfter != updatesBefore {
		t.Fatal("Close rewrote a mark that had already fired")
	}
}

func TestReadMarkerWritesAfterRealDelay(t *testing.T) {
	svc := newStubSvc()
	store := NewStore(svc)
	marker := NewReadMarker(store, "alice", 10*time.Millisecond, zerolog.Nop())
	defer marker.Close()
	ctx := context.Background()

	ab := ChannelID("alice", "bob")
	if _, err := store.Append(ctx, ab, "bob", "hello", "alice"); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	marker.Mark(ab)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if unreadFor(t, store, ab, "alice") == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("debounced mark never reached the store")
}
