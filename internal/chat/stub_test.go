package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DevenderAmbati/Kalarang.art-sub001/internal/docstore"
)

// stubSvc wraps the in-memory backend with manual subscription delivery and
// injectable failures, so engine state transitions can be driven and
// observed deterministically.
type stubSvc struct {
	*docstore.Memory

	mu          sync.Mutex
	subs        []*stubSub
	putErr      map[string]error
	updateErr   error
	queryErr    error
	putGate     chan struct{}
	queryGate   chan struct{}
	queryCalls  int
	updateCalls int
}

func newStubSvc() *stubSvc {
	return &stubSvc{Memory: docstore.NewMemory(), putErr: map[string]error{}}
}

func (s *stubSvc) PutIfAbsent(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	err := s.putErr[collection]
	gate := s.putGate
	s.mu.Unlock()
	if gate != nil && collection == messagesCollection {
		<-gate
	}
	if err != nil {
		return err
	}
	return s.Memory.PutIfAbsent(ctx, collection, id, fields)
}

func (s *stubSvc) Update(ctx context.Context, collection, id string, updates ...docstore.Update) error {
	s.mu.Lock()
	s.updateCalls++
	err := s.updateErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Memory.Update(ctx, collection, id, updates...)
}

func (s *stubSvc) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	s.mu.Lock()
	s.queryCalls++
	err := s.queryErr
	gate := s.queryGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return s.Memory.Query(ctx, q)
}

// Subscribe records the subscription without delivering anything; tests push
// snapshots explicitly with deliver.
func (s *stubSvc) Subscribe(q docstore.Query, onSnapshot docstore.SnapshotFunc, onError func(error)) docstore.Subscription {
	sub := &stubSub{q: q, onSnapshot: onSnapshot, onError: onError}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return sub
}

// deliver runs the latest live subscription's own query against the backend
// and hands it the result, exactly like the real store would.
func (s *stubSvc) deliver(t *testing.T, collection string) {
	t.Helper()
	sub := s.subFor(t, collection)
	docs, err := s.Memory.Query(context.Background(), sub.q)
	if err != nil {
		t.Fatalf("deliver query failed: %v", err)
	}
	sub.onSnapshot(docs)
}

func (s *stubSvc) subFor(t *testing.T, collection string) *stubSub {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.subs) - 1; i >= 0; i-- {
		sub := s.subs[i]
		if sub.q.Collection == collection && !sub.closed() {
			return sub
		}
	}
	t.Fatalf("no live subscription on %s", collection)
	return nil
}

func (s *stubSvc) subCount(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sub := range s.subs {
		if sub.q.Collection == collection {
			n++
		}
	}
	return n
}

func (s *stubSvc) setUpdateErr(err error) {
	s.mu.Lock()
	s.updateErr = err
	s.mu.Unlock()
}

func (s *stubSvc) setQueryErr(err error) {
	s.mu.Lock()
	s.queryErr = err
	s.mu.Unlock()
}

func (s *stubSvc) setPutErr(collection string, err error) {
	s.mu.Lock()
	s.putErr[collection] = err
	s.mu.Unlock()
}

// setPutGate makes message writes block until the channel is closed.
func (s *stubSvc) setPutGate(gate chan struct{}) {
	s.mu.Lock()
	s.putGate = gate
	s.mu.Unlock()
}

// setQueryGate makes queries block until the channel is closed.
func (s *stubSvc) setQueryGate(gate chan struct{}) {
	s.mu.Lock()
	s.queryGate = gate
	s.mu.Unlock()
}

func (s *stubSvc) counts() (queries, updates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryCalls, s.updateCalls
}

type stubSub struct {
	q          docstore.Query
	onSnapshot docstore.SnapshotFunc
	onError    func(error)

	mu           sync.Mutex
	unsubscribed bool
}

func (s *stubSub) Unsubscribe() {
	s.mu.Lock()
	s.unsubscribed = true
	s.mu.Unlock()
}

func (s *stubSub) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

// viewSink collects emitted views for assertions.
type viewSink struct {
	ch chan View
}

func newViewSink() *viewSink {
	return &viewSink{ch: make(chan View, 64)}
}

func (s *viewSink) events() ConversationEvents {
	return ConversationEvents{OnView: func(v View) { s.ch <- v }}
}

func (s *viewSink) next(t *testing.T) View {
	t.Helper()
	select {
	case v := <-s.ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a view")
		return View{}
	}
}

// waitFor consumes views until one satisfies the predicate.
func (s *viewSink) waitFor(t *testing.T, pred func(View) bool) View {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-s.ch:
			if pred(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for a matching view")
			return View{}
		}
	}
}

func (s *viewSink) drain() []View {
	var out []View
	for {
		select {
		case v := <-s.ch:
			out = append(out, v)
		default:
			return out
		}
	}
}

// seedMessages appends n messages alternating between the two participants
// and returns them in send order.
func seedMessages(t *testing.T, store *Store, channelID string, n int) []Message {
	t.Helper()
	a, b, ok := SplitChannelID(channelID)
	if !ok {
		t.Fatalf("bad channel id %q", channelID)
	}
	msgs := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		sender, peer := a, b
		if i%2 == 1 {
			sender, peer = b, a
		}
		m, err := store.Append(context.Background(), channelID, sender, fmt.Sprintf("message %d", i), peer)
		if err != nil {
			t.Fatalf("seed append %d failed: %v", i, err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}
