package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory Service for tests and local single-process runs.
// Documents are deep-copied on the way in and out so callers can never alias
// store state. Subscriptions are driven by a dispatch goroutine per
// subscription, which serializes snapshot delivery in emission order.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	subs        map[int64]*memorySub
	nextSubID   int64
	lastNow     time.Time
	closed      bool
}

var _ Service = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]map[string]any),
		subs:        make(map[int64]*memorySub),
	}
}

// Get implements Service.
func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Document{}, ErrClosed
	}
	fields, ok := m.collections[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("get %s/%s: %w", collection, id, ErrNotFound)
	}
	return Document{ID: id, Fields: cloneFields(fields)}, nil
}

// PutIfAbsent implements Service. An existing document is left untouched and
// the call reports success, so racing creators converge on one document.
func (m *Memory) PutIfAbsent(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]map[string]any)
		m.collections[collection] = coll
	}
	if _, exists := coll[id]; exists {
		return nil
	}
	coll[id] = cloneFields(fields)
	m.notifyLocked(collection)
	return nil
}

// Update implements Service.
func (m *Memory) Update(ctx context.Context, collection, id string, updates ...Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	fields, ok := m.collections[collection][id]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	for _, u := range updates {
		if u.Inc {
			delta, _ := asInt64(u.Value)
			cur, _ := asInt64(lookupPath(fields, u.Path))
			setPath(fields, u.Path, cur+delta)
			continue
		}
		setPath(fields, u.Path, cloneValue(u.Value))
	}
	m.notifyLocked(collection)
	return nil
}

// Query implements Service.
func (m *Memory) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.queryLocked(q), nil
}

func (m *Memory) queryLocked(q Query) []Document {
	var out []Document
	for id, fields := range m.collections[q.Collection] {
		if matches(fields, q.Filters) {
			out = append(out, Document{ID: id, Fields: cloneFields(fields)})
		}
	}
	if q.OrderBy.Path != "" {
		sort.Slice(out, func(i, j int) bool {
			c := compareValues(lookupPath(out[i].Fields, q.OrderBy.Path), lookupPath(out[j].Fields, q.OrderBy.Path))
			if c == 0 {
				// Stable tie order so repeated queries agree.
				return out[i].ID < out[j].ID
			}
			if q.OrderBy.Desc {
				return c > 0
			}
			return c < 0
		})
		if q.StartAfter != nil {
			kept := out[:0]
			for _, d := range out {
				c := compareValues(lookupPath(d.Fields, q.OrderBy.Path), q.StartAfter)
				if (q.OrderBy.Desc && c < 0) || (!q.OrderBy.Desc && c > 0) {
					kept = append(kept, d)
				}
			}
			out = kept
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Subscribe implements Service. The first snapshot is delivered as soon as the
// dispatch goroutine runs; later changes coalesce, so a subscriber always sees
// the latest state but not necessarily every intermediate one.
func (m *Memory) Subscribe(q Query, onSnapshot SnapshotFunc, onError func(error)) Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	sub := &memorySub{
		store:      m,
		id:         m.nextSubID,
		q:          q,
		onSnapshot: onSnapshot,
		onError:    onError,
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	if m.closed {
		sub.stop()
		return sub
	}
	m.subs[sub.id] = sub
	sub.notify <- struct{}{}
	go sub.loop()
	return sub
}

// Now implements Service. The returned timestamps are strictly increasing so
// document order is never decided by a clock tie.
func (m *Memory) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if !now.After(m.lastNow) {
		now = m.lastNow.Add(time.Microsecond)
	}
	m.lastNow = now
	return now
}

// Close stops all subscriptions and rejects further writes.
func (m *Memory) Close() {
	m.mu.Lock()
	subs := make([]*memorySub, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.subs = make(map[int64]*memorySub)
	m.closed = true
	m.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
}

func (m *Memory) notifyLocked(collection string) {
	for _, s := range m.subs {
		if s.q.Collection != collection {
			continue
		}
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

func (m *Memory) unsubscribe(id int64) {
	m.mu.Lock()
	s, ok := m.subs[id]
	delete(m.subs, id)
	m.mu.Unlock()
	if ok {
		s.stop()
	}
}

type memorySub struct {
	store      *Memory
	id         int64
	q          Query
	onSnapshot SnapshotFunc
	onError    func(error)
	notify     chan struct{}
	done       chan struct{}
	stopOnce   sync.Once
}

func (s *memorySub) Unsubscribe() { s.store.unsubscribe(s.id) }

func (s *memorySub) stop() { s.stopOnce.Do(func() { close(s.done) }) }

func (s *memorySub) loop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}
		s.store.mu.RLock()
		closed := s.store.closed
		var docs []Document
		if !closed {
			docs = s.store.queryLocked(s.q)
		}
		s.store.mu.RUnlock()
		if closed {
			return
		}
		select {
		case <-s.done:
			return
		default:
		}
		s.onSnapshot(docs)
	}
}

func matches(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		v := lookupPath(fields, f.Path)
		switch f.Op {
		case OpEq:
			if compareValues(v, f.Value) != 0 {
				return false
			}
		case OpGt:
			if compareValues(v, f.Value) <= 0 {
				return false
			}
		case OpLt:
			if compareValues(v, f.Value) >= 0 {
				return false
			}
		case OpContains:
			if !containsValue(v, f.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func containsValue(field, want any) bool {
	switch arr := field.(type) {
	case []string:
		for _, e := range arr {
			if s, ok := want.(string); ok && e == s {
				return true
			}
		}
	case []any:
		for _, e := range arr {
			if compareValues(e, want) == 0 {
				return true
			}
		}
	}
	return false
}

// compareValues orders the scalar types documents carry: times, strings and
// numbers. Unsupported or missing values sort first.
func compareValues(a, b any) int {
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	if aok && bok {
		return at.Compare(bt)
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}
	an, aok := asInt64(a)
	bn, bok := asInt64(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	return 0
}

func setPath(fields map[string]any, path string, v any) {
	for {
		i := strings.IndexByte(path, '.')
		if i < 0 {
			fields[path] = v
			return
		}
		head := path[:i]
		next, ok := fields[head].(map[string]any)
		if !ok {
			next = make(map[string]any)
			fields[head] = next
		}
		fields, path = next, path[i+1:]
	}
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneFields(t)
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
