package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryPutIfAbsentKeepsFirstWriter(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	err := m.PutIfAbsent(ctx, "channels", "a#b", map[string]any{"last_message_preview": "first"})
	require.NoError(t, err)

	// The losing writer gets a clean success and the original document stays.
	err = m.PutIfAbsent(ctx, "channels", "a#b", map[string]any{"last_message_preview": "second"})
	require.NoError(t, err)

	doc, err := m.Get(ctx, "channels", "a#b")
	require.NoError(t, err)
	require.Equal(t, "first", doc.Str("last_message_preview"))
}

func TestMemoryGetNotFound(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	_, err := m.Get(context.Background(), "channels", "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUpdateSetAndInc(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.PutIfAbsent(ctx, "channels", "a#b", map[string]any{
		"last_message_preview": "",
		"unread":               map[string]any{},
	}))

	err := m.Update(ctx, "channels", "a#b",
		Set("last_message_preview", "hey"),
		Set("unread.a", int64(0)),
		Inc("unread.b", 1),
		Inc("unread.b", 1),
	)
	require.NoError(t, err)

	doc, err := m.Get(ctx, "channels", "a#b")
	require.NoError(t, err)
	require.Equal(t, "hey", doc.Str("last_message_preview"))
	require.Equal(t, int64(0), doc.Int("unread.a"))
	require.Equal(t, int64(2), doc.Int("unread.b"))

	err = m.Update(ctx, "channels", "missing", Set("x", 1))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryUpdateDoesNotAliasCallerValues(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	fields := map[string]any{"participants": []string{"a", "b"}}
	require.NoError(t, m.PutIfAbsent(ctx, "channels", "a#b", fields))

	// Mutating the caller's slice after the write must not leak into the store.
	fields["participants"].([]string)[0] = "zzz"

	doc, err := m.Get(ctx, "channels", "a#b")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, doc.Strs("participants"))
}

func TestMemoryQueryOrderLimitCursor(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 5; i++ {
		now := m.Now()
		stamps = append(stamps, now)
		require.NoError(t, m.PutIfAbsent(ctx, "messages", string(rune('a'+i)), map[string]any{
			"channel_id": "a#b",
			"created_at": now,
		}))
	}

	q := Query{
		Collection: "messages",
		Filters:    []Filter{{Path: "channel_id", Op: OpEq, Value: "a#b"}},
		OrderBy:    Order{Path: "created_at", Desc: true},
		Limit:      2,
	}
	docs, err := m.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "e", docs[0].ID)
	require.Equal(t, "d", docs[1].ID)

	// Page past the newest two.
	q.StartAfter = stamps[3]
	docs, err = m.Query(ctx, q)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "c", docs[0].ID)
	require.Equal(t, "b", docs[1].ID)

	// Cursor past the oldest document returns nothing.
	q.StartAfter = stamps[0]
	docs, err = m.Query(ctx, q)
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestMemoryQueryArrayContains(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.PutIfAbsent(ctx, "channels", "a#b", map[string]any{"participants": []string{"a", "b"}}))
	require.NoError(t, m.PutIfAbsent(ctx, "channels", "b#c", map[string]any{"participants": []string{"b", "c"}}))

	docs, err := m.Query(ctx, Query{
		Collection: "channels",
		Filters:    []Filter{{Path: "participants", Op: OpContains, Value: "a"}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "a#b", docs[0].ID)
}

func TestMemorySubscribeDeliversSnapshots(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	snaps := make(chan []Document, 8)
	sub := m.Subscribe(Query{
		Collection: "messages",
		Filters:    []Filter{{Path: "channel_id", Op: OpEq, Value: "a#b"}},
		OrderBy:    Order{Path: "created_at", Desc: true},
	}, func(docs []Document) { snaps <- docs }, nil)
	defer sub.Unsubscribe()

	// Initial snapshot of the empty result.
	require.Empty(t, waitSnapshot(t, snaps))

	require.NoError(t, m.PutIfAbsent(ctx, "messages", "m1", map[string]any{
		"channel_id": "a#b",
		"created_at": m.Now(),
	}))

	got := waitSnapshot(t, snaps)
	require.Len(t, got, 1)
	require.Equal(t, "m1", got[0].ID)

	// A write to an unrelated channel still matches the collection, so a
	// snapshot fires, but the result set is unchanged.
	require.NoError(t, m.PutIfAbsent(ctx, "messages", "m2", map[string]any{
		"channel_id": "x#y",
		"created_at": m.Now(),
	}))
	got = waitSnapshot(t, snaps)
	require.Len(t, got, 1)

	sub.Unsubscribe()
	require.NoError(t, m.PutIfAbsent(ctx, "messages", "m3", map[string]any{
		"channel_id": "a#b",
		"created_at": m.Now(),
	}))
	select {
	case <-snaps:
		t.Fatal("snapshot delivered after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryNowMonotonic(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	prev := m.Now()
	for i := 0; i < 1000; i++ {
		next := m.Now()
		require.True(t, next.After(prev), "timestamps must be strictly increasing")
		prev = next
	}
}

func waitSnapshot(t *testing.T, ch <-chan []Document) []Document {
	t.Helper()
	select {
	case docs := <-ch:
		return docs
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}
