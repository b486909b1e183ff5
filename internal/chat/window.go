package chat

import (
	"sort"
	"time"
)

// WindowState is the cached render state of one conversation: the merged
// message view plus the pagination bookkeeping needed to resume browsing
// where the user left off.
type WindowState struct {
	Messages []Message
	Cursor   time.Time
	HasMore  bool
}

// window tracks the two sub-windows of an open conversation. live mirrors the
// newest messages as delivered by the subscription; history accumulates
// everything older, fed by pagination and by messages that scroll out of the
// live window. Both are kept in chronological order.
type window struct {
	size    int
	history []Message
	live    []Message
	cursor  time.Time
	hasMore bool
}

func newWindow(size int) *window {
	return &window{size: size}
}

// restore seeds the window from a cached state. The cached view lands in
// history: the next live snapshot is authoritative for the tail and merges
// cleanly on top of it.
func (w *window) restore(st WindowState) {
	w.history = append([]Message(nil), st.Messages...)
	w.cursor = st.Cursor
	w.hasMore = st.HasMore
}

// applySnapshot replaces the live sub-window wholesale with a freshly
// delivered snapshot (already in chronological order). Messages that just
// fell out of the live window move into history so nothing once visible ever
// disappears. The pagination cursor is rebased to the snapshot's oldest
// message; a page fetched against a stale baseline only re-reads messages the
// merge then deduplicates.
func (w *window) applySnapshot(msgs []Message) {
	if len(w.live) > 0 {
		w.history = mergeMessages(w.history, w.live)
	}
	w.live = msgs
	if len(msgs) > 0 {
		w.cursor = msgs[0].SentAt
	}
	w.hasMore = len(msgs) == w.size
}

// prependPage folds one older page (chronological) into history and advances
// the cursor past it. A short page means the channel's history is exhausted.
func (w *window) prependPage(page []Message) {
	w.history = mergeMessages(page, w.history)
	if len(page) > 0 {
		w.cursor = page[0].SentAt
	}
	if len(page) < w.size {
		w.hasMore = false
	}
}

// view materializes the merged message list: history and live joined,
// deduplicated by id with live entries winning, ordered by timestamp.
func (w *window) view() []Message {
	return mergeMessages(w.history, w.live)
}

func (w *window) state() WindowState {
	return WindowState{Messages: w.view(), Cursor: w.cursor, HasMore: w.hasMore}
}

// mergeMessages joins two message slices into one ordered, duplicate-free
// slice. When both carry the same id, the overlay's entry wins.
func mergeMessages(base, overlay []Message) []Message {
	merged := make(map[string]Message, len(base)+len(overlay))
	for _, m := range base {
		merged[m.ID] = m
	}
	for _, m := range overlay {
		merged[m.ID] = m
	}
	out := make([]Message, 0, len(merged))
	for _, m := range merged {
		out = append(out, m)
	}
	sortMessages(out)
	return out
}

// sortMessages orders by store timestamp; the id tiebreak only keeps the
// order deterministic when two writes land on the same instant.
func sortMessages(msgs []Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].SentAt.Before(msgs[j].SentAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
