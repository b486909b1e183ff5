package chat

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ChannelCache remembers the last rendered window of recently viewed
// channels so reopening one paints instantly while its fresh subscription
// attaches. Bounded LRU, never persisted, owned by the engine for the life
// of the process.
type ChannelCache struct {
	entries *lru.Cache[string, WindowState]
}

// NewChannelCache returns a cache holding at most capacity channels.
func NewChannelCache(capacity int) (*ChannelCache, error) {
	entries, err := lru.New[string, WindowState](capacity)
	if err != nil {
		return nil, fmt.Errorf("channel cache: %w", err)
	}
	return &ChannelCache{entries: entries}, nil
}

// Get returns the cached window state for a channel, marking it recently
// used.
func (c *ChannelCache) Get(channelID string) (WindowState, bool) {
	return c.entries.Get(channelID)
}

// Put stores the window state, evicting the least recently used channel when
// over capacity.
func (c *ChannelCache) Put(channelID string, st WindowState) {
	c.entries.Add(channelID, st)
}

// Len reports how many channels are currently cached.
func (c *ChannelCache) Len() int {
	return c.entries.Len()
}
