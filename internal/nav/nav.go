// Package nav models the chat drawer's navigation as a small state machine
// over a virtual back stack. The controller owns every history mutation it
// makes and counts them, so pops it caused itself can be told apart from the
// user pressing back when the host reports history changes.
package nav

import (
	"sync"

	"github.com/rs/zerolog"
)

// State is the drawer position. Its numeric value equals the number of
// history entries the controller has pushed to get there.
type State int

const (
	// Closed means the drawer is not visible and owns no history entries.
	Closed State = iota

	// ListShown means the conversation list is on screen.
	ListShown

	// ChatOpen means a single conversation is on screen, above the list.
	ChatOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case ListShown:
		return "list"
	case ChatOpen:
		return "chat"
	default:
		return "unknown"
	}
}

const (
	tagList = "list"
	tagChat = "chat"
)

// History is the virtual back stack the controller drives. Push and Pop are
// allowed to synchronously report the resulting change back through
// HandleBack, the way platform history APIs echo programmatic navigation.
type History interface {
	Push(tag string)
	Pop()
}

// Listener receives the UI-facing outcome of each transition.
type Listener interface {
	ShowList()
	ShowChat(channelID string)
	DrawerClosed()
}

// Controller is the drawer navigation state machine. All methods are safe
// for concurrent use; listener and history calls happen outside its lock.
type Controller struct {
	history  History
	listener Listener
	log      zerolog.Logger

	mu         sync.Mutex
	state      State
	suppress   int
	singleMode bool
}

// NewController returns a controller in the Closed state.
func NewController(history History, listener Listener, log zerolog.Logger) *Controller {
	return &Controller{
		history:  history,
		listener: listener,
		log:      log.With().Str("component", "nav").Logger(),
	}
}

// State returns the current drawer position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Depth returns how many history entries the controller currently owns.
func (c *Controller) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int(c.state)
}

// OpenDrawer shows the conversation list. A no-op unless the drawer is
// closed.
func (c *Controller) OpenDrawer() {
	c.mu.Lock()
	if c.state != Closed {
		c.mu.Unlock()
		c.log.Debug().Stringer("state", c.state).Msg("openDrawer ignored")
		return
	}
	c.state = ListShown
	c.mu.Unlock()

	c.history.Push(tagList)
	if c.listener != nil {
		c.listener.ShowList()
	}
}

// OpenConversation opens the drawer directly on one conversation with no
// list panel. The list state is still entered as bookkeeping, so the depth
// accounting matches the regular path, but only ShowChat is announced and a
// back press from here closes the drawer instead of revealing a list that
// was never shown.
func (c *Controller) OpenConversation(channelID string) {
	c.mu.Lock()
	if c.state != Closed {
		c.mu.Unlock()
		c.log.Debug().Stringer("state", c.state).Msg("openConversation ignored")
		return
	}
	c.state = ChatOpen
	c.singleMode = true
	c.mu.Unlock()

	c.history.Push(tagList)
	c.history.Push(tagChat)
	if c.listener != nil {
		c.listener.ShowChat(channelID)
	}
}

// EnterChat moves from the list into one conversation.
func (c *Controller) EnterChat(channelID string) {
	c.mu.Lock()
	if c.state != ListShown {
		c.mu.Unlock()
		c.log.Debug().Stringer("state", c.state).Msg("enterChat ignored")
		return
	}
	c.state = ChatOpen
	c.mu.Unlock()

	c.history.Push(tagChat)
	if c.listener != nil {
		c.listener.ShowChat(channelID)
	}
}

// ExitChat returns from a conversation to the list via the in-UI back
// arrow. The popped history entry is the controller's own doing and must
// not read as a user back press.
func (c *Controller) ExitChat() {
	c.mu.Lock()
	if c.state != ChatOpen {
		c.mu.Unlock()
		c.log.Debug().Stringer("state", c.state).Msg("exitChat ignored")
		return
	}
	c.state = ListShown
	c.singleMode = false
	c.suppress++
	c.mu.Unlock()

	c.history.Pop()
	if c.listener != nil {
		c.listener.ShowList()
	}
}

// CloseDrawer closes the drawer from any state in one step, unwinding every
// history entry the controller pushed. The resulting history changes are
// all self-inflicted and are suppressed.
func (c *Controller) CloseDrawer() {
	c.mu.Lock()
	depth := int(c.state)
	if depth == 0 {
		c.mu.Unlock()
		return
	}
	c.state = Closed
	c.singleMode = false
	c.suppress += depth
	c.mu.Unlock()

	for i := 0; i < depth; i++ {
		c.history.Pop()
	}
	if c.listener != nil {
		c.listener.DrawerClosed()
	}
}

// HandleBack processes one history pop reported by the host, whether caused
// by the user's physical back press or by the controller's own unwinding.
// It reports whether the event was consumed; a false return means the
// drawer owned no history and the host should let the platform handle it.
func (c *Controller) HandleBack() bool {
	c.mu.Lock()
	if c.suppress > 0 {
		c.suppress--
		c.mu.Unlock()
		return true
	}

	switch c.state {
	case ChatOpen:
		// The platform already removed the chat entry.
		if c.singleMode {
			// There is no list behind this conversation; leaving it closes
			// the drawer, and the bookkeeping list entry is unwound too.
			c.state = Closed
			c.singleMode = false
			c.suppress++
			c.mu.Unlock()
			c.history.Pop()
			if c.listener != nil {
				c.listener.DrawerClosed()
			}
			return true
		}
		c.state = ListShown
		c.mu.Unlock()
		if c.listener != nil {
			c.listener.ShowList()
		}
		return true

	case ListShown:
		c.state = Closed
		c.mu.Unlock()
		if c.listener != nil {
			c.listener.DrawerClosed()
		}
		return true

	default:
		c.mu.Unlock()
		return false
	}
}
