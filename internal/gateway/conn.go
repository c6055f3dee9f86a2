package gateway

import (
	"sync"

	"github.com/nhle/crm-mailsync/internal/events"
)

// State is the lifecycle stage of a client connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one open realtime stream bound to a user.
type Conn struct {
	id     string
	userID string

	mu    sync.Mutex
	state State
	sub   *events.Subscription
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// UserID returns the user the connection is bound to.
func (c *Conn) UserID() string { return c.userID }

// State returns the current lifecycle stage.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// open moves Connecting to Open. It reports false if the connection was
// already closed.
func (c *Conn) open(sub *events.Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return false
	}
	c.state = StateOpen
	c.sub = sub
	return true
}

// close moves the connection to Closed and returns the subscription to
// destroy, or nil when it was already closed.
func (c *Conn) close() (*events.Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil, false
	}
	c.state = StateClosed
	sub := c.sub
	c.sub = nil
	return sub, true
}
