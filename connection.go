package httpclient

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConnectionState is the lifecycle state of a pooled connection.
type ConnectionState int

const (
	// ConnectionIdle means the connection sits in the pool awaiting reuse.
	ConnectionIdle ConnectionState = iota
	// ConnectionInUse means exactly one engine owns the connection.
	ConnectionInUse
	// ConnectionCancelled is terminal; subsequent I/O fails.
	ConnectionCancelled
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionIdle:
		return "idle"
	case ConnectionInUse:
		return "in-use"
	case ConnectionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ConnectionIdentity is the reuse key for pooled connections. Two requests
// share a connection only when every field matches.
type ConnectionIdentity struct {
	Scheme          string
	Host            string
	Port            int
	Proxy           string
	RootCADirectory string
	RootCAFile      string
	Timeout         time.Duration
}

// Connection is a reusable endpoint session. It carries one underlying
// net/http transport configured for its identity; the Transport
// implementation builds and owns that session lazily.
type Connection struct {
	mu        sync.Mutex
	id        string
	identity  ConnectionIdentity
	state     ConnectionState
	session   *http.Transport
	lastUsed  time.Time
	idleTimer *time.Timer
	cancelCh  chan struct{}
	cancelled bool
}

func newConnection(identity ConnectionIdentity) *Connection {
	return &Connection{
		id:       uuid.NewString(),
		identity: identity,
		state:    ConnectionInUse,
		lastUsed: time.Now(),
		cancelCh: make(chan struct{}),
	}
}

// ID returns the opaque connection identifier.
func (c *Connection) ID() string { return c.id }

// Identity returns the reuse key.
func (c *Connection) Identity() ConnectionIdentity { return c.identity }

// State returns the current lifecycle state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cancel transitions the connection to Cancelled and interrupts blocked
// I/O. Idempotent: repeated calls return true with no further effect.
func (c *Connection) Cancel() bool {
	c.mu.Lock()
	already := c.cancelled
	c.cancelled = true
	c.state = ConnectionCancelled
	session := c.session
	c.mu.Unlock()
	if !already {
		close(c.cancelCh)
		if session != nil {
			session.CloseIdleConnections()
		}
	}
	return true
}

// IsCancelled reports whether Cancel has been called.
func (c *Connection) IsCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Done returns a channel closed when the connection is cancelled.
func (c *Connection) Done() <-chan struct{} { return c.cancelCh }

// setSession installs the lazily built net/http session. Only the first
// session sticks.
func (c *Connection) setSession(t *http.Transport) *http.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		c.session = t
	}
	return c.session
}

func (c *Connection) getSession() *http.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// terminate tears down the underlying session.
func (c *Connection) terminate() {
	c.mu.Lock()
	if c.state != ConnectionCancelled {
		c.state = ConnectionCancelled
	}
	if !c.cancelled {
		c.cancelled = true
		close(c.cancelCh)
	}
	session := c.session
	timer := c.idleTimer
	c.idleTimer = nil
	c.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	if session != nil {
		session.CloseIdleConnections()
	}
}
