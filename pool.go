package httpclient

import (
	"sync"
	"time"
)

// DefaultKeepAliveTimeout is how long an idle connection stays in the pool
// before it is terminated.
const DefaultKeepAliveTimeout = 60 * time.Second

// ConnectionPoolOption configures a ConnectionPool.
type ConnectionPoolOption func(*ConnectionPool)

// WithKeepAliveTimeout sets the idle expiry for pooled connections.
func WithKeepAliveTimeout(d time.Duration) ConnectionPoolOption {
	return func(p *ConnectionPool) {
		if d > 0 {
			p.keepAlive = d
		}
	}
}

// WithMaxIdleConnections caps the number of idle connections retained.
// Zero means unbounded.
func WithMaxIdleConnections(n int) ConnectionPoolOption {
	return func(p *ConnectionPool) {
		if n >= 0 {
			p.maxIdle = n
		}
	}
}

// ConnectionPool holds reusable connections keyed by their identity.
// Safe for concurrent use; network I/O never happens under the pool lock.
type ConnectionPool struct {
	mu        sync.Mutex
	conns     []*Connection
	keepAlive time.Duration
	maxIdle   int
}

// NewConnectionPool returns a pool with the default keep-alive timeout.
func NewConnectionPool(opts ...ConnectionPoolOption) *ConnectionPool {
	p := &ConnectionPool{keepAlive: DefaultKeepAliveTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// acquire returns an idle connection matching identity, moving it to
// InUse, or nil when none is available.
func (p *ConnectionPool) acquire(identity ConnectionIdentity) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		c.mu.Lock()
		match := c.state == ConnectionIdle && c.identity == identity
		if match {
			c.state = ConnectionInUse
			c.lastUsed = time.Now()
			if c.idleTimer != nil {
				c.idleTimer.Stop()
				c.idleTimer = nil
			}
		}
		c.mu.Unlock()
		if match {
			return c
		}
	}
	return nil
}

// register adds a freshly created InUse connection to the pool.
func (p *ConnectionPool) register(c *Connection) {
	p.mu.Lock()
	p.conns = append(p.conns, c)
	p.mu.Unlock()
}

// release hands a connection back. Reusable connections turn Idle and
// start their keep-alive timer; others are terminated and dropped.
func (p *ConnectionPool) release(c *Connection, reuse bool) {
	if c == nil {
		return
	}
	if !reuse || c.IsCancelled() {
		p.drop(c)
		return
	}
	p.mu.Lock()
	idle := 0
	for _, pc := range p.conns {
		if pc != c && pc.State() == ConnectionIdle {
			idle++
		}
	}
	overIdle := p.maxIdle > 0 && idle >= p.maxIdle
	p.mu.Unlock()
	if overIdle {
		p.drop(c)
		return
	}

	c.mu.Lock()
	if c.cancelled {
		c.mu.Unlock()
		p.drop(c)
		return
	}
	c.state = ConnectionIdle
	c.lastUsed = time.Now()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(p.keepAlive, func() {
		p.expire(c)
	})
	c.mu.Unlock()
}

// expire terminates a connection whose keep-alive timer fired, unless it
// was reacquired in the meantime.
func (p *ConnectionPool) expire(c *Connection) {
	c.mu.Lock()
	stillIdle := c.state == ConnectionIdle
	c.mu.Unlock()
	if !stillIdle {
		return
	}
	GetLogger().Debug("idle connection expired", "connection", c.ID())
	p.drop(c)
}

// drop removes the connection from the pool and tears it down.
func (p *ConnectionPool) drop(c *Connection) {
	p.mu.Lock()
	for i, pc := range p.conns {
		if pc == c {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	c.terminate()
}

// CancelAll cancels every connection and empties the pool.
func (p *ConnectionPool) CancelAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()
	for _, c := range conns {
		c.Cancel()
		c.terminate()
	}
}

// Size returns the number of connections tracked, idle and in-use.
func (p *ConnectionPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// IdleCount returns the number of idle connections.
func (p *ConnectionPool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.conns {
		if c.State() == ConnectionIdle {
			n++
		}
	}
	return n
}
