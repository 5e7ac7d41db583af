package httpclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity(host string) ConnectionIdentity {
	return ConnectionIdentity{Scheme: "http", Host: host, Port: 80, Timeout: time.Second}
}

func TestPoolAcquireMatchesIdentity(t *testing.T) {
	pool := NewConnectionPool()
	conn := newConnection(testIdentity("a"))
	pool.register(conn)
	pool.release(conn, true)
	require.Equal(t, ConnectionIdle, conn.State())

	assert.Nil(t, pool.acquire(testIdentity("b")), "different identity must not match")

	got := pool.acquire(testIdentity("a"))
	require.Same(t, conn, got)
	assert.Equal(t, ConnectionInUse, got.State())

	assert.Nil(t, pool.acquire(testIdentity("a")), "in-use connection has one owner")
}

func TestPoolIdentityIncludesProxyAndCA(t *testing.T) {
	pool := NewConnectionPool()
	id := testIdentity("a")
	conn := newConnection(id)
	pool.register(conn)
	pool.release(conn, true)

	proxied := id
	proxied.Proxy = "proxy:3128"
	assert.Nil(t, pool.acquire(proxied))

	ca := id
	ca.RootCAFile = "/etc/ca.pem"
	assert.Nil(t, pool.acquire(ca))

	assert.NotNil(t, pool.acquire(id))
}

func TestPoolReleaseNotReusableDrops(t *testing.T) {
	pool := NewConnectionPool()
	conn := newConnection(testIdentity("a"))
	pool.register(conn)
	require.Equal(t, 1, pool.Size())

	pool.release(conn, false)
	assert.Equal(t, 0, pool.Size())
	assert.Equal(t, ConnectionCancelled, conn.State())
}

func TestPoolIdleExpiry(t *testing.T) {
	pool := NewConnectionPool(WithKeepAliveTimeout(20 * time.Millisecond))
	conn := newConnection(testIdentity("a"))
	pool.register(conn)
	pool.release(conn, true)
	require.Equal(t, 1, pool.IdleCount())

	assert.Eventually(t, func() bool {
		return pool.Size() == 0
	}, time.Second, 5*time.Millisecond, "idle connection must expire")
	assert.Equal(t, ConnectionCancelled, conn.State())
}

func TestPoolReacquireStopsIdleTimer(t *testing.T) {
	pool := NewConnectionPool(WithKeepAliveTimeout(30 * time.Millisecond))
	conn := newConnection(testIdentity("a"))
	pool.register(conn)
	pool.release(conn, true)

	got := pool.acquire(testIdentity("a"))
	require.Same(t, conn, got)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, pool.Size(), "in-use connection must not expire")
	assert.Equal(t, ConnectionInUse, conn.State())
}

func TestPoolMaxIdleCap(t *testing.T) {
	pool := NewConnectionPool(WithMaxIdleConnections(1))
	a := newConnection(testIdentity("a"))
	b := newConnection(testIdentity("b"))
	pool.register(a)
	pool.register(b)
	pool.release(a, true)
	pool.release(b, true)

	assert.Equal(t, 1, pool.IdleCount(), "idle cap drops the overflow connection")
}

func TestPoolCancelAll(t *testing.T) {
	pool := NewConnectionPool()
	a := newConnection(testIdentity("a"))
	b := newConnection(testIdentity("b"))
	pool.register(a)
	pool.register(b)
	pool.release(a, true)

	pool.CancelAll()
	assert.Equal(t, 0, pool.Size())
	assert.Equal(t, ConnectionCancelled, a.State())
	assert.Equal(t, ConnectionCancelled, b.State())
}

func TestPoolReleaseCancelledDrops(t *testing.T) {
	pool := NewConnectionPool()
	conn := newConnection(testIdentity("a"))
	pool.register(conn)
	conn.Cancel()
	pool.release(conn, true)
	assert.Equal(t, 0, pool.Size())
}

func TestConnectionCancelIsIdempotent(t *testing.T) {
	conn := newConnection(testIdentity("a"))
	assert.True(t, conn.Cancel())
	assert.True(t, conn.Cancel(), "second cancel returns true with no side effect")
	assert.True(t, conn.IsCancelled())

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done channel must be closed after cancel")
	}
}
