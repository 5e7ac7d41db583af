package httpclient

import (
	"sync"
	"sync/atomic"
)

// Callback receives the outcome of an asynchronous execution. Exactly one
// of the two methods is invoked, once, on a worker goroutine.
type Callback interface {
	OnResponse(call *Call, resp *Response)
	OnFailure(call *Call, err error)
}

// CallbackFuncs adapts plain functions to the Callback interface.
type CallbackFuncs struct {
	Response func(call *Call, resp *Response)
	Failure  func(call *Call, err error)
}

// OnResponse implements Callback.
func (c CallbackFuncs) OnResponse(call *Call, resp *Response) {
	if c.Response != nil {
		c.Response(call, resp)
	}
}

// OnFailure implements Callback.
func (c CallbackFuncs) OnFailure(call *Call, err error) {
	if c.Failure != nil {
		c.Failure(call, err)
	}
}

// Call is a one-shot execution of a single request. A Call can be executed
// exactly once, synchronously or asynchronously, and cancelled at any
// point before, during or after execution.
type Call struct {
	client  *Client
	request *Request

	mu        sync.Mutex
	executed  bool
	conn      *Connection
	cancelled atomic.Bool
}

func newCall(client *Client, request *Request) *Call {
	return &Call{client: client, request: request}
}

// Request returns the request this call executes.
func (c *Call) Request() *Request { return c.request }

// Execute runs the call on the current goroutine and blocks until the
// response headers are available. The response body remains to be
// consumed (and closed) by the caller. A second Execute fails with an
// IllegalState error; executing a cancelled call fails with an
// Interrupted error.
func (c *Call) Execute() (*Response, error) {
	if err := c.markExecuted(); err != nil {
		return nil, err
	}
	defer c.client.forgetCall(c)
	if c.cancelled.Load() {
		return nil, newError(KindInterrupted, "call was cancelled")
	}
	resp, err := newEngine(c.client, c).run()
	if err != nil && c.cancelled.Load() && !IsIllegalState(err) {
		// Cancellation during flight surfaces uniformly.
		return nil, wrapError(KindInterrupted, err, "call was cancelled")
	}
	return resp, err
}

// ExecuteAsync enqueues the call on the client's worker pool and invokes
// callback exactly once with the outcome. Calling Execute for the same
// call from inside the callback fails with an IllegalState error; a
// different call may be executed freely.
func (c *Call) ExecuteAsync(callback Callback) error {
	if callback == nil {
		return newError(KindIllegalArgument, "callback is required")
	}
	if err := c.markExecuted(); err != nil {
		return err
	}
	c.client.dispatcher.enqueue(func() {
		defer c.client.forgetCall(c)
		if c.cancelled.Load() {
			callback.OnFailure(c, newError(KindInterrupted, "call was cancelled"))
			return
		}
		resp, err := newEngine(c.client, c).run()
		if err != nil {
			if c.cancelled.Load() && !IsIllegalState(err) {
				err = wrapError(KindInterrupted, err, "call was cancelled")
			}
			callback.OnFailure(c, err)
			return
		}
		callback.OnResponse(c, resp)
	})
	return nil
}

// Cancel requests a cooperative abort. Idempotent: it may be invoked
// before, during or after execution, and always returns true. During
// flight, the currently bound connection is cancelled so blocked I/O
// fails; no cache entry is written for a cancelled call.
func (c *Call) Cancel() bool {
	c.cancelled.Store(true)
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Cancel()
	}
	return true
}

// IsCancelled reports whether Cancel has been called.
func (c *Call) IsCancelled() bool {
	return c.cancelled.Load()
}

// IsExecuted reports whether the call was already executed (or enqueued).
func (c *Call) IsExecuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executed
}

func (c *Call) markExecuted() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.executed {
		return newError(KindIllegalState, "call already executed")
	}
	c.executed = true
	c.client.rememberCall(c)
	return nil
}

// bindConnection records the connection the engine currently owns so
// Cancel can reach blocked I/O. nil unbinds.
func (c *Call) bindConnection(conn *Connection) {
	c.mu.Lock()
	c.conn = conn
	cancelled := c.cancelled.Load()
	c.mu.Unlock()
	if cancelled && conn != nil {
		conn.Cancel()
	}
}
