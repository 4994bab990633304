// Package syncclient is the peer side of the relay: a connection manager with
// version handshake and bounded reconnect, the ACTIVE/PASSIVE role
// coordinator, and the dispatcher that turns wire messages into EventHandler
// callbacks.
//
// All mutable state is owned by a single event-loop goroutine. The transport
// reader, the dialer and the timers only post closures into that loop, and
// public methods hand their work to it and wait for the result.
package syncclient

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"syncrelay/internal/protocol"
	"syncrelay/internal/transport"
)

const opsBuffer = 64

type Client struct {
	cfg     Config
	handler EventHandler
	log     *zap.Logger
	clock   clockwork.Clock
	dialer  transport.Dialer
	notify  *notifier

	ops       chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the event loop.
	url        string
	state      ConnectionState
	gen        uint64
	conn       transport.Conn
	dialCancel context.CancelFunc
	hs         handshakePhase
	attempts   int
	manual     bool
	waiter     chan error
	clientID   string
	roles      *roleCoordinator
	sched      *scheduler
}

// New creates a client for cfg. Events go to handler, which may be nil.
// The client does nothing until Connect is called.
func New(cfg Config, handler EventHandler, opts ...Option) *Client {
	if handler == nil {
		handler = NopHandler{}
	}
	c := &Client{
		cfg:     cfg,
		handler: handler,
		log:     zap.NewNop(),
		clock:   clockwork.NewRealClock(),
		ops:     make(chan func(), opsBuffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		state:   StateDisconnected,
		roles:   newRoleCoordinator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &transport.WSDialer{
			HandshakeTimeout: cfg.ConnectionTimeout,
			SkipTLSVerify:    cfg.SkipTLSVerify,
		}
	}
	c.log = c.log.Named("syncclient")
	c.sched = newScheduler(c.clock, c.post, func() uint64 { return c.gen })
	c.notify = newNotifier(handler)

	go c.loop()
	return c
}

func (c *Client) loop() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.quit:
			c.shutdown()
			return
		}
	}
}

// post queues fn on the event loop. It reports false once the client is closed.
func (c *Client) post(fn func()) bool {
	select {
	case c.ops <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// call runs fn on the event loop and waits for its result.
func (c *Client) call(fn func() error) error {
	errc := make(chan error, 1)
	if !c.post(func() { errc <- fn() }) {
		return ErrClientClosed
	}
	select {
	case err := <-errc:
		return err
	case <-c.done:
		return ErrClientClosed
	}
}

// Connect dials the relay, performs the protocol handshake and returns once
// the relay accepted this client's protocol version. Cancelling ctx aborts
// the attempt.
func (c *Client) Connect(ctx context.Context) error {
	var wait chan error
	err := c.call(func() error {
		if c.waiter != nil || c.state == StateConnecting {
			return ErrConnectionAlreadyInProgress
		}
		if c.state == StateConnected {
			return ErrAlreadyConnected
		}
		url, err := transport.BuildURL(c.cfg.URL, c.cfg.SessionID)
		if err != nil {
			return err
		}
		c.url = url
		c.manual = false
		c.attempts = 0
		c.sched.cancel(taskReconnect)
		wait = make(chan error, 1)
		c.waiter = wait
		c.attemptConnect()
		return nil
	})
	if err != nil {
		return err
	}

	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		c.call(func() error {
			if c.waiter == wait {
				c.resolve(ctx.Err())
				c.abortAttempt()
			}
			return nil
		})
		select {
		case err := <-wait:
			return err
		default:
			return ctx.Err()
		}
	}
}

// Disconnect closes the transport and cancels every pending timer. It never
// triggers a reconnect and is safe to call in any state.
func (c *Client) Disconnect() {
	c.call(func() error {
		c.manual = true
		c.attempts = 0
		c.sched.cancelAll()
		c.teardown()
		c.resolve(ErrNotConnected)
		c.resetSession()
		c.setState(StateDisconnected)
		return nil
	})
}

// Close disconnects, stops the event loop and flushes pending events. It must
// not be called from an EventHandler callback.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.Disconnect()
		close(c.quit)
		<-c.done
		c.notify.close()
	})
	return nil
}

func (c *Client) shutdown() {
	c.sched.cancelAll()
	c.teardown()
	c.resolve(ErrClientClosed)
}

func (c *Client) State() ConnectionState {
	var s ConnectionState
	if err := c.call(func() error { s = c.state; return nil }); err != nil {
		return StateDisconnected
	}
	return s
}

func (c *Client) Role() protocol.Role {
	var r protocol.Role
	if err := c.call(func() error { r = c.roles.phase; return nil }); err != nil {
		return protocol.RoleDisconnected
	}
	return r
}

// ClientID returns the id assigned by the relay, or "" before assignment.
func (c *Client) ClientID() string {
	var id string
	c.call(func() error { id = c.clientID; return nil })
	return id
}

// Peers returns the other participants known in the session with their
// last announced roles.
func (c *Client) Peers() map[string]protocol.Role {
	out := make(map[string]protocol.Role)
	c.call(func() error {
		for id, r := range c.roles.peers {
			out[id] = r
		}
		return nil
	})
	return out
}

func (c *Client) setState(next ConnectionState) {
	if next == c.state {
		return
	}
	prev := c.state
	c.state = next
	c.log.Debug("connection state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
	)
	c.notify.push(func(h EventHandler) { h.OnConnectionStateChanged(prev, next) })
}

func (c *Client) emitError(err error) {
	c.log.Warn("client error", zap.Error(err))
	c.notify.push(func(h EventHandler) { h.OnError(err) })
}

// resolve completes a pending Connect call.
func (c *Client) resolve(err error) {
	if c.waiter == nil {
		return
	}
	c.waiter <- err
	c.waiter = nil
}

// resetSession forgets the assigned id and all role state.
func (c *Client) resetSession() {
	c.clientID = ""
	c.roles.reset()
	c.sched.cancel(taskTransferTimeout)
	c.setRole(protocol.RoleDisconnected)
}
