package syncclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"syncrelay/internal/protocol"
	"syncrelay/internal/transport"
)

// attemptConnect starts a new connection generation: any transport, dial or
// timer from an older generation is ignored from here on.
func (c *Client) attemptConnect() {
	c.teardown()
	gen := c.gen
	c.hs = hsNone
	c.setState(StateConnecting)

	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel

	timeout := c.cfg.ConnectionTimeout
	c.sched.schedule(taskConnectTimeout, gen, timeout, func() {
		c.failAttempt(fmt.Errorf("%w: no connection after %s", ErrTimeout, timeout))
	})

	url := c.url
	c.log.Info("connecting", zap.String("url", url), zap.Int("attempt", c.attempts))
	go func() {
		conn, err := c.dialer.Dial(ctx, url)
		if !c.post(func() { c.onDialed(gen, conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

func (c *Client) onDialed(gen uint64, conn transport.Conn, err error) {
	if gen != c.gen {
		if conn != nil {
			conn.Close()
		}
		return
	}
	c.sched.cancel(taskConnectTimeout)
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if err != nil {
		c.failAttempt(fmt.Errorf("%w: %v", ErrConnectionFailed, err))
		return
	}

	c.conn = conn
	go c.readLoop(gen, conn)

	if err := c.startHandshake(gen); err != nil {
		c.failAttempt(fmt.Errorf("%w: send handshake: %v", ErrConnectionFailed, err))
	}
}

func (c *Client) readLoop(gen uint64, conn transport.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.post(func() { c.onTransportClosed(gen, err) })
			return
		}
		if !c.post(func() { c.onFrame(gen, data) }) {
			return
		}
	}
}

func (c *Client) onFrame(gen uint64, data []byte) {
	if gen != c.gen {
		return
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		c.emitError(fmt.Errorf("%w: %v", ErrInvalidMessage, err))
		return
	}

	switch c.hs {
	case hsSent:
		c.handleHandshakeFrame(msg)
	case hsValidated:
		c.dispatch(msg)
	}
}

func (c *Client) onTransportClosed(gen uint64, err error) {
	if gen != c.gen {
		return
	}
	cause := fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	if c.state == StateConnecting {
		c.failAttempt(cause)
		return
	}

	c.log.Warn("connection lost", zap.Error(err))
	c.teardown()
	c.resetSession()
	c.emitError(cause)
	c.setState(StateDisconnected)
	c.scheduleReconnect()
}

// failAttempt handles a transient failure of the attempt in flight. An
// explicit Connect call gets the error back; an automatic attempt keeps the
// reconnect loop going.
func (c *Client) failAttempt(err error) {
	c.log.Warn("connection attempt failed", zap.Stringer("handshake", c.hs), zap.Error(err))
	c.teardown()
	c.resetSession()
	c.emitError(err)
	if c.waiter != nil {
		c.resolve(err)
		c.setState(StateDisconnected)
		return
	}
	c.setState(StateDisconnected)
	c.scheduleReconnect()
}

// terminate handles failures that must not be retried.
func (c *Client) terminate(err error) {
	c.sched.cancelAll()
	c.teardown()
	c.resetSession()
	c.emitError(err)
	c.resolve(err)
	c.setState(StateError)
}

// abortAttempt drops the attempt in flight without retrying.
func (c *Client) abortAttempt() {
	if c.state != StateConnecting {
		return
	}
	c.sched.cancelAll()
	c.teardown()
	c.setState(StateDisconnected)
}

func (c *Client) scheduleReconnect() {
	if c.manual || !c.cfg.AutoReconnect {
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.log.Error("giving up reconnecting", zap.Int("attempts", c.attempts))
		c.emitError(fmt.Errorf("%w: %d attempts", ErrMaxReconnectAttemptsExceeded, c.attempts))
		c.setState(StateError)
		return
	}
	c.attempts++
	c.log.Info("scheduling reconnect",
		zap.Int("attempt", c.attempts),
		zap.Int("max", c.cfg.MaxReconnectAttempts),
		zap.Duration("delay", c.cfg.ReconnectDelay),
	)
	c.sched.schedule(taskReconnect, c.gen, c.cfg.ReconnectDelay, c.attemptConnect)
}

// teardown closes the current transport and bumps the generation so that
// callbacks still in flight for it are ignored.
func (c *Client) teardown() {
	c.gen++
	c.sched.cancel(taskConnectTimeout)
	c.sched.cancel(taskHandshakeTimeout)
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.hs = hsNone
}

func (c *Client) write(msg *protocol.Message) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := c.conn.WriteMessage(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}
