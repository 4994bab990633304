package syncclient

import (
	"fmt"

	"go.uber.org/zap"

	"syncrelay/internal/protocol"
)

type handshakePhase int

const (
	hsNone handshakePhase = iota
	hsSent
	hsValidated
	hsRejected
	hsTimedOut
)

func (p handshakePhase) String() string {
	switch p {
	case hsNone:
		return "no_handshake"
	case hsSent:
		return "handshake_sent"
	case hsValidated:
		return "validated"
	case hsRejected:
		return "rejected"
	case hsTimedOut:
		return "timed_out"
	}
	return "unknown"
}

// checkAck validates a protocol_ack. A version difference is reported as a
// mismatch even when the relay also set accepted=false.
func checkAck(msg *protocol.Message) error {
	if msg.ProtocolVersion != protocol.Version {
		return fmt.Errorf("%w: relay speaks %d, client speaks %d",
			ErrProtocolVersionMismatch, msg.ProtocolVersion, protocol.Version)
	}
	if msg.Accepted == nil || !*msg.Accepted {
		reason := msg.Error
		if reason == "" {
			reason = "handshake not accepted"
		}
		return fmt.Errorf("%w: %s", ErrProtocolRejected, reason)
	}
	return nil
}

// checkVersion validates the version stamped on a client_connected notice.
func checkVersion(msg *protocol.Message) error {
	if msg.ProtocolVersion != protocol.Version {
		return fmt.Errorf("%w: %s carries version %d, client speaks %d",
			ErrProtocolVersionMismatch, msg.Type, msg.ProtocolVersion, protocol.Version)
	}
	return nil
}

// startHandshake sends protocol_handshake and arms the handshake timer,
// which runs independently of the connect timer.
func (c *Client) startHandshake(gen uint64) error {
	timeout := c.cfg.HandshakeTimeout
	c.sched.schedule(taskHandshakeTimeout, gen, timeout, func() {
		c.hs = hsTimedOut
		c.failAttempt(fmt.Errorf("%w: no protocol_ack after %s", ErrTimeout, timeout))
	})
	if err := c.write(protocol.NewHandshake()); err != nil {
		return err
	}
	c.hs = hsSent
	c.log.Debug("handshake sent", zap.Int("version", protocol.Version))
	return nil
}

func (c *Client) handleHandshakeFrame(msg *protocol.Message) {
	switch msg.Type {
	case protocol.MsgProtocolAck:
		if err := checkAck(msg); err != nil {
			c.hs = hsRejected
			c.log.Error("handshake rejected", zap.Error(err))
			c.terminate(err)
			return
		}
		c.onValidated()
	case protocol.MsgClientConnected:
		if err := checkVersion(msg); err != nil {
			c.hs = hsRejected
			c.terminate(err)
			return
		}
		c.onClientConnected(msg)
	case protocol.MsgError:
		c.emitError(&ServerError{Message: protocol.ErrorText(msg)})
	default:
		c.log.Debug("dropping message before handshake",
			zap.String("type", string(msg.Type)))
	}
}

func (c *Client) onValidated() {
	c.sched.cancel(taskHandshakeTimeout)
	c.hs = hsValidated
	c.attempts = 0
	c.log.Info("connected", zap.String("url", c.url), zap.Int("version", protocol.Version))
	c.setState(StateConnected)
	c.setRole(protocol.RoleConnectedIdle)
	c.resolve(nil)
}
