package syncclient

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"syncrelay/internal/protocol"
)

// send stamps a message with the local client id and writes it. Without an
// assigned id nothing is written and ErrInvalidMessage is reported.
func (c *Client) send(t protocol.MessageType, data any) error {
	if c.state != StateConnected || c.hs != hsValidated {
		return ErrNotConnected
	}
	if c.clientID == "" {
		err := fmt.Errorf("%w: %s before a client id was assigned", ErrInvalidMessage, t)
		c.emitError(err)
		return err
	}
	msg, err := protocol.NewMessage(t, c.clientID, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return c.write(msg)
}

// Send writes an arbitrary message. Client id and protocol version are
// always overwritten with the local ones; state updates go through the same
// role checks as SendTutorialState.
func (c *Client) Send(msg *protocol.Message) error {
	if msg == nil || msg.Type == "" {
		return fmt.Errorf("%w: empty message", ErrInvalidMessage)
	}
	if msg.Type == protocol.MsgStateUpdate {
		return c.SendTutorialState(msg.Data)
	}
	return c.call(func() error {
		return c.send(msg.Type, msg.Data)
	})
}

// SendTutorialState broadcasts payload to the peers. Only the Active peer may
// do so, and not while it has an offer of control outstanding.
func (c *Client) SendTutorialState(payload any) error {
	if raw, ok := payload.(json.RawMessage); ok && len(raw) == 0 {
		payload = nil
	}
	return c.call(func() error {
		if c.state != StateConnected {
			return ErrNotConnected
		}
		if c.roles.phase != protocol.RoleActive {
			return fmt.Errorf("%w: state broadcast while %s", ErrInvalidState, c.roles.phase)
		}
		if c.roles.outgoing.kind == transferOffer {
			return fmt.Errorf("%w: state broadcast with control offer pending", ErrInvalidState)
		}
		return c.send(protocol.MsgStateUpdate, payload)
	})
}

// RequestTutorialState asks the peer to resend its current state.
func (c *Client) RequestTutorialState() error {
	return c.call(func() error {
		if c.state != StateConnected {
			return ErrNotConnected
		}
		return c.send(protocol.MsgRequestSync, nil)
	})
}

// dispatch handles a frame received after the handshake.
func (c *Client) dispatch(msg *protocol.Message) {
	from := msg.ClientID

	switch msg.Type {
	case protocol.MsgProtocolAck, protocol.MsgProtocolHandshake:
		c.log.Debug("ignoring late handshake message", zap.String("type", string(msg.Type)))

	case protocol.MsgClientConnected:
		c.onClientConnected(msg)

	case protocol.MsgClientDisconnected:
		id := from
		var pd protocol.PeerData
		if protocol.DecodeData(msg, &pd) == nil && pd.ClientID != "" {
			id = pd.ClientID
		}
		if id == "" || id == c.clientID {
			return
		}
		c.roles.forgetPeer(id)
		c.log.Info("peer disconnected", zap.String("peer", id))
		c.notify.push(func(h EventHandler) { h.OnPeerDisconnected(id) })

	case protocol.MsgStateUpdate:
		if c.roles.phase == protocol.RoleActive {
			c.log.Warn("dropping state update while active", zap.String("from", from))
			return
		}
		payload := msg.Data
		c.notify.push(func(h EventHandler) { h.OnTutorialState(from, payload) })

	case protocol.MsgRequestSync:
		c.notify.push(func(h EventHandler) { h.OnSyncRequested(from) })

	case protocol.MsgError:
		err := &ServerError{Message: protocol.ErrorText(msg)}
		c.emitError(err)

	default:
		if protocol.IsRoleControl(msg.Type) {
			c.handleRoleMessage(msg)
			return
		}
		c.log.Debug("ignoring unknown message type", zap.String("type", string(msg.Type)))
	}
}

func (c *Client) onClientConnected(msg *protocol.Message) {
	if err := checkVersion(msg); err != nil {
		c.terminate(err)
		return
	}
	var pd protocol.PeerData
	if len(msg.Data) > 0 {
		if err := protocol.DecodeData(msg, &pd); err != nil {
			c.emitError(fmt.Errorf("%w: %v", ErrInvalidMessage, err))
			return
		}
	}
	id := pd.ClientID
	if id == "" {
		id = msg.ClientID
	}
	if id == "" {
		c.emitError(fmt.Errorf("%w: client_connected without client id", ErrInvalidMessage))
		return
	}

	if pd.Self || c.clientID == "" {
		if c.clientID == id {
			return
		}
		c.clientID = id
		c.log.Info("client id assigned", zap.String("clientId", id))
		c.notify.push(func(h EventHandler) { h.OnClientIDAssigned(id) })
		return
	}
	if id == c.clientID {
		return
	}

	role := pd.Role
	if !role.Valid() || role == protocol.RoleDisconnected {
		role = protocol.RoleConnectedIdle
	}
	c.roles.peers[id] = role
	c.log.Info("peer connected", zap.String("peer", id), zap.Stringer("role", role))
	c.notify.push(func(h EventHandler) { h.OnPeerConnected(id) })

	if p := c.roles.phase; p == protocol.RoleActive || p == protocol.RolePassive {
		if err := c.send(protocol.MsgRoleAnnounce, protocol.RoleData{Role: p}); err != nil {
			c.log.Warn("role announce failed", zap.Error(err))
		}
	}
	if role == protocol.RoleActive && c.roles.phase == protocol.RoleActive {
		c.resolveActiveConflict(id)
	}
}
